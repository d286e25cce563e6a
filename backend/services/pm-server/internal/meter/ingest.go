package meter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ingest accepts meter TCP connections and publishes the current of each reading.
type Ingest struct {
	registry    Registry
	publisher   Publisher
	readTimeout time.Duration
	logger      *zap.Logger

	wg sync.WaitGroup
}

// NewIngest builds the ingest server. readTimeout of zero disables the idle timeout.
func NewIngest(registry Registry, publisher Publisher, readTimeout time.Duration, logger *zap.Logger) *Ingest {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingest{registry: registry, publisher: publisher, readTimeout: readTimeout, logger: logger}
}

// Serve accepts on ln until ctx ends, then closes ln and waits for open connections.
func (s *Ingest) Serve(ctx context.Context, ln net.Listener) error {
	var mu sync.Mutex
	conns := make(map[net.Conn]struct{})

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	}()

	defer s.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("ingest accept failed", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		mu.Lock()
		if ctx.Err() != nil {
			// Shutdown already swept conns; nobody else will close this one.
			mu.Unlock()
			_ = conn.Close()
			continue
		}
		conns[conn] = struct{}{}
		mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, c)
				mu.Unlock()
				_ = c.Close()
			}()
			s.handleConn(ctx, c)
		}(conn)
	}
}

// Readings may be newline separated or simply concatenated JSON objects.
func (s *Ingest) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.logger.Info("meter connected", zap.String("remote_addr", remote))
	defer s.logger.Info("meter disconnected", zap.String("remote_addr", remote))

	dec := json.NewDecoder(conn)
	for {
		if s.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		var reading Reading
		if err := dec.Decode(&reading); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				// The decoder has consumed the whole value, so the stream is still aligned.
				s.logger.Warn("invalid meter reading", zap.String("remote_addr", remote), zap.Error(err))
				continue
			}
			if errors.As(err, &syntaxErr) {
				s.logger.Warn("malformed meter stream, closing", zap.String("remote_addr", remote), zap.Error(err))
				return
			}
			s.logger.Info("meter read ended", zap.String("remote_addr", remote), zap.Error(err))
			return
		}
		s.Handle(ctx, reading)
	}
}

// Handle publishes one reading. Readings without a current or from unregistered meters are dropped.
func (s *Ingest) Handle(ctx context.Context, reading Reading) bool {
	if reading.Current == nil {
		s.logger.Warn("reading without current", zap.String("serial", reading.Serial))
		return false
	}
	_, ok, err := s.registry.PowerMeter(ctx, reading.Serial)
	if err != nil {
		s.logger.Error("power meter lookup failed", zap.String("serial", reading.Serial), zap.Error(err))
		return false
	}
	if !ok {
		s.logger.Warn("reading from unregistered meter", zap.String("serial", reading.Serial))
		return false
	}

	if err := s.publisher.Publish(ctx, FormatCurrent(*reading.Current)); err != nil {
		s.logger.Error("failed to publish reading", zap.String("serial", reading.Serial), zap.Error(err))
		return false
	}
	s.logger.Debug("meter reading",
		zap.String("serial", reading.Serial),
		zap.Float64("voltage", reading.Voltage),
		zap.Float64("current", *reading.Current),
		zap.Float64("power", reading.Power),
		zap.Float64("energy", reading.Energy),
		zap.Float64("frequency", reading.Frequency),
		zap.Float64("pf", reading.PF))
	return true
}
