package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrConnectionClosed is returned by Send after the connection shut down.
	ErrConnectionClosed = errors.New("ws: connection closed")
	// ErrSendBufferFull is returned by Send when the write pump cannot keep up.
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

const (
	sendBufferSize = 16
	maxFrameBytes  = 1024 * 1024
)

// MessageProcessor handles raw OCPP messages.
type MessageProcessor interface {
	Process(ctx context.Context, stationID string, raw []byte) ([]byte, error)
}

// Connection represents active station WebSocket connection.
type Connection struct {
	stationID    string
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	logger       *zap.Logger
	processor    MessageProcessor
	limiter      *rate.Limiter
	writeTimeout time.Duration
	readTimeout  time.Duration
	onClose      func(*Connection)
}

// NewConnection builds connection wrapper. limiter may be nil.
func NewConnection(stationID string, ws *websocket.Conn, processor MessageProcessor, limiter *rate.Limiter, writeTimeout, readTimeout time.Duration, logger *zap.Logger, onClose func(*Connection)) *Connection {
	return &Connection{
		stationID:    stationID,
		ws:           ws,
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		logger:       logger,
		processor:    processor,
		limiter:      limiter,
		writeTimeout: writeTimeout,
		readTimeout:  readTimeout,
		onClose:      onClose,
	}
}

// StationID returns identifier.
func (c *Connection) StationID() string {
	return c.stationID
}

// Start launches the write pump and runs the read pump until the connection ends.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
	c.readPump(ctx)
}

// Frames from one station are processed strictly in arrival order.
func (c *Connection) readPump(ctx context.Context) {
	defer c.cleanup()
	c.ws.SetReadLimit(maxFrameBytes)
	c.extendDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("connection read closed", zap.String("station_id", c.stationID), zap.Error(err))
			return
		}
		c.extendDeadline()

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
		}

		response, err := c.processor.Process(ctx, c.stationID, message)
		if err != nil {
			c.logger.Warn("dropping unprocessable frame", zap.String("station_id", c.stationID), zap.Error(err))
			continue
		}
		if response != nil {
			if err := c.Send(response); err != nil {
				c.logger.Warn("failed to send reply", zap.String("station_id", c.stationID), zap.Error(err))
			}
		}
	}
}

func (c *Connection) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Info("connection write failed", zap.String("station_id", c.stationID), zap.Error(err))
				_ = c.Close()
				return
			}
		}
	}
}

// Send enqueues a message for writing.
func (c *Connection) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Ping sends a keepalive ping. Safe to call concurrently with the write pump.
func (c *Connection) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout))
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// extendDeadline also clears any deadline left on the hijacked conn by the HTTP server.
func (c *Connection) extendDeadline() {
	var deadline time.Time
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	_ = c.ws.SetReadDeadline(deadline)
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) cleanup() {
	_ = c.Close()
	if c.onClose != nil {
		c.onClose(c)
	}
}
