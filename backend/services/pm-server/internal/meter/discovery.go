package meter

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
)

const maxDatagram = 1024

type discoveryRequest struct {
	Type   string `json:"type"`
	Serial string `json:"serial"`
}

type discoveryReply struct {
	TCPHost string `json:"tcp_host"`
	TCPPort int    `json:"tcp_port"`
}

// Discovery answers meter broadcasts with the ingest endpoint. The registry is consulted per
// datagram so newly registered meters are found without a restart.
type Discovery struct {
	registry Registry
	host     string
	port     int
	logger   *zap.Logger
}

// NewDiscovery builds a responder that advertises host:port.
func NewDiscovery(registry Registry, host string, port int, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{registry: registry, host: host, port: port, logger: logger}
}

// Reply returns the answer for one datagram, or false when none is due.
func (d *Discovery) Reply(ctx context.Context, datagram []byte, from string) ([]byte, bool) {
	var req discoveryRequest
	if err := json.Unmarshal(datagram, &req); err != nil {
		d.logger.Warn("invalid discovery message", zap.String("remote_addr", from), zap.Error(err))
		return nil, false
	}
	if req.Type != "meter" || req.Serial == "" {
		d.logger.Info("ignoring discovery message", zap.String("remote_addr", from), zap.String("type", req.Type))
		return nil, false
	}

	_, ok, err := d.registry.PowerMeter(ctx, req.Serial)
	if err != nil {
		d.logger.Error("power meter lookup failed", zap.String("serial", req.Serial), zap.Error(err))
		return nil, false
	}
	if !ok {
		d.logger.Info("unregistered meter", zap.String("serial", req.Serial), zap.String("remote_addr", from))
		return nil, false
	}

	reply, err := json.Marshal(discoveryReply{TCPHost: d.host, TCPPort: d.port})
	if err != nil {
		return nil, false
	}
	d.logger.Info("registered meter discovered", zap.String("serial", req.Serial), zap.String("remote_addr", from))
	return reply, true
}

// Serve answers datagrams on conn until ctx ends. It closes conn on return.
func (d *Discovery) Serve(ctx context.Context, conn net.PacketConn) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Warn("discovery read failed", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}
		reply, ok := d.Reply(ctx, buf[:n], addr.String())
		if !ok {
			continue
		}
		if _, err := conn.WriteTo(reply, addr); err != nil {
			d.logger.Warn("discovery reply failed", zap.String("remote_addr", addr.String()), zap.Error(err))
		}
	}
}

// LocalIP returns the address of the interface used for outbound traffic, or 127.0.0.1.
// No packet is sent.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
