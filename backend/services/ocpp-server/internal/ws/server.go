package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"openocpp/backend/libs/registry"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
)

// ChargePointLookup decides whether a station may connect.
type ChargePointLookup interface {
	ChargePoint(ctx context.Context, id string) (registry.ChargePointRecord, bool, error)
}

// ServerConfig tunes the endpoint.
type ServerConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	// RejectUnregistered refuses the upgrade for ids without a charge point record.
	RejectUnregistered bool
	// RatePerSecond limits inbound frames per session; zero disables the limit.
	RatePerSecond float64
	RateBurst     int
}

// Server upgrades HTTP connections to WebSockets for OCPP.
type Server struct {
	manager      *Manager
	processor    MessageProcessor
	chargePoints ChargePointLookup
	cfg          ServerConfig
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(manager *Manager, processor MessageProcessor, chargePoints ChargePointLookup, cfg ServerConfig, logger *zap.Logger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	return &Server{
		manager:      manager,
		processor:    processor,
		chargePoints: chargePoints,
		cfg:          cfg,
		logger:       logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			Subprotocols:     []string{protocol.Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// StationIDFromPath returns the last path segment, which may be empty.
func StationIDFromPath(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// HandleWS is the HTTP handler for station endpoints; the station id is the last path segment.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	stationID := StationIDFromPath(r.URL.Path)
	if stationID == "" {
		http.Error(w, "station id is required", http.StatusBadRequest)
		return
	}

	if s.cfg.RejectUnregistered && s.chargePoints != nil {
		_, ok, err := s.chargePoints.ChargePoint(r.Context(), stationID)
		if err != nil {
			s.logger.Error("charge point lookup failed", zap.String("station_id", stationID), zap.Error(err))
			http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
			return
		}
		if !ok {
			s.logger.Warn("refusing unregistered charge point", zap.String("station_id", stationID))
			http.Error(w, "charge point not registered", http.StatusNotFound)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.String("station_id", stationID), zap.Error(err))
		return
	}

	var limiter *rate.Limiter
	if s.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), s.cfg.RateBurst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := NewConnection(stationID, conn, s.processor, limiter, s.cfg.WriteTimeout, s.cfg.ReadTimeout, s.logger, func(c *Connection) {
		s.manager.Remove(c.StationID(), c)
		cancel()
	})
	s.manager.Add(connection)

	go connection.Start(ctx)
	s.logger.Info("station connected",
		zap.String("station_id", stationID),
		zap.String("subprotocol", conn.Subprotocol()),
		zap.String("remote_addr", r.RemoteAddr))
}
