package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"openocpp/backend/services/ocpp-server/internal/http/handlers"
)

// RouterDeps collects handler dependencies. Login may be nil when admin auth is disabled.
type RouterDeps struct {
	SendHandler      *handlers.SendHandler
	StationsHandlers *handlers.StationsHandlers
	CardsHandler     *handlers.CardsHandler
	Login            http.HandlerFunc
	HealthHandler    http.HandlerFunc
	Metrics          http.Handler
	StationEndpoint  http.HandlerFunc
}

// NewRouter wires HTTP routes. authMiddleware guards the admin routes only; station
// endpoints, health, metrics and login stay open.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", deps.HealthHandler)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	if deps.Login != nil {
		r.Post("/auth/login", deps.Login)
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/send", deps.SendHandler.Send)
		r.Get("/stations", deps.StationsHandlers.List)
		r.Put("/stations/{stationID}/heartbeat", deps.StationsHandlers.SetHeartbeat)
		r.Post("/cards/register-online", deps.CardsHandler.RegisterOnline)
	})

	// Station ids come from the last path segment.
	r.Get("/ocpp/*", deps.StationEndpoint)
	r.Get("/openocpp/*", deps.StationEndpoint)
	r.Get("/{stationID}", deps.StationEndpoint)

	return r
}
