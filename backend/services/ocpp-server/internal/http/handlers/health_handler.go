package handlers

import "net/http"

// Counter reports the connected stations.
type Counter interface {
	Count() int
	StationIDs() []string
}

// NewHealthHandler reports liveness, the number of connected stations and their ids.
func NewHealthHandler(sessions Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"stations": sessions.Count(),
			"online":   sessions.StationIDs(),
		})
	}
}
