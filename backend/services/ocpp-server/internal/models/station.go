package models

import "openocpp/backend/services/ocpp-server/internal/service"

// Station is the admin view of a registered charge point.
type Station struct {
	ID                string                       `json:"id"`
	Vendor            string                       `json:"vendor"`
	Model             string                       `json:"model"`
	Connected         bool                         `json:"connected"`
	Busy              bool                         `json:"busy"`
	HeartbeatInterval int                          `json:"heartbeatInterval"`
	Runtime           *service.StationRuntimeState `json:"runtime,omitempty"`
}
