package protocol

// MessageType values as per OCPP-J.
const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Subprotocol offered on the WebSocket upgrade.
const Subprotocol = "ocpp1.6"

// Inbound actions handled by the central system.
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionAuthorize          = "Authorize"
	ActionStatusNotification = "StatusNotification"
	ActionDataTransfer       = "DataTransfer"
)

// Outbound actions the central system issues.
const (
	ActionChangeConfiguration = "ChangeConfiguration"
)

// Registration status values.
const (
	RegistrationAccepted = "Accepted"
	RegistrationRejected = "Rejected"
)

// Authorization status values reported in idTagInfo.
const (
	AuthorizationAccepted = "Accepted"
	AuthorizationInvalid  = "Invalid"
)

// DataTransfer / ChangeConfiguration status values.
const (
	StatusAccepted       = "Accepted"
	StatusRejected       = "Rejected"
	StatusRebootRequired = "RebootRequired"
	StatusNotSupported   = "NotSupported"
	StatusUnknownVendor  = "UnknownVendorId"
)

// CallError codes.
const (
	ErrorNotImplemented              = "NotImplemented"
	ErrorNotSupported                = "NotSupported"
	ErrorInternalError               = "InternalError"
	ErrorProtocolError               = "ProtocolError"
	ErrorSecurityError               = "SecurityError"
	ErrorFormationViolation          = "FormationViolation"
	ErrorPropertyConstraintViolation = "PropertyConstraintViolation"
	ErrorGenericError                = "GenericError"
)

// ConfigKeyHeartbeatInterval is the ChangeConfiguration key for the heartbeat interval.
const ConfigKeyHeartbeatInterval = "HeartbeatInterval"
