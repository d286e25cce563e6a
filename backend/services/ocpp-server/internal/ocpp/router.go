package ocpp

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"openocpp/backend/services/ocpp-server/internal/metrics"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
)

// HandlerFunc processes message payload and returns response body.
// Returning a *CallError answers the call with a CALLERROR frame.
type HandlerFunc func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error)

// Router dispatches OCPP actions to handlers.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter returns router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register attaches handler to action.
func (r *Router) Register(action string, handler HandlerFunc) {
	r.handlers[action] = handler
}

// Route executes handler for message.
func (r *Router) Route(ctx context.Context, stationID string, msg *Message) (interface{}, error) {
	handler, ok := r.handlers[msg.Action]
	if !ok {
		return nil, NewCallError(protocol.ErrorNotImplemented, "Action not supported")
	}
	return handler(ctx, stationID, msg.Payload)
}

// ResponseSink receives replies to calls the central system issued.
type ResponseSink interface {
	HandleCallResult(stationID, uniqueID string, payload json.RawMessage)
	HandleCallError(stationID, uniqueID, code, description string, details json.RawMessage)
}

// OCPPLogRepository minimal interface.
type OCPPLogRepository interface {
	Save(ctx context.Context, stationID, direction, messageType string, payload []byte) error
}

// Processor ties together parsing, routing, and response encoding.
type Processor struct {
	parser  *Parser
	router  *Router
	sink    ResponseSink
	logRepo OCPPLogRepository
	metrics *metrics.AppMetrics
	logger  *zap.Logger
}

// NewProcessor builds Processor. sink, logRepo and m may be nil.
func NewProcessor(parser *Parser, router *Router, sink ResponseSink, logRepo OCPPLogRepository, m *metrics.AppMetrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		parser:  parser,
		router:  router,
		sink:    sink,
		logRepo: logRepo,
		metrics: m,
		logger:  logger,
	}
}

// Process handles a raw frame and returns the reply frame, or nil when no reply is due.
// A decode error means the frame was dropped.
func (p *Processor) Process(ctx context.Context, stationID string, raw []byte) ([]byte, error) {
	msg, err := p.parser.Parse(raw)
	if err != nil {
		p.metrics.DecodeError()
		return nil, err
	}

	switch msg.MessageType {
	case protocol.MessageTypeCallResult:
		p.metrics.Inbound("callresult", "")
		p.journal(ctx, stationID, "incoming", "CallResult", raw)
		if p.sink != nil {
			p.sink.HandleCallResult(stationID, msg.UniqueID, msg.Payload)
		}
		return nil, nil
	case protocol.MessageTypeCallError:
		p.metrics.Inbound("callerror", "")
		p.journal(ctx, stationID, "incoming", "CallError", raw)
		if p.sink != nil {
			p.sink.HandleCallError(stationID, msg.UniqueID, msg.ErrorCode, msg.ErrorDescription, msg.ErrorDetails)
		}
		return nil, nil
	}

	p.metrics.Inbound("call", msg.Action)
	p.journal(ctx, stationID, "incoming", msg.Action, raw)

	responsePayload, err := p.router.Route(ctx, stationID, msg)
	if err != nil {
		var callErr *CallError
		if !errors.As(err, &callErr) {
			p.logger.Warn("ocpp handler failed",
				zap.String("station_id", stationID),
				zap.String("action", msg.Action),
				zap.Error(err))
			callErr = NewCallError(protocol.ErrorInternalError, err.Error())
		}
		respBytes, buildErr := BuildCallError(msg.UniqueID, callErr.Code, callErr.Description)
		if buildErr != nil {
			return nil, buildErr
		}
		p.journal(ctx, stationID, "outgoing", msg.Action, respBytes)
		return respBytes, nil
	}

	if responsePayload == nil {
		responsePayload = struct{}{}
	}

	respBytes, err := BuildCallResult(msg.UniqueID, responsePayload)
	if err != nil {
		p.logger.Error("encode ocpp response failed", zap.String("action", msg.Action), zap.Error(err))
		return nil, err
	}

	p.journal(ctx, stationID, "outgoing", msg.Action, respBytes)
	return respBytes, nil
}

func (p *Processor) journal(ctx context.Context, stationID, direction, messageType string, payload []byte) {
	if p.logRepo == nil {
		return
	}
	if err := p.logRepo.Save(ctx, stationID, direction, messageType, payload); err != nil {
		p.logger.Debug("ocpp journal write failed", zap.String("station_id", stationID), zap.Error(err))
	}
}

// Decode convenience helper for handlers. A payload that does not fit T is reported as a
// FormationViolation.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		return zero, NewCallError(protocol.ErrorFormationViolation, err.Error())
	}
	return target, nil
}
