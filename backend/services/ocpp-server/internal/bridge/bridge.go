package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"openocpp/backend/services/ocpp-server/internal/metrics"
	"openocpp/backend/services/ocpp-server/internal/ocpp"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
)

var (
	ErrNotConnected = errors.New("charger not connected")
	ErrBusy         = errors.New("charger busy with another request")
	ErrTimeout      = errors.New("timed out waiting for charger")
	ErrDisconnected = errors.New("charger disconnected")
	ErrSendFailed   = errors.New("failed to send to charger")
	ErrCallError    = errors.New("charger answered with an error")
)

// RemoteError carries a CALLERROR answering the bridged call. It matches ErrCallError.
type RemoteError struct {
	Code        string
	Description string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrCallError.Error(), e.Code, e.Description)
}

func (e *RemoteError) Unwrap() error { return ErrCallError }

// Await selects what completes a pending request.
type Await int

const (
	// AwaitCallResult completes on the CALLRESULT or CALLERROR carrying the outbound call id.
	AwaitCallResult Await = iota
	// AwaitAuthorize completes on the next Authorize idTag from the same station, or on a
	// CALLRESULT to the outbound call whose data carries the tag.
	AwaitAuthorize
)

func (a Await) String() string {
	if a == AwaitAuthorize {
		return "authorize"
	}
	return "callresult"
}

// Sessions is the part of the connection registry the bridge needs.
type Sessions interface {
	IsOnline(stationID string) bool
	SendTo(stationID string, frame []byte) error
}

// Config tunes the bridge.
type Config struct {
	Timeout  time.Duration
	VendorID string
}

type outcome struct {
	value json.RawMessage
	err   error
}

type pending struct {
	stationID string
	callID    string
	action    string
	await     Await
	done      chan outcome
}

// Bridge turns an admin request into one outbound call and waits for the correlated answer.
// A station has at most one pending request; a second one fails with ErrBusy.
type Bridge struct {
	sessions Sessions
	cfg      Config
	metrics  *metrics.AppMetrics
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*pending // by station id
}

// New builds a Bridge.
func New(sessions Sessions, cfg Config, m *metrics.AppMetrics, logger *zap.Logger) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.VendorID == "" {
		cfg.VendorID = "gresystem"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		sessions: sessions,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		pending:  make(map[string]*pending),
	}
}

// VendorCommand sends messageID to the station as a DataTransfer with data as its JSON string.
func (b *Bridge) VendorCommand(ctx context.Context, stationID, messageID string, data json.RawMessage, await Await) (json.RawMessage, error) {
	req := protocol.DataTransferRequest{
		VendorID:  b.cfg.VendorID,
		MessageID: messageID,
		Data:      string(data),
	}
	return b.Call(ctx, stationID, protocol.ActionDataTransfer, req, await)
}

// Call sends action with payload to the station and waits for the outcome selected by await.
//
// The wait ends at the earlier of Config.Timeout and ctx's deadline, so a caller sets a shorter
// per-call timeout through ctx. Either expiry yields ErrTimeout; for a ctx deadline the error
// also matches context.DeadlineExceeded. Cancelling ctx yields ctx.Err().
//
// For AwaitAuthorize the value is the idTag as a JSON string (or the reply's data). For AwaitCallResult it is the
// reply's "data" field when present, else the whole reply payload.
func (b *Bridge) Call(ctx context.Context, stationID, action string, payload interface{}, await Await) (json.RawMessage, error) {
	if !b.sessions.IsOnline(stationID) {
		b.metrics.Correlation("not_connected")
		return nil, ErrNotConnected
	}

	frame, callID, err := ocpp.BuildCall(action, payload)
	if err != nil {
		return nil, fmt.Errorf("bridge: build call: %w", err)
	}

	p := &pending{
		stationID: stationID,
		callID:    callID,
		action:    action,
		await:     await,
		done:      make(chan outcome, 1),
	}

	b.mu.Lock()
	if _, busy := b.pending[stationID]; busy {
		b.mu.Unlock()
		b.metrics.Correlation("busy")
		return nil, ErrBusy
	}
	b.pending[stationID] = p
	b.mu.Unlock()

	if err := b.sessions.SendTo(stationID, frame); err != nil {
		b.complete(p, outcome{err: fmt.Errorf("%w: %v", ErrSendFailed, err)})
		res := <-p.done
		b.record(res.err)
		return nil, res.err
	}

	b.logger.Info("bridged call sent",
		zap.String("station_id", stationID),
		zap.String("action", action),
		zap.String("message_id", callID),
		zap.Stringer("await", await))

	timer := time.NewTimer(b.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		b.record(res.err)
		return res.value, res.err
	case <-timer.C:
		b.complete(p, outcome{err: ErrTimeout})
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		b.complete(p, outcome{err: err})
	}

	// Whoever completed first decided the outcome.
	res := <-p.done
	b.record(res.err)
	return res.value, res.err
}

// complete resolves p once. It reports false when p was already resolved.
func (b *Bridge) complete(p *pending, res outcome) bool {
	b.mu.Lock()
	current, ok := b.pending[p.stationID]
	if !ok || current != p {
		b.mu.Unlock()
		return false
	}
	delete(b.pending, p.stationID)
	b.mu.Unlock()

	p.done <- res
	return true
}

func (b *Bridge) lookup(stationID string) (*pending, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[stationID]
	return p, ok
}

// ObserveAuthorize resolves a request awaiting an Authorize from stationID. A blank idTag
// carries no card number and leaves the request waiting.
func (b *Bridge) ObserveAuthorize(stationID, idTag string) {
	if strings.TrimSpace(idTag) == "" {
		return
	}
	p, ok := b.lookup(stationID)
	if !ok || p.await != AwaitAuthorize {
		return
	}
	value, err := json.Marshal(idTag)
	if err != nil {
		return
	}
	if b.complete(p, outcome{value: value}) {
		b.logger.Info("authorize resolved bridged call", zap.String("station_id", stationID), zap.String("message_id", p.callID))
	}
}

// HandleCallResult resolves a request awaiting the reply to uniqueID.
func (b *Bridge) HandleCallResult(stationID, uniqueID string, payload json.RawMessage) {
	p, ok := b.lookup(stationID)
	if !ok || p.callID != uniqueID {
		b.logger.Debug("unmatched call result", zap.String("station_id", stationID), zap.String("message_id", uniqueID))
		return
	}
	if p.await == AwaitAuthorize {
		// A reply carrying data is the tag itself; a bare acknowledgement leaves the request
		// waiting for the Authorize.
		data, ok := dataField(payload)
		if !ok {
			return
		}
		b.complete(p, outcome{value: data})
		return
	}
	b.complete(p, outcome{value: resultValue(payload)})
}

// HandleCallError resolves a request whose call was answered with a CALLERROR. This applies
// to both await kinds: a rejected command will never produce the awaited Authorize.
func (b *Bridge) HandleCallError(stationID, uniqueID, code, description string, details json.RawMessage) {
	p, ok := b.lookup(stationID)
	if !ok || p.callID != uniqueID {
		b.logger.Debug("unmatched call error", zap.String("station_id", stationID), zap.String("message_id", uniqueID))
		return
	}
	b.complete(p, outcome{err: &RemoteError{Code: code, Description: description}})
}

// SessionClosed cancels any request pending on stationID.
func (b *Bridge) SessionClosed(stationID string) {
	p, ok := b.lookup(stationID)
	if !ok {
		return
	}
	if b.complete(p, outcome{err: ErrDisconnected}) {
		b.logger.Info("bridged call cancelled by disconnect", zap.String("station_id", stationID), zap.String("message_id", p.callID))
	}
}

// Pending reports whether stationID has a request in flight.
func (b *Bridge) Pending(stationID string) bool {
	_, ok := b.lookup(stationID)
	return ok
}

func (b *Bridge) record(err error) {
	switch {
	case err == nil:
		b.metrics.Correlation("ok")
	case errors.Is(err, ErrTimeout):
		b.metrics.Correlation("timeout")
	case errors.Is(err, ErrDisconnected):
		b.metrics.Correlation("disconnected")
	case errors.Is(err, ErrCallError):
		b.metrics.Correlation("call_error")
	case errors.Is(err, ErrSendFailed):
		b.metrics.Correlation("send_failed")
	default:
		b.metrics.Correlation("cancelled")
	}
}

func resultValue(payload json.RawMessage) json.RawMessage {
	if data, ok := dataField(payload); ok {
		return data
	}
	return payload
}

// dataField returns the reply's "data" member unless it is missing, null or an empty string.
func dataField(payload json.RawMessage) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, false
	}
	data, ok := fields["data"]
	if !ok {
		return nil, false
	}
	switch string(bytes.TrimSpace(data)) {
	case "", "null", `""`:
		return nil, false
	}
	return data, true
}
