package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"openocpp/backend/libs/registry"
	"openocpp/backend/services/ocpp-server/internal/bridge"
	"openocpp/backend/services/ocpp-server/internal/handlers"
	"openocpp/backend/services/ocpp-server/internal/metrics"
	"openocpp/backend/services/ocpp-server/internal/ocpp"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
	"openocpp/backend/services/ocpp-server/internal/ws"
)

// recordingSession is a ws.Session that hands every outbound frame to the test.
type recordingSession struct {
	id     string
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

func newRecordingSession(id string) *recordingSession {
	return &recordingSession{id: id, frames: make(chan []byte, 8)}
}

func (s *recordingSession) StationID() string { return s.id }

func (s *recordingSession) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.frames <- frame
	return nil
}

func (s *recordingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingSession) nextCall(t *testing.T) *ocpp.Message {
	t.Helper()
	select {
	case frame := <-s.frames:
		msg, err := ocpp.NewParser().Parse(frame)
		require.NoError(t, err)
		require.Equal(t, protocol.MessageTypeCall, msg.MessageType)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound call")
		return nil
	}
}

type callOutcome struct {
	value json.RawMessage
	err   error
}

// correlationRig is the live path a station frame takes: registry, session manager, bridge
// and processor wired the way New wires them.
type correlationRig struct {
	manager   *ws.Manager
	bridge    *bridge.Bridge
	processor *ocpp.Processor
	metrics   *metrics.AppMetrics
}

func newCorrelationRig(t *testing.T) *correlationRig {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	reg := registry.New(registry.NewFileStore(filepath.Join(t.TempDir(), "shared_data.json"), nil))
	require.NoError(t, reg.PutIDTag(ctx, "GOOD", registry.IDTag{Status: registry.TagAccepted}))

	m := metrics.NewAppMetrics(metrics.NewRegistry())
	manager := ws.NewManager(ws.ManagerConfig{}, m, logger)
	b := bridge.New(manager, bridge.Config{Timeout: 5 * time.Second}, m, logger)
	manager.Subscribe(b)

	router := ocpp.NewRouter()
	router.Register(protocol.ActionAuthorize, handlers.NewAuthorizeHandler(reg, b, handlers.NewClock(), logger))

	return &correlationRig{
		manager:   manager,
		bridge:    b,
		processor: ocpp.NewProcessor(ocpp.NewParser(), router, b, nil, m, logger),
		metrics:   m,
	}
}

func (r *correlationRig) cardCommand(stationID string, await bridge.Await) <-chan callOutcome {
	out := make(chan callOutcome, 1)
	go func() {
		data := json.RawMessage(fmt.Sprintf(`{"memberId":"admin","targetcp":%q}`, stationID))
		value, err := r.bridge.VendorCommand(context.Background(), stationID, "uvCardRegister", data, await)
		out <- callOutcome{value: value, err: err}
	}()
	return out
}

func waitOutcome(t *testing.T, ch <-chan callOutcome) callOutcome {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("bridged call did not resolve")
		return callOutcome{}
	}
}

func TestAuthorizeFromStationResolvesCardCommand(t *testing.T) {
	ctx := context.Background()
	rig := newCorrelationRig(t)
	session := newRecordingSession("CP-1")
	rig.manager.Add(session)

	result := rig.cardCommand("CP-1", bridge.AwaitAuthorize)
	call := session.nextCall(t)
	assert.Equal(t, protocol.ActionDataTransfer, call.Action)

	// A bare acknowledgement of the DataTransfer leaves the request waiting for the card.
	reply, err := rig.processor.Process(ctx, "CP-1", []byte(fmt.Sprintf(`[3,%q,{"status":"Accepted"}]`, call.UniqueID)))
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.True(t, rig.bridge.Pending("CP-1"))

	reply, err = rig.processor.Process(ctx, "CP-1", []byte(`[2,"a1","Authorize",{"idTag":"GOOD"}]`))
	require.NoError(t, err)

	msg, err := ocpp.NewParser().Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeCallResult, msg.MessageType)
	assert.Equal(t, "a1", msg.UniqueID)
	var resp protocol.AuthorizeResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	assert.Equal(t, protocol.AuthorizationAccepted, resp.IdTagInfo.Status)
	assert.Contains(t, string(msg.Payload), `"idTagInfo"`)

	res := waitOutcome(t, result)
	require.NoError(t, res.err)
	assert.JSONEq(t, `"GOOD"`, string(res.value))
	assert.False(t, rig.bridge.Pending("CP-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(rig.metrics.CorrelationTotal.WithLabelValues("ok")))
}

func TestBlankAuthorizeFromStationIsRejectedAndKeepsWaiting(t *testing.T) {
	ctx := context.Background()
	rig := newCorrelationRig(t)
	session := newRecordingSession("CP-1")
	rig.manager.Add(session)

	result := rig.cardCommand("CP-1", bridge.AwaitAuthorize)
	session.nextCall(t)

	reply, err := rig.processor.Process(ctx, "CP-1", []byte(`[2,"a2","Authorize",{}]`))
	require.NoError(t, err)
	msg, err := ocpp.NewParser().Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeCallError, msg.MessageType)
	assert.Equal(t, protocol.ErrorFormationViolation, msg.ErrorCode)
	assert.True(t, rig.bridge.Pending("CP-1"))

	_, err = rig.processor.Process(ctx, "CP-1", []byte(`[2,"a3","Authorize",{"idTag":"GOOD"}]`))
	require.NoError(t, err)
	res := waitOutcome(t, result)
	require.NoError(t, res.err)
	assert.JSONEq(t, `"GOOD"`, string(res.value))
}

func TestTakeoverAndCloseResolveWithDisconnected(t *testing.T) {
	rig := newCorrelationRig(t)
	first := newRecordingSession("CP-1")
	rig.manager.Add(first)

	result := rig.cardCommand("CP-1", bridge.AwaitAuthorize)
	first.nextCall(t)

	second := newRecordingSession("CP-1")
	assert.Same(t, first, rig.manager.Add(second))
	res := waitOutcome(t, result)
	require.ErrorIs(t, res.err, bridge.ErrDisconnected)
	assert.True(t, first.isClosed())
	assert.True(t, rig.manager.IsOnline("CP-1"))

	// The replaced session going away later must not touch the new one.
	assert.False(t, rig.manager.Remove("CP-1", first))

	result = rig.cardCommand("CP-1", bridge.AwaitCallResult)
	second.nextCall(t)
	assert.True(t, rig.bridge.Pending("CP-1"))

	require.True(t, rig.manager.Remove("CP-1", second))
	res = waitOutcome(t, result)
	require.ErrorIs(t, res.err, bridge.ErrDisconnected)
	assert.False(t, rig.bridge.Pending("CP-1"))
	assert.Equal(t, 2.0, testutil.ToFloat64(rig.metrics.CorrelationTotal.WithLabelValues("disconnected")))

	res = waitOutcome(t, rig.cardCommand("CP-1", bridge.AwaitAuthorize))
	require.ErrorIs(t, res.err, bridge.ErrNotConnected)
}
