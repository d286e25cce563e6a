package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"openocpp/backend/libs/registry"
)

type staticChargePoints map[string]registry.ChargePointRecord

func (s staticChargePoints) ChargePoint(_ context.Context, id string) (registry.ChargePointRecord, bool, error) {
	rec, ok := s[id]
	return rec, ok, nil
}

// echoProcessor answers every frame with "echo:<station>:<frame>" and drops frames starting with "bad".
type echoProcessor struct{}

func (echoProcessor) Process(_ context.Context, stationID string, raw []byte) ([]byte, error) {
	if strings.HasPrefix(string(raw), "bad") {
		return nil, errors.New("malformed frame")
	}
	return []byte("echo:" + stationID + ":" + string(raw)), nil
}

func newTestServer(t *testing.T, reject bool) (*Manager, *httptest.Server) {
	t.Helper()
	manager := NewManager(ManagerConfig{}, nil, zap.NewNop())
	srv := NewServer(manager, echoProcessor{}, staticChargePoints{"CP-1": {Vendor: "V", Model: "M"}}, ServerConfig{
		WriteTimeout:       time.Second,
		ReadTimeout:        5 * time.Second,
		RejectUnregistered: reject,
	}, zap.NewNop())
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(ts.Close)
	return manager, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	dialer := websocket.Dialer{Subprotocols: []string{"ocpp1.6"}, HandshakeTimeout: 2 * time.Second}
	return dialer.Dial(url, nil)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestStationIDFromPath(t *testing.T) {
	assert.Equal(t, "CP-1", StationIDFromPath("/ocpp/CP-1"))
	assert.Equal(t, "CP-1", StationIDFromPath("/CP-1"))
	assert.Equal(t, "", StationIDFromPath("/ocpp/"))
}

func TestServerSessionLifecycle(t *testing.T) {
	manager, ts := newTestServer(t, true)

	conn, resp, err := dial(t, ts, "/ocpp/CP-1")
	require.NoError(t, err)
	assert.Equal(t, "ocpp1.6", resp.Header.Get("Sec-WebSocket-Protocol"))
	waitFor(t, func() bool { return manager.IsOnline("CP-1") })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("bad frame")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("one")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("two")))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:CP-1:one", string(first))
	assert.Equal(t, "echo:CP-1:two", string(second))

	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return !manager.IsOnline("CP-1") })
}

func TestServerRefusesUnknownAndEmptyIDs(t *testing.T) {
	_, ts := newTestServer(t, true)

	_, resp, err := dial(t, ts, "/ocpp/CP-404")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = dial(t, ts, "/ocpp/")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerAllowsUnknownWhenNotRejecting(t *testing.T) {
	manager, ts := newTestServer(t, false)

	conn, _, err := dial(t, ts, "/ocpp/CP-404")
	require.NoError(t, err)
	defer conn.Close()
	waitFor(t, func() bool { return manager.IsOnline("CP-404") })
}

func TestServerTakeoverKeepsNewSession(t *testing.T) {
	manager, ts := newTestServer(t, true)

	old, _, err := dial(t, ts, "/ocpp/CP-1")
	require.NoError(t, err)
	defer old.Close()
	waitFor(t, func() bool { return manager.IsOnline("CP-1") })
	first, _ := manager.Lookup("CP-1")

	fresh, _, err := dial(t, ts, "/ocpp/CP-1")
	require.NoError(t, err)
	defer fresh.Close()
	waitFor(t, func() bool {
		s, ok := manager.Lookup("CP-1")
		return ok && s != first
	})

	// The old socket is closed by the server.
	_ = old.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = old.ReadMessage()
	assert.Error(t, err)

	require.NoError(t, fresh.WriteMessage(websocket.TextMessage, []byte("hi")))
	_ = fresh.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := fresh.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:CP-1:hi", string(msg))
	assert.True(t, manager.IsOnline("CP-1"))
}
