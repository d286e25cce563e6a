package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"openocpp/backend/libs/registry"
	"openocpp/backend/services/ocpp-server/internal/ocpp"
	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
	"openocpp/backend/services/ocpp-server/internal/service"
)

type fixedInterval time.Duration

func (f fixedInterval) HeartbeatInterval(string) time.Duration { return time.Duration(f) }

type observedTags struct {
	seen []string
}

func (o *observedTags) ObserveAuthorize(stationID, idTag string) {
	o.seen = append(o.seen, stationID+"="+idTag)
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.NewFileStore(filepath.Join(t.TempDir(), "shared_data.json"), nil))
	ctx := context.Background()
	require.NoError(t, reg.PutChargePoint(ctx, "CP-1", registry.ChargePointRecord{Vendor: "VendorX", Model: "ModelY"}))

	future := "2099-01-01T00:00:00Z"
	past := "2000-01-01T00:00:00Z"
	require.NoError(t, reg.PutIDTag(ctx, "GOOD", registry.IDTag{Status: registry.TagAccepted, ExpiryDate: &future}))
	require.NoError(t, reg.PutIDTag(ctx, "OLD", registry.IDTag{Status: registry.TagAccepted, ExpiryDate: &past}))
	require.NoError(t, reg.PutIDTag(ctx, "BLOCKED", registry.IDTag{Status: registry.TagBlocked, ExpiryDate: &future}))
	return reg
}

func callErrorCode(t *testing.T, err error) string {
	t.Helper()
	var callErr *ocpp.CallError
	require.True(t, errors.As(err, &callErr), "expected CallError, got %v", err)
	return callErr.Code + ": " + callErr.Description
}

func TestBootNotification(t *testing.T) {
	reg := newTestRegistry(t)
	state := service.NewStationState()
	h := NewBootNotificationHandler(reg, fixedInterval(45*time.Second), state, NewClock(), zap.NewNop())
	ctx := context.Background()

	resp, err := h(ctx, "CP-1", json.RawMessage(`{"chargePointVendor":"VendorX","chargePointModel":"ModelY","firmwareVersion":"2.0"}`))
	require.NoError(t, err)
	boot := resp.(protocol.BootNotificationResponse)
	assert.Equal(t, protocol.RegistrationAccepted, boot.Status)
	assert.Equal(t, 45, boot.Interval)
	assert.False(t, boot.CurrentTime.IsZero())

	st, ok := state.Get("CP-1")
	require.True(t, ok)
	assert.Equal(t, "2.0", st.FirmwareVersion)

	_, err = h(ctx, "CP-404", json.RawMessage(`{"chargePointVendor":"VendorX","chargePointModel":"ModelY"}`))
	assert.Equal(t, "SecurityError: Charger ID not registered", callErrorCode(t, err))

	_, err = h(ctx, "CP-1", json.RawMessage(`{"chargePointVendor":"VendorX","chargePointModel":"Other"}`))
	assert.Equal(t, "SecurityError: Charger details are not identical", callErrorCode(t, err))

	_, err = h(ctx, "CP-1", json.RawMessage(`{"chargePointVendor":5}`))
	assert.Contains(t, callErrorCode(t, err), protocol.ErrorFormationViolation)
}

func TestAuthorize(t *testing.T) {
	reg := newTestRegistry(t)
	observer := &observedTags{}
	h := NewAuthorizeHandler(reg, observer, NewClock(), zap.NewNop())
	ctx := context.Background()

	cases := []struct {
		tag    string
		status string
	}{
		{"GOOD", protocol.AuthorizationAccepted},
		{"OLD", protocol.AuthorizationInvalid},
		{"BLOCKED", protocol.AuthorizationInvalid},
		{"UNKNOWN", protocol.AuthorizationInvalid},
	}
	for _, tc := range cases {
		resp, err := h(ctx, "CP-1", json.RawMessage(`{"idTag":"`+tc.tag+`"}`))
		require.NoError(t, err)
		info := resp.(protocol.AuthorizeResponse).IdTagInfo
		assert.Equal(t, tc.status, info.Status, tc.tag)
		if tc.status == protocol.AuthorizationInvalid {
			assert.Nil(t, info.ExpiryDate, tc.tag)
		}
	}

	resp, err := h(ctx, "CP-1", json.RawMessage(`{"idTag":"GOOD"}`))
	require.NoError(t, err)
	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"idTagInfo":{"status":"Accepted","expiryDate":"2099-01-01T00:00:00Z"}}`, string(body))

	resp, err = h(ctx, "CP-1", json.RawMessage(`{"idTag":"UNKNOWN"}`))
	require.NoError(t, err)
	body, err = json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"idTagInfo":{"status":"Invalid","expiryDate":null}}`, string(body))

	assert.Len(t, observer.seen, 6)
	assert.Equal(t, "CP-1=GOOD", observer.seen[0])

	for _, payload := range []string{`{}`, `{"idTag":""}`, `{"idTag":"  "}`} {
		_, err := h(ctx, "CP-1", json.RawMessage(payload))
		assert.Equal(t, "FormationViolation: idTag is required", callErrorCode(t, err), payload)
	}
	assert.Len(t, observer.seen, 6)
}

func TestHeartbeatTimeNeverDecreases(t *testing.T) {
	clock := NewClock()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(time.Second), base.Add(-time.Hour), base.Add(2 * time.Second)}
	i := 0
	clock.now = func() time.Time {
		t := ticks[i]
		i++
		return t
	}

	h := NewHeartbeatHandler(service.NewStationState(), clock)
	var prev time.Time
	for range ticks {
		resp, err := h(context.Background(), "CP-1", json.RawMessage(`{}`))
		require.NoError(t, err)
		now := resp.(protocol.HeartbeatResponse).CurrentTime
		assert.False(t, now.Before(prev))
		prev = now
	}
	assert.Equal(t, base.Add(2*time.Second), prev)
}

func TestStatusNotificationAndDataTransfer(t *testing.T) {
	state := service.NewStationState()
	status := NewStatusNotificationHandler(state, NewClock(), zap.NewNop())

	resp, err := status(context.Background(), "CP-1", json.RawMessage(`{"connectorId":1,"errorCode":"NoError","status":"Available"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusNotificationResponse{}, resp)
	st, _ := state.Get("CP-1")
	assert.Equal(t, "Available", st.Connectors[1].Status)

	dt := NewDataTransferHandler(zap.NewNop())
	resp, err = dt(context.Background(), "CP-1", json.RawMessage(`{"vendorId":"gresystem","messageId":"x","data":{"k":1}}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.DataTransferResponse{Status: protocol.StatusAccepted}, resp)
}
