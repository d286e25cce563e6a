package ocpp

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
)

func TestParseEnvelopes(t *testing.T) {
	p := NewParser()

	msg, err := p.Parse([]byte(`[2,"19223201","BootNotification",{"chargePointVendor":"VendorX","chargePointModel":"ModelY"}]`))
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeCall, msg.MessageType)
	assert.Equal(t, "19223201", msg.UniqueID)
	assert.Equal(t, "BootNotification", msg.Action)
	assert.JSONEq(t, `{"chargePointVendor":"VendorX","chargePointModel":"ModelY"}`, string(msg.Payload))

	msg, err = p.Parse([]byte(`[3, "abc", {"status":"Accepted"}]`))
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeCallResult, msg.MessageType)
	assert.Equal(t, "abc", msg.UniqueID)
	assert.Empty(t, msg.Action)

	msg, err = p.Parse([]byte(`[4,"abc","NotSupported","nope",{}]`))
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeCallError, msg.MessageType)
	assert.Equal(t, "NotSupported", msg.ErrorCode)
	assert.Equal(t, "nope", msg.ErrorDescription)
}

func TestParseFailsClosed(t *testing.T) {
	p := NewParser()
	frames := map[string]string{
		"not json":           `hello`,
		"object":             `{"a":1}`,
		"empty array":        `[]`,
		"call too short":     `[2,"id","Heartbeat"]`,
		"call too long":      `[2,"id","Heartbeat",{},{}]`,
		"result too long":    `[3,"id",{},1]`,
		"error too short":    `[4,"id","GenericError","x"]`,
		"unknown type":       `[5,"id",{}]`,
		"type as string":     `["2","id","Heartbeat",{}]`,
		"numeric id":         `[2,42,"Heartbeat",{}]`,
		"null id":            `[2,null,"Heartbeat",{}]`,
		"numeric action":     `[2,"id",7,{}]`,
		"payload not object": `[2,"id","Heartbeat",[]]`,
		"result null":        `[3,"id",null]`,
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := p.Parse([]byte(frame))
			var decodeErr *DecodeError
			require.Error(t, err)
			assert.True(t, errors.As(err, &decodeErr))
		})
	}
}

func TestBuildCallRoundTrip(t *testing.T) {
	p := NewParser()
	payload := protocol.ChangeConfigurationRequest{Key: protocol.ConfigKeyHeartbeatInterval, Value: "60"}

	first, firstID, err := BuildCall(protocol.ActionChangeConfiguration, payload)
	require.NoError(t, err)
	_, secondID, err := BuildCall(protocol.ActionChangeConfiguration, payload)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)

	msg, err := p.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, firstID, msg.UniqueID)
	assert.Equal(t, protocol.ActionChangeConfiguration, msg.Action)

	var decoded protocol.ChangeConfigurationRequest
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestBuildCallUsesIDGenerator(t *testing.T) {
	orig := idGenerator
	idGenerator = func() string { return "fixed-id" }
	defer func() { idGenerator = orig }()

	raw, id, err := BuildCall("DataTransfer", map[string]string{"vendorId": "v"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
	assert.JSONEq(t, `[2,"fixed-id","DataTransfer",{"vendorId":"v"}]`, string(raw))
}

func TestBuildCallError(t *testing.T) {
	raw, err := BuildCallError("m1", protocol.ErrorSecurityError, "Charger ID not registered")
	require.NoError(t, err)
	assert.JSONEq(t, `[4,"m1","SecurityError","Charger ID not registered",{}]`, string(raw))
}
