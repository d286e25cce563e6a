package ocpp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"openocpp/backend/services/ocpp-server/internal/ocpp/protocol"
)

// Message represents a parsed OCPP frame. Action is set for calls only; the error fields for
// call errors only.
type Message struct {
	MessageType      int
	UniqueID         string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// DecodeError reports a frame that does not match any of the three envelopes.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ocpp: %s: %v", e.Reason, e.Err)
	}
	return "ocpp: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CallError is returned by handlers to answer a call with a CALLERROR frame.
type CallError struct {
	Code        string
	Description string
}

// NewCallError builds a CallError.
func NewCallError(code, description string) *CallError {
	return &CallError{Code: code, Description: description}
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// idGenerator is overridable in tests.
var idGenerator = uuid.NewString

// Parser decodes raw JSON OCPP frames.
type Parser struct{}

// NewParser returns parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes data into a Message. Anything that is not exactly one of
// [2,id,action,payload], [3,id,payload] or [4,id,code,description,details] is rejected.
func (p *Parser) Parse(data []byte) (*Message, error) {
	var array []json.RawMessage
	if err := json.Unmarshal(data, &array); err != nil {
		return nil, &DecodeError{Reason: "frame is not a JSON array", Err: err}
	}
	if len(array) == 0 {
		return nil, &DecodeError{Reason: "empty frame"}
	}

	var msgType int
	if err := json.Unmarshal(array[0], &msgType); err != nil {
		return nil, &DecodeError{Reason: "read message type", Err: err}
	}

	msg := &Message{MessageType: msgType}

	switch msgType {
	case protocol.MessageTypeCall:
		if len(array) != 4 {
			return nil, &DecodeError{Reason: fmt.Sprintf("CALL frame has %d elements", len(array))}
		}
		if err := readString(array[1], &msg.UniqueID, "unique id"); err != nil {
			return nil, err
		}
		if err := readString(array[2], &msg.Action, "action"); err != nil {
			return nil, err
		}
		if err := readObject(array[3], &msg.Payload, "payload"); err != nil {
			return nil, err
		}
	case protocol.MessageTypeCallResult:
		if len(array) != 3 {
			return nil, &DecodeError{Reason: fmt.Sprintf("CALLRESULT frame has %d elements", len(array))}
		}
		if err := readString(array[1], &msg.UniqueID, "unique id"); err != nil {
			return nil, err
		}
		if err := readObject(array[2], &msg.Payload, "payload"); err != nil {
			return nil, err
		}
	case protocol.MessageTypeCallError:
		if len(array) != 5 {
			return nil, &DecodeError{Reason: fmt.Sprintf("CALLERROR frame has %d elements", len(array))}
		}
		if err := readString(array[1], &msg.UniqueID, "unique id"); err != nil {
			return nil, err
		}
		if err := readString(array[2], &msg.ErrorCode, "error code"); err != nil {
			return nil, err
		}
		if err := readString(array[3], &msg.ErrorDescription, "error description"); err != nil {
			return nil, err
		}
		if err := readObject(array[4], &msg.ErrorDetails, "error details"); err != nil {
			return nil, err
		}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unsupported message type %d", msgType)}
	}

	return msg, nil
}

func readString(raw json.RawMessage, dst *string, field string) error {
	// null would unmarshal into "" without error.
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return &DecodeError{Reason: field + " is not a string"}
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return &DecodeError{Reason: "read " + field, Err: err}
	}
	return nil
}

func readObject(raw json.RawMessage, dst *json.RawMessage, field string) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &DecodeError{Reason: field + " is not a JSON object"}
	}
	*dst = trimmed
	return nil
}

// BuildCall builds a CALL frame with a fresh unique id.
func BuildCall(action string, payload interface{}) ([]byte, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	id := idGenerator()
	frame := []interface{}{protocol.MessageTypeCall, id, action, json.RawMessage(body)}
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, "", err
	}
	return raw, id, nil
}

// BuildCallResult builds standard CALLRESULT payload.
func BuildCallResult(uniqueID string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := []interface{}{protocol.MessageTypeCallResult, uniqueID, json.RawMessage(body)}
	return json.Marshal(frame)
}

// BuildCallError builds CALLERROR payload.
func BuildCallError(uniqueID, code, description string) ([]byte, error) {
	frame := []interface{}{protocol.MessageTypeCallError, uniqueID, code, description, map[string]string{}}
	return json.Marshal(frame)
}
