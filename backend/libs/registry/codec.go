package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// Top-level keys of the registry document.
const (
	keyChargePoints = "registered_chargers"
	keyIDTags       = "registered_id_tags"
	keyPowerMeters  = "pm_devices"
	keySchedules    = "schedules"
)

var errNullEntry = errors.New("null entry")

// loadedDocument remembers the raw form of a decoded document.
type loadedDocument struct {
	extra        map[string]json.RawMessage
	chargePoints rawCollection
	idTags       rawCollection
	powerMeters  rawCollection
}

type rawCollection struct {
	// whole is set when the collection itself was not a JSON object.
	whole   json.RawMessage
	valid   map[string]json.RawMessage
	invalid map[string]json.RawMessage
}

// UnmarshalJSON decodes leniently; see decodeDocument.
func (d *Document) UnmarshalJSON(data []byte) error {
	doc, err := decodeTolerant(data, zap.NewNop())
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// MarshalJSON writes the collections back, preserving whatever was loaded but not understood.
func (d *Document) MarshalJSON() ([]byte, error) {
	d.ensure()
	var loaded loadedDocument
	if d.loaded != nil {
		loaded = *d.loaded
	}

	out := make(map[string]json.RawMessage, len(loaded.extra)+4)
	for key, raw := range loaded.extra {
		out[key] = raw
	}

	var err error
	if out[keyChargePoints], err = encodeCollection(d.ChargePoints, loaded.chargePoints); err != nil {
		return nil, fmt.Errorf("%s: %w", keyChargePoints, err)
	}
	if out[keyIDTags], err = encodeCollection(d.IDTags, loaded.idTags); err != nil {
		return nil, fmt.Errorf("%s: %w", keyIDTags, err)
	}
	if out[keyPowerMeters], err = encodeCollection(d.PowerMeters, loaded.powerMeters); err != nil {
		return nil, fmt.Errorf("%s: %w", keyPowerMeters, err)
	}
	if len(d.Schedules) > 0 {
		out[keySchedules] = d.Schedules
	}
	return json.Marshal(out)
}

// decodeTolerant fails only when data is not a JSON object. A bad collection or entry is
// logged and left out of the typed maps but kept for the next save.
func decodeTolerant(data []byte, logger *zap.Logger) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	if top == nil {
		return NewDocument(), nil
	}

	doc := &Document{loaded: &loadedDocument{extra: make(map[string]json.RawMessage)}}
	for key, raw := range top {
		switch key {
		case keyChargePoints:
			doc.ChargePoints, doc.loaded.chargePoints = decodeCollection[ChargePointRecord](key, raw, logger)
		case keyIDTags:
			doc.IDTags, doc.loaded.idTags = decodeCollection[IDTag](key, raw, logger)
		case keyPowerMeters:
			doc.PowerMeters, doc.loaded.powerMeters = decodeCollection[int](key, raw, logger)
		case keySchedules:
			doc.Schedules = raw
		default:
			doc.loaded.extra[key] = raw
		}
	}
	doc.ensure()
	return doc, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeCollection[T any](name string, data json.RawMessage, logger *zap.Logger) (map[string]T, rawCollection) {
	values := make(map[string]T)
	rc := rawCollection{
		valid:   make(map[string]json.RawMessage),
		invalid: make(map[string]json.RawMessage),
	}
	if isNull(data) {
		return values, rc
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Warn("registry collection malformed, ignoring it", zap.String("collection", name), zap.Error(err))
		rc.whole = data
		return values, rc
	}

	for key, raw := range entries {
		var v T
		err := json.Unmarshal(raw, &v)
		if err == nil && isNull(raw) {
			err = errNullEntry
		}
		if err != nil {
			logger.Warn("registry entry malformed, skipping it",
				zap.String("collection", name), zap.String("key", key), zap.Error(err))
			rc.invalid[key] = raw
			continue
		}
		values[key] = v
		rc.valid[key] = raw
	}
	return values, rc
}

// encodeCollection writes untouched entries with their original bytes and keeps malformed
// entries unless the key was replaced.
func encodeCollection[T any](values map[string]T, rc rawCollection) (json.RawMessage, error) {
	if len(values) == 0 && rc.whole != nil {
		return rc.whole, nil
	}

	out := make(map[string]json.RawMessage, len(values)+len(rc.invalid))
	for key, raw := range rc.invalid {
		if _, replaced := values[key]; !replaced {
			out[key] = raw
		}
	}
	for key, v := range values {
		if raw, ok := rc.valid[key]; ok && unchanged(raw, v) {
			out[key] = raw
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[key] = data
	}
	return json.Marshal(out)
}

func unchanged[T any](raw json.RawMessage, v T) bool {
	var prev T
	if err := json.Unmarshal(raw, &prev); err != nil {
		return false
	}
	return reflect.DeepEqual(prev, v)
}
