package registry

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrEmptyKey is returned when a mutation is attempted with a blank identifier.
var ErrEmptyKey = errors.New("registry: empty key")

// Registry offers keyed access to the document collections. Every read is a full Load and
// every mutation a full Load-modify-Save; nothing is cached between calls.
type Registry struct {
	store Store
	now   func() time.Time
}

// New wraps store.
func New(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Store exposes the underlying store.
func (r *Registry) Store() Store {
	return r.store
}

// Document loads the whole document.
func (r *Registry) Document(ctx context.Context) (*Document, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	doc.ensure()
	return doc, nil
}

// Update runs fn over a freshly loaded document and saves the result when fn succeeds.
// Callers batch related mutations here to keep them in one save.
func (r *Registry) Update(ctx context.Context, fn func(doc *Document) error) error {
	doc, err := r.Document(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return r.store.Save(ctx, doc)
}

// ChargePoint returns the record for id.
func (r *Registry) ChargePoint(ctx context.Context, id string) (ChargePointRecord, bool, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return ChargePointRecord{}, false, err
	}
	rec, ok := doc.ChargePoints[id]
	return rec, ok, nil
}

// ChargePoints returns every registered charge point.
func (r *Registry) ChargePoints(ctx context.Context) (map[string]ChargePointRecord, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.ChargePoints, nil
}

// PutChargePoint creates or replaces a record.
func (r *Registry) PutChargePoint(ctx context.Context, id string, rec ChargePointRecord) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyKey
	}
	return r.Update(ctx, func(doc *Document) error {
		doc.ChargePoints[id] = rec
		return nil
	})
}

// DeleteChargePoint removes a record. It reports whether the record existed.
func (r *Registry) DeleteChargePoint(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.Update(ctx, func(doc *Document) error {
		_, found = doc.ChargePoints[id]
		delete(doc.ChargePoints, id)
		return nil
	})
	return found, err
}

// IDTag returns the tag entry.
func (r *Registry) IDTag(ctx context.Context, tag string) (IDTag, bool, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return IDTag{}, false, err
	}
	info, ok := doc.IDTags[tag]
	return info, ok, nil
}

// IDTags returns every registered tag.
func (r *Registry) IDTags(ctx context.Context) (map[string]IDTag, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.IDTags, nil
}

// PutIDTag creates or replaces a tag entry.
func (r *Registry) PutIDTag(ctx context.Context, tag string, info IDTag) error {
	if strings.TrimSpace(tag) == "" {
		return ErrEmptyKey
	}
	return r.Update(ctx, func(doc *Document) error {
		doc.IDTags[tag] = info
		return nil
	})
}

// RegisterIDTag stores tag with an expiry expiryDays from now.
func (r *Registry) RegisterIDTag(ctx context.Context, tag, status, cardName string, expiryDays int) (IDTag, error) {
	expiry := FormatExpiry(r.now().AddDate(0, 0, expiryDays))
	info := IDTag{Status: status, CardName: cardName, ExpiryDate: &expiry}
	if err := r.PutIDTag(ctx, tag, info); err != nil {
		return IDTag{}, err
	}
	return info, nil
}

// DeleteIDTag removes a tag. It reports whether the tag existed.
func (r *Registry) DeleteIDTag(ctx context.Context, tag string) (bool, error) {
	var found bool
	err := r.Update(ctx, func(doc *Document) error {
		_, found = doc.IDTags[tag]
		delete(doc.IDTags, tag)
		return nil
	})
	return found, err
}

// PowerMeter returns the max current registered for serial.
func (r *Registry) PowerMeter(ctx context.Context, serial string) (int, bool, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return 0, false, err
	}
	maxCurrent, ok := doc.PowerMeters[serial]
	return maxCurrent, ok, nil
}

// PowerMeters returns every registered power meter.
func (r *Registry) PowerMeters(ctx context.Context) (map[string]int, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.PowerMeters, nil
}

// PutPowerMeter creates or replaces a power meter.
func (r *Registry) PutPowerMeter(ctx context.Context, serial string, maxCurrent int) error {
	if strings.TrimSpace(serial) == "" {
		return ErrEmptyKey
	}
	return r.Update(ctx, func(doc *Document) error {
		doc.PowerMeters[serial] = maxCurrent
		return nil
	})
}

// DeletePowerMeter removes a power meter. It reports whether it existed.
func (r *Registry) DeletePowerMeter(ctx context.Context, serial string) (bool, error) {
	var found bool
	err := r.Update(ctx, func(doc *Document) error {
		_, found = doc.PowerMeters[serial]
		delete(doc.PowerMeters, serial)
		return nil
	})
	return found, err
}
