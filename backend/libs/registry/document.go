package registry

import (
	"encoding/json"
	"time"
)

// Authorization tag statuses as stored in the registry document.
const (
	TagAccepted = "Accepted"
	TagBlocked  = "Blocked"
	TagInvalid  = "Invalid"
	TagExpired  = "Expired"
)

// Document is the whole persisted registry. It is always loaded and saved as one unit.
//
// The document is shared with other tools, so a save re-emits what this package does not
// understand: unknown top-level keys, entries that failed to decode, and the original bytes of
// entries nobody changed. See codec.go.
type Document struct {
	ChargePoints map[string]ChargePointRecord
	IDTags       map[string]IDTag
	PowerMeters  map[string]int
	Schedules    json.RawMessage

	loaded *loadedDocument
}

// NewDocument returns an empty document with all collections allocated.
func NewDocument() *Document {
	doc := &Document{}
	doc.ensure()
	return doc
}

func (d *Document) ensure() {
	if d.ChargePoints == nil {
		d.ChargePoints = make(map[string]ChargePointRecord)
	}
	if d.IDTags == nil {
		d.IDTags = make(map[string]IDTag)
	}
	if d.PowerMeters == nil {
		d.PowerMeters = make(map[string]int)
	}
}

// ChargePointRecord is the registered identity of a charge point.
type ChargePointRecord struct {
	Vendor string `json:"vendor"`
	Model  string `json:"model"`
}

// UnmarshalJSON also accepts the chargePointVendor/chargePointModel keys older documents use.
func (c *ChargePointRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Vendor       string `json:"vendor"`
		Model        string `json:"model"`
		LegacyVendor string `json:"chargePointVendor"`
		LegacyModel  string `json:"chargePointModel"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Vendor = raw.Vendor
	if c.Vendor == "" {
		c.Vendor = raw.LegacyVendor
	}
	c.Model = raw.Model
	if c.Model == "" {
		c.Model = raw.LegacyModel
	}
	return nil
}

// Matches reports whether the reported vendor/model equal the registered ones.
func (c ChargePointRecord) Matches(vendor, model string) bool {
	return c.Vendor == vendor && c.Model == model
}

// IDTag is a registered authorization token.
type IDTag struct {
	Status     string  `json:"status"`
	CardName   string  `json:"cardname,omitempty"`
	ExpiryDate *string `json:"expiryDate"`
}

// Expiry parses the expiry date. ok is false when the tag never expires.
func (t IDTag) Expiry() (expiry time.Time, ok bool, err error) {
	if t.ExpiryDate == nil || *t.ExpiryDate == "" {
		return time.Time{}, false, nil
	}
	expiry, err = time.Parse(time.RFC3339, *t.ExpiryDate)
	if err != nil {
		return time.Time{}, true, err
	}
	return expiry, true, nil
}

// Valid reports whether the tag may be used at now. An unparsable expiry is never valid.
func (t IDTag) Valid(now time.Time) bool {
	if t.Status != TagAccepted {
		return false
	}
	expiry, ok, err := t.Expiry()
	if err != nil {
		return false
	}
	return !ok || expiry.After(now)
}

// FormatExpiry renders an expiry the way the registry stores it: UTC, seconds precision, Z suffix.
func FormatExpiry(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
