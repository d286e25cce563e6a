package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `{
    "registered_chargers": {
        "CHG-TEST-001": {"vendor": "Test", "model": "A1"},
        "CHG-TEST-002": {"chargePointVendor": "Test", "chargePointModel": "B2"}
    },
    "registered_id_tags": {
        "test01": {"status": "Accepted", "cardname": "User A", "expiryDate": "2030-01-01T00:00:00Z"},
        "test02": {"status": "Blocked", "expiryDate": null}
    },
    "pm_devices": {"PM-1": 32},
    "schedules": {"night": {"starttime": "23:00", "endtime": "06:00"}}
}`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shared_data.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFileStoreMissingAndMalformedYieldEmpty(t *testing.T) {
	ctx := context.Background()

	missing := NewFileStore(filepath.Join(t.TempDir(), "nope.json"), nil)
	doc, err := missing.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.ChargePoints)
	assert.NotNil(t, doc.IDTags)

	malformed := NewFileStore(writeFixture(t, `{"registered_chargers": [`), nil)
	doc, err = malformed.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.ChargePoints)

	reg := New(malformed)
	_, ok, err := reg.ChargePoint(ctx, "CHG-TEST-001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreLegacyKeysAndSchedulesPreserved(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(writeFixture(t, fixture), nil)
	reg := New(store)

	rec, ok, err := reg.ChargePoint(ctx, "CHG-TEST-002")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ChargePointRecord{Vendor: "Test", Model: "B2"}, rec)

	require.NoError(t, reg.PutPowerMeter(ctx, "PM-2", 16))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.JSONEq(t, `{"night": {"starttime": "23:00", "endtime": "06:00"}}`, string(generic["schedules"]))
	assert.JSONEq(t, `{"PM-1": 32, "PM-2": 16}`, string(generic["pm_devices"]))
	assert.JSONEq(t, `{"chargePointVendor": "Test", "chargePointModel": "B2"}`, string(mustField(t, generic["registered_chargers"], "CHG-TEST-002")))
}

func TestSaveKeepsUnknownKeysAndLegacyRecords(t *testing.T) {
	ctx := context.Background()
	body := `{
    "registered_chargers": {"CP-1": {"chargePointVendor": "Acme", "chargePointModel": "X1", "site": "north"}},
    "registered_id_tags": {"OLD": {"status": "Accepted", "expiryDate": null}},
    "admin_settings": {"theme": "dark", "operators": ["kim"]}
}`
	store := NewFileStore(writeFixture(t, body), nil)
	reg := New(store)

	_, err := reg.RegisterIDTag(ctx, "NEW", TagAccepted, "Card", 30)
	require.NoError(t, err)

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &generic))

	assert.JSONEq(t, `{"theme": "dark", "operators": ["kim"]}`, string(generic["admin_settings"]))
	assert.JSONEq(t, `{"chargePointVendor": "Acme", "chargePointModel": "X1", "site": "north"}`,
		string(mustField(t, generic["registered_chargers"], "CP-1")))
	assert.NotEmpty(t, mustField(t, generic["registered_id_tags"], "OLD"))
	assert.NotEmpty(t, mustField(t, generic["registered_id_tags"], "NEW"))

	rec, ok, err := reg.ChargePoint(ctx, "CP-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.Matches("Acme", "X1"))
}

func TestMalformedEntryDoesNotHideOrWipeOthers(t *testing.T) {
	ctx := context.Background()
	body := `{
    "registered_chargers": {"CP-1": {"vendor": "Acme", "model": "X1"}, "CP-BAD": "oops"},
    "registered_id_tags": {"OLD": {"status": "Accepted", "expiryDate": null}, "NULLTAG": null},
    "pm_devices": {"PM-1": "32", "PM-2": 16}
}`
	store := NewFileStore(writeFixture(t, body), nil)
	reg := New(store)

	_, ok, err := reg.ChargePoint(ctx, "CP-1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = reg.ChargePoint(ctx, "CP-BAD")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = reg.PowerMeter(ctx, "PM-1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = reg.IDTag(ctx, "NULLTAG")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = reg.RegisterIDTag(ctx, "NEW", TagAccepted, "Card", 30)
	require.NoError(t, err)

	_, ok, err = reg.ChargePoint(ctx, "CP-1")
	require.NoError(t, err)
	assert.True(t, ok)
	for _, tag := range []string{"OLD", "NEW"} {
		_, ok, err := reg.IDTag(ctx, tag)
		require.NoError(t, err)
		assert.True(t, ok, tag)
	}
	maxCurrent, ok, err := reg.PowerMeter(ctx, "PM-2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 16, maxCurrent)

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.JSONEq(t, `"32"`, string(mustField(t, generic["pm_devices"], "PM-1")))
	assert.JSONEq(t, `"oops"`, string(mustField(t, generic["registered_chargers"], "CP-BAD")))

	require.NoError(t, reg.PutPowerMeter(ctx, "PM-1", 32))
	maxCurrent, ok, err = reg.PowerMeter(ctx, "PM-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 32, maxCurrent)
}

func TestMalformedCollectionKeptUntilReplaced(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(writeFixture(t, `{"registered_chargers": {"CP-1": {"vendor": "A", "model": "B"}}, "pm_devices": [1, 2]}`), nil)
	reg := New(store)

	require.NoError(t, reg.PutIDTag(ctx, "T", IDTag{Status: TagAccepted}))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.JSONEq(t, `[1, 2]`, string(generic["pm_devices"]))

	_, ok, err := reg.ChargePoint(ctx, "CP-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func mustField(t *testing.T, obj json.RawMessage, key string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(obj, &m))
	return m[key]
}

func TestRegistryTagLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := New(NewFileStore(writeFixture(t, fixture), nil))
	reg.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 999, time.UTC) }

	info, err := reg.RegisterIDTag(ctx, "DEADBEEFCAFE0002", TagAccepted, "Testing User2", 90)
	require.NoError(t, err)
	require.NotNil(t, info.ExpiryDate)
	assert.Equal(t, "2026-04-02T03:04:05Z", *info.ExpiryDate)

	got, ok, err := reg.IDTag(ctx, "DEADBEEFCAFE0002")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Testing User2", got.CardName)

	tags, err := reg.IDTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 3)

	found, err := reg.DeleteIDTag(ctx, "test02")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = reg.DeleteIDTag(ctx, "test02")
	require.NoError(t, err)
	assert.False(t, found)

	require.ErrorIs(t, reg.PutIDTag(ctx, "  ", IDTag{}), ErrEmptyKey)
}

func TestRegistryChargePointsAndMeters(t *testing.T) {
	ctx := context.Background()
	reg := New(NewFileStore(filepath.Join(t.TempDir(), "fresh.json"), nil))

	require.NoError(t, reg.PutChargePoint(ctx, "CHG-9", ChargePointRecord{Vendor: "V", Model: "M"}))
	all, err := reg.ChargePoints(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	found, err := reg.DeleteChargePoint(ctx, "CHG-9")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, reg.PutPowerMeter(ctx, "PM-1", 32))
	maxCurrent, ok, err := reg.PowerMeter(ctx, "PM-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 32, maxCurrent)

	found, err = reg.DeletePowerMeter(ctx, "PM-1")
	require.NoError(t, err)
	assert.True(t, found)

	meters, err := reg.PowerMeters(ctx)
	require.NoError(t, err)
	assert.Empty(t, meters)
}

func TestIDTagValid(t *testing.T) {
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	future := "2030-01-01T00:00:00Z"
	past := "2020-01-01T00:00:00Z"
	garbage := "next tuesday"

	cases := []struct {
		name string
		tag  IDTag
		want bool
	}{
		{"accepted future", IDTag{Status: TagAccepted, ExpiryDate: &future}, true},
		{"accepted no expiry", IDTag{Status: TagAccepted}, true},
		{"accepted expired", IDTag{Status: TagAccepted, ExpiryDate: &past}, false},
		{"accepted garbage expiry", IDTag{Status: TagAccepted, ExpiryDate: &garbage}, false},
		{"blocked", IDTag{Status: TagBlocked, ExpiryDate: &future}, false},
		{"invalid", IDTag{Status: TagInvalid}, false},
		{"expired status", IDTag{Status: TagExpired}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.tag.Valid(now))
		})
	}
}

type failingStore struct{ err error }

func (f failingStore) Load(context.Context) (*Document, error) { return nil, f.err }
func (f failingStore) Save(context.Context, *Document) error   { return f.err }

func TestRegistryPropagatesBackendErrors(t *testing.T) {
	boom := assert.AnError
	reg := New(failingStore{err: boom})

	_, _, err := reg.ChargePoint(context.Background(), "x")
	require.ErrorIs(t, err, boom)

	err = reg.PutChargePoint(context.Background(), "x", ChargePointRecord{})
	require.ErrorIs(t, err, boom)
}
