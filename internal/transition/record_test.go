package transition

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp_FixedWidth(t *testing.T) {
	a := FormatTimestamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	b := FormatTimestamp(time.Date(2026, 1, 2, 3, 4, 5, 120000000, time.FixedZone("X", 3600)))

	assert.Equal(t, "2026-01-02T03:04:05.000000000Z", a)
	assert.Equal(t, "2026-01-02T02:04:05.120000000Z", b)
	assert.Equal(t, len(a), len(b))
	assert.Less(t, b, a)
}

func TestSeal(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec, err := Seal(Change{
		Operation: OpCreate,
		EntityID:  "bd-7",
		Payload:   Payload{"title": "Write docs"},
	}, "rec-1", at)
	require.NoError(t, err)

	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, "2026-03-01T12:00:00.000000000Z", rec.Timestamp)
	assert.Equal(t, OpCreate, rec.Operation)
	assert.Equal(t, "bd-7", rec.EntityID)
	assert.Equal(t, MustChecksum(Payload{"title": "Write docs"}), rec.Checksum)
	assert.NoError(t, rec.Verify())
}

func TestSeal_NilPayloadBecomesEmpty(t *testing.T) {
	rec, err := Seal(Change{Operation: OpReopen, EntityID: "bd-7"}, "rec-2", time.Now())
	require.NoError(t, err)
	assert.NotNil(t, rec.Payload)
	assert.NoError(t, rec.Verify())
}

func TestSeal_RejectsInvalid(t *testing.T) {
	_, err := Seal(Change{Operation: "explode", EntityID: "bd-7"}, "r", time.Now())
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestVerify_DetectsTamper(t *testing.T) {
	rec, err := Seal(Change{Operation: OpComment, EntityID: "bd-1", Payload: Payload{"body": "hi"}}, "r", time.Now())
	require.NoError(t, err)

	rec.Payload = Payload{"body": "hi!"}
	err = rec.Verify()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
}

func TestRecord_JSONFieldNames(t *testing.T) {
	rec := Record{ID: "i", Timestamp: "t", Operation: OpDep, EntityID: "e", Payload: Payload{}, Checksum: "c"}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"i","timestamp":"t","operation":"dep","entity_id":"e","payload":{},"checksum":"c"}`, string(data))
}

func TestPayload_Accessors(t *testing.T) {
	p := Payload{
		"title":    "x",
		"count":    json.Number("3"),
		"float":    4.0,
		"frac":     4.5,
		"text_num": "7",
		"labels":   []any{"a", 1, "b"},
		"single":   "only",
		"typed":    []string{"t"},
	}

	s, ok := p.String("title")
	assert.True(t, ok)
	assert.Equal(t, "x", s)
	_, ok = p.String("count")
	assert.False(t, ok)

	n, ok := p.Int("count")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)
	n, ok = p.Int("float")
	assert.True(t, ok)
	assert.Equal(t, int64(4), n)
	_, ok = p.Int("frac")
	assert.False(t, ok)
	n, ok = p.Int("text_num")
	assert.True(t, ok)
	assert.Equal(t, int64(7), n)
	_, ok = p.Int("absent")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, p.Strings("labels"))
	assert.Equal(t, []string{"only"}, p.Strings("single"))
	assert.Equal(t, []string{"t"}, p.Strings("typed"))
	assert.Nil(t, p.Strings("count"))

	assert.Equal(t, []string{"count", "float", "frac", "labels", "single", "text_num", "title", "typed"}, p.Keys())
}
