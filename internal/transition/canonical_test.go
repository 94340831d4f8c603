package transition

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_KeyOrder(t *testing.T) {
	got, err := MarshalCanonical(Payload{"b": "2", "a": "1", "c": "3"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"2","c":"3"}`, string(got))
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes to the surrogate pair D83D DE00, which sorts before
	// U+FF21 (FF21) in UTF-16 but after it in UTF-8.
	got, err := MarshalCanonical(map[string]any{"\uff21": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff21\":1}", string(got))
}

func TestMarshalCanonical_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, `null`},
		{"true", true, `true`},
		{"false", false, `false`},
		{"int", 42, `42`},
		{"negative int64", int64(-7), `-7`},
		{"uint8", uint8(9), `9`},
		{"integral float", 3.0, `3`},
		{"fraction", 1.5, `1.5`},
		{"negative zero", -0.0, `0`},
		{"json number int", json.Number("12"), `12`},
		{"json number float", json.Number("1.50"), `1.5`},
		{"json number above int64", json.Number("18446744073709551615"), `18446744073709551615`},
		{"large float in decimal", 1e6, `1000000`},
		{"small float in decimal", 0.00001, `0.00001`},
		{"tiny float exponent", 1e-7, `1e-7`},
		{"huge float exponent", 1e21, `1e+21`},
		{"string", "plain", `"plain"`},
		{"html not escaped", "<a & b>", `"<a & b>"`},
		{"control escaped", "a\nb\x01", `"a\nb\u0001"`},
		{"quote and backslash", `q"\`, `"q\"\\"`},
		{"line separator literal", "x\u2028y", "\"x\u2028y\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_NFC(t *testing.T) {
	composed, err := MarshalCanonical("\u00e9")
	require.NoError(t, err)
	decomposed, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_Arrays(t *testing.T) {
	got, err := MarshalCanonical(Payload{"labels": []any{"b", "a"}, "ids": []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"ids":["x"],"labels":["b","a"]}`, string(got))
}

func TestMarshalCanonical_Unsupported(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	require.Error(t, err)

	_, err = MarshalCanonical(Payload{"bad": []any{make(chan int)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bad"`)
}

// A payload written with Go numbers must canonicalize identically after a
// trip through encoding/json with UseNumber, which is how the log is read.
func TestMarshalCanonical_StableThroughJSON(t *testing.T) {
	original := Payload{
		"priority": 2,
		"weight":   1.25,
		"big":      1e21,
		"million":  2.5e6,
		"tiny":     3e-7,
		"small":    0.0001,
		"max":      int64(math.MaxInt64),
		"min":      int64(math.MinInt64),
		"unsigned": uint64(math.MaxInt64),
		"title":    "Fix <login> & co",
		"labels":   []any{"ui", "p1"},
		"done":     false,
		"missing":  nil,
	}
	want, err := MarshalCanonical(original)
	require.NoError(t, err)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded map[string]any
	require.NoError(t, dec.Decode(&decoded))

	got, err := MarshalCanonical(Payload(decoded))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}
