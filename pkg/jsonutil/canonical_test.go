package jsonutil_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/safeguard-project/safeguard/pkg/jsonutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canonical(t *testing.T, v any) string {
	t.Helper()
	out, err := jsonutil.CanonicalMarshal(v)
	require.NoError(t, err)
	return string(out)
}

func TestCanonicalMarshal_SortsKeysRecursively(t *testing.T) {
	got := canonical(t, map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"z": 1, "a": 2},
		"mid":   []any{map[string]any{"y": 0, "x": 0}},
	})
	assert.Equal(t, `{"alpha":{"a":2,"z":1},"mid":[{"x":0,"y":0}],"zebra":1}`, got)
}

func TestCanonicalMarshal_KeysSortLexicographically(t *testing.T) {
	got := canonical(t, map[string]any{"1": "a", "10": "b", "2": "c"})
	assert.Equal(t, `{"1":"a","10":"b","2":"c"}`, got)
}

func TestCanonicalMarshal_StructTagsApply(t *testing.T) {
	type change struct {
		Path     string `json:"path"`
		DiffSize int    `json:"diff_size,omitempty"`
		Ignored  string `json:"-"`
	}
	got := canonical(t, change{Path: "internal/audit/trail.go", Ignored: "x"})
	assert.Equal(t, `{"path":"internal/audit/trail.go"}`, got)
}

func TestCanonicalMarshal_Scalars(t *testing.T) {
	assert.Equal(t, `null`, canonical(t, nil))
	assert.Equal(t, `true`, canonical(t, true))
	assert.Equal(t, `"ok"`, canonical(t, "ok"))
	assert.Equal(t, `0.55`, canonical(t, 0.55))
	assert.Equal(t, `{}`, canonical(t, map[string]any{}))
	assert.Equal(t, `[]`, canonical(t, []any{}))
}

func TestCanonicalMarshal_LargeIntegersSurviveExactly(t *testing.T) {
	got := canonical(t, map[string]any{"n": int64(9223372036854775807)})
	assert.Equal(t, `{"n":9223372036854775807}`, got)
}

func TestCanonicalMarshal_StringEscapesRoundTrip(t *testing.T) {
	in := map[string]any{"diff": "-old\n+new\t\"quoted\""}
	out := []byte(canonical(t, in))

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, in["diff"], back["diff"])
}

func TestCanonicalMarshal_UnicodePassthrough(t *testing.T) {
	out := []byte(canonical(t, map[string]any{"agent": "контролёр-1"}))

	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "контролёр-1", back["agent"])
}

func TestCanonicalMarshal_Deterministic(t *testing.T) {
	in := map[string]any{"c": 3.5, "a": []any{1, nil, "two"}, "b": true}
	first := canonical(t, in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, canonical(t, in))
	}
}

func TestCanonicalMarshal_FixedPoint(t *testing.T) {
	out := []byte(canonical(t, map[string]any{"risk_score": 0.55, "z": 1, "a": 2}))

	var round any
	require.NoError(t, json.Unmarshal(out, &round))
	assert.Equal(t, string(out), canonical(t, round))
}

type failingMarshaler struct{}

func (failingMarshaler) MarshalJSON() ([]byte, error) {
	return nil, errors.New("refused")
}

func TestCanonicalMarshal_MarshalErrorPropagates(t *testing.T) {
	_, err := jsonutil.CanonicalMarshal(map[string]any{
		"nested": map[string]any{"bad": failingMarshaler{}},
	})
	assert.Error(t, err)
}

type rawMarshaler struct{}

func (rawMarshaler) MarshalJSON() ([]byte, error) {
	return []byte(`{"z":1,"a":`), nil
}

func TestCanonicalMarshal_TruncatedCustomOutputFails(t *testing.T) {
	_, err := jsonutil.CanonicalMarshal(rawMarshaler{})
	assert.Error(t, err)
}
