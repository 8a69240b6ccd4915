package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalKeyOrdering(t *testing.T) {
	obj := map[string]any{
		"b": int64(2),
		"a": int64(1),
		"c": int64(3),
	}

	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(out))
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"expr": "a < b && c > d"})
	require.NoError(t, err)
	assert.Equal(t, `{"expr":"a < b && c > d"}`, string(out))
}

func TestMarshalCanonicalFloats(t *testing.T) {
	// Integral floats print without a fraction so 3.0 and 3 hash identically.
	out, err := MarshalCanonical(3.0)
	require.NoError(t, err)
	assert.Equal(t, "3", string(out))

	// Fractional floats use shortest round-trip form.
	out, err = MarshalCanonical(3.5)
	require.NoError(t, err)
	assert.Equal(t, "3.5", string(out))

	out, err = MarshalCanonical(0.1)
	require.NoError(t, err)
	assert.Equal(t, "0.1", string(out))
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err, "NaN must be rejected")

	_, err = MarshalCanonical(math.Inf(1))
	assert.Error(t, err, "Inf must be rejected")
}

func TestMarshalCanonicalRejectsNull(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
}

func TestMarshalCanonicalDeterminism(t *testing.T) {
	obj := map[string]any{
		"nested": map[string]any{"z": 1.25, "y": "value"},
		"list":   []any{int64(1), 2.5, "three"},
	}

	out1, err := MarshalCanonical(obj)
	require.NoError(t, err)
	out2, err := MarshalCanonical(obj)
	require.NoError(t, err)

	assert.Equal(t, out1, out2, "canonical marshal must be bit-identical across runs")
}

func TestCompareKeysRFC8785SurrogateOrdering(t *testing.T) {
	// U+FB33 (Hebrew) is a single UTF-16 code unit 0xFB33; U+10000 encodes
	// as surrogate pair starting 0xD800. UTF-16 ordering puts the surrogate
	// first, the opposite of UTF-8 byte order.
	assert.Equal(t, 1, compareKeysRFC8785("דּ", "\U00010000"))
	assert.Equal(t, -1, compareKeysRFC8785("\U00010000", "דּ"))
}
