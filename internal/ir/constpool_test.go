package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstPoolInternDeduplicates(t *testing.T) {
	pool := NewConstPool()

	id1, err := pool.Intern(3.5)
	require.NoError(t, err)
	id2, err := pool.Intern(3.5)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "JSON-equal values must share one ConstID")
	assert.Equal(t, 1, pool.Len())
}

func TestConstPoolInternIntAndFloatShareEntry(t *testing.T) {
	pool := NewConstPool()

	id1 := pool.MustIntern(3)
	id2 := pool.MustIntern(3.0)

	assert.Equal(t, id1, id2, "3 and 3.0 are JSON-equal and must dedupe")
}

func TestConstPoolScalarFloat(t *testing.T) {
	pool := NewConstPool()
	id := pool.MustIntern(3.5)

	v, err := pool.Float(id)
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
}

func TestConstPoolStructuredValueStoredVerbatim(t *testing.T) {
	pool := NewConstPool()

	// A color hex string must never be numerically coerced.
	id := pool.MustIntern("#ff8800")

	v, err := pool.Value(id)
	require.NoError(t, err)
	assert.Equal(t, "#ff8800", v)

	_, err = pool.Float(id)
	assert.Error(t, err, "JSON-storage entry is not a scalar f64")
}

func TestConstPoolTypedArrayRuns(t *testing.T) {
	pool := NewConstPool()

	id := pool.MustIntern([]float64{1, 2, 3})
	run, err := pool.Floats(id)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, run)

	// Same content dedupes; different content does not.
	assert.Equal(t, id, pool.MustIntern([]float64{1, 2, 3}))
	assert.NotEqual(t, id, pool.MustIntern([]float64{1, 2, 4}))
}

func TestConstPoolScalarAndArrayDoNotCollide(t *testing.T) {
	pool := NewConstPool()

	scalar := pool.MustIntern(7.0)
	arr := pool.MustIntern([]float64{7.0})

	assert.NotEqual(t, scalar, arr, "scalar 7 and [7] are different constants")
}

func TestConstPoolRejectsNonFinite(t *testing.T) {
	pool := NewConstPool()

	_, err := pool.Intern(math.NaN())
	assert.Error(t, err)

	_, err = pool.Intern([]float64{1, math.Inf(-1)})
	assert.Error(t, err)
}

func TestConstPoolOutOfRange(t *testing.T) {
	pool := NewConstPool()

	_, err := pool.Float(ConstID(0))
	assert.Error(t, err)

	_, err = pool.Float(None)
	assert.Error(t, err)
}

func TestConstPoolIndexRebuildAfterDecode(t *testing.T) {
	pool := NewConstPool()
	id := pool.MustIntern(1.5)
	pool.MustIntern("#00ff00")

	// Simulate a decoded pool: same arrays, no index.
	decoded := &ConstPool{
		Entries: pool.Entries,
		JSON:    pool.JSON,
		F64:     pool.F64,
		F32:     pool.F32,
		I32:     pool.I32,
	}

	again, err := decoded.Intern(1.5)
	require.NoError(t, err)
	assert.Equal(t, id, again, "interning after decode must find existing entries")
	assert.Equal(t, pool.Len(), decoded.Len())
}
