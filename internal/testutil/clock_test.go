package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqCounterMonotonic(t *testing.T) {
	c := NewSeqCounter()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestSeqCounterReset(t *testing.T) {
	c := NewSeqCounter()
	c.Next()
	c.Next()
	c.Reset()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
}

func TestSeqCounterConcurrent(t *testing.T) {
	c := NewSeqCounter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Next()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), c.Current())
}

func TestFixedCompileID(t *testing.T) {
	assert.Equal(t, "test-compile-default", FixedCompileID(""))
	assert.Equal(t, "pinned", FixedCompileID("pinned"))
}
