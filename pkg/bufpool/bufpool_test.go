package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSizeClasses(t *testing.T) {
	t.Run("SmallFrame", func(t *testing.T) {
		buf := Get(100)
		defer Put(buf)
		assert.Len(t, buf, 100)
		assert.Equal(t, SmallClass, cap(buf))
	})

	t.Run("MediumFrame", func(t *testing.T) {
		buf := Get(10 * 1024)
		defer Put(buf)
		assert.Len(t, buf, 10*1024)
		assert.Equal(t, MediumClass, cap(buf))
	})

	t.Run("LargeFrame", func(t *testing.T) {
		buf := Get(100 * 1024)
		defer Put(buf)
		assert.Len(t, buf, 100*1024)
		assert.Equal(t, LargeClass, cap(buf))
	})

	t.Run("OversizedChunkBody", func(t *testing.T) {
		buf := Get(2 * 1024 * 1024)
		defer Put(buf)
		assert.Len(t, buf, len(buf))
		assert.Equal(t, len(buf), cap(buf))
	})

	t.Run("ZeroLengthFrame", func(t *testing.T) {
		buf := Get(0)
		defer Put(buf)
		assert.NotNil(t, buf)
		assert.Equal(t, SmallClass, cap(buf))
	})
}

func TestPutReusesBuffer(t *testing.T) {
	buf1 := Get(1024)
	Put(buf1)

	buf2 := Get(1024)
	Put(buf2)

	assert.Equal(t, cap(buf1), cap(buf2))
}

func TestPutEdgeCases(t *testing.T) {
	require.NotPanics(t, func() { Put(nil) })
	require.NotPanics(t, func() { Put([]byte{}) })

	t.Run("OversizedBufferIsNotPooled", func(t *testing.T) {
		buf := Get(2 * 1024 * 1024)
		originalCap := cap(buf)
		Put(buf)

		buf2 := Get(2 * 1024 * 1024)
		defer Put(buf2)
		assert.Equal(t, originalCap, len(buf))
	})
}

func TestCustomPool(t *testing.T) {
	pool := NewPool()

	small := pool.Get(500)
	assert.Equal(t, SmallClass, cap(small))
	pool.Put(small)

	medium := pool.Get(2000)
	assert.Equal(t, MediumClass, cap(medium))
	pool.Put(medium)
}

func TestConcurrentGetAndPut(t *testing.T) {
	const goroutines = 10
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				size := (id*100 + j) % (500 * 1024)
				buf := Get(size)
				if len(buf) > 0 {
					buf[0] = byte(id)
				}
				Put(buf)
			}
		}(i)
	}
	wg.Wait()
}
