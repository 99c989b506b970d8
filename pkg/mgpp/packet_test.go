package mgpp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidateCacheRoundTrip(t *testing.T) {
	p := InvalidateCache{CacheID: CacheValidateNonce, CacheKey: []byte{1, 2, 3, 4}}
	got, err := DecodeInvalidateCache(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestInvalidateCacheEmptyKeyRoundTrip(t *testing.T) {
	p := InvalidateCache{CacheID: CacheNodeStorageMap}
	got, err := DecodeInvalidateCache(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, CacheNodeStorageMap, got.CacheID)
	assert.Empty(t, got.CacheKey)
}

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize)
	WriteHeader(buf, PacketInvalidateCache, 42)
	pt, size := ReadHeader(buf)
	assert.Equal(t, PacketInvalidateCache, pt)
	assert.Equal(t, uint32(42), size)
}
