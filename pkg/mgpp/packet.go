// Package mgpp implements the Meowith Generic Pub/sub Protocol: a single
// packet type, InvalidateCache, broadcast by the controller to every
// connected peer whenever server-side state a peer may have cached goes
// stale.
package mgpp

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed 5-byte frame prefix: 1-byte packet type, 4-byte
// big-endian payload length.
const HeaderSize = 5

// PacketInvalidateCache is MGPP's only packet type.
const PacketInvalidateCache byte = 1

// CacheID identifies which client-side cache an invalidation applies to.
type CacheID uint32

const (
	// CacheValidateNonce invalidates a single issued app-token's nonce
	// cache entry; its key is a CBOR-encoded peerauth.ClaimKey.
	CacheValidateNonce CacheID = iota + 1

	// CacheNodeStorageMap invalidates the entire cached NodeStorageMap;
	// its key is always empty, since the map has no finer-grained identity.
	CacheNodeStorageMap
)

func (c CacheID) String() string {
	switch c {
	case CacheValidateNonce:
		return "ValidateNonce"
	case CacheNodeStorageMap:
		return "NodeStorageMap"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(c))
	}
}

// InvalidateCache is the sole MGPP payload: drop whatever is cached under
// (CacheID, CacheKey).
type InvalidateCache struct {
	CacheID  CacheID
	CacheKey []byte
}

// Encode serialises the payload (cache_id:u32-BE, cache_key:bytes).
func (p InvalidateCache) Encode() []byte {
	buf := make([]byte, 4+len(p.CacheKey))
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.CacheID))
	copy(buf[4:], p.CacheKey)
	return buf
}

// DecodeInvalidateCache parses a payload produced by Encode.
func DecodeInvalidateCache(payload []byte) (InvalidateCache, error) {
	if len(payload) < 4 {
		return InvalidateCache{}, fmt.Errorf("mgpp: InvalidateCache payload too short")
	}
	key := append([]byte(nil), payload[4:]...)
	return InvalidateCache{CacheID: CacheID(binary.BigEndian.Uint32(payload[0:4])), CacheKey: key}, nil
}

// WriteHeader serialises a frame header into buf (must be >= HeaderSize).
func WriteHeader(buf []byte, packetType byte, payloadSize uint32) {
	buf[0] = packetType
	binary.BigEndian.PutUint32(buf[1:5], payloadSize)
}

// ReadHeader parses a frame header from buf (must be >= HeaderSize).
func ReadHeader(buf []byte) (packetType byte, payloadSize uint32) {
	return buf[0], binary.BigEndian.Uint32(buf[1:5])
}
