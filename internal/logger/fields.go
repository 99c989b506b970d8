package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the data plane: MDSFTP
// connections/channels, the fragment ledger, the upload-session manager, and
// the storage map/heartbeat/MGPP subsystems. Use these keys consistently so
// log aggregation can correlate a chunk or a session across nodes.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Operation identity
	KeyProcedure = "procedure" // Reserve, Commit, UploadOneshot, DurablePut, ...
	KeyNodeID    = "node_id"   // This node's UUID
	KeyPeerID    = "peer_id"   // Remote node's UUID

	// MDSFTP / MGPP wire layer
	KeyConnectionID = "connection_id"
	KeyChannelID    = "channel_id"
	KeyPacketType   = "packet_type"
	KeyStreamID     = "stream_id"
	KeyRemoteAddr   = "remote_addr"

	// Data-plane objects
	KeyChunkID       = "chunk_id"
	KeyFileID        = "file_id"
	KeyBucketID      = "bucket_id"
	KeyAppID         = "app_id"
	KeySessionID     = "session_id"
	KeyReservedBytes = "reserved_bytes"
	KeyChunkSize     = "chunk_size"
	KeyChunkOrder    = "chunk_order"

	// Placement / storage map
	KeyFreeBytes   = "free_bytes"
	KeyUsedBytes   = "used_bytes"
	KeyCandidates  = "candidates"
	KeyLiveness    = "liveness"
	KeyCacheID     = "cache_id"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyAttempt    = "attempt"
)

// TraceID returns a slog.Attr for the OpenTelemetry trace ID.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for the OpenTelemetry span ID.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// Procedure returns a slog.Attr for the operation name.
func Procedure(name string) slog.Attr { return slog.String(KeyProcedure, name) }

// NodeID returns a slog.Attr for a node identity.
func NodeID(id string) slog.Attr { return slog.String(KeyNodeID, id) }

// PeerID returns a slog.Attr for a remote node identity.
func PeerID(id string) slog.Attr { return slog.String(KeyPeerID, id) }

// ConnectionID returns a slog.Attr for an MDSFTP/MGPP connection identifier.
func ConnectionID(id string) slog.Attr { return slog.String(KeyConnectionID, id) }

// ChannelID returns a slog.Attr for an MDSFTP channel (stream) id.
func ChannelID(id uint32) slog.Attr { return slog.Uint64(KeyChannelID, uint64(id)) }

// PacketType returns a slog.Attr for a wire packet type.
func PacketType(t string) slog.Attr { return slog.String(KeyPacketType, t) }

// RemoteAddr returns a slog.Attr for a remote network address.
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }

// ChunkID returns a slog.Attr for a chunk identifier.
func ChunkID(id string) slog.Attr { return slog.String(KeyChunkID, id) }

// FileID returns a slog.Attr for a file identifier.
func FileID(id string) slog.Attr { return slog.String(KeyFileID, id) }

// BucketID returns a slog.Attr for a bucket identifier.
func BucketID(id string) slog.Attr { return slog.String(KeyBucketID, id) }

// AppID returns a slog.Attr for an application identifier.
func AppID(id string) slog.Attr { return slog.String(KeyAppID, id) }

// SessionID returns a slog.Attr for an upload session identifier.
func SessionID(id string) slog.Attr { return slog.String(KeySessionID, id) }

// ReservedBytes returns a slog.Attr for a reservation size.
func ReservedBytes(n uint64) slog.Attr { return slog.Uint64(KeyReservedBytes, n) }

// ChunkSize returns a slog.Attr for a chunk's byte size.
func ChunkSize(n uint64) slog.Attr { return slog.Uint64(KeyChunkSize, n) }

// ChunkOrder returns a slog.Attr for a chunk's position within a file.
func ChunkOrder(n uint32) slog.Attr { return slog.Uint64(KeyChunkOrder, uint64(n)) }

// FreeBytes returns a slog.Attr for a node's free space.
func FreeBytes(n uint64) slog.Attr { return slog.Uint64(KeyFreeBytes, n) }

// UsedBytes returns a slog.Attr for a node's used space.
func UsedBytes(n uint64) slog.Attr { return slog.Uint64(KeyUsedBytes, n) }

// Candidates returns a slog.Attr for a placement candidate count.
func Candidates(n int) slog.Attr { return slog.Int(KeyCandidates, n) }

// CacheID returns a slog.Attr for an MGPP cache identifier.
func CacheID(id uint32) slog.Attr { return slog.Uint64(KeyCacheID, uint64(id)) }

// Liveness returns a slog.Attr for a storage map liveness threshold.
func Liveness(threshold string) slog.Attr { return slog.String(KeyLiveness, threshold) }

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error, or a zero Attr for nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a merr.Code value.
func ErrorCode(code string) slog.Attr { return slog.String(KeyErrorCode, code) }

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }
