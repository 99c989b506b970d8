package logger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request/connection-scoped logging context threaded through
// the data plane: an HTTP request, an MDSFTP connection, or a channel on it.
type LogContext struct {
	TraceID    string    // OpenTelemetry trace ID
	SpanID     string    // OpenTelemetry span ID
	Procedure  string    // Operation name: Reserve, Commit, UploadOneshot, etc.
	NodeID     uuid.UUID // This node's identity
	PeerID     uuid.UUID // The remote peer's identity, if known
	ChannelID  uint32    // MDSFTP stream id, if inside a channel
	ChunkID    uuid.UUID // Chunk under operation, if any
	RemoteAddr string    // Remote TCP/HTTP address
	StartTime  time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for an inbound request or connection.
func NewLogContext(remoteAddr string) *LogContext {
	return &LogContext{
		RemoteAddr: remoteAddr,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithProcedure returns a copy with the procedure set
func (lc *LogContext) WithProcedure(procedure string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Procedure = procedure
	}
	return clone
}

// WithPeer returns a copy with the remote node identity set
func (lc *LogContext) WithPeer(peerID uuid.UUID) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.PeerID = peerID
	}
	return clone
}

// WithChannel returns a copy scoped to one MDSFTP channel
func (lc *LogContext) WithChannel(channelID uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ChannelID = channelID
	}
	return clone
}

// WithChunk returns a copy scoped to one chunk id
func (lc *LogContext) WithChunk(chunkID uuid.UUID) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ChunkID = chunkID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
