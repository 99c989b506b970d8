package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is BucketUploadSession's lifecycle state.
type SessionState int

const (
	// AwaitingData: reserved, nothing streaming right now. Any node may
	// CAS this to Writing to resume the put.
	AwaitingData SessionState = iota
	// Writing: one node currently has bytes in flight for this session.
	Writing
	// TimedOut: the TTL elapsed with no keep-alive; the session is dead
	// and its reservations have expired on every target node.
	TimedOut
)

func (s SessionState) String() string {
	switch s {
	case AwaitingData:
		return "AwaitingData"
	case Writing:
		return "Writing"
	case TimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// SessionTTL is how long a session may sit with no touch before it
// auto-expires.
const SessionTTL = time.Hour

// FragmentRef is one planned-or-reserved fragment of a durable upload, the
// session-persisted counterpart of ReservedFragment (no live Channel,
// since a session can be resumed from any node).
type FragmentRef struct {
	NodeID     uuid.UUID
	ChunkID    uuid.UUID
	Size       uint64
	ChunkOrder int8
}

// Session is a durable upload's persisted state: what's been planned, how
// far along it is, and who (if anyone) currently holds the write lock on
// it.
type Session struct {
	ID         uuid.UUID
	AppID      uuid.UUID
	BucketID   uuid.UUID
	Path       string
	TargetSize uint64
	Durable    bool
	Fragments  []FragmentRef
	State      SessionState
	LastAccess time.Time
}

// ErrSessionBusy is returned when a node tries to put into a session
// another node already holds as Writing.
var ErrSessionBusy = fmt.Errorf("upload: session is already being written to")

// ErrSessionExpired is returned when a session's TTL has elapsed.
var ErrSessionExpired = fmt.Errorf("upload: session has expired")

// ErrSessionNotFound is returned by Store.Get for an unknown id.
var ErrSessionNotFound = fmt.Errorf("upload: session not found")

// Store persists BucketUploadSession rows. The in-memory implementation
// below is sufficient for a single-controller deployment; a
// Cassandra-backed implementation satisfies the same interface for a
// multi-controller cluster sharing session state.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	// CAS transitions a session from `from` to `to`, touching LastAccess,
	// and fails with ErrSessionBusy if the session isn't currently `from`.
	CAS(ctx context.Context, id uuid.UUID, from, to SessionState) error
	Touch(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	// Expire scans for sessions whose LastAccess predates SessionTTL and
	// transitions them to TimedOut, returning the ones it changed.
	Expire(ctx context.Context) ([]*Session, error)
}

// MemStore is an in-process Store, sufficient for a single controller or
// for tests.
type MemStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewMemStore builds an empty in-memory session store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[uuid.UUID]*Session)}
}

func (m *MemStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.LastAccess = time.Now()
	clone := *s
	m.sessions[s.ID] = &clone
	return nil
}

func (m *MemStore) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if time.Since(s.LastAccess) > SessionTTL && s.State != TimedOut {
		s.State = TimedOut
	}
	clone := *s
	return &clone, nil
}

func (m *MemStore) CAS(_ context.Context, id uuid.UUID, from, to SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if time.Since(s.LastAccess) > SessionTTL {
		s.State = TimedOut
	}
	if s.State == TimedOut {
		return ErrSessionExpired
	}
	if s.State != from {
		return ErrSessionBusy
	}
	s.State = to
	s.LastAccess = time.Now()
	return nil
}

func (m *MemStore) Touch(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastAccess = time.Now()
	return nil
}

func (m *MemStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemStore) Expire(_ context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*Session
	for _, s := range m.sessions {
		if s.State != TimedOut && time.Since(s.LastAccess) > SessionTTL {
			s.State = TimedOut
			clone := *s
			expired = append(expired, &clone)
		}
	}
	return expired, nil
}

// StartPut transitions a session from AwaitingData to Writing, the
// precondition for streaming bytes into it; it rejects with ErrSessionBusy
// if another node is already writing.
func StartPut(ctx context.Context, store Store, id uuid.UUID) (*Session, error) {
	if err := store.CAS(ctx, id, AwaitingData, Writing); err != nil {
		return nil, err
	}
	return store.Get(ctx, id)
}

// EndPut transitions Writing back to AwaitingData after a graceful
// interrupt (as opposed to a successful completion, which should Delete
// the session instead).
func EndPut(ctx context.Context, store Store, id uuid.UUID) error {
	return store.CAS(ctx, id, Writing, AwaitingData)
}
