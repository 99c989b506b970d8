package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ChunkStore maps committed and pending chunk ids onto files under a single
// base directory, sharded by the first two hex characters of the id so no
// single directory accumulates millions of entries.
type ChunkStore struct {
	baseDir string
}

// NewChunkStore creates a ChunkStore rooted at baseDir, creating it if
// necessary.
func NewChunkStore(baseDir string) (*ChunkStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("ledger: creating chunk store dir %s: %w", baseDir, err)
	}
	return &ChunkStore{baseDir: baseDir}, nil
}

// Path returns the on-disk path for a chunk id, creating its shard directory
// if it doesn't exist yet.
func (s *ChunkStore) Path(id uuid.UUID) (string, error) {
	str := id.String()
	shardDir := filepath.Join(s.baseDir, str[:2])
	if err := os.MkdirAll(shardDir, 0o750); err != nil {
		return "", fmt.Errorf("ledger: creating shard dir %s: %w", shardDir, err)
	}
	return filepath.Join(shardDir, str), nil
}

// Create opens a new chunk file for writing, failing if one already exists.
func (s *ChunkStore) Create(id uuid.UUID) (*os.File, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ledger: creating chunk file %s: %w", id, err)
	}
	return f, nil
}

// Append reopens an existing chunk file for writing at its current end, used
// to resume a durable upload's put after an interrupted transfer: the
// caller has already confirmed via Query how many bytes are on disk and
// resumes the sender from that offset, so the receiver here only ever
// appends.
func (s *ChunkStore) Append(id uuid.UUID) (*os.File, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ledger: reopening chunk file %s for append: %w", id, err)
	}
	return f, nil
}

// Open opens an existing chunk file for reading.
func (s *ChunkStore) Open(id uuid.UUID) (*os.File, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening chunk file %s: %w", id, err)
	}
	return f, nil
}

// Size reports how many bytes are currently on disk for a chunk, whether or
// not it has been committed yet — the resume offset a durable upload needs
// after an interrupted put, which the ledger's own reservation record
// cannot answer since it only ever tracks the fragment's total reserved
// size.
func (s *ChunkStore) Size(id uuid.UUID) (int64, error) {
	path, err := s.Path(id)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: statting chunk file %s: %w", id, err)
	}
	return info.Size(), nil
}

// Remove deletes a chunk's file, tolerating it already being gone.
func (s *ChunkStore) Remove(id uuid.UUID) error {
	path, err := s.Path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ledger: removing chunk file %s: %w", id, err)
	}
	return nil
}
