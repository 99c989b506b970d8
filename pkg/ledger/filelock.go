package ledger

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxReaders bounds how many concurrent readers a single chunk id may
// have outstanding; a writer acquires all of them at once, so this also
// bounds how long a writer may have to wait for readers to drain.
const DefaultMaxReaders = 256

// FileGuard releases the permits acquired by a ReadLock/WriteLock call.
// Release is idempotent-safe to call once; calling it twice double-releases
// the semaphore and will panic, matching golang.org/x/sync/semaphore's own
// contract.
type FileGuard struct {
	release func()
}

// Release returns the held permit(s) to the lock's semaphore.
func (g *FileGuard) Release() {
	if g.release != nil {
		g.release()
	}
}

// fileLock is one key's entry in a FileLockTable: a weighted semaphore with
// maxReaders total permits, where a read acquires one and a write acquires
// all of them.
type fileLock struct {
	sem        *semaphore.Weighted
	maxReaders int64
}

// FileLockTable is a per-key table of reader/writer locks, grounded on the
// semaphore-backed design used for per-fragment locking: a key's entry is
// created lazily on first use and reclaimed once its last holder releases,
// so the table never grows unbounded with one-shot chunk accesses.
type FileLockTable[K comparable] struct {
	mu         sync.Mutex
	locks      map[K]*fileLock
	maxReaders int64
}

// NewFileLockTable creates an empty lock table. maxReaders bounds concurrent
// readers per key and is the number of permits a writer must acquire.
func NewFileLockTable[K comparable](maxReaders int64) *FileLockTable[K] {
	return &FileLockTable[K]{
		locks:      make(map[K]*fileLock),
		maxReaders: maxReaders,
	}
}

func (t *FileLockTable[K]) entry(key K) *fileLock {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[key]
	if !ok {
		l = &fileLock{sem: semaphore.NewWeighted(t.maxReaders), maxReaders: t.maxReaders}
		t.locks[key] = l
	}
	return l
}

// releaseAndMaybeEvict returns n permits to l and, if that brings it back to
// fully available, drops the table's reference so idle keys don't linger.
func (t *FileLockTable[K]) releaseAndMaybeEvict(key K, l *fileLock, n int64) {
	l.sem.Release(n)

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.locks[key]; ok && cur == l && l.sem.TryAcquire(l.maxReaders) {
		l.sem.Release(l.maxReaders)
		delete(t.locks, key)
	}
}

// Read blocks until a shared permit on key is available or ctx is done.
func (t *FileLockTable[K]) Read(ctx context.Context, key K) (*FileGuard, error) {
	l := t.entry(key)
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("ledger: acquiring read lock: %w", err)
	}
	return &FileGuard{release: func() { t.releaseAndMaybeEvict(key, l, 1) }}, nil
}

// Write blocks until every permit on key is available (i.e. no readers or
// writer currently hold it) or ctx is done.
func (t *FileLockTable[K]) Write(ctx context.Context, key K) (*FileGuard, error) {
	l := t.entry(key)
	if err := l.sem.Acquire(ctx, l.maxReaders); err != nil {
		return nil, fmt.Errorf("ledger: acquiring write lock: %w", err)
	}
	return &FileGuard{release: func() { t.releaseAndMaybeEvict(key, l, l.maxReaders) }}, nil
}

// TryRead attempts a non-blocking shared acquire.
func (t *FileLockTable[K]) TryRead(key K) (*FileGuard, error) {
	l := t.entry(key)
	if !l.sem.TryAcquire(1) {
		return nil, fmt.Errorf("ledger: key is write-locked")
	}
	return &FileGuard{release: func() { t.releaseAndMaybeEvict(key, l, 1) }}, nil
}

// TryWrite attempts a non-blocking exclusive acquire.
func (t *FileLockTable[K]) TryWrite(key K) (*FileGuard, error) {
	l := t.entry(key)
	if !l.sem.TryAcquire(l.maxReaders) {
		return nil, fmt.Errorf("ledger: key is locked")
	}
	return &FileGuard{release: func() { t.releaseAndMaybeEvict(key, l, l.maxReaders) }}, nil
}
