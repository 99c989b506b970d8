// Package ledger is the fragment ledger: the node-local record of which
// chunk ids exist, how much space each reserves or occupies, and the
// per-chunk read/write locks that serialize concurrent access to a single
// fragment. It is the single source of truth for "how much free space does
// this node have" that the reservation placement planner and the MDSFTP
// Reserve handler both consult.
package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/merr"
)

// ReservationTTL bounds how long a non-durable reservation may sit
// unconfirmed before a sweep reclaims its space. Oneshot uploads commit
// within a single MDSFTP exchange, so this is generous relative to normal
// operation but still short enough to recover from an abandoned client.
const ReservationTTL = 2 * time.Minute

// SweepInterval is how often Open's background goroutine reclaims expired
// reservations.
const SweepInterval = 30 * time.Second

// Ledger tracks fragment storage accounting for one node: how many bytes are
// committed, how many are reserved but not yet written, and the configured
// ceiling beyond which Reserve refuses new space.
type Ledger struct {
	db       *badger.DB
	maxBytes uint64

	usedBytes     atomic.Uint64 // committed chunk bytes
	reservedBytes atomic.Uint64 // pending reservation bytes

	locks *FileLockTable[uuid.UUID]

	closeCh chan struct{}
}

// Open opens (or creates) a badger-backed ledger at path, recomputing its
// in-memory counters from the stored chunk and reservation records, and
// starts the background reservation sweep.
func Open(path string, maxBytes uint64) (*Ledger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening badger store at %s: %w", path, err)
	}

	l := &Ledger{db: db, maxBytes: maxBytes, locks: NewFileLockTable[uuid.UUID](DefaultMaxReaders), closeCh: make(chan struct{})}
	if err := l.recomputeCounters(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := l.writeSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}

	go l.sweepLoop()
	return l, nil
}

func (l *Ledger) writeSchemaVersion() error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keySchemaVersion, []byte{schemaVersion})
	})
}

func (l *Ledger) recomputeCounters() error {
	var used, reserved uint64
	now := time.Now()

	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek([]byte(prefixChunk)); it.ValidForPrefix([]byte(prefixChunk)); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeChunk(val)
				if err != nil {
					return err
				}
				used += rec.Size
				return nil
			})
			if err != nil {
				return err
			}
		}

		for it.Seek([]byte(prefixReservation)); it.ValidForPrefix([]byte(prefixReservation)); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeReservation(val)
				if err != nil {
					return err
				}
				if rec.Durable || rec.ExpiresAt.After(now) {
					reserved += rec.Size
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger: recomputing counters: %w", err)
	}

	l.usedBytes.Store(used)
	l.reservedBytes.Store(reserved)
	return nil
}

// AvailableSpace returns the bytes this node can still offer to a new
// reservation: the configured ceiling minus what's already committed or
// reserved.
func (l *Ledger) AvailableSpace() uint64 {
	committed := l.usedBytes.Load() + l.reservedBytes.Load()
	if committed >= l.maxBytes {
		return 0
	}
	return l.maxBytes - committed
}

// UsedSpace returns the committed (non-reserved) byte total.
func (l *Ledger) UsedSpace() uint64 { return l.usedBytes.Load() }

// MaxBytes returns the configured capacity ceiling this ledger was opened
// with, satisfying storagemap.CapacitySource for the heartbeat poster.
func (l *Ledger) MaxBytes() uint64 { return l.maxBytes }

// Reserve sets aside size bytes for a new fragment and returns its newly
// minted chunk id. A non-durable reservation expires after ReservationTTL
// unless committed or renewed first.
func (l *Ledger) Reserve(ctx context.Context, size uint64, durable bool) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	if size > l.AvailableSpace() {
		return uuid.Nil, merr.ReserveErr(l.AvailableSpace())
	}

	id := uuid.New()
	rec := reservationRecord{Size: size, Durable: durable, ExpiresAt: time.Now().Add(ReservationTTL)}
	val, err := encodeReservation(rec)
	if err != nil {
		return uuid.Nil, err
	}

	// Reserve optimistically, then verify against the committed ceiling
	// inside the transaction to close the race between the check above and
	// this write under concurrent Reserve calls.
	l.reservedBytes.Add(size)
	err = l.db.Update(func(txn *badger.Txn) error {
		committed := l.usedBytes.Load() + l.reservedBytes.Load()
		if committed > l.maxBytes {
			return merr.ReserveErr(l.maxBytes - (committed - size))
		}
		return txn.Set(keyReservation(id), val)
	})
	if err != nil {
		l.reservedBytes.Add(^(size - 1)) // rollback: subtract size
		return uuid.Nil, err
	}

	return id, nil
}

// Cancel releases a pending reservation's space without ever writing the
// fragment, used when an upload is aborted or a placement rollback occurs.
func (l *Ledger) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var size uint64
	err := l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyReservation(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return merr.New(merr.CodeNoSuchChunkID, "no such reservation")
			}
			return err
		}
		rec, err := decodeReservation(itemValue(item))
		if err != nil {
			return err
		}
		size = rec.Size
		return txn.Delete(keyReservation(id))
	})
	if err != nil {
		return err
	}

	l.reservedBytes.Add(^(size - 1))
	return nil
}

// KeepAlive extends a pending reservation's expiry by ReservationTTL,
// the local counterpart of a remote Commit{keep_alive}.
func (l *Ledger) KeepAlive(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyReservation(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return merr.New(merr.CodeNoSuchChunkID, "no such reservation")
			}
			return err
		}
		rec, err := decodeReservation(itemValue(item))
		if err != nil {
			return err
		}
		rec.ExpiresAt = time.Now().Add(ReservationTTL)
		encoded, err := encodeReservation(rec)
		if err != nil {
			return err
		}
		return txn.Set(keyReservation(id), encoded)
	})
}

// Commit converts a pending reservation into a committed chunk record: the
// caller has already written size bytes to the local chunk store (or
// confirms the originally reserved size matches what was written).
func (l *Ledger) Commit(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var size uint64
	var durable bool
	err := l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyReservation(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return merr.New(merr.CodeNoSuchChunkID, "no such reservation")
			}
			return err
		}
		rec, err := decodeReservation(itemValue(item))
		if err != nil {
			return err
		}
		size = rec.Size
		durable = rec.Durable

		chunkVal, err := encodeChunk(chunkRecord{Size: size, Durable: durable, CreatedAt: time.Now()})
		if err != nil {
			return err
		}
		if err := txn.Set(keyChunk(id), chunkVal); err != nil {
			return err
		}
		return txn.Delete(keyReservation(id))
	})
	if err != nil {
		return err
	}

	l.reservedBytes.Add(^(size - 1))
	l.usedBytes.Add(size)
	logger.Debug("committed fragment", logger.ChunkID(id.String()), logger.ChunkSize(size))
	return nil
}

// Delete removes a committed chunk and frees its space. Used by expired-TTL
// cleanup and by an explicit DeleteChunk packet.
func (l *Ledger) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	guard, err := l.locks.TryWrite(id)
	if err != nil {
		return fmt.Errorf("ledger: chunk %s is locked: %w", id, err)
	}
	defer guard.Release()

	var size uint64
	err = l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyChunk(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return merr.New(merr.CodeNoSuchChunkID, "no such chunk")
			}
			return err
		}
		rec, err := decodeChunk(itemValue(item))
		if err != nil {
			return err
		}
		size = rec.Size
		return txn.Delete(keyChunk(id))
	})
	if err != nil {
		return err
	}

	l.usedBytes.Add(^(size - 1))
	return nil
}

// Stat returns a committed chunk's size, or merr.CodeNoSuchChunkID if it
// does not exist (either never reserved, or still pending).
func (l *Ledger) Stat(ctx context.Context, id uuid.UUID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var size uint64
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyChunk(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return merr.New(merr.CodeNoSuchChunkID, "no such chunk")
			}
			return err
		}
		rec, err := decodeChunk(itemValue(item))
		if err != nil {
			return err
		}
		size = rec.Size
		return nil
	})
	return size, err
}

// ReadLock acquires a shared lock on a chunk id for the duration of a
// Retrieve/Query operation.
func (l *Ledger) ReadLock(ctx context.Context, id uuid.UUID) (*FileGuard, error) {
	return l.locks.Read(ctx, id)
}

// WriteLock acquires an exclusive lock on a chunk id for the duration of a
// Put/Commit/DeleteChunk operation.
func (l *Ledger) WriteLock(ctx context.Context, id uuid.UUID) (*FileGuard, error) {
	return l.locks.Write(ctx, id)
}

func (l *Ledger) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.closeCh:
			return
		case <-ticker.C:
			l.sweepExpiredReservations()
		}
	}
}

func (l *Ledger) sweepExpiredReservations() {
	now := time.Now()
	var expired []uuid.UUID
	var freed uint64

	err := l.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek([]byte(prefixReservation)); it.ValidForPrefix([]byte(prefixReservation)); it.Next() {
			item := it.Item()
			rec, err := decodeReservation(itemValue(item))
			if err != nil {
				continue
			}
			if rec.Durable || rec.ExpiresAt.After(now) {
				continue
			}
			key := append([]byte(nil), item.Key()...)
			if err := txn.Delete(key); err != nil {
				return err
			}
			freed += rec.Size
			expired = append(expired, uuidFromKey(key))
		}
		return nil
	})
	if err != nil {
		logger.Warn("ledger: reservation sweep failed", logger.Err(err))
		return
	}
	if freed > 0 {
		l.reservedBytes.Add(^(freed - 1))
		logger.Info("swept expired reservations", logger.ReservedBytes(freed), logger.Candidates(len(expired)))
	}
}

func uuidFromKey(key []byte) uuid.UUID {
	id, _ := uuid.Parse(string(key[len(prefixReservation):]))
	return id
}

func itemValue(item *badger.Item) []byte {
	var out []byte
	_ = item.Value(func(val []byte) error {
		out = append([]byte(nil), val...)
		return nil
	})
	return out
}

// Close stops the sweep loop and closes the underlying store.
func (l *Ledger) Close() error {
	close(l.closeCh)
	return l.db.Close()
}
