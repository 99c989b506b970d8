package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Database Key Namespace
//
// Data Type         Prefix   Key Format          Value Type
// =========================================================
// Committed chunk   "c:"     c:<uuid>            chunkRecord (JSON)
// Pending reserve   "r:"     r:<uuid>            reservationRecord (JSON)
// Schema version    "schema:version"             uint8

const (
	prefixChunk       = "c:"
	prefixReservation = "r:"
)

var keySchemaVersion = []byte("schema:version")

// schemaVersion is bumped whenever chunkRecord/reservationRecord's on-disk
// shape changes incompatibly.
const schemaVersion = 1

func keyChunk(id uuid.UUID) []byte {
	return []byte(prefixChunk + id.String())
}

func keyReservation(id uuid.UUID) []byte {
	return []byte(prefixReservation + id.String())
}

// chunkRecord is the durable record of a committed fragment.
type chunkRecord struct {
	Size      uint64    `json:"size"`
	Durable   bool      `json:"durable"`
	CreatedAt time.Time `json:"created_at"`
}

// reservationRecord is the durable record of space set aside for a fragment
// that is still being written. A reservation outlives the process that
// created it only when Durable is set: a non-durable reservation is for a
// oneshot upload and is swept on the next Open if its writer never returns.
type reservationRecord struct {
	Size      uint64    `json:"size"`
	Durable   bool      `json:"durable"`
	ExpiresAt time.Time `json:"expires_at"`
}

func encodeChunk(r chunkRecord) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("ledger: encoding chunk record: %w", err)
	}
	return b, nil
}

func decodeChunk(b []byte) (chunkRecord, error) {
	var r chunkRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return chunkRecord{}, fmt.Errorf("ledger: decoding chunk record: %w", err)
	}
	return r, nil
}

func encodeReservation(r reservationRecord) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("ledger: encoding reservation record: %w", err)
	}
	return b, nil
}

func decodeReservation(b []byte) (reservationRecord, error) {
	var r reservationRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return reservationRecord{}, fmt.Errorf("ledger: decoding reservation record: %w", err)
	}
	return r, nil
}
