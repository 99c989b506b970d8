// Package cassandra is the cluster's metadata store: node registration,
// the directory/file tree, bucket usage counters, and the app-token nonce
// ledger, all held in a Cassandra/Scylla keyspace reachable from both the
// controller and every storage node.
package cassandra

import "github.com/google/uuid"

// RootDirectory is the sentinel directory id every bucket implicitly has
// at path "", so a file sitting directly under a bucket's root never needs
// a real directory row of its own.
var RootDirectory = uuid.Nil

// MicroserviceType distinguishes the two kinds of service that register
// against the controller.
type MicroserviceType int8

const (
	MicroserviceTypeStorageNode MicroserviceType = iota + 1
	MicroserviceTypeDashboard
)

func (t MicroserviceType) String() string {
	switch t {
	case MicroserviceTypeStorageNode:
		return "storage_node"
	case MicroserviceTypeDashboard:
		return "dashboard"
	default:
		return "unknown"
	}
}

// MicroserviceNode is a registered node or dashboard's identity row: the
// renewal/access token hashes that let it reauthenticate, the register
// code it was minted from, and the address it advertises to the rest of
// the cluster.
type MicroserviceNode struct {
	MicroserviceType MicroserviceType
	ID               uuid.UUID
	Address          string
	RegisterCode     string
	RenewalToken     string
	AccessToken      string
}

// Directory is a single path segment under a bucket, named the way its
// sibling files are: by the (Parent, Name) it was created under rather
// than by a materialized full path.
type Directory struct {
	ID       uuid.UUID
	BucketID uuid.UUID
	Parent   string
	Name     string
}

// FileChunk is one fragment of a File, naming which node holds it, its
// size, and its position in the file's byte stream.
type FileChunk struct {
	ServerID   uuid.UUID `cql:"server_id"`
	ChunkID    uuid.UUID `cql:"chunk_id"`
	ChunkSize  int64     `cql:"chunk_size"`
	ChunkOrder int8      `cql:"chunk_order"`
}

// File is a bucket entry's metadata row: its containing directory, its
// size, and the ordered list of fragments that make up its bytes.
type File struct {
	ID        uuid.UUID
	BucketID  uuid.UUID
	Directory uuid.UUID
	Name      string
	Size      int64
	Chunks    []FileChunk
}

// Bucket tracks a single app bucket's quota and live usage, plus the
// overwrite policy UploadOneshot consults when a name collides with an
// existing file.
type Bucket struct {
	AppID        uuid.UUID
	ID           uuid.UUID
	Quota        int64
	SpaceTaken   int64
	FileCount    int64
	AtomicUpload bool
}
