//go:build e2e

package cassandra_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meowith/meowith/pkg/metadata/cassandra"
)

// newTestStore starts a disposable Scylla container and opens a Store
// against a freshly migrated, uniquely named keyspace so parallel test
// runs never collide on shared state.
func newTestStore(t *testing.T) *cassandra.Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "scylladb/scylla:5.4",
		ExposedPorts: []string{"9042/tcp"},
		Cmd:          []string{"--smp", "1", "--memory", "512M", "--overprovisioned", "1"},
		WaitingFor:   wait.ForListeningPort("9042/tcp").WithStartupTimeout(2 * time.Minute),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9042")
	require.NoError(t, err)

	store, err := cassandra.Open(cassandra.Config{
		Hosts:          []string{fmt.Sprintf("%s:%s", host, port.Port())},
		Keyspace:       "meowith_test_" + uuid.New().String()[:8],
		Consistency:    "ONE",
		ConnectTimeout: 30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func TestDirectoryCRUD(t *testing.T) {
	store := newTestStore(t)
	bucketID := uuid.New()

	dir := &cassandra.Directory{BucketID: bucketID, Parent: "", Name: "photos"}
	require.NoError(t, store.CreateDirectory(dir))
	require.NotEqual(t, uuid.Nil, dir.ID)

	loaded, err := store.GetDirectory(bucketID, "", "photos")
	require.NoError(t, err)
	require.Equal(t, dir.ID, loaded.ID)

	entries, err := store.ListDirectories(bucketID, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, store.DeleteDirectory(bucketID, "", "photos"))
	_, err = store.GetDirectory(bucketID, "", "photos")
	require.Error(t, err)
}

func TestFileCRUDAndRename(t *testing.T) {
	store := newTestStore(t)
	bucketID := uuid.New()

	file := &cassandra.File{
		BucketID:  bucketID,
		Directory: cassandra.RootDirectory,
		Name:      "report.pdf",
		Size:      4096,
		Chunks: []cassandra.FileChunk{
			{ServerID: uuid.New(), ChunkID: uuid.New(), ChunkSize: 4096, ChunkOrder: 0},
		},
	}
	require.NoError(t, store.CreateFile(file))

	loaded, err := store.GetFile(bucketID, cassandra.RootDirectory, "report.pdf")
	require.NoError(t, err)
	require.Equal(t, file.ID, loaded.ID)
	require.Len(t, loaded.Chunks, 1)
	require.Equal(t, file.Chunks[0].ChunkID, loaded.Chunks[0].ChunkID)

	require.NoError(t, store.RenameFile(loaded, cassandra.RootDirectory, "renamed.pdf"))
	_, err = store.GetFile(bucketID, cassandra.RootDirectory, "report.pdf")
	require.Error(t, err)
	renamed, err := store.GetFile(bucketID, cassandra.RootDirectory, "renamed.pdf")
	require.NoError(t, err)
	require.Equal(t, file.ID, renamed.ID)

	require.NoError(t, store.DeleteFile(bucketID, cassandra.RootDirectory, "renamed.pdf"))
}

func TestBucketUsageIsAdjustedAtomically(t *testing.T) {
	store := newTestStore(t)
	appID, bucketID := uuid.New(), uuid.New()

	err := store.CreateBucket(&cassandra.Bucket{AppID: appID, ID: bucketID, Quota: 1 << 30})
	require.NoError(t, err)

	require.NoError(t, store.AdjustUsage(appID, bucketID, 1, 1024))
	bucket, err := store.GetBucket(appID, bucketID)
	require.NoError(t, err)
	require.Equal(t, int64(1024), bucket.SpaceTaken)
	require.Equal(t, int64(1), bucket.FileCount)
}

func TestRegisterCodeIsConsumedOnce(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateRegisterCode("one-time-code"))

	ok, err := store.ConsumeRegisterCode("one-time-code")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.ConsumeRegisterCode("one-time-code")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAppTokenNonceDefaultsToZero(t *testing.T) {
	store := newTestStore(t)
	nonce, err := store.AppTokenNonce(uuid.New(), uuid.New(), "ci-runner")
	require.NoError(t, err)
	require.Equal(t, uint64(0), nonce)
}
