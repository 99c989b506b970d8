package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meowith/meowith/pkg/merr"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(t.TempDir(), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestReserveAndCommit(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	id, err := l.Reserve(ctx, 4096, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), l.reservedBytes.Load())

	require.NoError(t, l.Commit(ctx, id))
	assert.Equal(t, uint64(0), l.reservedBytes.Load())
	assert.Equal(t, uint64(4096), l.UsedSpace())

	size, err := l.Stat(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), size)
}

func TestReserveRejectsOverCapacity(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	_, err := l.Reserve(ctx, 2<<20, true)
	require.Error(t, err)
	assert.Equal(t, merr.CodeReserveError, merr.CodeOf(err))
}

func TestCancelReleasesReservedSpace(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	id, err := l.Reserve(ctx, 8192, false)
	require.NoError(t, err)

	require.NoError(t, l.Cancel(ctx, id))
	assert.Equal(t, uint64(0), l.reservedBytes.Load())

	_, err = l.Stat(ctx, id)
	assert.Equal(t, merr.CodeNoSuchChunkID, merr.CodeOf(err))
}

func TestDeleteFreesCommittedSpace(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	id, err := l.Reserve(ctx, 1024, true)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, id))

	require.NoError(t, l.Delete(ctx, id))
	assert.Equal(t, uint64(0), l.UsedSpace())

	_, err = l.Stat(ctx, id)
	assert.Equal(t, merr.CodeNoSuchChunkID, merr.CodeOf(err))
}

func TestCounterSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, 1<<20)
	require.NoError(t, err)
	id, err := l.Reserve(context.Background(), 2048, true)
	require.NoError(t, err)
	require.NoError(t, l.Commit(context.Background(), id))
	require.NoError(t, l.Close())

	reopened, err := Open(dir, 1<<20)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(2048), reopened.UsedSpace())
}
