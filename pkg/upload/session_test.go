package upload

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartPutTransitionsAwaitingToWriting(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	s := &Session{AppID: uuid.New(), BucketID: uuid.New(), Path: "a/b", TargetSize: 10, State: AwaitingData}
	require.NoError(t, store.Create(ctx, s))

	got, err := StartPut(ctx, store, s.ID)
	require.NoError(t, err)
	assert.Equal(t, Writing, got.State)
}

func TestStartPutRejectsWhenAlreadyWriting(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	s := &Session{State: AwaitingData}
	require.NoError(t, store.Create(ctx, s))
	_, err := StartPut(ctx, store, s.ID)
	require.NoError(t, err)

	_, err = StartPut(ctx, store, s.ID)
	assert.ErrorIs(t, err, ErrSessionBusy)
}

func TestEndPutReturnsToAwaitingData(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	s := &Session{State: AwaitingData}
	require.NoError(t, store.Create(ctx, s))
	_, err := StartPut(ctx, store, s.ID)
	require.NoError(t, err)

	require.NoError(t, EndPut(ctx, store, s.ID))
	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, AwaitingData, got.State)
}

func TestExpireMarksStaleSessionsTimedOut(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	s := &Session{State: AwaitingData}
	require.NoError(t, store.Create(ctx, s))

	store.mu.Lock()
	store.sessions[s.ID].LastAccess = time.Now().Add(-2 * SessionTTL)
	store.mu.Unlock()

	expired, err := store.Expire(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, TimedOut, expired[0].State)

	_, err = StartPut(ctx, store, s.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
}
