package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

func TestCaptureSessionStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCaptureSessionStore(pool)

	sess := &domain.CaptureSession{
		SessionID:   "11111111-2222-3333-4444-555555555555",
		Venue:       "binance-futures",
		Instruments: []string{"BTC-USD", "ETH-USD"},
		StartedAt:   1_700_000_000_000_000_000,
	}

	err := store.Insert(ctx, sess)
	require.NoError(t, err)

	got, err := store.GetByID(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.Venue, got.Venue)
	assert.Equal(t, sess.Instruments, got.Instruments)
	assert.Equal(t, sess.StartedAt, got.StartedAt)
	assert.Nil(t, got.EndedAt)
	assert.Zero(t, got.EventCount)
}

func TestCaptureSessionStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCaptureSessionStore(pool)

	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCaptureSessionStore_Finish(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCaptureSessionStore(pool)

	sess := &domain.CaptureSession{
		SessionID:   "finish-test",
		Venue:       "binance-futures",
		Instruments: []string{"BTC-USD"},
		StartedAt:   1000,
	}
	require.NoError(t, store.Insert(ctx, sess))

	err := store.Finish(ctx, "finish-test", 2000, 12345)
	require.NoError(t, err)

	got, err := store.GetByID(ctx, "finish-test")
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, int64(2000), *got.EndedAt)
	assert.Equal(t, int64(12345), got.EventCount)

	err = store.Finish(ctx, "absent", 3000, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCaptureSessionStore_GetRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCaptureSessionStore(pool)

	sessions := []*domain.CaptureSession{
		{SessionID: "s1", Venue: "v", Instruments: []string{"A"}, StartedAt: 1000},
		{SessionID: "s2", Venue: "v", Instruments: []string{"A"}, StartedAt: 3000},
		{SessionID: "s3", Venue: "v", Instruments: []string{"A"}, StartedAt: 2000},
	}
	for _, s := range sessions {
		require.NoError(t, store.Insert(ctx, s))
	}

	got, err := store.GetRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].SessionID)
	assert.Equal(t, "s3", got[1].SessionID)
}
