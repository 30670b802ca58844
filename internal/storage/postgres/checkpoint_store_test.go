package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

func TestCheckpointStore_RoundTripLevels(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCheckpointStore(pool)

	cp := &domain.BookCheckpoint{
		Instrument: "BTC-USD",
		Timestamp:  1_700_000_000_000_000_000,
		IngestSeq:  1,
		UpdateSeq:  500,
		Bids: []domain.PriceLevel{
			{Price: 42000.0, Quantity: 1.5},
			{Price: 41999.5, Quantity: 3.0},
		},
		Asks: []domain.PriceLevel{
			{Price: 42000.5, Quantity: 0.8},
		},
	}

	err := store.Insert(ctx, cp)
	require.NoError(t, err)

	got, err := store.GetByInstrument(ctx, "BTC-USD")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, cp.UpdateSeq, got[0].UpdateSeq)
	require.Len(t, got[0].Bids, 2)
	require.Len(t, got[0].Asks, 1)
	assert.InDelta(t, 42000.0, got[0].Bids[0].Price, 0.0001)
	assert.InDelta(t, 3.0, got[0].Bids[1].Quantity, 0.0001)
	assert.InDelta(t, 42000.5, got[0].Asks[0].Price, 0.0001)
}

func TestCheckpointStore_EmptySidesRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCheckpointStore(pool)

	cp := &domain.BookCheckpoint{
		Instrument: "NEW-USD",
		Timestamp:  1000,
		UpdateSeq:  1,
	}

	require.NoError(t, store.Insert(ctx, cp))

	got, err := store.GetByInstrument(ctx, "NEW-USD")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Bids)
	assert.Empty(t, got[0].Asks)
}

func TestCheckpointStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCheckpointStore(pool)

	cp := &domain.BookCheckpoint{Instrument: "BTC-USD", Timestamp: 1000, UpdateSeq: 1}
	require.NoError(t, store.Insert(ctx, cp))

	err := store.Insert(ctx, cp)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestCheckpointStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCheckpointStore(pool)

	checkpoints := []*domain.BookCheckpoint{
		{Instrument: "BTC-USD", Timestamp: 1000, UpdateSeq: 1},
		{Instrument: "BTC-USD", Timestamp: 5000, UpdateSeq: 2},
		{Instrument: "BTC-USD", Timestamp: 9000, UpdateSeq: 3},
	}
	require.NoError(t, store.InsertBulk(ctx, checkpoints))

	got, err := store.GetByTimeRange(ctx, "BTC-USD", 2000, 8000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5000), got[0].Timestamp)
}
