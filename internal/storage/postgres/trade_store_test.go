package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

func TestTradeStore_InsertAndGetByInstrument(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trade := &domain.TradeEvent{
		Instrument: "BTC-USD",
		Timestamp:  1_700_000_000_000_000_000,
		IngestSeq:  7,
		Price:      42001.5,
		Quantity:   0.5,
		Aggressor:  domain.AggressorBuy,
		CreatedAt:  1_700_000_001_000_000_000,
	}

	err := store.Insert(ctx, trade)
	require.NoError(t, err)

	trades, err := store.GetByInstrument(ctx, "BTC-USD")
	require.NoError(t, err)

	assert.Len(t, trades, 1)
	assert.Equal(t, trade.Instrument, trades[0].Instrument)
	assert.Equal(t, trade.Timestamp, trades[0].Timestamp)
	assert.InDelta(t, trade.Price, trades[0].Price, 0.0001)
	assert.InDelta(t, trade.Quantity, trades[0].Quantity, 0.0001)
	assert.Equal(t, trade.Aggressor, trades[0].Aggressor)
}

func TestTradeStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trade := &domain.TradeEvent{
		Instrument: "BTC-USD",
		Timestamp:  1000,
		IngestSeq:  1,
		Price:      100,
		Quantity:   1,
		Aggressor:  domain.AggressorSell,
	}

	require.NoError(t, store.Insert(ctx, trade))

	err := store.Insert(ctx, trade)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTradeStore_GetByTimeRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trades := []*domain.TradeEvent{
		{Instrument: "ETH-USD", Timestamp: 1000, IngestSeq: 1, Price: 1, Quantity: 1, Aggressor: domain.AggressorBuy},
		{Instrument: "ETH-USD", Timestamp: 2000, IngestSeq: 2, Price: 2, Quantity: 1, Aggressor: domain.AggressorSell},
		{Instrument: "ETH-USD", Timestamp: 3000, IngestSeq: 3, Price: 3, Quantity: 1, Aggressor: domain.AggressorBuy},
	}
	require.NoError(t, store.InsertBulk(ctx, trades))

	got, err := store.GetByTimeRange(ctx, "ETH-USD", 1500, 2500)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2000), got[0].Timestamp)
}
