package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeEvent // keyed by composite key
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.TradeEvent),
	}
}

// tradeKey generates a unique key for a trade.
func tradeKey(instrument string, timestamp, ingestSeq int64) string {
	return fmt.Sprintf("%s|%d|%d", instrument, timestamp, ingestSeq)
}

// Insert adds a new trade. Returns ErrDuplicateKey if exists.
func (s *TradeStore) Insert(_ context.Context, t *domain.TradeEvent) error {
	if t == nil || t.Instrument == "" {
		return storage.ErrInvalidInput
	}

	key := tradeKey(t.Instrument, t.Timestamp, t.IngestSeq)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	s.data[key] = &copy
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(_ context.Context, trades []*domain.TradeEvent) error {
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		if t == nil || t.Instrument == "" {
			return storage.ErrInvalidInput
		}
		key := tradeKey(t.Instrument, t.Timestamp, t.IngestSeq)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, t := range trades {
		key := tradeKey(t.Instrument, t.Timestamp, t.IngestSeq)
		copy := *t
		s.data[key] = &copy
	}

	return nil
}

// GetByInstrument retrieves all trades for an instrument, ordered by timestamp ASC, ingest_seq ASC.
func (s *TradeStore) GetByInstrument(_ context.Context, instrument string) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeEvent
	for _, t := range s.data {
		if t.Instrument == instrument {
			copy := *t
			result = append(result, &copy)
		}
	}

	sortTrades(result)
	return result, nil
}

// GetByTimeRange retrieves trades for an instrument within [start, end] (inclusive).
func (s *TradeStore) GetByTimeRange(_ context.Context, instrument string, start, end int64) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeEvent
	for _, t := range s.data {
		if t.Instrument == instrument && t.Timestamp >= start && t.Timestamp <= end {
			copy := *t
			result = append(result, &copy)
		}
	}

	sortTrades(result)
	return result, nil
}

// ListInstruments retrieves the distinct instruments present, sorted ascending.
func (s *TradeStore) ListInstruments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, t := range s.data {
		seen[t.Instrument] = struct{}{}
	}

	instruments := make([]string, 0, len(seen))
	for inst := range seen {
		instruments = append(instruments, inst)
	}
	sort.Strings(instruments)
	return instruments, nil
}

func sortTrades(trades []*domain.TradeEvent) {
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Timestamp != trades[j].Timestamp {
			return trades[i].Timestamp < trades[j].Timestamp
		}
		return trades[i].IngestSeq < trades[j].IngestSeq
	})
}

var _ storage.TradeStore = (*TradeStore)(nil)
