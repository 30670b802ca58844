package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// BookUpdateStore is an in-memory implementation of storage.BookUpdateStore.
type BookUpdateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BookUpdateEvent // keyed by composite key
}

// NewBookUpdateStore creates a new in-memory book update store.
func NewBookUpdateStore() *BookUpdateStore {
	return &BookUpdateStore{
		data: make(map[string]*domain.BookUpdateEvent),
	}
}

// bookUpdateKey generates a unique key for a book update.
func bookUpdateKey(instrument string, timestamp, ingestSeq int64) string {
	return fmt.Sprintf("%s|%d|%d", instrument, timestamp, ingestSeq)
}

// Insert adds a new update. Returns ErrDuplicateKey if exists.
func (s *BookUpdateStore) Insert(_ context.Context, u *domain.BookUpdateEvent) error {
	if u == nil || u.Instrument == "" {
		return storage.ErrInvalidInput
	}

	key := bookUpdateKey(u.Instrument, u.Timestamp, u.IngestSeq)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *u
	s.data[key] = &copy
	return nil
}

// InsertBulk adds multiple updates atomically. Fails entire batch on any duplicate.
func (s *BookUpdateStore) InsertBulk(_ context.Context, updates []*domain.BookUpdateEvent) error {
	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// First pass: check for duplicates (existing + intra-batch)
	batchKeys := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		if u == nil || u.Instrument == "" {
			return storage.ErrInvalidInput
		}
		key := bookUpdateKey(u.Instrument, u.Timestamp, u.IngestSeq)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, u := range updates {
		key := bookUpdateKey(u.Instrument, u.Timestamp, u.IngestSeq)
		copy := *u
		s.data[key] = &copy
	}

	return nil
}

// GetByInstrument retrieves all updates for an instrument, ordered by timestamp ASC, ingest_seq ASC.
func (s *BookUpdateStore) GetByInstrument(_ context.Context, instrument string) ([]*domain.BookUpdateEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BookUpdateEvent
	for _, u := range s.data {
		if u.Instrument == instrument {
			copy := *u
			result = append(result, &copy)
		}
	}

	sortBookUpdates(result)
	return result, nil
}

// GetByTimeRange retrieves updates for an instrument within [start, end] (inclusive).
func (s *BookUpdateStore) GetByTimeRange(_ context.Context, instrument string, start, end int64) ([]*domain.BookUpdateEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BookUpdateEvent
	for _, u := range s.data {
		if u.Instrument == instrument && u.Timestamp >= start && u.Timestamp <= end {
			copy := *u
			result = append(result, &copy)
		}
	}

	sortBookUpdates(result)
	return result, nil
}

// ListInstruments retrieves the distinct instruments present, sorted ascending.
func (s *BookUpdateStore) ListInstruments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, u := range s.data {
		seen[u.Instrument] = struct{}{}
	}

	instruments := make([]string, 0, len(seen))
	for inst := range seen {
		instruments = append(instruments, inst)
	}
	sort.Strings(instruments)
	return instruments, nil
}

func sortBookUpdates(updates []*domain.BookUpdateEvent) {
	sort.Slice(updates, func(i, j int) bool {
		if updates[i].Timestamp != updates[j].Timestamp {
			return updates[i].Timestamp < updates[j].Timestamp
		}
		return updates[i].IngestSeq < updates[j].IngestSeq
	})
}

var _ storage.BookUpdateStore = (*BookUpdateStore)(nil)
