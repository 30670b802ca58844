package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.CheckpointStore.
type CheckpointStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BookCheckpoint // keyed by composite key
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		data: make(map[string]*domain.BookCheckpoint),
	}
}

// checkpointKey generates a unique key for a checkpoint.
func checkpointKey(instrument string, timestamp, updateSeq int64) string {
	return fmt.Sprintf("%s|%d|%d", instrument, timestamp, updateSeq)
}

// Insert adds a new checkpoint. Returns ErrDuplicateKey if exists.
func (s *CheckpointStore) Insert(_ context.Context, c *domain.BookCheckpoint) error {
	if c == nil || c.Instrument == "" {
		return storage.ErrInvalidInput
	}

	key := checkpointKey(c.Instrument, c.Timestamp, c.UpdateSeq)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[key] = cloneCheckpoint(c)
	return nil
}

// InsertBulk adds multiple checkpoints atomically. Fails entire batch on any duplicate.
func (s *CheckpointStore) InsertBulk(_ context.Context, checkpoints []*domain.BookCheckpoint) error {
	if len(checkpoints) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(checkpoints))
	for _, c := range checkpoints {
		if c == nil || c.Instrument == "" {
			return storage.ErrInvalidInput
		}
		key := checkpointKey(c.Instrument, c.Timestamp, c.UpdateSeq)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, c := range checkpoints {
		key := checkpointKey(c.Instrument, c.Timestamp, c.UpdateSeq)
		s.data[key] = cloneCheckpoint(c)
	}

	return nil
}

// GetByInstrument retrieves all checkpoints for an instrument, ordered by timestamp ASC.
func (s *CheckpointStore) GetByInstrument(_ context.Context, instrument string) ([]*domain.BookCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BookCheckpoint
	for _, c := range s.data {
		if c.Instrument == instrument {
			result = append(result, cloneCheckpoint(c))
		}
	}

	sortCheckpoints(result)
	return result, nil
}

// GetByTimeRange retrieves checkpoints for an instrument within [start, end] (inclusive).
func (s *CheckpointStore) GetByTimeRange(_ context.Context, instrument string, start, end int64) ([]*domain.BookCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BookCheckpoint
	for _, c := range s.data {
		if c.Instrument == instrument && c.Timestamp >= start && c.Timestamp <= end {
			result = append(result, cloneCheckpoint(c))
		}
	}

	sortCheckpoints(result)
	return result, nil
}

// cloneCheckpoint deep-copies a checkpoint so callers cannot mutate stored levels.
func cloneCheckpoint(c *domain.BookCheckpoint) *domain.BookCheckpoint {
	copy := *c
	copy.Bids = append([]domain.PriceLevel(nil), c.Bids...)
	copy.Asks = append([]domain.PriceLevel(nil), c.Asks...)
	return &copy
}

func sortCheckpoints(checkpoints []*domain.BookCheckpoint) {
	sort.Slice(checkpoints, func(i, j int) bool {
		if checkpoints[i].Timestamp != checkpoints[j].Timestamp {
			return checkpoints[i].Timestamp < checkpoints[j].Timestamp
		}
		return checkpoints[i].UpdateSeq < checkpoints[j].UpdateSeq
	})
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)
