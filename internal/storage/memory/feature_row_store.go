package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// FeatureRowStore is an in-memory implementation of storage.FeatureRowStore.
type FeatureRowStore struct {
	mu   sync.RWMutex
	data map[string]*featureEntry // keyed by composite key
}

type featureEntry struct {
	datasetID string
	row       *domain.FeatureRow
}

// NewFeatureRowStore creates a new in-memory feature row store.
func NewFeatureRowStore() *FeatureRowStore {
	return &FeatureRowStore{
		data: make(map[string]*featureEntry),
	}
}

// featureKey generates a unique key for a feature row within a dataset.
func featureKey(datasetID, instrument string, windowStart int64) string {
	return fmt.Sprintf("%s|%s|%d", datasetID, instrument, windowStart)
}

// InsertBulk adds multiple rows for a dataset. Fails entire batch on any duplicate.
func (s *FeatureRowStore) InsertBulk(_ context.Context, datasetID string, rows []*domain.FeatureRow) error {
	if datasetID == "" {
		return storage.ErrInvalidInput
	}
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if r == nil || r.Instrument == "" {
			return storage.ErrInvalidInput
		}
		key := featureKey(datasetID, r.Instrument, r.WindowStart)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range rows {
		key := featureKey(datasetID, r.Instrument, r.WindowStart)
		s.data[key] = &featureEntry{datasetID: datasetID, row: cloneFeatureRow(r)}
	}

	return nil
}

// GetByDataset retrieves all rows for a dataset, ordered by instrument ASC, window_start ASC.
func (s *FeatureRowStore) GetByDataset(_ context.Context, datasetID string) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRow
	for _, e := range s.data {
		if e.datasetID == datasetID {
			result = append(result, cloneFeatureRow(e.row))
		}
	}

	sortFeatureRows(result)
	return result, nil
}

// GetByInstrument retrieves rows for one instrument of a dataset, ordered by window_start ASC.
func (s *FeatureRowStore) GetByInstrument(_ context.Context, datasetID, instrument string) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRow
	for _, e := range s.data {
		if e.datasetID == datasetID && e.row.Instrument == instrument {
			result = append(result, cloneFeatureRow(e.row))
		}
	}

	sortFeatureRows(result)
	return result, nil
}

// cloneFeatureRow deep-copies a row so callers cannot mutate stored labels.
func cloneFeatureRow(r *domain.FeatureRow) *domain.FeatureRow {
	copy := *r
	copy.Labels = append([]domain.HorizonLabel(nil), r.Labels...)
	if r.MidPrice != nil {
		v := *r.MidPrice
		copy.MidPrice = &v
	}
	if r.Spread != nil {
		v := *r.Spread
		copy.Spread = &v
	}
	return &copy
}

func sortFeatureRows(rows []*domain.FeatureRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Instrument != rows[j].Instrument {
			return rows[i].Instrument < rows[j].Instrument
		}
		return rows[i].WindowStart < rows[j].WindowStart
	})
}

var _ storage.FeatureRowStore = (*FeatureRowStore)(nil)
