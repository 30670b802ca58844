package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// OFIRecordStore is an in-memory implementation of storage.OFIRecordStore.
type OFIRecordStore struct {
	mu   sync.RWMutex
	data map[string]*ofiEntry // keyed by composite key
}

type ofiEntry struct {
	datasetID string
	record    *domain.OFIRecord
}

// NewOFIRecordStore creates a new in-memory OFI record store.
func NewOFIRecordStore() *OFIRecordStore {
	return &OFIRecordStore{
		data: make(map[string]*ofiEntry),
	}
}

// ofiKey generates a unique key for an OFI record within a dataset.
func ofiKey(datasetID, instrument string, windowStart int64) string {
	return fmt.Sprintf("%s|%s|%d", datasetID, instrument, windowStart)
}

// InsertBulk adds multiple records for a dataset. Fails entire batch on any duplicate.
func (s *OFIRecordStore) InsertBulk(_ context.Context, datasetID string, records []*domain.OFIRecord) error {
	if datasetID == "" {
		return storage.ErrInvalidInput
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.Instrument == "" {
			return storage.ErrInvalidInput
		}
		key := ofiKey(datasetID, r.Instrument, r.WindowStart)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range records {
		key := ofiKey(datasetID, r.Instrument, r.WindowStart)
		copy := *r
		s.data[key] = &ofiEntry{datasetID: datasetID, record: &copy}
	}

	return nil
}

// GetByDataset retrieves all records for a dataset, ordered by instrument ASC, window_start ASC.
func (s *OFIRecordStore) GetByDataset(_ context.Context, datasetID string) ([]*domain.OFIRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OFIRecord
	for _, e := range s.data {
		if e.datasetID == datasetID {
			copy := *e.record
			result = append(result, &copy)
		}
	}

	sortOFIRecords(result)
	return result, nil
}

// GetByInstrument retrieves records for one instrument of a dataset, ordered by window_start ASC.
func (s *OFIRecordStore) GetByInstrument(_ context.Context, datasetID, instrument string) ([]*domain.OFIRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OFIRecord
	for _, e := range s.data {
		if e.datasetID == datasetID && e.record.Instrument == instrument {
			copy := *e.record
			result = append(result, &copy)
		}
	}

	sortOFIRecords(result)
	return result, nil
}

func sortOFIRecords(records []*domain.OFIRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Instrument != records[j].Instrument {
			return records[i].Instrument < records[j].Instrument
		}
		return records[i].WindowStart < records[j].WindowStart
	})
}

var _ storage.OFIRecordStore = (*OFIRecordStore)(nil)
