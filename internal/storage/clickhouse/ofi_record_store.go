package clickhouse

import (
	"context"
	"fmt"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// OFIRecordStore implements storage.OFIRecordStore using ClickHouse.
type OFIRecordStore struct {
	conn *Conn
}

// NewOFIRecordStore creates a new OFIRecordStore.
func NewOFIRecordStore(conn *Conn) *OFIRecordStore {
	return &OFIRecordStore{conn: conn}
}

// Compile-time interface check.
var _ storage.OFIRecordStore = (*OFIRecordStore)(nil)

// chRows is the subset of driver.Rows the scanners need.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// InsertBulk adds multiple records for a dataset. Fails entire batch on any duplicate.
// MergeTree does not enforce uniqueness, so duplicates are checked explicitly.
func (s *OFIRecordStore) InsertBulk(ctx context.Context, datasetID string, records []*domain.OFIRecord) error {
	if datasetID == "" {
		return storage.ErrInvalidInput
	}
	if len(records) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		instrument  string
		windowStart int64
	}
	seen := make(map[key]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.Instrument == "" {
			return storage.ErrInvalidInput
		}
		k := key{r.Instrument, r.WindowStart}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, r := range records {
		exists, err := s.exists(ctx, datasetID, r.Instrument, r.WindowStart)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ofi_records (
			dataset_id, instrument, window_start, window_end,
			signed_volume, raw_buy_volume, raw_sell_volume, book_delta_component,
			trade_count, book_update_count, confidence
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			datasetID, r.Instrument, r.WindowStart, r.WindowEnd,
			r.SignedVolume, r.RawBuyVolume, r.RawSellVolume, r.BookDeltaComponent,
			uint32(r.TradeCount), uint32(r.BookUpdateCount), string(r.Confidence),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByDataset retrieves all records for a dataset, ordered by instrument ASC, window_start ASC.
func (s *OFIRecordStore) GetByDataset(ctx context.Context, datasetID string) ([]*domain.OFIRecord, error) {
	query := `
		SELECT instrument, window_start, window_end,
		       signed_volume, raw_buy_volume, raw_sell_volume, book_delta_component,
		       trade_count, book_update_count, confidence
		FROM ofi_records
		WHERE dataset_id = ?
		ORDER BY instrument ASC, window_start ASC
	`

	rows, err := s.conn.Query(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("query by dataset: %w", err)
	}
	defer rows.Close()

	return scanOFIRecords(rows)
}

// GetByInstrument retrieves records for one instrument of a dataset, ordered by window_start ASC.
func (s *OFIRecordStore) GetByInstrument(ctx context.Context, datasetID, instrument string) ([]*domain.OFIRecord, error) {
	query := `
		SELECT instrument, window_start, window_end,
		       signed_volume, raw_buy_volume, raw_sell_volume, book_delta_component,
		       trade_count, book_update_count, confidence
		FROM ofi_records
		WHERE dataset_id = ? AND instrument = ?
		ORDER BY window_start ASC
	`

	rows, err := s.conn.Query(ctx, query, datasetID, instrument)
	if err != nil {
		return nil, fmt.Errorf("query by instrument: %w", err)
	}
	defer rows.Close()

	return scanOFIRecords(rows)
}

// exists checks if a record with the given key exists.
func (s *OFIRecordStore) exists(ctx context.Context, datasetID, instrument string, windowStart int64) (bool, error) {
	query := `
		SELECT count(*) FROM ofi_records
		WHERE dataset_id = ? AND instrument = ? AND window_start = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, datasetID, instrument, windowStart).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanOFIRecords scans multiple rows.
func scanOFIRecords(rows chRows) ([]*domain.OFIRecord, error) {
	var records []*domain.OFIRecord

	for rows.Next() {
		var r domain.OFIRecord
		var tradeCount, bookUpdateCount uint32
		var confidence string

		err := rows.Scan(
			&r.Instrument, &r.WindowStart, &r.WindowEnd,
			&r.SignedVolume, &r.RawBuyVolume, &r.RawSellVolume, &r.BookDeltaComponent,
			&tradeCount, &bookUpdateCount, &confidence,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ofi record row: %w", err)
		}

		r.TradeCount = int(tradeCount)
		r.BookUpdateCount = int(bookUpdateCount)
		r.Confidence = domain.Confidence(confidence)

		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ofi record rows: %w", err)
	}

	return records, nil
}
