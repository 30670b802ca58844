package clickhouse

import (
	"context"
	"fmt"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// FeatureRowStore implements storage.FeatureRowStore using ClickHouse.
// Labels travel as parallel arrays ordered by horizon; a NULL return marks
// a missing horizon.
type FeatureRowStore struct {
	conn *Conn
}

// NewFeatureRowStore creates a new FeatureRowStore.
func NewFeatureRowStore(conn *Conn) *FeatureRowStore {
	return &FeatureRowStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureRowStore = (*FeatureRowStore)(nil)

// InsertBulk adds multiple rows for a dataset. Fails entire batch on any duplicate.
// MergeTree does not enforce uniqueness, so duplicates are checked explicitly.
func (s *FeatureRowStore) InsertBulk(ctx context.Context, datasetID string, rows []*domain.FeatureRow) error {
	if datasetID == "" {
		return storage.ErrInvalidInput
	}
	if len(rows) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		instrument  string
		windowStart int64
	}
	seen := make(map[key]struct{}, len(rows))
	for _, r := range rows {
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
	for _, r := range rows {
		exists, err := s.exists(ctx, datasetID, r.Instrument, r.WindowStart)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO feature_rows (
			dataset_id, instrument, window_start, window_end,
			signed_volume, raw_buy_volume, raw_sell_volume, book_delta_component,
			total_volume, ofi_norm, ofi_sum_short, ofi_sum_long,
			mid_price, spread,
			label_horizons, label_returns, label_directions,
			confidence
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		horizons, returns, directions := labelArrays(r.Labels)

		// Pass nil values directly for Nullable columns
		err = batch.Append(
			datasetID, r.Instrument, r.WindowStart, r.WindowEnd,
			r.SignedVolume, r.RawBuyVolume, r.RawSellVolume, r.BookDeltaComponent,
			r.TotalVolume, r.OFINorm, r.OFISumShort, r.OFISumLong,
			r.MidPrice, r.Spread,
			horizons, returns, directions,
			string(r.Confidence),
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

// GetByDataset retrieves all rows for a dataset, ordered by instrument ASC, window_start ASC.
func (s *FeatureRowStore) GetByDataset(ctx context.Context, datasetID string) ([]*domain.FeatureRow, error) {
	query := selectFeatureRowsSQL + `
		WHERE dataset_id = ?
		ORDER BY instrument ASC, window_start ASC
	`

	rows, err := s.conn.Query(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("query by dataset: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// GetByInstrument retrieves rows for one instrument of a dataset, ordered by window_start ASC.
func (s *FeatureRowStore) GetByInstrument(ctx context.Context, datasetID, instrument string) ([]*domain.FeatureRow, error) {
	query := selectFeatureRowsSQL + `
		WHERE dataset_id = ? AND instrument = ?
		ORDER BY window_start ASC
	`

	rows, err := s.conn.Query(ctx, query, datasetID, instrument)
	if err != nil {
		return nil, fmt.Errorf("query by instrument: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

const selectFeatureRowsSQL = `
	SELECT instrument, window_start, window_end,
	       signed_volume, raw_buy_volume, raw_sell_volume, book_delta_component,
	       total_volume, ofi_norm, ofi_sum_short, ofi_sum_long,
	       mid_price, spread,
	       label_horizons, label_returns, label_directions,
	       confidence
	FROM feature_rows
`

// exists checks if a row with the given key exists.
func (s *FeatureRowStore) exists(ctx context.Context, datasetID, instrument string, windowStart int64) (bool, error) {
	query := `
		SELECT count(*) FROM feature_rows
		WHERE dataset_id = ? AND instrument = ? AND window_start = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, datasetID, instrument, windowStart).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// labelArrays flattens labels into the parallel-array column form.
func labelArrays(labels []domain.HorizonLabel) ([]int64, []*float64, []string) {
	horizons := make([]int64, len(labels))
	returns := make([]*float64, len(labels))
	directions := make([]string, len(labels))
	for i, l := range labels {
		horizons[i] = l.Horizon
		if !l.Missing {
			ret := l.FutureReturn
			returns[i] = &ret
			directions[i] = string(l.Direction)
		}
	}
	return horizons, returns, directions
}

// labelsFromArrays is the inverse of labelArrays.
func labelsFromArrays(horizons []int64, returns []*float64, directions []string) ([]domain.HorizonLabel, error) {
	if len(returns) != len(horizons) || len(directions) != len(horizons) {
		return nil, fmt.Errorf("label arrays disagree: %d horizons, %d returns, %d directions",
			len(horizons), len(returns), len(directions))
	}

	labels := make([]domain.HorizonLabel, len(horizons))
	for i, h := range horizons {
		labels[i] = domain.HorizonLabel{Horizon: h, Missing: returns[i] == nil}
		if returns[i] != nil {
			labels[i].FutureReturn = *returns[i]
			labels[i].Direction = domain.Direction(directions[i])
		}
	}
	return labels, nil
}

// scanFeatureRows scans multiple rows.
func scanFeatureRows(rows chRows) ([]*domain.FeatureRow, error) {
	var result []*domain.FeatureRow

	for rows.Next() {
		var r domain.FeatureRow
		var horizons []int64
		var returns []*float64
		var directions []string
		var confidence string

		err := rows.Scan(
			&r.Instrument, &r.WindowStart, &r.WindowEnd,
			&r.SignedVolume, &r.RawBuyVolume, &r.RawSellVolume, &r.BookDeltaComponent,
			&r.TotalVolume, &r.OFINorm, &r.OFISumShort, &r.OFISumLong,
			&r.MidPrice, &r.Spread,
			&horizons, &returns, &directions,
			&confidence,
		)
		if err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}

		if r.Labels, err = labelsFromArrays(horizons, returns, directions); err != nil {
			return nil, err
		}
		r.Confidence = domain.Confidence(confidence)

		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feature rows: %w", err)
	}

	return result, nil
}
