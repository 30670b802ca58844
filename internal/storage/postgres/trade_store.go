package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const insertTradeSQL = `
	INSERT INTO trades (
		instrument, timestamp, ingest_seq, price, quantity, aggressor, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Insert adds a new trade. Returns ErrDuplicateKey if (instrument, timestamp, ingest_seq) exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.TradeEvent) error {
	_, err := s.pool.Exec(ctx, insertTradeSQL,
		t.Instrument,
		t.Timestamp,
		t.IngestSeq,
		t.Price,
		t.Quantity,
		t.Aggressor,
		t.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.TradeEvent) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		_, err := tx.Exec(ctx, insertTradeSQL,
			t.Instrument,
			t.Timestamp,
			t.IngestSeq,
			t.Price,
			t.Quantity,
			t.Aggressor,
			t.CreatedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByInstrument retrieves all trades for an instrument, ordered by timestamp ASC, ingest_seq ASC.
func (s *TradeStore) GetByInstrument(ctx context.Context, instrument string) ([]*domain.TradeEvent, error) {
	query := `
		SELECT instrument, timestamp, ingest_seq, price, quantity, aggressor, created_at
		FROM trades
		WHERE instrument = $1
		ORDER BY timestamp ASC, ingest_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, instrument)
	if err != nil {
		return nil, fmt.Errorf("get trades by instrument: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetByTimeRange retrieves trades for an instrument within [start, end] (inclusive).
func (s *TradeStore) GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.TradeEvent, error) {
	query := `
		SELECT instrument, timestamp, ingest_seq, price, quantity, aggressor, created_at
		FROM trades
		WHERE instrument = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC, ingest_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("get trades by time range: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ListInstruments retrieves the distinct instruments present, sorted ascending.
func (s *TradeStore) ListInstruments(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT instrument FROM trades ORDER BY instrument ASC`)
	if err != nil {
		return nil, fmt.Errorf("list trade instruments: %w", err)
	}
	defer rows.Close()

	var instruments []string
	for rows.Next() {
		var inst string
		if err := rows.Scan(&inst); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		instruments = append(instruments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instruments: %w", err)
	}
	return instruments, nil
}

// scanTrades scans multiple rows into a slice of TradeEvent.
func scanTrades(rows pgx.Rows) ([]*domain.TradeEvent, error) {
	var trades []*domain.TradeEvent

	for rows.Next() {
		var t domain.TradeEvent

		err := rows.Scan(
			&t.Instrument,
			&t.Timestamp,
			&t.IngestSeq,
			&t.Price,
			&t.Quantity,
			&t.Aggressor,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
