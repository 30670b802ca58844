package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// BookUpdateStore implements storage.BookUpdateStore using PostgreSQL.
type BookUpdateStore struct {
	pool *Pool
}

// NewBookUpdateStore creates a new BookUpdateStore.
func NewBookUpdateStore(pool *Pool) *BookUpdateStore {
	return &BookUpdateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BookUpdateStore = (*BookUpdateStore)(nil)

const insertBookUpdateSQL = `
	INSERT INTO book_updates (
		instrument, timestamp, ingest_seq, update_seq, side, price_level, new_quantity, event_type, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// Insert adds a new update. Returns ErrDuplicateKey if (instrument, timestamp, ingest_seq) exists.
func (s *BookUpdateStore) Insert(ctx context.Context, u *domain.BookUpdateEvent) error {
	_, err := s.pool.Exec(ctx, insertBookUpdateSQL,
		u.Instrument,
		u.Timestamp,
		u.IngestSeq,
		u.UpdateSeq,
		u.Side,
		u.PriceLevel,
		u.NewQuantity,
		u.EventType,
		u.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert book update: %w", err)
	}
	return nil
}

// InsertBulk adds multiple updates atomically. Fails entire batch on any duplicate.
func (s *BookUpdateStore) InsertBulk(ctx context.Context, updates []*domain.BookUpdateEvent) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		_, err := tx.Exec(ctx, insertBookUpdateSQL,
			u.Instrument,
			u.Timestamp,
			u.IngestSeq,
			u.UpdateSeq,
			u.Side,
			u.PriceLevel,
			u.NewQuantity,
			u.EventType,
			u.CreatedAt,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert book update in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByInstrument retrieves all updates for an instrument, ordered by timestamp ASC, ingest_seq ASC.
func (s *BookUpdateStore) GetByInstrument(ctx context.Context, instrument string) ([]*domain.BookUpdateEvent, error) {
	query := `
		SELECT instrument, timestamp, ingest_seq, update_seq, side, price_level, new_quantity, event_type, created_at
		FROM book_updates
		WHERE instrument = $1
		ORDER BY timestamp ASC, ingest_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, instrument)
	if err != nil {
		return nil, fmt.Errorf("get book updates by instrument: %w", err)
	}
	defer rows.Close()

	return scanBookUpdates(rows)
}

// GetByTimeRange retrieves updates for an instrument within [start, end] (inclusive).
func (s *BookUpdateStore) GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.BookUpdateEvent, error) {
	query := `
		SELECT instrument, timestamp, ingest_seq, update_seq, side, price_level, new_quantity, event_type, created_at
		FROM book_updates
		WHERE instrument = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC, ingest_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("get book updates by time range: %w", err)
	}
	defer rows.Close()

	return scanBookUpdates(rows)
}

// ListInstruments retrieves the distinct instruments present, sorted ascending.
func (s *BookUpdateStore) ListInstruments(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT instrument FROM book_updates ORDER BY instrument ASC`)
	if err != nil {
		return nil, fmt.Errorf("list book update instruments: %w", err)
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

// scanBookUpdates scans multiple rows into a slice of BookUpdateEvent.
func scanBookUpdates(rows pgx.Rows) ([]*domain.BookUpdateEvent, error) {
	var updates []*domain.BookUpdateEvent

	for rows.Next() {
		var u domain.BookUpdateEvent

		err := rows.Scan(
			&u.Instrument,
			&u.Timestamp,
			&u.IngestSeq,
			&u.UpdateSeq,
			&u.Side,
			&u.PriceLevel,
			&u.NewQuantity,
			&u.EventType,
			&u.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan book update row: %w", err)
		}

		updates = append(updates, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate book update rows: %w", err)
	}

	return updates, nil
}
