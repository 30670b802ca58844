package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// CheckpointStore implements storage.CheckpointStore using PostgreSQL.
// Book levels are stored as JSONB arrays.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// levelJSON is the JSONB wire form of one price level.
type levelJSON struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

const insertCheckpointSQL = `
	INSERT INTO book_checkpoints (
		instrument, timestamp, ingest_seq, update_seq, bids, asks
	) VALUES ($1, $2, $3, $4, $5, $6)
`

// Insert adds a new checkpoint. Returns ErrDuplicateKey if (instrument, timestamp, update_seq) exists.
func (s *CheckpointStore) Insert(ctx context.Context, c *domain.BookCheckpoint) error {
	bids, asks, err := marshalLevels(c)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, insertCheckpointSQL,
		c.Instrument, c.Timestamp, c.IngestSeq, c.UpdateSeq, bids, asks,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// InsertBulk adds multiple checkpoints atomically. Fails entire batch on any duplicate.
func (s *CheckpointStore) InsertBulk(ctx context.Context, checkpoints []*domain.BookCheckpoint) error {
	if len(checkpoints) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range checkpoints {
		bids, asks, err := marshalLevels(c)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insertCheckpointSQL,
			c.Instrument, c.Timestamp, c.IngestSeq, c.UpdateSeq, bids, asks,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert checkpoint in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByInstrument retrieves all checkpoints for an instrument, ordered by timestamp ASC.
func (s *CheckpointStore) GetByInstrument(ctx context.Context, instrument string) ([]*domain.BookCheckpoint, error) {
	query := `
		SELECT instrument, timestamp, ingest_seq, update_seq, bids, asks
		FROM book_checkpoints
		WHERE instrument = $1
		ORDER BY timestamp ASC, update_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, instrument)
	if err != nil {
		return nil, fmt.Errorf("get checkpoints by instrument: %w", err)
	}
	defer rows.Close()

	return scanCheckpoints(rows)
}

// GetByTimeRange retrieves checkpoints for an instrument within [start, end] (inclusive).
func (s *CheckpointStore) GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.BookCheckpoint, error) {
	query := `
		SELECT instrument, timestamp, ingest_seq, update_seq, bids, asks
		FROM book_checkpoints
		WHERE instrument = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC, update_seq ASC
	`

	rows, err := s.pool.Query(ctx, query, instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("get checkpoints by time range: %w", err)
	}
	defer rows.Close()

	return scanCheckpoints(rows)
}

// marshalLevels encodes both sides of a checkpoint as JSONB payloads.
func marshalLevels(c *domain.BookCheckpoint) ([]byte, []byte, error) {
	bids, err := json.Marshal(toLevelJSON(c.Bids))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal bids: %w", err)
	}
	asks, err := json.Marshal(toLevelJSON(c.Asks))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal asks: %w", err)
	}
	return bids, asks, nil
}

func toLevelJSON(levels []domain.PriceLevel) []levelJSON {
	out := make([]levelJSON, len(levels))
	for i, l := range levels {
		out[i] = levelJSON{Price: l.Price, Quantity: l.Quantity}
	}
	return out
}

func fromLevelJSON(data []byte) ([]domain.PriceLevel, error) {
	var raw []levelJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.PriceLevel, len(raw))
	for i, l := range raw {
		out[i] = domain.PriceLevel{Price: l.Price, Quantity: l.Quantity}
	}
	return out, nil
}

// scanCheckpoints scans multiple rows into a slice of BookCheckpoint.
func scanCheckpoints(rows pgx.Rows) ([]*domain.BookCheckpoint, error) {
	var checkpoints []*domain.BookCheckpoint

	for rows.Next() {
		var c domain.BookCheckpoint
		var bids, asks []byte

		err := rows.Scan(
			&c.Instrument,
			&c.Timestamp,
			&c.IngestSeq,
			&c.UpdateSeq,
			&bids,
			&asks,
		)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}

		if c.Bids, err = fromLevelJSON(bids); err != nil {
			return nil, fmt.Errorf("decode bids: %w", err)
		}
		if c.Asks, err = fromLevelJSON(asks); err != nil {
			return nil, fmt.Errorf("decode asks: %w", err)
		}

		checkpoints = append(checkpoints, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}

	return checkpoints, nil
}
