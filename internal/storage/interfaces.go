package storage

import (
	"context"

	"orderflow-lab/internal/domain"
)

// BookUpdateStore provides access to book_updates storage.
type BookUpdateStore interface {
	// Insert adds a new update. Returns ErrDuplicateKey if (instrument, timestamp, ingest_seq) exists.
	Insert(ctx context.Context, u *domain.BookUpdateEvent) error

	// InsertBulk adds multiple updates atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, updates []*domain.BookUpdateEvent) error

	// GetByInstrument retrieves all updates for an instrument, ordered by timestamp ASC, ingest_seq ASC.
	GetByInstrument(ctx context.Context, instrument string) ([]*domain.BookUpdateEvent, error)

	// GetByTimeRange retrieves updates for an instrument within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.BookUpdateEvent, error)

	// ListInstruments retrieves the distinct instruments present, sorted ascending.
	ListInstruments(ctx context.Context) ([]string, error)
}

// TradeStore provides access to trades storage.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if (instrument, timestamp, ingest_seq) exists.
	Insert(ctx context.Context, t *domain.TradeEvent) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.TradeEvent) error

	// GetByInstrument retrieves all trades for an instrument, ordered by timestamp ASC, ingest_seq ASC.
	GetByInstrument(ctx context.Context, instrument string) ([]*domain.TradeEvent, error)

	// GetByTimeRange retrieves trades for an instrument within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.TradeEvent, error)

	// ListInstruments retrieves the distinct instruments present, sorted ascending.
	ListInstruments(ctx context.Context) ([]string, error)
}

// CheckpointStore provides access to book_checkpoints storage.
type CheckpointStore interface {
	// Insert adds a new checkpoint. Returns ErrDuplicateKey if (instrument, timestamp, update_seq) exists.
	Insert(ctx context.Context, c *domain.BookCheckpoint) error

	// InsertBulk adds multiple checkpoints atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, checkpoints []*domain.BookCheckpoint) error

	// GetByInstrument retrieves all checkpoints for an instrument, ordered by timestamp ASC.
	GetByInstrument(ctx context.Context, instrument string) ([]*domain.BookCheckpoint, error)

	// GetByTimeRange retrieves checkpoints for an instrument within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.BookCheckpoint, error)
}

// CaptureSessionStore provides access to capture_sessions storage.
type CaptureSessionStore interface {
	// Insert adds a new session. Returns ErrDuplicateKey if session_id exists.
	Insert(ctx context.Context, s *domain.CaptureSession) error

	// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, sessionID string) (*domain.CaptureSession, error)

	// Finish closes a session, recording end time and event count.
	// Returns ErrNotFound if the session does not exist.
	Finish(ctx context.Context, sessionID string, endedAt int64, eventCount int64) error

	// GetRecent retrieves the most recently started sessions, newest first.
	GetRecent(ctx context.Context, limit int) ([]*domain.CaptureSession, error)
}

// OFIRecordStore provides access to ofi_records storage.
type OFIRecordStore interface {
	// InsertBulk adds multiple records for a dataset. Fails entire batch on
	// duplicate (dataset_id, instrument, window_start).
	InsertBulk(ctx context.Context, datasetID string, records []*domain.OFIRecord) error

	// GetByDataset retrieves all records for a dataset, ordered by instrument ASC, window_start ASC.
	GetByDataset(ctx context.Context, datasetID string) ([]*domain.OFIRecord, error)

	// GetByInstrument retrieves records for one instrument of a dataset, ordered by window_start ASC.
	GetByInstrument(ctx context.Context, datasetID, instrument string) ([]*domain.OFIRecord, error)
}

// FeatureRowStore provides access to feature_rows storage.
type FeatureRowStore interface {
	// InsertBulk adds multiple rows for a dataset. Fails entire batch on
	// duplicate (dataset_id, instrument, window_start).
	InsertBulk(ctx context.Context, datasetID string, rows []*domain.FeatureRow) error

	// GetByDataset retrieves all rows for a dataset, ordered by instrument ASC, window_start ASC.
	GetByDataset(ctx context.Context, datasetID string) ([]*domain.FeatureRow, error)

	// GetByInstrument retrieves rows for one instrument of a dataset, ordered by window_start ASC.
	GetByInstrument(ctx context.Context, datasetID, instrument string) ([]*domain.FeatureRow, error)
}
