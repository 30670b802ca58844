package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// CaptureSessionStore implements storage.CaptureSessionStore using PostgreSQL.
type CaptureSessionStore struct {
	pool *Pool
}

// NewCaptureSessionStore creates a new CaptureSessionStore.
func NewCaptureSessionStore(pool *Pool) *CaptureSessionStore {
	return &CaptureSessionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CaptureSessionStore = (*CaptureSessionStore)(nil)

// Insert adds a new session. Returns ErrDuplicateKey if session_id exists.
func (s *CaptureSessionStore) Insert(ctx context.Context, sess *domain.CaptureSession) error {
	query := `
		INSERT INTO capture_sessions (
			session_id, venue, instruments, started_at, ended_at, event_count
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		sess.SessionID,
		sess.Venue,
		sess.Instruments,
		sess.StartedAt,
		sess.EndedAt,
		sess.EventCount,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert capture session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *CaptureSessionStore) GetByID(ctx context.Context, sessionID string) (*domain.CaptureSession, error) {
	query := `
		SELECT session_id, venue, instruments, started_at, ended_at, event_count
		FROM capture_sessions
		WHERE session_id = $1
	`

	var sess domain.CaptureSession
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&sess.SessionID,
		&sess.Venue,
		&sess.Instruments,
		&sess.StartedAt,
		&sess.EndedAt,
		&sess.EventCount,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get capture session: %w", err)
	}
	return &sess, nil
}

// Finish closes a session, recording end time and event count.
func (s *CaptureSessionStore) Finish(ctx context.Context, sessionID string, endedAt int64, eventCount int64) error {
	query := `
		UPDATE capture_sessions
		SET ended_at = $2, event_count = $3
		WHERE session_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, sessionID, endedAt, eventCount)
	if err != nil {
		return fmt.Errorf("finish capture session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetRecent retrieves the most recently started sessions, newest first.
func (s *CaptureSessionStore) GetRecent(ctx context.Context, limit int) ([]*domain.CaptureSession, error) {
	query := `
		SELECT session_id, venue, instruments, started_at, ended_at, event_count
		FROM capture_sessions
		ORDER BY started_at DESC, session_id ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent capture sessions: %w", err)
	}
	defer rows.Close()

	return scanCaptureSessions(rows)
}

// scanCaptureSessions scans multiple rows into a slice of CaptureSession.
func scanCaptureSessions(rows pgx.Rows) ([]*domain.CaptureSession, error) {
	var sessions []*domain.CaptureSession

	for rows.Next() {
		var sess domain.CaptureSession

		err := rows.Scan(
			&sess.SessionID,
			&sess.Venue,
			&sess.Instruments,
			&sess.StartedAt,
			&sess.EndedAt,
			&sess.EventCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan capture session row: %w", err)
		}

		sessions = append(sessions, &sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capture session rows: %w", err)
	}

	return sessions, nil
}
