package memory

import (
	"context"
	"sort"
	"sync"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// CaptureSessionStore is an in-memory implementation of storage.CaptureSessionStore.
type CaptureSessionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CaptureSession // keyed by session_id
}

// NewCaptureSessionStore creates a new in-memory capture session store.
func NewCaptureSessionStore() *CaptureSessionStore {
	return &CaptureSessionStore{
		data: make(map[string]*domain.CaptureSession),
	}
}

// Insert adds a new session. Returns ErrDuplicateKey if session_id exists.
func (s *CaptureSessionStore) Insert(_ context.Context, sess *domain.CaptureSession) error {
	if sess == nil || sess.SessionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sess.SessionID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[sess.SessionID] = cloneSession(sess)
	return nil
}

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *CaptureSessionStore) GetByID(_ context.Context, sessionID string) (*domain.CaptureSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneSession(sess), nil
}

// Finish closes a session, recording end time and event count.
func (s *CaptureSessionStore) Finish(_ context.Context, sessionID string, endedAt int64, eventCount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return storage.ErrNotFound
	}
	ended := endedAt
	sess.EndedAt = &ended
	sess.EventCount = eventCount
	return nil
}

// GetRecent retrieves the most recently started sessions, newest first.
func (s *CaptureSessionStore) GetRecent(_ context.Context, limit int) ([]*domain.CaptureSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.CaptureSession, 0, len(s.data))
	for _, sess := range s.data {
		result = append(result, cloneSession(sess))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt > result[j].StartedAt
		}
		return result[i].SessionID < result[j].SessionID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// cloneSession deep-copies a session so callers cannot mutate stored state.
func cloneSession(sess *domain.CaptureSession) *domain.CaptureSession {
	copy := *sess
	copy.Instruments = append([]string(nil), sess.Instruments...)
	if sess.EndedAt != nil {
		ended := *sess.EndedAt
		copy.EndedAt = &ended
	}
	return &copy
}

var _ storage.CaptureSessionStore = (*CaptureSessionStore)(nil)
