package repository

import (
	"context"
	"sync"
	"time"

	"github.com/openclaw/pairing-relay-go/internal/model"
)

// memoryPairingRepo keeps sessions in process. The mutex is the store's
// atomicity primitive, standing in for a row lock or a conditional write.
type memoryPairingRepo struct {
	mu       sync.Mutex
	sessions map[string]model.PairingSession
}

// NewMemoryPairingSessionRepository returns a process-local store for
// development and tests. State is lost on restart.
func NewMemoryPairingSessionRepository() PairingSessionRepository {
	return &memoryPairingRepo{sessions: make(map[string]model.PairingSession)}
}

func (r *memoryPairingRepo) Insert(ctx context.Context, session *model.PairingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.Code]; exists {
		return ErrCodeCollision
	}

	stored := *session
	stored.Status = model.PairingStatusPending
	stored.ClaimedAt = nil
	stored.ResponderRef = nil
	r.sessions[session.Code] = stored
	return nil
}

func (r *memoryPairingRepo) Get(ctx context.Context, code string) (*model.PairingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *memoryPairingRepo) CompareAndSetClaimed(ctx context.Context, code string, now time.Time, responderRef *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[code]
	if !ok || s.Status != model.PairingStatusPending || !s.ExpiresAt.After(now) {
		return ErrPreconditionFailed
	}

	claimedAt := now
	s.Status = model.PairingStatusClaimed
	s.ClaimedAt = &claimedAt
	s.ResponderRef = responderRef
	r.sessions[code] = s
	return nil
}

func (r *memoryPairingRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for code, s := range r.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.sessions, code)
			count++
		}
	}
	return count, nil
}
