package sessionrepo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/paper-synthesizer/internal/domain/analysis"
)

type storedSession struct {
	session analysis.Session
	touched time.Time
}

// MemoryRepository keeps sessions in process memory. Sessions untouched for longer
// than the ttl are dropped; a non-positive ttl keeps them forever.
type MemoryRepository struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[uuid.UUID]storedSession
	now      func() time.Time
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository(ttl time.Duration) *MemoryRepository {
	return &MemoryRepository{ttl: ttl, sessions: make(map[uuid.UUID]storedSession), now: time.Now}
}

// Create stores a new session.
func (r *MemoryRepository) Create(_ context.Context, session analysis.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweep(now)
	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	r.sessions[session.ID] = storedSession{session: session.Clone(), touched: now}
	return nil
}

// Get returns a copy of the stored session.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (analysis.Session, bool, error) {
	r.mu.RLock()
	entry, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return analysis.Session{}, false, nil
	}
	if r.expired(entry, r.now()) {
		r.mu.Lock()
		if current, ok := r.sessions[id]; ok && r.expired(current, r.now()) {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		return analysis.Session{}, false, nil
	}
	return entry.session.Clone(), true, nil
}

// Save replaces an existing session and refreshes its expiry.
func (r *MemoryRepository) Save(_ context.Context, session analysis.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweep(now)
	if _, exists := r.sessions[session.ID]; !exists {
		return fmt.Errorf("session %s not found", session.ID)
	}
	r.sessions[session.ID] = storedSession{session: session.Clone(), touched: now}
	return nil
}

// Len reports how many sessions are held, expired ones included until swept.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// sweep drops expired sessions. Callers hold the write lock.
func (r *MemoryRepository) sweep(now time.Time) {
	if r.ttl <= 0 {
		return
	}
	for id, entry := range r.sessions {
		if r.expired(entry, now) {
			delete(r.sessions, id)
		}
	}
}

func (r *MemoryRepository) expired(entry storedSession, now time.Time) bool {
	return r.ttl > 0 && now.Sub(entry.touched) > r.ttl
}

var _ analysis.Store = (*MemoryRepository)(nil)
