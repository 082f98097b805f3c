package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scholarmcp/scholarmcp/internal/metrics"
)

// CleanupInterval is how often the background sweep runs.
const CleanupInterval = time.Minute

// Manager owns the session registry. Sessions are added on demand and
// removed by the periodic sweep or explicit eviction.
type Manager struct {
	log *slog.Logger
	met *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithMetrics sets the instrument set recorded on lifecycle events.
func WithMetrics(met *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.met = met }
}

// NewManager creates an empty session registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		log:      slog.Default(),
		met:      metrics.Noop(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a fresh session under an unguessable id.
func (m *Manager) Create(ctx context.Context) *Session {
	s := New(uuid.NewString())

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.met.SessionsCreated.Add(ctx, 1)
	m.log.InfoContext(ctx, "session.create", slog.String("session_id", s.ID))
	return s
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate resumes the session identified by id, touching it, or
// creates a new one when id is empty or unknown. This is how a
// reconnecting client recovers its mailbox instead of losing state.
func (m *Manager) GetOrCreate(ctx context.Context, id string) *Session {
	if id != "" {
		if s, ok := m.Get(id); ok {
			s.Touch()
			return s
		}
	}
	return m.Create(ctx)
}

// Remove evicts a session, detaching any live subscribers.
func (m *Manager) Remove(ctx context.Context, id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		s.closeAll()
		m.log.InfoContext(ctx, "session.remove", slog.String("session_id", id))
	}
	return ok
}

// CleanupStale removes every session idle longer than Timeout and
// returns the number removed.
func (m *Manager) CleanupStale(ctx context.Context) int {
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if s.IsStale() {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		m.mu.Lock()
		s, ok := m.sessions[id]
		// Re-check under the write lock: the session may have been
		// touched between the scan and now.
		if ok && s.IsStale() {
			delete(m.sessions, id)
		} else {
			ok = false
		}
		m.mu.Unlock()
		if ok {
			s.closeAll()
			removed++
			m.log.InfoContext(ctx, "session.sweep.evict", slog.String("session_id", id))
		}
	}
	if removed > 0 {
		m.met.SessionsEvicted.Add(ctx, int64(removed))
	}
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run sweeps stale sessions on a fixed interval until ctx is
// canceled. It never blocks request-serving paths.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := m.CleanupStale(ctx); n > 0 {
				m.log.DebugContext(ctx, "session.sweep.done", slog.Int("count", n))
			}
		}
	}
}
