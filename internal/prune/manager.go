package prune

import (
	"context"
	"sort"
	"sync"

	"github.com/router-for-me/prunepilot/internal/persist"
	log "github.com/sirupsen/logrus"
)

// SessionManager owns the Session of every session id seen by the process.
// State is created on first use, restored from the store exactly once, and
// disposed explicitly.
type SessionManager struct {
	store       persist.Store
	writer      *persist.Writer
	registryCap int
	protected   Protected

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerOptions configures a SessionManager.
type ManagerOptions struct {
	Store          persist.Store
	Writer         *persist.Writer
	RegistryCap    int
	ProtectedTools []string
}

func NewSessionManager(opts ManagerOptions) *SessionManager {
	return &SessionManager{
		store:       opts.Store,
		writer:      opts.Writer,
		registryCap: opts.RegistryCap,
		protected:   NewProtected(opts.ProtectedTools),
		sessions:    make(map[string]*Session),
	}
}

// Protected returns the protected tool set shared by all sessions.
func (m *SessionManager) Protected() Protected {
	return m.protected
}

// Acquire returns the session for id, loading persisted state on first touch.
// Concurrent callers for the same id wait for the same load.
func (m *SessionManager) Acquire(ctx context.Context, id string) *Session {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = newSession(id, m.registryCap, m.protected, func(snap persist.Snapshot) {
			m.writer.Enqueue(id, snap)
		})
		m.sessions[id] = s
	}
	m.mu.Unlock()

	s.loadOnce.Do(func() {
		if m.store == nil {
			return
		}
		snap, err := m.store.Load(ctx, id)
		if err != nil {
			log.WithError(err).WithField("session", id).Warn("failed to restore prune state, starting empty")
			return
		}
		s.restore(snap)
		if snap != nil {
			log.WithFields(log.Fields{
				"session": id,
				"pruned":  len(snap.PrunedToolIDs),
			}).Debug("restored prune state")
		}
	})
	return s
}

// Peek returns the in-memory session without creating it.
func (m *SessionManager) Peek(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Dispose drops the in-memory state of id. Persisted state is kept.
func (m *SessionManager) Dispose(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// IDs lists the sessions currently held in memory.
func (m *SessionManager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reset clears the prune state of id and persists the empty snapshot.
// Lifetime stats survive.
func (m *SessionManager) Reset(ctx context.Context, id string) {
	m.Acquire(ctx, id).Reset()
}
