// Package store provides session storage backends for the intake bot.
//
// It includes an in-memory store, a read-through cache, and persistent
// SQLite and PostgreSQL backends.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
)

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else, which is treated as a file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store is the session persistence contract consumed by the conversation
// controller and the admin surface. Get and FindSessionByEmail return
// (nil, nil) when nothing matches.
type Store interface {
	CreateSession(sessionID string) (*models.ConversationContext, error)
	GetSession(sessionID string) (*models.ConversationContext, error)
	SaveSession(ctx *models.ConversationContext) error
	// FindSessionByEmail looks a session up by the durable identity key:
	// the participant's normalized email.
	FindSessionByEmail(email string) (*models.ConversationContext, error)
	ListSessionIDs() ([]string, error)
	SessionStats() (models.SessionStats, error)
	// DeleteSessionsOlderThan removes sessions not updated within maxAge
	// and returns how many were deleted. Retention policy, not core logic.
	DeleteSessionsOlderThan(maxAge time.Duration) (int, error)
	Close() error
}

// Opts holds store configuration.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string (file path for SQLite).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore keeps sessions in process memory. Used in tests and in
// ephemeral deployments without a writable filesystem. Sessions are stored
// as snapshots, matching the copy-on-read semantics of the SQL backends.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.ConversationContext
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.ConversationContext)}
}

// CreateSession creates a new empty conversation at the initial state.
func (s *InMemoryStore) CreateSession(sessionID string) (*models.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := models.NewConversationContext(sessionID)
	ctx.UpdatedAt = time.Now()
	s.sessions[sessionID] = ctx.Clone()
	return ctx, nil
}

// GetSession returns the session, or (nil, nil) when unknown.
func (s *InMemoryStore) GetSession(sessionID string) (*models.ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return ctx.Clone(), nil
}

// SaveSession stores the session.
func (s *InMemoryStore) SaveSession(ctx *models.ConversationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx.UpdatedAt = time.Now()
	s.sessions[ctx.SessionID] = ctx.Clone()
	return nil
}

// FindSessionByEmail scans sessions for a matching normalized email. The
// most recently updated match wins, like the SQL backends.
func (s *InMemoryStore) FindSessionByEmail(email string) (*models.ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.ConversationContext
	for _, ctx := range s.sessions {
		if ctx.Email() == "" || ctx.Email() != email {
			continue
		}
		if best == nil || ctx.UpdatedAt.After(best.UpdatedAt) {
			best = ctx
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.Clone(), nil
}

// ListSessionIDs returns every stored session identifier.
func (s *InMemoryStore) ListSessionIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

// SessionStats summarizes the stored sessions.
func (s *InMemoryStore) SessionStats() (models.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := models.SessionStats{ByState: make(map[models.StateID]int)}
	for _, ctx := range s.sessions {
		stats.Total++
		stats.ByState[ctx.CurrentState]++
		if ctx.CurrentState == models.StateFine {
			stats.Completed++
		}
	}
	stats.InProgress = stats.Total - stats.Completed
	return stats, nil
}

// DeleteSessionsOlderThan removes sessions not saved within maxAge.
func (s *InMemoryStore) DeleteSessionsOlderThan(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for id, ctx := range s.sessions {
		if ctx.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
