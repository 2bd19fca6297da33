package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
)

// CachedStore wraps a persistent backend with a read-through session
// cache. Sessions are read far more often than they change within a
// turn, and the hot path hits the same session repeatedly. The cache
// holds private clones and clones again on the way out, so background
// readers never share a pointer with an in-flight turn.
type CachedStore struct {
	backend Store

	mu    sync.RWMutex
	cache map[string]*models.ConversationContext
}

// NewCachedStore wraps backend with an in-memory read-through cache.
func NewCachedStore(backend Store) *CachedStore {
	return &CachedStore{
		backend: backend,
		cache:   make(map[string]*models.ConversationContext),
	}
}

// CreateSession creates the session in the backend and primes the cache.
func (s *CachedStore) CreateSession(sessionID string) (*models.ConversationContext, error) {
	ctx, err := s.backend.CreateSession(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[sessionID] = ctx.Clone()
	s.mu.Unlock()
	return ctx, nil
}

// GetSession serves from cache when possible, falling back to the backend.
func (s *CachedStore) GetSession(sessionID string) (*models.ConversationContext, error) {
	s.mu.RLock()
	ctx, ok := s.cache[sessionID]
	s.mu.RUnlock()
	if ok {
		slog.Debug("CachedStore GetSession cache hit", "sessionID", sessionID)
		return ctx.Clone(), nil
	}

	ctx, err := s.backend.GetSession(sessionID)
	if err != nil || ctx == nil {
		return ctx, err
	}
	s.mu.Lock()
	s.cache[sessionID] = ctx.Clone()
	s.mu.Unlock()
	return ctx, nil
}

// SaveSession writes through to the backend and refreshes the cache.
func (s *CachedStore) SaveSession(ctx *models.ConversationContext) error {
	if err := s.backend.SaveSession(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[ctx.SessionID] = ctx.Clone()
	s.mu.Unlock()
	return nil
}

// FindSessionByEmail always consults the backend: the email index spans
// sessions the cache may never have seen.
func (s *CachedStore) FindSessionByEmail(email string) (*models.ConversationContext, error) {
	ctx, err := s.backend.FindSessionByEmail(email)
	if err != nil || ctx == nil {
		return ctx, err
	}
	s.mu.Lock()
	s.cache[ctx.SessionID] = ctx.Clone()
	s.mu.Unlock()
	return ctx, nil
}

// ListSessionIDs passes through to the backend.
func (s *CachedStore) ListSessionIDs() ([]string, error) {
	return s.backend.ListSessionIDs()
}

// SessionStats passes through to the backend.
func (s *CachedStore) SessionStats() (models.SessionStats, error) {
	return s.backend.SessionStats()
}

// DeleteSessionsOlderThan deletes in the backend and drops the whole
// cache rather than tracking which entries went away.
func (s *CachedStore) DeleteSessionsOlderThan(maxAge time.Duration) (int, error) {
	n, err := s.backend.DeleteSessionsOlderThan(maxAge)
	if err != nil {
		return n, err
	}
	s.mu.Lock()
	s.cache = make(map[string]*models.ConversationContext)
	s.mu.Unlock()
	return n, nil
}

// Close closes the backend.
func (s *CachedStore) Close() error {
	return s.backend.Close()
}
