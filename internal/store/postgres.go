// PostgreSQL-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// CreateSession creates a new empty conversation at the initial state.
func (s *PostgresStore) CreateSession(sessionID string) (*models.ConversationContext, error) {
	ctx := models.NewConversationContext(sessionID)
	ctx.UpdatedAt = time.Now()
	if err := s.SaveSession(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// SaveSession upserts the full session row.
func (s *PostgresStore) SaveSession(ctx *models.ConversationContext) error {
	dataJSON, historyJSON, err := marshalSession(ctx)
	if err != nil {
		slog.Error("PostgresStore SaveSession marshal failed", "error", err, "sessionID", ctx.SessionID)
		return err
	}
	ctx.UpdatedAt = time.Now()

	query := `
		INSERT INTO sessions (session_id, current_state, flow_version, email, data, history, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			current_state = EXCLUDED.current_state,
			flow_version = EXCLUDED.flow_version,
			email = EXCLUDED.email,
			data = EXCLUDED.data,
			history = EXCLUDED.history,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query, ctx.SessionID, string(ctx.CurrentState), ctx.FlowVersion,
		ctx.Email(), dataJSON, historyJSON, ctx.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "sessionID", ctx.SessionID)
		return fmt.Errorf("failed to save session %s: %w", ctx.SessionID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "sessionID", ctx.SessionID, "state", ctx.CurrentState)
	return nil
}

// GetSession retrieves a session by ID, or (nil, nil) when unknown.
func (s *PostgresStore) GetSession(sessionID string) (*models.ConversationContext, error) {
	query := `SELECT session_id, current_state, flow_version, data, history, updated_at
			  FROM sessions WHERE session_id = $1`
	ctx, err := scanSession(s.db.QueryRow(query, sessionID))
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "sessionID", sessionID)
		return nil, err
	}
	return ctx, nil
}

// FindSessionByEmail retrieves the most recently updated session for an email.
func (s *PostgresStore) FindSessionByEmail(email string) (*models.ConversationContext, error) {
	query := `SELECT session_id, current_state, flow_version, data, history, updated_at
			  FROM sessions WHERE email = $1 AND email != '' ORDER BY updated_at DESC LIMIT 1`
	ctx, err := scanSession(s.db.QueryRow(query, email))
	if err != nil {
		slog.Error("PostgresStore FindSessionByEmail failed", "error", err)
		return nil, err
	}
	return ctx, nil
}

// ListSessionIDs returns every stored session identifier.
func (s *PostgresStore) ListSessionIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id FROM sessions`)
	if err != nil {
		slog.Error("PostgresStore ListSessionIDs query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return ids, nil
}

// SessionStats summarizes stored sessions grouped by state.
func (s *PostgresStore) SessionStats() (models.SessionStats, error) {
	stats := models.SessionStats{ByState: make(map[models.StateID]int)}
	rows, err := s.db.Query(`SELECT current_state, COUNT(*) FROM sessions GROUP BY current_state`)
	if err != nil {
		slog.Error("PostgresStore SessionStats query failed", "error", err)
		return stats, fmt.Errorf("failed to query session stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return stats, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.ByState[models.StateID(state)] = count
		stats.Total += count
		if models.StateID(state) == models.StateFine {
			stats.Completed += count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("failed to iterate stats rows: %w", err)
	}
	stats.InProgress = stats.Total - stats.Completed
	return stats, nil
}

// DeleteSessionsOlderThan removes sessions not updated within maxAge.
func (s *PostgresStore) DeleteSessionsOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore DeleteSessionsOlderThan failed", "error", err)
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("PostgresStore DeleteSessionsOlderThan succeeded", "deleted", n)
	return int(n), nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
