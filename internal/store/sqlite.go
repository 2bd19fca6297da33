// SQLite-backed session store. The DSN is a file path; the parent
// directory is created if missing.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// CreateSession creates a new empty conversation at the initial state.
func (s *SQLiteStore) CreateSession(sessionID string) (*models.ConversationContext, error) {
	ctx := models.NewConversationContext(sessionID)
	ctx.UpdatedAt = time.Now()
	if err := s.SaveSession(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

// SaveSession inserts or replaces the full session row.
func (s *SQLiteStore) SaveSession(ctx *models.ConversationContext) error {
	dataJSON, historyJSON, err := marshalSession(ctx)
	if err != nil {
		slog.Error("SQLiteStore SaveSession marshal failed", "error", err, "sessionID", ctx.SessionID)
		return err
	}
	ctx.UpdatedAt = time.Now()

	query := `
		INSERT OR REPLACE INTO sessions (session_id, current_state, flow_version, email, data, history, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, ctx.SessionID, string(ctx.CurrentState), ctx.FlowVersion,
		ctx.Email(), dataJSON, historyJSON, ctx.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "sessionID", ctx.SessionID)
		return fmt.Errorf("failed to save session %s: %w", ctx.SessionID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "sessionID", ctx.SessionID, "state", ctx.CurrentState)
	return nil
}

// GetSession retrieves a session by ID, or (nil, nil) when unknown.
func (s *SQLiteStore) GetSession(sessionID string) (*models.ConversationContext, error) {
	query := `SELECT session_id, current_state, flow_version, data, history, updated_at
			  FROM sessions WHERE session_id = ?`
	ctx, err := scanSession(s.db.QueryRow(query, sessionID))
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "sessionID", sessionID)
		return nil, err
	}
	return ctx, nil
}

// FindSessionByEmail retrieves the most recently updated session for an email.
func (s *SQLiteStore) FindSessionByEmail(email string) (*models.ConversationContext, error) {
	query := `SELECT session_id, current_state, flow_version, data, history, updated_at
			  FROM sessions WHERE email = ? AND email != '' ORDER BY updated_at DESC LIMIT 1`
	ctx, err := scanSession(s.db.QueryRow(query, email))
	if err != nil {
		slog.Error("SQLiteStore FindSessionByEmail failed", "error", err)
		return nil, err
	}
	return ctx, nil
}

// ListSessionIDs returns every stored session identifier.
func (s *SQLiteStore) ListSessionIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id FROM sessions`)
	if err != nil {
		slog.Error("SQLiteStore ListSessionIDs query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			slog.Error("SQLiteStore ListSessionIDs scan failed", "error", err)
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
func (s *SQLiteStore) SessionStats() (models.SessionStats, error) {
	stats := models.SessionStats{ByState: make(map[models.StateID]int)}
	rows, err := s.db.Query(`SELECT current_state, COUNT(*) FROM sessions GROUP BY current_state`)
	if err != nil {
		slog.Error("SQLiteStore SessionStats query failed", "error", err)
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
func (s *SQLiteStore) DeleteSessionsOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore DeleteSessionsOlderThan failed", "error", err)
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("SQLiteStore DeleteSessionsOlderThan succeeded", "deleted", n)
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// marshalSession serializes the answer map and history to JSON blobs.
func marshalSession(ctx *models.ConversationContext) (string, string, error) {
	dataBytes, err := json.Marshal(ctx.Data)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal session data: %w", err)
	}
	historyBytes, err := json.Marshal(ctx.History)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal session history: %w", err)
	}
	return string(dataBytes), string(historyBytes), nil
}

// scanSession reads a full session row. Returns (nil, nil) on sql.ErrNoRows.
func scanSession(row *sql.Row) (*models.ConversationContext, error) {
	var ctx models.ConversationContext
	var state, dataJSON, historyJSON string

	err := row.Scan(&ctx.SessionID, &state, &ctx.FlowVersion, &dataJSON, &historyJSON, &ctx.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ctx.CurrentState = models.StateID(state)

	ctx.Data = make(map[models.DataKey]models.AnswerRecord)
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &ctx.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
		}
	}
	if historyJSON != "" {
		if err := json.Unmarshal([]byte(historyJSON), &ctx.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session history: %w", err)
		}
	}
	return &ctx, nil
}
