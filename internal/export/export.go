// Package export produces offline artifacts from the session store:
// CSV exports for case review, timestamped JSON backups, and retention
// cleanup.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
	"github.com/RisarcimentoMiteni/intakebot/internal/store"
)

// DefaultRetention is how long sessions are kept before cleanup removes them.
const DefaultRetention = 30 * 24 * time.Hour

// Exporter writes exports and backups for the sessions held in a store.
type Exporter struct {
	store store.Store
	dir   string
}

// NewExporter creates an Exporter writing artifacts under dir.
func NewExporter(st store.Store, dir string) *Exporter {
	return &Exporter{store: st, dir: dir}
}

// timestamp formats t for use in artifact file names.
func timestamp(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format("2006-01-02T15-04-05Z"), ":", "-")
}

func (e *Exporter) ensureDir() error {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	return nil
}

// ExportCSV writes a one-row-per-session CSV and returns its path.
func (e *Exporter) ExportCSV() (string, error) {
	if err := e.ensureDir(); err != nil {
		return "", err
	}

	ids, err := e.store.ListSessionIDs()
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.Strings(ids)

	path := filepath.Join(e.dir, fmt.Sprintf("export-%s.csv", timestamp(time.Now())))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"sessionId", "currentState", "nome", "cognome", "email", "telefono", "updatedAt", "dataKeys"}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}

	count := 0
	for _, id := range ids {
		ctx, err := e.store.GetSession(id)
		if err != nil {
			slog.Warn("Skipping unreadable session during export", "sessionID", id, "error", err)
			continue
		}
		if ctx == nil {
			continue
		}

		keys := make([]string, 0, len(ctx.Data))
		for k := range ctx.Data {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)

		row := []string{
			ctx.SessionID,
			string(ctx.CurrentState),
			ctx.Normalized(models.KeyNome),
			ctx.Normalized(models.KeyCognome),
			ctx.Normalized(models.KeyEmail),
			ctx.Normalized(models.KeyTelefono),
			ctx.UpdatedAt.UTC().Format(time.RFC3339),
			strings.Join(keys, ";"),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write CSV row: %w", err)
		}
		count++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush CSV: %w", err)
	}

	slog.Info("CSV export created", "path", path, "sessions", count)
	return path, nil
}

// backupFile is the JSON backup envelope.
type backupFile struct {
	Timestamp time.Time                              `json:"timestamp"`
	Count     int                                    `json:"count"`
	Sessions  map[string]*models.ConversationContext `json:"sessions"`
}

// Backup writes all sessions to a timestamped JSON file and returns its path.
func (e *Exporter) Backup() (string, error) {
	if err := e.ensureDir(); err != nil {
		return "", err
	}

	ids, err := e.store.ListSessionIDs()
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}

	backup := backupFile{
		Timestamp: time.Now().UTC(),
		Sessions:  make(map[string]*models.ConversationContext, len(ids)),
	}
	for _, id := range ids {
		ctx, err := e.store.GetSession(id)
		if err != nil {
			slog.Warn("Skipping unreadable session during backup", "sessionID", id, "error", err)
			continue
		}
		if ctx == nil {
			continue
		}
		backup.Sessions[id] = ctx
	}
	backup.Count = len(backup.Sessions)

	path := filepath.Join(e.dir, fmt.Sprintf("backup-%s.json", timestamp(backup.Timestamp)))
	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup file: %w", err)
	}

	slog.Info("Backup created", "path", path, "sessions", backup.Count)
	return path, nil
}

// Cleanup deletes sessions not updated within maxAge and returns how many
// were removed. A zero maxAge applies the default retention.
func (e *Exporter) Cleanup(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultRetention
	}
	n, err := e.store.DeleteSessionsOlderThan(maxAge)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old sessions: %w", err)
	}
	slog.Info("Session cleanup completed", "deleted", n, "maxAge", maxAge)
	return n, nil
}
