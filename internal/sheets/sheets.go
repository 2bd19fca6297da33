// Package sheets mirrors questionnaire sessions into a Google Sheets
// spreadsheet, one row per participant keyed by email.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
)

// DefaultSheetName is the tab used when none is configured.
const DefaultSheetName = "Questionari PFAS"

// sheetHeaders is the fixed column order of the spreadsheet.
var sheetHeaders = []string{
	"NOME", "COGNOME", "EMAIL", "TELEFONO", "MODALITÀ",
	"SESSO", "LUOGO DI NASCITA", "PROVINCIA DI NASCITA", "DATA DI NASCITA",
	"R1", "R2", "R3", "R4", "R5", "R6", "R7", "R8", "R9",
	"R10", "R11", "R12", "R13", "R14", "R15", "R16", "R17",
	"RIEPILOGO", "CONFERMA_FINALE",
}

// rowKeys maps the header columns to session data keys, in order.
var rowKeys = []models.DataKey{
	models.KeyNome, models.KeyCognome, models.KeyEmail, models.KeyTelefono, models.KeyModalita,
	models.KeySesso, models.KeyLuogoNascita, models.KeyProvinciaNascita, models.KeyDataNascita,
	"R1", "R2", "R3", "R4", "R5", "R6", "R7", "R8", "R9",
	"R10", "R11", "R12", "R13", "R14", "R15", "R16", "R17",
	models.KeyRiepilogo, models.KeyConfermaFinale,
}

// Opts holds Google Sheets client configuration.
type Opts struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON []byte
	CredentialsFile string
}

// Option configures the sheets client.
type Option func(*Opts)

// WithSpreadsheetID sets the target spreadsheet.
func WithSpreadsheetID(id string) Option {
	return func(o *Opts) { o.SpreadsheetID = id }
}

// WithSheetName sets the tab name inside the spreadsheet.
func WithSheetName(name string) Option {
	return func(o *Opts) { o.SheetName = name }
}

// WithCredentialsJSON sets inline service account credentials.
func WithCredentialsJSON(creds []byte) Option {
	return func(o *Opts) { o.CredentialsJSON = creds }
}

// WithCredentialsFile sets a service account credentials file path.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) { o.CredentialsFile = path }
}

// Client upserts session rows into the configured spreadsheet.
type Client struct {
	svc           *gsheets.Service
	spreadsheetID string
	sheetName     string
}

// NewClient creates a Google Sheets client. Credentials fall back to the
// GOOGLE_SHEETS_CREDENTIALS environment variable (inline JSON or file path).
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID not set")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}

	clientOpts, err := credentialOptions(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gsheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheetName: cfg.SheetName}, nil
}

func credentialOptions(cfg Opts) ([]option.ClientOption, error) {
	if len(cfg.CredentialsJSON) > 0 {
		return []option.ClientOption{option.WithCredentialsJSON(cfg.CredentialsJSON)}, nil
	}
	if cfg.CredentialsFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, nil
	}
	creds := strings.TrimSpace(os.Getenv("GOOGLE_SHEETS_CREDENTIALS"))
	if creds == "" {
		return nil, fmt.Errorf("GOOGLE_SHEETS_CREDENTIALS not configured")
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}, nil
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}, nil
}

// Initialize ensures the sheet tab exists and carries the header row.
func (c *Client) Initialize(ctx context.Context) error {
	spreadsheet, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	exists := false
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == c.sheetName {
			exists = true
			break
		}
	}
	if !exists {
		req := &gsheets.BatchUpdateSpreadsheetRequest{
			Requests: []*gsheets.Request{{
				AddSheet: &gsheets.AddSheetRequest{
					Properties: &gsheets.SheetProperties{Title: c.sheetName},
				},
			}},
		}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", c.sheetName, err)
		}
		slog.Info("Sheet created", "sheetName", c.sheetName)
	}

	headerRange := fmt.Sprintf("%s!A1:AB1", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read header row: %w", err)
	}
	if len(resp.Values) == 0 {
		header := make([]interface{}, len(sheetHeaders))
		for i, h := range sheetHeaders {
			header[i] = h
		}
		vr := &gsheets.ValueRange{Values: [][]interface{}{header}}
		_, err := c.svc.Spreadsheets.Values.
			Update(c.spreadsheetID, fmt.Sprintf("%s!A1", c.sheetName), vr).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to write header row: %w", err)
		}
		slog.Info("Sheet headers written", "sheetName", c.sheetName)
	}
	return nil
}

// contextToRow flattens a session into the fixed column order.
func contextToRow(conv *models.ConversationContext) []interface{} {
	row := make([]interface{}, len(rowKeys))
	for i, key := range rowKeys {
		row[i] = conv.Normalized(key)
	}
	return row
}

// findRowByEmail scans the EMAIL column for a case-insensitive match and
// returns the 1-based row number, or 0 when absent.
func (c *Client) findRowByEmail(ctx context.Context, email string) (int, error) {
	resp, err := c.svc.Spreadsheets.Values.
		Get(c.spreadsheetID, fmt.Sprintf("%s!C:C", c.sheetName)).
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to read email column: %w", err)
	}
	lowered := strings.ToLower(email)
	for i, row := range resp.Values {
		if i == 0 || len(row) == 0 {
			continue
		}
		cell, ok := row[0].(string)
		if ok && strings.ToLower(cell) == lowered {
			return i + 1, nil
		}
	}
	return 0, nil
}

// Upsert writes the session's row, updating an existing row for the same
// email or appending a new one. Sessions without both email and phone are
// skipped: there is nothing useful to mirror yet.
func (c *Client) Upsert(ctx context.Context, conv *models.ConversationContext) error {
	email := conv.Email()
	phone := conv.Normalized(models.KeyTelefono)
	if email == "" || phone == "" {
		slog.Debug("Base contact data incomplete, skipping sheet upsert", "sessionID", conv.SessionID)
		return nil
	}

	vr := &gsheets.ValueRange{Values: [][]interface{}{contextToRow(conv)}}

	rowNum, err := c.findRowByEmail(ctx, email)
	if err != nil {
		return err
	}

	if rowNum > 0 {
		_, err := c.svc.Spreadsheets.Values.
			Update(c.spreadsheetID, fmt.Sprintf("%s!A%d", c.sheetName, rowNum), vr).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to update sheet row %d: %w", rowNum, err)
		}
		slog.Info("Sheet row updated", "sessionID", conv.SessionID, "row", rowNum, "state", conv.CurrentState)
		return nil
	}

	_, err = c.svc.Spreadsheets.Values.
		Append(c.spreadsheetID, fmt.Sprintf("%s!A:AB", c.sheetName), vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append sheet row: %w", err)
	}
	slog.Info("Sheet row appended", "sessionID", conv.SessionID, "state", conv.CurrentState)
	return nil
}
