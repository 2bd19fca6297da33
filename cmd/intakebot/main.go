package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/RisarcimentoMiteni/intakebot/internal/api"
	"github.com/RisarcimentoMiteni/intakebot/internal/export"
	"github.com/RisarcimentoMiteni/intakebot/internal/flow"
	"github.com/RisarcimentoMiteni/intakebot/internal/genai"
	"github.com/RisarcimentoMiteni/intakebot/internal/resilience"
	"github.com/RisarcimentoMiteni/intakebot/internal/scheduler"
	"github.com/RisarcimentoMiteni/intakebot/internal/sheets"
	"github.com/RisarcimentoMiteni/intakebot/internal/store"
	"github.com/RisarcimentoMiteni/intakebot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for intake bot state data
	DefaultStateDir = "/var/lib/intakebot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "intakebot.db"
	// DefaultExportDirName is the directory for backups and CSV exports
	DefaultExportDirName = "exports"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	genaiClient, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		slog.Error("Failed to initialize model client", "error", err)
		os.Exit(1)
	}

	// One breaker for both AI layers: a sustained model outage backs off
	// every session at once.
	breaker := resilience.NewCircuitBreaker(0, 0)
	interpreter := flow.NewInterpreter(genaiClient, breaker)
	personalizer := flow.NewPersonalizer(genaiClient, breaker)

	sheetsClient := buildSheetsClient(flags)
	var syncer flow.RecordSyncer
	if sheetsClient != nil {
		syncer = sheetsClient
	}

	controller := flow.NewController(st, interpreter, personalizer, syncer)

	exportDir := filepath.Join(*flags.stateDir, DefaultExportDirName)
	exporter := export.NewExporter(st, exportDir)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleMaintenance(exporter, *flags.backupCron, *flags.cleanupCron); err != nil {
		slog.Error("Failed to schedule maintenance jobs", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(controller, st, exporter, sheetsServer(sheetsClient), buildAPIOptions(flags)...)

	slog.Info("Bootstrapping intake bot", "addr", *flags.apiAddr, "sheets_enabled", sheetsClient != nil)
	if err := server.Run(); err != nil {
		slog.Error("Intake bot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Intake bot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	OpenAIKey       string
	OpenAIModel     string
	APIAddr         string
	AdminToken      string
	SpreadsheetID   string
	SheetName       string
	BackupCron      string
	CleanupCron     string
	RateLimitMax    int
	RateLimitWindow int
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	openaiModel   *string
	apiAddr       *string
	adminToken    *string
	spreadsheetID *string
	sheetName     *string
	backupCron    *string
	cleanupCron   *string
	rateMax       *int
	rateWindowSec *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("INTAKEBOT_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		APIAddr:         os.Getenv("API_ADDR"),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		SpreadsheetID:   os.Getenv("GOOGLE_SHEETS_SPREADSHEET_ID"),
		SheetName:       os.Getenv("GOOGLE_SHEETS_SHEET_NAME"),
		BackupCron:      os.Getenv("BACKUP_SCHEDULE"),
		CleanupCron:     os.Getenv("CLEANUP_SCHEDULE"),
		RateLimitMax:    util.ParseIntEnv("RATE_LIMIT_MAX_REQUESTS", api.DefaultRateLimitMax),
		RateLimitWindow: util.ParseIntEnv("RATE_LIMIT_WINDOW_SECONDS", int(api.DefaultRateLimitWindow/time.Second)),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No INTAKEBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Without a database URL, default to SQLite in the state directory.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"INTAKEBOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"ADMIN_TOKEN_SET", config.AdminToken != "",
		"GOOGLE_SHEETS_SPREADSHEET_ID_SET", config.SpreadsheetID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for intake bot data (overrides $INTAKEBOT_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN, PostgreSQL URL or SQLite file path (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:   flag.String("openai-model", config.OpenAIModel, "OpenAI model name (overrides $OPENAI_MODEL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		adminToken:    flag.String("admin-token", config.AdminToken, "bearer token for admin endpoints (overrides $ADMIN_TOKEN)"),
		spreadsheetID: flag.String("spreadsheet-id", config.SpreadsheetID, "Google Sheets spreadsheet ID (overrides $GOOGLE_SHEETS_SPREADSHEET_ID)"),
		sheetName:     flag.String("sheet-name", config.SheetName, "Google Sheets tab name (overrides $GOOGLE_SHEETS_SHEET_NAME)"),
		backupCron:    flag.String("backup-cron", config.BackupCron, "cron schedule for automatic backups (overrides $BACKUP_SCHEDULE)"),
		cleanupCron:   flag.String("cleanup-cron", config.CleanupCron, "cron schedule for session cleanup (overrides $CLEANUP_SCHEDULE)"),
		rateMax:       flag.Int("rate-limit-max", config.RateLimitMax, "max requests per rate limit window (overrides $RATE_LIMIT_MAX_REQUESTS)"),
		rateWindowSec: flag.Int("rate-limit-window", config.RateLimitWindow, "rate limit window in seconds (overrides $RATE_LIMIT_WINDOW_SECONDS)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"spreadsheetID_set", *flags.spreadsheetID != "")

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return os.MkdirAll(filepath.Join(*flags.stateDir, DefaultExportDirName), 0755)
}

// buildStore constructs the session store: PostgreSQL or SQLite behind a
// read-through cache.
func buildStore(flags Flags) (store.Store, error) {
	var backend store.Store
	var err error
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		backend, err = store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		backend, err = store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
	}
	if err != nil {
		return nil, err
	}
	return store.NewCachedStore(backend), nil
}

// buildGenAIOptions constructs model client configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildSheetsClient constructs the Google Sheets client, or nil when the
// integration is not configured.
func buildSheetsClient(flags Flags) *sheets.Client {
	if *flags.spreadsheetID == "" {
		slog.Info("Google Sheets not configured, record sync disabled")
		return nil
	}
	opts := []sheets.Option{sheets.WithSpreadsheetID(*flags.spreadsheetID)}
	if *flags.sheetName != "" {
		opts = append(opts, sheets.WithSheetName(*flags.sheetName))
	}
	client, err := sheets.NewClient(context.Background(), opts...)
	if err != nil {
		slog.Error("Failed to initialize Google Sheets client, record sync disabled", "error", err)
		return nil
	}
	return client
}

// sheetsServer adapts the concrete client to the API server's interface
// without passing a typed nil.
func sheetsServer(client *sheets.Client) api.SheetSyncer {
	if client == nil {
		return nil
	}
	return client
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.adminToken != "" {
		apiOpts = append(apiOpts, api.WithAdminToken(*flags.adminToken))
	}
	apiOpts = append(apiOpts, api.WithRateLimit(*flags.rateMax, time.Duration(*flags.rateWindowSec)*time.Second))
	return apiOpts
}
