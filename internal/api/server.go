// Package api provides the HTTP surface of the intake bot: the public
// message and session endpoints consumed by the chat frontend, a health
// probe, and token-protected admin endpoints for exports and maintenance.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/export"
	"github.com/RisarcimentoMiteni/intakebot/internal/flow"
	"github.com/RisarcimentoMiteni/intakebot/internal/models"
	"github.com/RisarcimentoMiteni/intakebot/internal/store"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Opts holds API server configuration.
type Opts struct {
	Addr            string
	AdminToken      string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAdminToken sets the bearer token guarding the admin endpoints.
// Without a token the admin endpoints reject every request.
func WithAdminToken(token string) Option {
	return func(o *Opts) { o.AdminToken = token }
}

// WithRateLimit overrides the per-client rate limit.
func WithRateLimit(max int, window time.Duration) Option {
	return func(o *Opts) {
		o.RateLimitMax = max
		o.RateLimitWindow = window
	}
}

// SheetSyncer is the slice of the sheet integration the admin surface
// uses: bulk re-sync and header initialization.
type SheetSyncer interface {
	Initialize(ctx context.Context) error
	flow.RecordSyncer
}

// Server wires the conversation controller, session store and maintenance
// helpers behind HTTP handlers.
type Server struct {
	controller *flow.Controller
	store      store.Store
	exporter   *export.Exporter
	sheets     SheetSyncer
	limiter    *RateLimiter

	addr       string
	adminToken string
}

// NewServer creates the API server. sheets may be nil when the spreadsheet
// integration is not configured.
func NewServer(controller *flow.Controller, st store.Store, exporter *export.Exporter, sheets SheetSyncer, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	return &Server{
		controller: controller,
		store:      st,
		exporter:   exporter,
		sheets:     sheets,
		limiter:    NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		addr:       cfg.Addr,
		adminToken: cfg.AdminToken,
	}
}

// Handler builds the routed handler with CORS applied to every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/message", s.messageHandler)
	mux.HandleFunc("/api/session", s.sessionHandler)
	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/admin/export", s.requireAdmin(s.adminExportHandler))
	mux.HandleFunc("/api/admin/backup", s.requireAdmin(s.adminBackupHandler))
	mux.HandleFunc("/api/admin/cleanup", s.requireAdmin(s.adminCleanupHandler))
	mux.HandleFunc("/api/admin/stats", s.requireAdmin(s.adminStatsHandler))
	mux.HandleFunc("/api/admin/sheets/init", s.requireAdmin(s.adminSheetsInitHandler))
	mux.HandleFunc("/api/admin/sheets/sync", s.requireAdmin(s.adminSheetsSyncHandler))
	return corsMiddleware(mux)
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// corsMiddleware allows the chat frontend to be served from any origin and
// answers preflight requests directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin guards admin endpoints with a constant-time bearer token
// comparison. An unset token disables the whole admin surface.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			slog.Warn("Server.requireAdmin: admin endpoints disabled, no token configured", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Admin endpoints are disabled"))
			return
		}
		auth := r.Header.Get("Authorization")
		expected := "Bearer " + s.adminToken
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			slog.Warn("Server.requireAdmin: unauthorized admin request", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
		next(w, r)
	}
}
