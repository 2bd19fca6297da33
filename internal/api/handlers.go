package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/export"
	"github.com/RisarcimentoMiteni/intakebot/internal/flow"
	"github.com/RisarcimentoMiteni/intakebot/internal/models"
	"github.com/RisarcimentoMiteni/intakebot/internal/util"
)

const rateLimitedMessage = "Troppe richieste. Per favore riprova tra qualche secondo."

// messageHandler processes one conversation turn. A request without a
// session ID starts a new session; a request without a user message returns
// the current state's canonical opening question.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.messageHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	res := s.limiter.Check(clientIdentifier(r))
	s.limiter.addRateLimitHeaders(w.Header(), res)
	if res.limited {
		writeJSONResponse(w, http.StatusTooManyRequests, models.Error(rateLimitedMessage))
		return
	}

	var req models.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = util.GenerateSessionID()
		slog.Info("Server.messageHandler: new session created", "sessionID", sessionID)
	}

	conv, err := s.store.GetSession(sessionID)
	if err != nil {
		slog.Error("Server.messageHandler: session lookup failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if conv == nil {
		conv, err = s.store.CreateSession(sessionID)
		if err != nil {
			slog.Error("Server.messageHandler: session creation failed", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
			return
		}
	}

	userMessage := strings.TrimSpace(req.UserMessage)

	// First contact: greet with the canonical question of the current state.
	if userMessage == "" {
		node, err := flow.GetNode(conv.CurrentState)
		if err != nil {
			slog.Error("Server.messageHandler: unknown state", "error", err, "sessionID", sessionID, "state", conv.CurrentState)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Invalid session state"))
			return
		}
		conv.AppendBot(node.Question)
		if err := s.store.SaveSession(conv); err != nil {
			slog.Error("Server.messageHandler: failed to persist first question", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save session"))
			return
		}
		slog.Info("Server.messageHandler: first interaction started", "sessionID", sessionID, "state", conv.CurrentState)
		writeJSONResponse(w, http.StatusOK, models.MessageResponse{
			SessionID:   sessionID,
			BotMessages: []string{node.Question},
			Done:        false,
		})
		return
	}

	result, err := s.controller.HandleTurn(r.Context(), conv, userMessage)
	if err != nil {
		slog.Error("Server.messageHandler: turn failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError,
			models.Error("Errore interno nel server. Se vuoi lasciami il tuo numero e ti richiamiamo."))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.MessageResponse{
		SessionID:   sessionID,
		BotMessages: result.BotMessages,
		Done:        result.Done,
	})
}

// sessionHandler returns the full session for a sessionId query parameter,
// letting the frontend restore the chat transcript on reload.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing sessionId parameter"))
		return
	}

	conv, err := s.store.GetSession(sessionID)
	if err != nil {
		slog.Error("Server.sessionHandler: session lookup failed", "error", err, "sessionID", sessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// healthHandler is a liveness probe.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", map[string]interface{}{
		"time": time.Now().UTC().Format(time.RFC3339),
	}))
}

func (s *Server) adminExportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path, err := s.exporter.ExportCSV()
	if err != nil {
		slog.Error("Server.adminExportHandler: export failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Export failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Export created", map[string]string{"path": path}))
}

func (s *Server) adminBackupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path, err := s.exporter.Backup()
	if err != nil {
		slog.Error("Server.adminBackupHandler: backup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Backup failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Backup created", map[string]string{"path": path}))
}

func (s *Server) adminCleanupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	maxAge := export.DefaultRetention
	if days := r.URL.Query().Get("days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid days parameter"))
			return
		}
		maxAge = time.Duration(n) * 24 * time.Hour
	}

	deleted, err := s.exporter.Cleanup(maxAge)
	if err != nil {
		slog.Error("Server.adminCleanupHandler: cleanup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Cleanup failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Cleanup completed", map[string]int{"deleted": deleted}))
}

func (s *Server) adminStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.store.SessionStats()
	if err != nil {
		slog.Error("Server.adminStatsHandler: stats failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute stats"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

func (s *Server) adminSheetsInitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.sheets == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Google Sheets not configured"))
		return
	}
	if err := s.sheets.Initialize(r.Context()); err != nil {
		slog.Error("Server.adminSheetsInitHandler: init failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Sheet initialization failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Sheet initialized", nil))
}

// adminSheetsSyncHandler re-syncs every stored session into the spreadsheet.
func (s *Server) adminSheetsSyncHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.sheets == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Google Sheets not configured"))
		return
	}

	ids, err := s.store.ListSessionIDs()
	if err != nil {
		slog.Error("Server.adminSheetsSyncHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sessions"))
		return
	}

	synced, failed := 0, 0
	for _, id := range ids {
		conv, err := s.store.GetSession(id)
		if err != nil || conv == nil {
			failed++
			continue
		}
		if err := s.sheets.Upsert(r.Context(), conv); err != nil {
			slog.Error("Server.adminSheetsSyncHandler: upsert failed", "error", err, "sessionID", id)
			failed++
			continue
		}
		synced++
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Sync completed", map[string]int{
		"synced": synced,
		"failed": failed,
	}))
}
