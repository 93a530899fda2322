package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/davrin/sqlmentor/internal/audit"
	"github.com/davrin/sqlmentor/internal/executor"
	"github.com/davrin/sqlmentor/internal/ingest"
	"github.com/davrin/sqlmentor/internal/loop"
	"github.com/davrin/sqlmentor/internal/memory"
	"github.com/davrin/sqlmentor/internal/schema"
	"github.com/davrin/sqlmentor/internal/validate"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch    *loop.Orchestrator
	store   memory.Store
	catalog *schema.Catalog
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(orch *loop.Orchestrator, store memory.Store, catalog *schema.Catalog, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, store: store, catalog: catalog, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/query", h.query)
		r.Post("/feedback", h.feedback)
		r.Get("/knowledge", h.listKnowledge)
		r.Get("/knowledge/history", h.knowledgeHistory)
		r.Get("/schema", h.getSchema)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "sqlmentor"})
}

type queryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

type queryResponse struct {
	*loop.Answer
	Error string `json:"error,omitempty"`
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	answer, err := h.orch.Ask(r.Context(), req.Question, req.SessionID)
	if err != nil {
		// The answer still carries the attempt id so feedback can target it.
		writeJSON(w, errorStatus(err), queryResponse{Answer: answer, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Answer: answer})
}

type feedbackRequest struct {
	Text      string `json:"text"`
	SourceID  string `json:"source_id,omitempty"`
	AttemptID string `json:"attempt_id,omitempty"`
	Supersede bool   `json:"supersede,omitempty"`
}

func (h *Handler) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	result, err := h.orch.ApplyFeedback(r.Context(), req.Text, req.SourceID, req.AttemptID, req.Supersede)
	if err != nil {
		writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listKnowledge(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ActiveItems(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(items),
		"items": items,
	})
}

func (h *Handler) knowledgeHistory(w http.ResponseWriter, r *http.Request) {
	kind := memory.Kind(r.URL.Query().Get("kind"))
	subject := r.URL.Query().Get("subject")
	if !kind.Valid() || strings.TrimSpace(subject) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind and subject are required"})
		return
	}

	items, err := h.store.History(r.Context(), memory.Key{Kind: kind, Subject: strings.ToLower(strings.TrimSpace(subject))})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(items),
		"items": items,
	})
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tables": h.catalog.Tables(),
	})
}

// errorStatus maps the loop's typed failures onto HTTP statuses.
func errorStatus(err error) int {
	var (
		parseErr    *ingest.ParseError
		conflictErr *memory.ConflictError
		unsafeErr   *validate.UnsafeStatementError
		schemaErr   *validate.SchemaMismatchError
		genErr      *loop.GenerationError
		timeoutErr  *executor.TimeoutError
		execErr     *executor.ExecError
	)
	switch {
	case errors.As(err, &parseErr), errors.As(err, &unsafeErr), errors.As(err, &schemaErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflictErr):
		return http.StatusConflict
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &genErr):
		return http.StatusBadGateway
	case errors.As(err, &execErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, audit.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
