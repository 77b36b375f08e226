package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/copperline/internal/chat"
	convctx "github.com/nidhogg/copperline/internal/context"
	"github.com/nidhogg/copperline/internal/provider"
	"github.com/nidhogg/copperline/internal/store"
	"go.uber.org/zap"
)

// ConversationStore is the persistence surface the read-side handlers need.
type ConversationStore interface {
	Get(ctx context.Context, conversationID, userID string) (*convctx.Conversation, error)
	List(ctx context.Context, userID string) ([]*convctx.Conversation, error)
	Delete(ctx context.Context, conversationID, userID string) error
	UpdateTitle(ctx context.Context, conversationID, userID, title string) error
}

// ProviderRegistry persists provider toggles so they survive restarts. It
// is optional; a nil registry keeps toggles in memory only.
type ProviderRegistry interface {
	SetProviderEnabled(ctx context.Context, id string, enabled bool) error
}

// NoteIndexer adds note snippets to the retrieval index that feeds the
// RELEVANT NOTES prompt block. Optional; nil when running without Qdrant.
type NoteIndexer interface {
	Index(ctx context.Context, userID, content string, metadata map[string]string) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	chat     *chat.Service
	catalog  *provider.Catalog
	convs    ConversationStore
	registry ProviderRegistry
	notes    NoteIndexer
	logger   *zap.Logger
}

// NewHandler creates a new API handler. convs and registry may be nil when
// running without Postgres; notes may be nil when running without Qdrant.
func NewHandler(svc *chat.Service, catalog *provider.Catalog, convs ConversationStore, registry ProviderRegistry, notes NoteIndexer, logger *zap.Logger) *Handler {
	return &Handler{
		chat:     svc,
		catalog:  catalog,
		convs:    convs,
		registry: registry,
		notes:    notes,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Route("/chat", func(r chi.Router) {
			r.Get("/", h.listConversations)
			r.Post("/{conversationID}", h.streamChat)
			r.Get("/{conversationID}", h.getConversation)
			r.Delete("/{conversationID}", h.deleteConversation)
			r.Put("/{conversationID}/title", h.updateTitle)
			r.Get("/{conversationID}/debug", h.debugConversation)
		})

		r.Route("/ai", func(r chi.Router) {
			r.Get("/models", h.listModels)
			r.Get("/models/{name}", h.getModel)
			r.Get("/providers", h.listProviders)
			r.Post("/providers/toggle", h.toggleProvider)
			r.Post("/test", h.testProvider)
			r.Post("/notes", h.indexNote)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "copperline"})
}

// userID resolves the caller from the X-User-ID header. An empty value
// writes a 401 and returns false.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := r.Header.Get("X-User-ID")
	if uid == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "X-User-ID header is required"})
		return "", false
	}
	return uid, true
}

type chatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// streamChat answers one user message, writing the assistant's reply to the
// response as it arrives. Headers go out before the first chunk, so any
// failure after that point can only be logged.
func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "conversationID")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.WriteHeader(http.StatusOK)

	result, err := h.chat.HandleTurn(r.Context(), chat.TurnRequest{
		ConversationID: conversationID,
		UserID:         userID,
		Model:          req.Model,
		Text:           req.Message,
	}, func(chunk string) error {
		if _, werr := w.Write([]byte(chunk)); werr != nil {
			return werr
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		h.logger.Error("chat turn failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		return
	}
	if result.Interrupted {
		h.logger.Warn("chat stream interrupted",
			zap.String("conversation_id", conversationID),
			zap.String("provider", result.ProviderID))
	}
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if h.convs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "conversation store not configured"})
		return
	}
	convs, err := h.convs.List(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if convs == nil {
		convs = []*convctx.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": convs})
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if h.convs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "conversation store not configured"})
		return
	}
	conv, err := h.convs.Get(r.Context(), chi.URLParam(r, "conversationID"), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversation": conv})
}

func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if h.convs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "conversation store not configured"})
		return
	}
	err := h.convs.Delete(r.Context(), chi.URLParam(r, "conversationID"), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type titleRequest struct {
	Title string `json:"title"`
}

func (h *Handler) updateTitle(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if h.convs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "conversation store not configured"})
		return
	}
	var req titleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}
	err := h.convs.UpdateTitle(r.Context(), chi.URLParam(r, "conversationID"), userID, req.Title)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) debugConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	info, err := h.chat.Debug(r.Context(), chi.URLParam(r, "conversationID"), userID, r.URL.Query().Get("model"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type modelInfo struct {
	Name                   string `json:"name"`
	ProviderID             string `json:"provider_id"`
	Available              bool   `json:"available"`
	TokenCeiling           int    `json:"token_ceiling"`
	TokenThreshold         int    `json:"token_threshold"`
	SummarizationThreshold int    `json:"summarization_threshold"`
	AvailableTokens        int    `json:"available_tokens"`
}

func (h *Handler) modelInfo(name string) modelInfo {
	limits := provider.LimitsFor(name)
	info := modelInfo{
		Name:                   name,
		Available:              h.catalog.ModelAvailable(name),
		TokenCeiling:           limits.TokenCeiling,
		TokenThreshold:         limits.TokenThreshold,
		SummarizationThreshold: limits.SummarizationThreshold,
		AvailableTokens:        limits.AvailableTokens(),
	}
	if pid, err := h.catalog.ProviderFor(name); err == nil {
		info.ProviderID = pid
	}
	return info
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	names := h.catalog.Models()
	models := make([]modelInfo, 0, len(names))
	for _, name := range names {
		models = append(models, h.modelInfo(name))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":        models,
		"default_model": provider.DefaultModel,
	})
}

func (h *Handler) getModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.catalog.ModelAvailable(name) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "model not available"})
		return
	}
	info := h.modelInfo(name)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":     info,
		"fallbacks": h.catalog.RecommendedFallbacks(name),
	})
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": h.catalog.Descriptors()})
}

type toggleRequest struct {
	ProviderID string `json:"provider_id"`
	Enabled    bool   `json:"enabled"`
}

func (h *Handler) toggleProvider(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.ProviderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "provider_id is required"})
		return
	}
	if _, ok := h.catalog.Provider(req.ProviderID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "provider not found"})
		return
	}

	h.catalog.SetEnabled(req.ProviderID, req.Enabled)
	if h.registry != nil {
		if err := h.registry.SetProviderEnabled(r.Context(), req.ProviderID, req.Enabled); err != nil {
			h.logger.Warn("failed to persist provider toggle",
				zap.String("provider", req.ProviderID),
				zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider_id": req.ProviderID,
		"enabled":     req.Enabled,
	})
}

type testRequest struct {
	ProviderID string `json:"provider_id"`
}

func (h *Handler) testProvider(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	p, ok := h.catalog.Provider(req.ProviderID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "provider not found"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := p.HealthCheck(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"provider_id": req.ProviderID,
			"healthy":     false,
			"error":       err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider_id": req.ProviderID,
		"healthy":     true,
	})
}

type noteRequest struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// indexNote adds a note snippet to the retrieval index so later chat turns
// can surface it under RELEVANT NOTES.
func (h *Handler) indexNote(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if h.notes == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "note indexing not configured"})
		return
	}
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}
	if err := h.notes.Index(r.Context(), userID, req.Content, req.Metadata); err != nil {
		h.logger.Error("note indexing failed", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "indexed"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
