package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/bugsmith/internal/capability"
	"github.com/nidhogg/bugsmith/internal/docindex"
	"github.com/nidhogg/bugsmith/internal/input"
	"github.com/nidhogg/bugsmith/internal/workflow"
)

// SessionPurger deletes all workflows belonging to a session.
type SessionPurger interface {
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}

// DocIndexer ingests documentation pages into the search index.
type DocIndexer interface {
	Add(ctx context.Context, doc docindex.Document) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	buffers    *input.Manager
	executor   *workflow.Executor
	status     *workflow.StatusService
	store      workflow.Store
	purger     SessionPurger
	gateway    *capability.Gateway
	docs       DocIndexer
	uploadsDir string
	maxUpload  int64
	logger     *zap.Logger

	// consumeMu serializes suggestion consumption so concurrent requests
	// never lose a removal to a stale read-modify-write.
	consumeMu sync.Mutex
}

// NewHandler creates a new API handler. purger may be nil when the store
// has no session-scoped deletion; docs may be nil when no documentation
// index is configured.
func NewHandler(
	buffers *input.Manager,
	executor *workflow.Executor,
	status *workflow.StatusService,
	store workflow.Store,
	purger SessionPurger,
	gateway *capability.Gateway,
	docs DocIndexer,
	uploadsDir string,
	maxUploadMB int,
	logger *zap.Logger,
) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &Handler{
		buffers:    buffers,
		executor:   executor,
		status:     status,
		store:      store,
		purger:     purger,
		gateway:    gateway,
		docs:       docs,
		uploadsDir: uploadsDir,
		maxUpload:  int64(maxUploadMB) << 20,
		logger:     logger,
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/capabilities", h.listCapabilities)
		r.Post("/docs", h.addDocument)

		r.Route("/debug", func(r chi.Router) {
			r.Post("/inputs", h.addInput)
			r.Post("/upload", h.uploadInput)
			r.Get("/inputs/{sessionID}", h.listInputs)
			r.Post("/analyze", h.startAnalysis)
			r.Get("/workflows/{id}", h.getWorkflow)
			r.Get("/suggestions/{id}", h.getSuggestions)
			r.Post("/workflows/{id}/suggestions/{suggestionID}/apply", h.applySuggestion)
			r.Post("/workflows/{id}/suggestions/{suggestionID}/discard", h.discardSuggestion)
			r.Delete("/sessions/{sessionID}", h.deleteSession)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "bugsmith"})
}

func (h *Handler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gateway.List())
}

type addDocumentRequest struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

// addDocument ingests one documentation page into the vector index so the
// doc-retriever capability has something to search.
func (h *Handler) addDocument(w http.ResponseWriter, r *http.Request) {
	if h.docs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "documentation index is not configured"})
		return
	}
	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Title == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title and content are required"})
		return
	}

	doc := docindex.Document{
		ID:      uuid.NewString(),
		Title:   req.Title,
		URL:     req.URL,
		Source:  req.Source,
		Content: req.Content,
	}
	if err := h.docs.Add(r.Context(), doc); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.logger.Info("document indexed",
		zap.String("doc_id", doc.ID),
		zap.String("title", doc.Title))

	writeJSON(w, http.StatusCreated, map[string]string{"doc_id": doc.ID})
}

type addInputRequest struct {
	SessionID string            `json:"session_id"`
	Kind      string            `json:"kind"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) addInput(w http.ResponseWriter, r *http.Request) {
	var req addInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.SessionID == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id and content are required"})
		return
	}

	kind := input.Kind(req.Kind)
	if req.Kind == "" {
		kind = input.KindCode
	}
	if !kind.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown input kind %q", req.Kind)})
		return
	}

	id := h.buffers.Buffer(req.SessionID).Append(kind, req.Content, "", req.Metadata)
	writeJSON(w, http.StatusCreated, map[string]string{
		"input_id": id,
		"kind":     string(kind),
	})
}

func (h *Handler) uploadInput(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer file.Close()

	kind := input.DetectKind(header.Filename, header.Header.Get("Content-Type"))

	if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	dest := filepath.Join(h.uploadsDir, uuid.NewString()+"_"+filepath.Base(header.Filename))
	out, err := os.Create(dest)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		os.Remove(dest)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	id := h.buffers.Buffer(sessionID).Append(kind, "", dest, map[string]string{
		"filename":     header.Filename,
		"content_type": header.Header.Get("Content-Type"),
	})

	h.logger.Info("input uploaded",
		zap.String("session", sessionID),
		zap.String("input_id", id),
		zap.String("kind", string(kind)),
		zap.String("file", header.Filename))

	writeJSON(w, http.StatusCreated, map[string]string{
		"input_id": id,
		"kind":     string(kind),
	})
}

func (h *Handler) listInputs(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	b, ok := h.buffers.Lookup(sessionID)
	if !ok {
		writeJSON(w, http.StatusOK, []*input.DebugInput{})
		return
	}
	writeJSON(w, http.StatusOK, b.List())
}

type analyzeRequest struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}

	buf := h.buffers.Buffer(req.SessionID)
	inputs := buf.List()

	wf, err := h.executor.Start(r.Context(), req.SessionID, inputs)
	if err != nil {
		if errors.Is(err, workflow.ErrEmptyInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no inputs to analyze"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// The workflow holds its own snapshot; the buffer is free for the next
	// batch.
	buf.Clear()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"workflow_id": wf.ID,
		"status":      string(wf.Status),
		"task_count":  len(wf.Tasks),
	})
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.status.Status(r.Context(), id)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getSuggestions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.status.Suggestions(r.Context(), id)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) applySuggestion(w http.ResponseWriter, r *http.Request) {
	h.consumeSuggestion(w, r, "applied")
}

func (h *Handler) discardSuggestion(w http.ResponseWriter, r *http.Request) {
	h.consumeSuggestion(w, r, "discarded")
}

// consumeSuggestion removes one suggestion from a terminal workflow.
// Suggestions are immutable once compiled; applying and discarding differ
// only in what the client does with the returned suggestion.
func (h *Handler) consumeSuggestion(w http.ResponseWriter, r *http.Request, action string) {
	workflowID := chi.URLParam(r, "id")
	suggestionID := chi.URLParam(r, "suggestionID")

	h.consumeMu.Lock()
	defer h.consumeMu.Unlock()

	wf, err := h.store.Get(r.Context(), workflowID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if !wf.Status.Terminal() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "workflow is still analyzing"})
		return
	}

	idx := -1
	for i, s := range wf.Suggestions {
		if s.ID == suggestionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "suggestion not found"})
		return
	}

	consumed := wf.Suggestions[idx]
	wf.Suggestions = append(wf.Suggestions[:idx], wf.Suggestions[idx+1:]...)
	if err := h.store.Put(r.Context(), wf); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.logger.Info("suggestion consumed",
		zap.String("workflow_id", workflowID),
		zap.String("suggestion_id", suggestionID),
		zap.String("action", action))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"action":     action,
		"suggestion": consumed,
		"remaining":  len(wf.Suggestions),
	})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	dropped := h.buffers.Remove(sessionID)
	for _, in := range dropped {
		if in.IsFile() {
			if err := os.Remove(in.FileRef); err != nil && !os.IsNotExist(err) {
				h.logger.Warn("upload cleanup failed",
					zap.String("file", in.FileRef), zap.Error(err))
			}
		}
	}

	var purged int64
	if h.purger != nil {
		n, err := h.purger.DeleteBySession(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		purged = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":        sessionID,
		"inputs_dropped":    len(dropped),
		"workflows_deleted": purged,
	})
}

func writeWorkflowError(w http.ResponseWriter, err error) {
	if errors.Is(err, workflow.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "workflow not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
