package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parleyhq/parley/internal/ai"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/upload"
	apiTypes "github.com/parleyhq/parley/pkg/api"
)

// Handler routes REST requests and hands the chat socket off to a
// session per connection.
type Handler struct {
	store    store.ThreadStore
	streamer ai.Streamer
	uploads  *upload.Store
	registry *chat.Registry
	cfg      *config.Config
	log      zerolog.Logger
}

func NewHandler(st store.ThreadStore, streamer ai.Streamer, uploads *upload.Store, registry *chat.Registry, cfg *config.Config, log zerolog.Logger) *Handler {
	return &Handler{
		store:    st,
		streamer: streamer,
		uploads:  uploads,
		registry: registry,
		cfg:      cfg,
		log:      log,
	}
}

// Mount registers all routes on the provided router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws/chat", h.chatWebSocket)
	r.Get("/api/threads", h.listThreads)
	r.Get("/api/threads/{id}", h.getThread)
	r.Delete("/api/threads/{id}", h.deleteThread)
	r.Post("/api/upload", h.uploadImage)
	if h.uploads != nil {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.uploads.Dir()))))
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(apiTypes.HealthResponse{
		Status:      "ok",
		Connections: h.registry.Len(),
	})
}

func (h *Handler) listThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.store.ListThreads(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list threads", err.Error())
		return
	}

	summaries := make([]apiTypes.ThreadSummary, len(threads))
	for i, th := range threads {
		summaries[i] = threadToSummary(th)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(apiTypes.ThreadListResponse{Threads: summaries})
}

func (h *Handler) getThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	th, err := h.store.GetThread(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	msgs, err := h.store.GetHistory(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := apiTypes.ThreadResponse{ThreadSummary: threadToSummary(th)}
	resp.Messages = make([]apiTypes.Message, len(msgs))
	for i, m := range msgs {
		resp.Messages[i] = messageToResponse(m)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) deleteThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Cancel any live turn first so nothing commits into the thread
	// while it is being removed.
	h.registry.CancelThread(id)

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads not configured", "")
		return
	}

	f, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required", err.Error())
		return
	}
	defer f.Close()

	ref, err := h.uploads.Save(f)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrUnsupportedType):
			writeError(w, http.StatusUnsupportedMediaType, "unsupported image type", "")
		case errors.Is(err, upload.ErrTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large", "")
		default:
			writeError(w, http.StatusInternalServerError, "failed to store upload", err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(apiTypes.UploadResponse{Ref: ref})
}

// writeStoreError maps common store errors to HTTP responses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, "thread not found", "")
	case errors.Is(err, store.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "store unavailable", "")
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "")
	}
}

func generateID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func threadToSummary(th domain.Thread) apiTypes.ThreadSummary {
	return apiTypes.ThreadSummary{
		ID:        th.ID,
		Title:     th.Title,
		CreatedAt: th.CreatedAt,
		UpdatedAt: th.UpdatedAt,
	}
}

func messageToResponse(m domain.Message) apiTypes.Message {
	return apiTypes.Message{
		ID:        m.ID,
		Role:      string(m.Role),
		Text:      m.Text,
		ImageRef:  m.ImageRef,
		CreatedAt: m.CreatedAt,
	}
}

func writeError(w http.ResponseWriter, code int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := apiTypes.ErrorResponse{Error: message}
	if details != "" {
		resp.Details = details
	}
	_ = json.NewEncoder(w).Encode(resp)
}
