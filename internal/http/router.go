// Package http wires the service's REST and relay routes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"speech-to-notion/internal/app"
	"speech-to-notion/internal/models"
	"speech-to-notion/internal/observability/logging"
	"speech-to-notion/internal/schema"
	"speech-to-notion/internal/service/stt"
	"speech-to-notion/internal/store"
)

const requestTimeout = 60 * time.Second

// AccessChecker resolves destination urls and verifies access.
type AccessChecker interface {
	ResolveTarget(rawURL string) (models.Target, error)
	VerifyAccess(ctx context.Context, target models.Target) error
}

// Deps are the components behind the routes. Transcription may be nil when
// the configured provider has no batch API.
type Deps struct {
	App           *app.Application
	Relay         http.Handler
	Documents     AccessChecker
	Transcription stt.BatchClient
	Cursors       store.CursorStore
	Ready         func() bool
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"status": "ok"}
		if deps.App != nil {
			body["uptime"] = deps.App.Uptime().Round(time.Second).String()
		}
		writeJSON(w, http.StatusOK, body)
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Ready != nil && !deps.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	// The relay socket is long-lived and must not get the request timeout.
	if deps.Relay != nil {
		r.Handle("/v1/relay", deps.Relay)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		h := &handlers{deps: deps}
		r.Post("/notion/check-access", h.checkAccess)
		r.Get("/sessions/{id}/cursor", h.sessionCursor)

		r.Route("/gladia", func(r chi.Router) {
			r.Use(h.requireTranscription)
			r.Post("/audio", h.uploadAudio)
			r.Post("/transcription", h.submitJob)
			r.Get("/transcription/{id}", h.pollJob)
		})
	})

	return r
}

type handlers struct {
	deps Deps
}

type checkAccessRequest struct {
	NotionURL string `json:"notion_url"`
}

type errorBody struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (h *handlers) checkAccess(w http.ResponseWriter, r *http.Request) {
	var req checkAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NotionURL == "" {
		writeError(w, http.StatusBadRequest, "notion_url is required")
		return
	}
	target, err := h.deps.Documents.ResolveTarget(req.NotionURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.Documents.VerifyAccess(r.Context(), target); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	blockID := target.AnchorID
	if blockID == "" {
		blockID = target.PageID
	}
	writeJSON(w, http.StatusOK, map[string]string{"block_id": blockID})
}

func (h *handlers) sessionCursor(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cursors == nil {
		writeError(w, http.StatusNotFound, store.ErrNotFound.Error())
		return
	}
	c, err := h.deps.Cursors.LoadCursor(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) requireTranscription(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Transcription == nil {
			writeError(w, http.StatusNotImplemented, "batch transcription not available for this provider")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) uploadAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, schema.MaxAudioBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil || len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "empty or unreadable audio file")
		return
	}
	upload, err := h.deps.Transcription.UploadAudio(r.Context(), audio, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

func (h *handlers) submitJob(w http.ResponseWriter, r *http.Request) {
	var req models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AudioURL == "" {
		writeError(w, http.StatusBadRequest, "audio_url is required")
		return
	}
	ref, err := h.deps.Transcription.SubmitJob(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (h *handlers) pollJob(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Transcription.PollJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Status: "error", Error: msg})
}

func requestLogger(next http.Handler) http.Handler {
	logger := logging.WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("requestId", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
