package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/surgutroads/roadwatch/internal/export"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/session"
)

type sessionHandler struct {
	store    *session.Store
	exporter *export.Exporter
	logger   log.Logger
}

func newSessionHandler(store *session.Store, exporter *export.Exporter, logger log.Logger) *sessionHandler {
	return &sessionHandler{store: store, exporter: exporter, logger: logger}
}

func (h *sessionHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sessions", h.list)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.delete)
	mux.HandleFunc("DELETE /api/v1/sessions", h.clearAll)
	mux.HandleFunc("GET /api/v1/sessions/{id}/export", h.export)
}

// sessionSummary is the list form: no message bodies.
type sessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, sessionSummary{
			ID:        s.ID,
			Title:     s.Title,
			Messages:  len(s.Messages),
			CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": summaries,
		"total":    len(summaries),
	})
}

func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to get session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// delete removes a session. Deleting an unknown id is a success, same
// as the store's contract.
func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.logger.Error("failed to delete session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *sessionHandler) clearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearAll(r.Context()); err != nil {
		h.logger.Error("failed to clear sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear sessions")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// export renders the session as a PDF document or, with ?format=text,
// a plain transcript.
func (h *sessionHandler) export(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to get session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "pdf":
		data, err := h.exporter.RenderPDF(r.Context(), sess)
		if err != nil {
			h.logger.Error("pdf export failed", "session_id", sess.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "export failed")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.ID+".pdf"))
		_, _ = w.Write(data)
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(export.Transcript(sess)))
	default:
		writeError(w, http.StatusBadRequest, "unknown export format: "+format)
	}
}
