package web

import (
	"net/http"

	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/session"
)

type healthHandler struct {
	store  *session.Store
	logger log.Logger
}

func newHealthHandler(store *session.Store, logger log.Logger) *healthHandler {
	return &healthHandler{store: store, logger: logger}
}

func (h *healthHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.liveness)
	mux.HandleFunc("GET /readyz", h.readiness)
}

func (h *healthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness checks that the session store answers. The capability
// server is deliberately not part of readiness: the app degrades to
// text-only answers without it.
func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "session store not configured", http.StatusServiceUnavailable)
		return
	}
	if _, err := h.store.List(r.Context()); err != nil {
		h.logger.Error("readiness check failed", "error", err)
		http.Error(w, "session store not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
