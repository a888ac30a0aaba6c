package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/surgutroads/roadwatch/internal/artifact"
	"github.com/surgutroads/roadwatch/internal/log"
)

type plotsHandler struct {
	artifacts *artifact.Client
	logger    log.Logger
}

func newPlotsHandler(a *artifact.Client, logger log.Logger) *plotsHandler {
	return &plotsHandler{artifacts: a, logger: logger}
}

func (h *plotsHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /plots/{path...}", h.serve)
}

// serve proxies one chart from the capability server's artifact host.
// Re-serving same-origin avoids mixed-content failures when the
// upstream host is plain HTTP. Responses are cacheable for an hour and
// openly cross-origin, matching the static-asset nature of the charts.
func (h *plotsHandler) serve(w http.ResponseWriter, r *http.Request) {
	data, err := h.artifacts.Fetch(r.Context(), r.PathValue("path"))
	if err != nil {
		var ue *artifact.UpstreamError
		if errors.As(err, &ue) {
			writeError(w, ue.Status, "Image not found")
			return
		}
		h.logger.Error("plot proxy error", "path", r.PathValue("path"), "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	_, _ = w.Write(data)
}
