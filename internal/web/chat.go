package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/surgutroads/roadwatch/internal/chat"
	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/session"
)

type chatHandler struct {
	chat   *chat.Chat
	logger log.Logger
}

func newChatHandler(c *chat.Chat, logger log.Logger) *chatHandler {
	return &chatHandler{chat: c, logger: logger}
}

func (h *chatHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/chat/stream", h.stream)
}

// chatRequest is the streaming endpoint's body. An empty sessionId
// starts a new session whose id arrives in the terminal done event.
type chatRequest struct {
	SessionID           string `json:"sessionId,omitempty"`
	Text                string `json:"text"`
	SuggestedCapability string `json:"suggestedCapability,omitempty"`
}

// stream runs one turn and relays its events as server-sent events
// named after the event kind. Errors after the stream opens arrive as
// an "error" event; the partial output already sent stands.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var wroteHeader bool
	send := func(ev chat.Event) error {
		if !wroteHeader {
			w.WriteHeader(http.StatusOK)
			wroteHeader = true
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	turn := chat.TurnRequest{Text: req.Text, SuggestedCapability: req.SuggestedCapability}
	_, err := h.chat.HandleTurn(r.Context(), req.SessionID, turn,
		func(_ context.Context, ev chat.Event) error { return send(ev) })
	if err == nil {
		return
	}

	// Failures before any event can still use a plain status.
	if !wroteHeader {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "message text is required")
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		default:
			h.logger.Error("chat turn failed", "error", err)
			writeError(w, http.StatusInternalServerError, "chat turn failed")
		}
		return
	}

	// Mid-stream failure: the chat layer already emitted the terminal
	// error event through the callback.
	h.logger.Warn("chat stream ended with error", "error", err)
}
