package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/surgutroads/roadwatch/internal/log"
	"github.com/surgutroads/roadwatch/internal/notify"
)

type emailHandler struct {
	mailer *notify.Mailer
	logger log.Logger
}

func newEmailHandler(m *notify.Mailer, logger log.Logger) *emailHandler {
	return &emailHandler{mailer: m, logger: logger}
}

func (h *emailHandler) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/settings/email", h.subscribe)
}

type emailRequest struct {
	Email string `json:"email"`
}

// subscribe validates the address and triggers the welcome email.
// Without SMTP credentials the subscription still succeeds; the
// response message says the mail was skipped.
func (h *emailHandler) subscribe(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Email обязателен")
		return
	}

	res, err := h.mailer.SendWelcome(r.Context(), req.Email)
	if err != nil {
		var ve *notify.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Msg)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": res.Message,
	})
}
