package web

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/roach88/intake/internal/callback/slack"
)

// SlackCommandPath receives Slack slash commands.
const SlackCommandPath = "/api/v1/callback/vendor/slack/slash-command"

// maxSlackBytes bounds a slash-command body.
const maxSlackBytes = 64 << 10

// SlackAPI answers authenticated Slack slash commands.
type SlackAPI struct {
	callback *slack.Callback
	log      *slog.Logger
}

// NewSlackAPI creates a SlackAPI.
func NewSlackAPI(callback *slack.Callback) *SlackAPI {
	return &SlackAPI{callback: callback, log: slog.With("component", "web")}
}

// Register implements API.
func (h *SlackAPI) Register(router *mux.Router) {
	router.Path(SlackCommandPath).Methods(http.MethodPost).HandlerFunc(h.Command)
}

// Command verifies the request signature over the raw body before
// parsing the form.
func (h *SlackAPI) Command(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSlackBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	timestamp, err := strconv.ParseInt(r.Header.Get("X-Slack-Request-Timestamp"), 10, 64)
	if err != nil {
		http.Error(w, "invalid timestamp", http.StatusBadRequest)
		return
	}
	if verdict := h.callback.Genuine(timestamp, r.Header.Get("X-Slack-Signature"), body); verdict != slack.Genuine {
		h.log.Warn("rejected slack callback", "verdict", verdict)
		http.Error(w, verdict.String(), http.StatusUnauthorized)
		return
	}

	form, err := url.ParseQuery(string(bytes.TrimSpace(body)))
	if err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}

	resp, err := h.callback.Handle(form.Get("command"), form.Get("text"))
	if err != nil {
		h.log.Error("slack command failed", "command", form.Get("command"), "error", err)
		http.Error(w, "command failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
