package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/roach88/intake/internal/submission"
)

// Request headers of the submission endpoint.
const (
	SubmissionIdentifierHeader = "X-Device-Database-Submission-Identifier"
	userAgentPrefix            = "home-assistant/"
)

// SubmissionPath receives device database submissions.
const SubmissionPath = "/api/v1/snapshot/1"

// maxSubmissionBytes bounds a submission body.
const maxSubmissionBytes = 16 << 20

// SubmissionAPI accepts submissions from Home Assistant installations.
type SubmissionAPI struct {
	svc *submission.Service
	log *slog.Logger
}

// NewSubmissionAPI creates a SubmissionAPI storing through svc.
func NewSubmissionAPI(svc *submission.Service) *SubmissionAPI {
	return &SubmissionAPI{svc: svc, log: slog.With("component", "web")}
}

// Register implements API.
func (h *SubmissionAPI) Register(router *mux.Router) {
	router.Path(SubmissionPath).Methods(http.MethodPost).HandlerFunc(h.Submit)
}

// Submit ingests the body and answers with the identifier of the
// installation's next submission.
func (h *SubmissionAPI) Submit(w http.ResponseWriter, r *http.Request) {
	agent := r.Header.Get("User-Agent")
	version, ok := strings.CutPrefix(agent, userAgentPrefix)
	if !ok || version == "" {
		writeJSON(w, http.StatusBadRequest, problem{
			Kind:    "invalid-user-agent",
			Message: "user agent must be home-assistant/<version>",
		})
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxSubmissionBytes)
	next, err := h.svc.Submit(r.Context(), r.Header.Get(SubmissionIdentifierHeader), version, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, struct {
			SubmissionIdentifier string `json:"submission_identifier"`
		}{next})
	case errors.Is(err, submission.ErrInvalidIdentifier):
		writeJSON(w, http.StatusBadRequest, problem{
			Kind:    "invalid-submission-identifier",
			Message: "invalid submission identifier",
		})
	case errors.Is(err, submission.ErrReused):
		writeJSON(w, http.StatusBadRequest, problem{
			Kind:    "invalid-submission-identifier",
			Message: "reuse of expired submission identifier",
		})
	case errors.Is(err, submission.ErrMalformedSubmission):
		writeJSON(w, http.StatusBadRequest, problem{
			Kind:    "malformed-submission",
			Message: "malformed submission",
		})
	default:
		h.log.Error("submission failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, problem{
			Kind:    "internal",
			Message: "submission failed",
		})
	}
}
