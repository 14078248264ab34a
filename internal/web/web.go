// Package web exposes the service over HTTP.
//
// Each API registers its routes on a shared gorilla/mux router:
//
//	router := web.NewRouter()
//	web.NewSystemAPI(sup, db, codec, ttl).Register(router)
//	web.NewSubmissionAPI(svc).Register(router)
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// API is a group of routes.
type API interface {
	Register(router *mux.Router)
}

// NewRouter creates a router logging every request, with apis registered.
func NewRouter(apis ...API) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestLog)
	for _, api := range apis {
		api.Register(router)
	}
	return router
}

// problem is the body of client errors.
type problem struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "component", "web", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("request",
			"component", "web",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start))
	})
}
