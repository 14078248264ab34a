package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/intake/internal/ingress"
	"github.com/roach88/intake/internal/voucher"
)

// Snapshotter streams a consistent copy of the database.
// *store.Database implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context) (io.ReadCloser, error)
}

// HealthChecker reports whether the database answers.
// *supervisor.Supervisor implements it.
type HealthChecker interface {
	AssertHealthy(ctx context.Context) error
}

// SystemAPI serves health, metrics and database snapshots.
type SystemAPI struct {
	health   HealthChecker
	snapshot Snapshotter
	codec    *voucher.Codec
	ttl      time.Duration
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// NewSystemAPI creates a SystemAPI. Snapshot downloads need a
// database-snapshot voucher younger than ttl.
func NewSystemAPI(health HealthChecker, snapshot Snapshotter, codec *voucher.Codec, ttl time.Duration) *SystemAPI {
	return &SystemAPI{
		health:   health,
		snapshot: snapshot,
		codec:    codec,
		ttl:      ttl,
		gatherer: prometheus.DefaultGatherer,
		log:      slog.With("component", "web"),
	}
}

// Register implements API.
func (h *SystemAPI) Register(router *mux.Router) {
	router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(h.Health)
	router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	router.Path(ingress.DatabaseSnapshotPath).Methods(http.MethodGet).HandlerFunc(h.DatabaseSnapshot)
	router.Path(ingress.DatabaseSnapshotCachedPath).Methods(http.MethodGet).HandlerFunc(h.DatabaseSnapshotCached)
}

// Health answers 200 when a read and a write transaction both succeed.
func (h *SystemAPI) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.health.AssertHealthy(ctx); err != nil {
		h.log.Error("health check failed", "error", err)
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok\n")
}

// DatabaseSnapshot streams the database to holders of a fresh
// database-snapshot voucher.
func (h *SystemAPI) DatabaseSnapshot(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	h.stream(w, r)
}

// DatabaseSnapshotCached is DatabaseSnapshot with a long cache lifetime,
// for use behind a caching proxy keyed on the full URL.
func (h *SystemAPI) DatabaseSnapshotCached(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=86400")
	h.stream(w, r)
}

// authorize checks the voucher query parameter and answers 400 when it is
// missing or not a fresh database-snapshot voucher.
func (h *SystemAPI) authorize(w http.ResponseWriter, r *http.Request) bool {
	sealed := r.URL.Query().Get("voucher")
	if sealed == "" {
		http.Error(w, "missing voucher", http.StatusBadRequest)
		return false
	}

	_, err := voucher.Deserialize[voucher.None](h.codec, sealed, voucher.PurposeDatabaseSnapshot, h.ttl)
	switch {
	case errors.Is(err, voucher.ErrMalformed):
		http.Error(w, "malformed voucher", http.StatusBadRequest)
		return false
	case err != nil:
		http.Error(w, "invalid voucher", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *SystemAPI) stream(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.snapshot.Snapshot(r.Context())
	if err != nil {
		h.log.Error("snapshot unavailable", "error", err)
		http.Error(w, "snapshot unavailable", http.StatusInternalServerError)
		return
	}
	defer snapshot.Close()

	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", `attachment; filename="database.sqlite"`)

	start := time.Now()
	n, err := io.Copy(w, snapshot)
	if err != nil {
		h.log.Warn("snapshot stream aborted", "sent", humanize.Bytes(uint64(n)), "error", err)
		return
	}
	h.log.Info("snapshot sent", "size", humanize.Bytes(uint64(n)), "elapsed", time.Since(start))
}
