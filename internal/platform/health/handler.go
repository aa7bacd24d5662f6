// Package health serves liveness, readiness and status probes.
//
// Readiness fails when a required dependency is down. Optional dependencies
// only mark the instance degraded: the rate limiter fails open, so losing its
// counter store must not pull the instance out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"leadgate/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

const checkTimeout = 2 * time.Second

// Overall statuses.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// CheckFunc returns nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	fn       CheckFunc
	required bool
}

type Handler struct {
	startTime   time.Time
	environment string
	now         func() time.Time

	mu     sync.RWMutex
	checks map[string]check
}

func New(environment string) *Handler {
	return &Handler{
		startTime:   time.Now(),
		environment: environment,
		now:         time.Now,
		checks:      make(map[string]check),
	}
}

// RegisterCheck adds a required dependency. Re-registering a name replaces it.
func (h *Handler) RegisterCheck(name string, fn CheckFunc) {
	h.register(check{name: name, fn: fn, required: true})
}

// RegisterOptionalCheck adds a dependency whose failure degrades but does
// not fail readiness.
func (h *Handler) RegisterOptionalCheck(name string, fn CheckFunc) {
	h.register(check{name: name, fn: fn})
}

func (h *Handler) register(c check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[c.name] = c
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// CheckResult is one dependency's probe outcome.
type CheckResult struct {
	Status    string `json:"status"`
	Required  bool   `json:"required"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// HandleReadiness probes every dependency concurrently, each under its own
// timeout, and answers 503 only when a required one is down.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := h.snapshot()
	results := make([]CheckResult, len(checks))

	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.fn(ctx)
			results[i] = CheckResult{
				Status:    "up",
				Required:  c.required,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				results[i].Status = "down"
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	response := ReadinessResponse{Status: StatusReady, Checks: make(map[string]CheckResult, len(checks))}
	for i, c := range checks {
		res := results[i]
		response.Checks[c.name] = res
		if res.Status == "up" {
			continue
		}
		if c.required {
			response.Status = StatusNotReady
		} else if response.Status == StatusReady {
			response.Status = StatusDegraded
		}
	}

	code := http.StatusOK
	if response.Status == StatusNotReady {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, code, response)
}

func (h *Handler) snapshot() []check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]check, 0, len(h.checks))
	for _, c := range h.checks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Timestamp:     now.UTC().Format(time.RFC3339),
	})
}
