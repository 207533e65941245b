package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/platform/httpx"
	"github.com/webber-shop/api/internal/repositories"
)

// BuildInfo identifies the running binary in health responses.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes. Healthz never touches
// dependencies; Readyz fans out to the configured health repository.
type HealthHandlers struct {
	build     BuildInfo
	readiness repositories.HealthRepository
	clock     func() time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by the probes.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthReadiness wires the dependency probe used by /readyz.
func WithHealthReadiness(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.readiness = repo
	}
}

// WithHealthClock overrides the time source, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers with sensible defaults.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		build: BuildInfo{StartedAt: time.Now().UTC()},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commit_sha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Healthz reports process liveness without touching any dependency.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock().UTC()
	payload := healthzResponse{
		Status:      string(domain.HealthStatusOK),
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Timestamp:   now.Format(time.RFC3339),
	}
	if !h.build.StartedAt.IsZero() {
		payload.Uptime = now.Sub(h.build.StartedAt).String()
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type readyzResponse struct {
	Status      string                        `json:"status"`
	Checks      map[string]readyzCheckPayload `json:"checks"`
	Details     []string                      `json:"details"`
	GeneratedAt string                        `json:"generated_at,omitempty"`
}

type readyzCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	CheckedAt string `json:"checked_at,omitempty"`
}

// Readyz probes the wired dependencies and reports aggregate readiness.
// Without a readiness repository it degrades to a plain liveness answer.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.readiness == nil {
		writeJSONResponse(w, http.StatusOK, readyzResponse{
			Status:  string(domain.HealthStatusOK),
			Checks:  map[string]readyzCheckPayload{},
			Details: []string{},
		})
		return
	}

	report, err := h.readiness.Collect(r.Context())
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("readiness_unavailable", "failed to collect dependency health", http.StatusServiceUnavailable))
		return
	}

	payload := readyzResponse{
		Status:      string(report.Status),
		Checks:      make(map[string]readyzCheckPayload, len(report.Checks)),
		Details:     []string{},
		GeneratedAt: formatTime(report.GeneratedAt),
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		check := report.Checks[name]
		payload.Checks[name] = readyzCheckPayload{
			Status:    string(check.Status),
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
		if check.Status != domain.HealthStatusOK && check.Error != "" {
			payload.Details = append(payload.Details, name+": "+check.Error)
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}
