package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrDegraded marks a probe result that is working but impaired
var ErrDegraded = errors.New("degraded")

// Probe reports the state of one dependency. A nil error is healthy, an error
// wrapping ErrDegraded is degraded and anything else is unhealthy.
type Probe func(ctx context.Context) error

type check struct {
	name     string
	critical bool
	probe    Probe
}

// HealthChecker serves liveness and readiness endpoints over a set of probes.
// Only critical probes can make the service unhealthy; the others degrade it.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []check
	version string
	timeout time.Duration
}

// NewHealthChecker registers the database as a critical probe and Redis as a
// non-critical one. Either may be nil.
func NewHealthChecker(db *sql.DB, client *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{version: version, timeout: 5 * time.Second}
	if db != nil {
		h.AddCheck("database", true, DatabaseProbe(db))
	}
	if client != nil {
		h.AddCheck("redis", false, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	return h
}

// AddCheck registers a named probe
func (h *HealthChecker) AddCheck(name string, critical bool, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, critical: critical, probe: probe})
}

// DatabaseProbe pings db, runs a trivial query and reports an exhausted pool
// as degraded.
func DatabaseProbe(db *sql.DB) Probe {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return err
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return fmt.Errorf("%w: connection pool exhausted", ErrDegraded)
		}
		return nil
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Check runs every probe concurrently and folds the results
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]check(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]DependencyStatus, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run(ctx, c.probe)
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(checks)),
	}
	for i, c := range checks {
		res := results[i]
		status.Dependencies[c.name] = res

		switch {
		case res.Status == StatusUnhealthy && c.critical:
			status.Status = StatusUnhealthy
		case res.Status != StatusHealthy && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

func run(ctx context.Context, probe Probe) DependencyStatus {
	start := time.Now()
	err := probe(ctx)
	res := DependencyStatus{Status: StatusHealthy, Timestamp: start, Latency: time.Since(start)}
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		res.Status = StatusDegraded
		res.Message = err.Error()
	default:
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	return res
}

// Names lists the registered probes
func (h *HealthChecker) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

// Liveness returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when a critical probe fails
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
