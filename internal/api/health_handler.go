package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ignite/campaign-mailer/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// CheckFunc checks one dependency.
type CheckFunc func(ctx context.Context) error

type healthCheck struct {
	fn       CheckFunc
	critical bool
	timeout  time.Duration
	slow     time.Duration
}

// HealthChecker runs dependency checks for the health endpoints.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]healthCheck
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker with no checks.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: map[string]healthCheck{}, startTime: time.Now()}
}

// Add registers a check. A critical check that fails makes the service
// unhealthy; a non-critical one only degrades it.
func (hc *HealthChecker) Add(name string, critical bool, timeout time.Duration, fn CheckFunc) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = healthCheck{fn: fn, critical: critical, timeout: timeout, slow: timeout / 3}
}

const healthVersion = "1.0.0"

// HandleHealth returns the health of all components. The status field
// conveys health; the HTTP status is always 200.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks, overall := hc.run(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  overall,
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness always returns 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 503 when a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks, overall := hc.run(r.Context())
	ready := overall != "unhealthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) run(ctx context.Context) (map[string]ComponentCheck, string) {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]healthCheck, len(names))
	for i, name := range names {
		checks[i] = hc.checks[name]
	}
	hc.mu.RUnlock()

	results := make([]ComponentCheck, len(names))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = runCheck(ctx, checks[i])
		}(i)
	}
	wg.Wait()

	byName := make(map[string]ComponentCheck, len(names))
	overall := "healthy"
	for i, name := range names {
		byName[name] = results[i]
		switch {
		case results[i].Status == "down" && checks[i].critical:
			overall = "unhealthy"
		case results[i].Status != "up" && overall == "healthy":
			overall = "degraded"
		}
	}
	return byName, overall
}

func runCheck(ctx context.Context, c healthCheck) ComponentCheck {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.fn(pctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}
	if latency > c.slow {
		return ComponentCheck{
			Status:  "degraded",
			Latency: latency.String(),
			Message: fmt.Sprintf("slow response (%s)", latency),
		}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
