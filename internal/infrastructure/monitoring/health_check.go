package monitoring

import (
	"context"
	"sync"
	"time"
)

// HealthChecker aggregates named probes for the ops health endpoint.
type HealthChecker struct {
	mu     sync.RWMutex
	probes []probe
}

type probe struct {
	name    string
	timeout time.Duration
	check   func(ctx context.Context) error
}

// HealthStatus is the aggregate result of all probes.
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, timeout time.Duration, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, probe{name: name, timeout: timeout, check: check})
}

// CheckAll runs every probe with its own timeout. One failing probe marks
// the whole status unhealthy.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	probes := make([]probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(probes)),
	}

	for _, p := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.check(probeCtx)
		cancel()

		if err != nil {
			status.Healthy = false
			status.Checks[p.name] = err.Error()
		} else {
			status.Checks[p.name] = "ok"
		}
	}
	return status
}
