package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vyrodovalexey/bearergate/internal/observability"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the service is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the service is degraded but operational.
	StatusDegraded Status = "degraded"
)

// DefaultCheckTimeout bounds one readiness evaluation.
const DefaultCheckTimeout = 5 * time.Second

// HealthResponse is the liveness response body.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the readiness response body.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check is the result of one named check.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc performs a single check.
type CheckFunc func(ctx context.Context) Check

// Checker runs registered readiness checks.
type Checker struct {
	version   string
	startTime time.Time
	timeout   time.Duration
	logger    observability.Logger
	metrics   *HealthMetrics

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates a health checker. A nil logger is replaced by a no-op.
func NewChecker(version string, logger observability.Logger) *Checker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Checker{
		version:   version,
		startTime: time.Now(),
		timeout:   DefaultCheckTimeout,
		logger:    logger,
		metrics:   GetHealthMetrics(),
		checks:    make(map[string]CheckFunc),
	}
}

// SetTimeout changes the readiness evaluation timeout. Non-positive values
// are ignored.
func (c *Checker) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// RegisterCheck registers or replaces a named check.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes a named check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Health returns the liveness status.
func (c *Checker) Health() HealthResponse {
	c.metrics.checksTotal.WithLabelValues("liveness").Inc()
	return HealthResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
}

// Readiness runs every registered check and folds the results.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	c.mu.RLock()
	timeout := c.timeout
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.metrics.checksTotal.WithLabelValues("readiness").Inc()

	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(names)),
		Timestamp: time.Now().UTC(),
	}

	for _, name := range names {
		check := checks[name](ctx)
		response.Checks[name] = check
		c.metrics.setStatus(name, check.Status)

		switch check.Status {
		case StatusUnhealthy:
			response.Status = StatusUnhealthy
			c.logger.Warn("readiness check failed",
				observability.String("check", name),
				observability.String("message", check.Message),
			)
		case StatusDegraded:
			if response.Status != StatusUnhealthy {
				response.Status = StatusDegraded
			}
		}
	}

	c.metrics.setStatus("overall", response.Status)
	return response
}
