package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"marketplace-responder/backend/pkg/logger"
	"marketplace-responder/backend/pkg/resilience"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check represents a health check function
type Check func(ctx context.Context) (Status, string, error)

// Pinger is anything with a connectivity probe, such as a Redis client wrapper
type Pinger interface {
	Ping(ctx context.Context) error
}

type registration struct {
	check    Check
	critical bool
}

// Checker manages health checks for the system
type Checker struct {
	checks       map[string]registration
	components   map[string]*Component
	checkPeriod  time.Duration
	checkTimeout time.Duration
	listeners    []func(healthy bool)
	mutex        sync.RWMutex
	log          *logger.Logger
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	if log == nil {
		log = logger.Nop()
	}
	if checkPeriod <= 0 {
		checkPeriod = 30 * time.Second
	}
	checker := &Checker{
		checks:       make(map[string]registration),
		components:   make(map[string]*Component),
		checkPeriod:  checkPeriod,
		checkTimeout: 5 * time.Second,
		log:          log.With("component", "health"),
	}

	checker.RegisterCheck("self", func(context.Context) (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})

	return checker
}

// RegisterCheck registers a check whose failure only degrades the service
func (c *Checker) RegisterCheck(name string, check Check) {
	c.register(name, check, false)
}

// RegisterCriticalCheck registers a check whose failure makes the service unhealthy
func (c *Checker) RegisterCriticalCheck(name string, check Check) {
	c.register(name, check, true)
}

func (c *Checker) register(name string, check Check, critical bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = registration{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "Not checked yet",
	}
}

// OnUpdate registers fn to be called with the overall verdict after every round of checks
func (c *Checker) OnUpdate(fn func(healthy bool)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.listeners = append(c.listeners, fn)
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, reg := range c.checks {
		checks[name] = reg
	}
	c.mutex.RUnlock()

	results := make(map[string]Component, len(checks))
	for name, reg := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
		status, description, err := reg.check(checkCtx)
		cancel()

		result := Component{
			Name:        name,
			Status:      status,
			Critical:    reg.critical,
			Description: description,
			LastChecked: time.Now(),
		}
		if err != nil {
			result.Error = err.Error()
			c.log.Error("Health check failed", "check", name, "status", string(status), "error", err.Error())
		} else {
			c.log.Debug("Health check completed", "check", name, "status", string(status))
		}
		results[name] = result
	}

	c.mutex.Lock()
	for name, result := range results {
		if _, ok := c.components[name]; ok {
			r := result
			c.components[name] = &r
		}
	}
	listeners := append([]func(bool){}, c.listeners...)
	c.mutex.Unlock()

	healthy := c.IsSystemHealthy()
	for _, fn := range listeners {
		fn(healthy)
	}
}

// Start runs the checks immediately and then every check period until ctx is done
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunChecks(ctx)
			}
		}
	}()
}

// GetStatus returns the current health status
func (c *Checker) GetStatus() map[string]*Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for k, v := range c.components {
		componentCopy := *v
		result[k] = &componentCopy
	}

	return result
}

// IsSystemHealthy returns true if no critical component is down
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}
	return true
}

// Overall folds the components into one status
func (c *Checker) Overall() Status {
	if !c.IsSystemHealthy() {
		return StatusDown
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for _, component := range c.components {
		if component.Status != StatusUp {
			return StatusDegraded
		}
	}
	return StatusUp
}

// HTTPHandler returns an HTTP handler for health checks
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.GetStatus()
		names := make([]string, 0, len(status))
		for name := range status {
			names = append(names, name)
		}
		sort.Strings(names)
		components := make([]*Component, 0, len(names))
		for _, name := range names {
			components = append(components, status[name])
		}

		w.Header().Set("Content-Type", "application/json")

		if !c.IsSystemHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		response := map[string]any{
			"status":     c.Overall(),
			"timestamp":  time.Now(),
			"components": components,
		}

		if err := json.NewEncoder(w).Encode(response); err != nil {
			c.log.Error("Failed to encode health check response", "error", err.Error())
		}
	}
}

// RegisterDatabaseCheck registers a critical database check
func (c *Checker) RegisterDatabaseCheck(checkFunc func(ctx context.Context) error) {
	c.RegisterCriticalCheck("database", func(ctx context.Context) (Status, string, error) {
		if err := checkFunc(ctx); err != nil {
			return StatusDown, "Database connection failed", err
		}
		return StatusUp, "Database connection is established", nil
	})
}

// RegisterRedisCheck registers a critical check on the sender context store
func (c *Checker) RegisterRedisCheck(p Pinger) {
	c.RegisterCriticalCheck("redis", func(ctx context.Context) (Status, string, error) {
		if err := p.Ping(ctx); err != nil {
			return StatusDown, "Redis is unreachable", err
		}
		return StatusUp, "Redis is reachable", nil
	})
}

// RegisterBreakerCheck reports an open circuit as degraded; replies then fall back to templates
func (c *Checker) RegisterBreakerCheck(name string, state func() resilience.CircuitBreakerState) {
	c.RegisterCheck(name, func(context.Context) (Status, string, error) {
		switch s := state(); s {
		case resilience.StateOpen:
			return StatusDegraded, "Circuit is open, calls are short-circuited", nil
		case resilience.StateHalfOpen:
			return StatusDegraded, "Circuit is probing", nil
		default:
			return StatusUp, fmt.Sprintf("Circuit is %s", s), nil
		}
	})
}
