package resilience

import (
	"errors"
	"sync"
	"time"

	"marketplace-responder/backend/pkg/logger"
)

// ErrCircuitOpen is returned while the breaker short-circuits calls
var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreakerState represents the current state of a circuit breaker
type CircuitBreakerState string

const (
	// StateClosed means the circuit is closed and requests are allowed to pass through
	StateClosed CircuitBreakerState = "closed"
	// StateOpen means the circuit is open and requests are being short-circuited
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen means the circuit is allowing a limited number of test requests
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	RetryTimeout     time.Duration
	// IsFailure decides which errors count against the breaker; nil counts every error
	IsFailure func(error) bool
	Now       func() time.Time
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     60 * time.Second,
	}
}

// CircuitBreakerMetrics is a snapshot of breaker counters
type CircuitBreakerMetrics struct {
	Name             string              `json:"name"`
	State            CircuitBreakerState `json:"state"`
	TotalRequests    uint64              `json:"total_requests"`
	TotalFailures    uint64              `json:"total_failures"`
	TotalSuccesses   uint64              `json:"total_successes"`
	Rejected         uint64              `json:"rejected"`
	OpenCircuitCount uint64              `json:"open_circuit_count"`
	LastFailureTime  time.Time           `json:"last_failure_time"`
}

// CircuitBreaker implements the Circuit Breaker pattern
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	log *logger.Logger

	mutex           sync.Mutex
	state           CircuitBreakerState
	failureCount    uint
	successCount    uint
	inFlightProbe   bool
	nextAttemptTime time.Time
	metrics         CircuitBreakerMetrics
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CircuitBreaker{
		cfg:     cfg,
		log:     log,
		state:   StateClosed,
		metrics: CircuitBreakerMetrics{Name: cfg.Name},
	}
}

// Execute runs fn through the circuit breaker
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		cb.log.Warn("Circuit breaker preventing request", "name", cb.cfg.Name)
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)) {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return err
}

// allowRequest checks if a request should be allowed to proceed
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.cfg.Now().Before(cb.nextAttemptTime) {
			cb.metrics.Rejected++
			return false
		}
		cb.toHalfOpen()
		fallthrough

	case StateHalfOpen:
		if cb.inFlightProbe {
			cb.metrics.Rejected++
			return false
		}
		cb.inFlightProbe = true
	}

	cb.metrics.TotalRequests++
	return true
}

// recordSuccess records a successful request
func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.metrics.TotalSuccesses++

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.inFlightProbe = false
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.toClosed()
		}
	}
}

// recordFailure records a failed request
func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.metrics.TotalFailures++
	cb.metrics.LastFailureTime = cb.cfg.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.toOpen()
		}

	case StateHalfOpen:
		cb.inFlightProbe = false
		cb.toOpen()
	}
}

func (cb *CircuitBreaker) toOpen() {
	cb.state = StateOpen
	cb.metrics.OpenCircuitCount++
	cb.nextAttemptTime = cb.cfg.Now().Add(cb.cfg.RetryTimeout)

	cb.log.Warn("Circuit breaker opened",
		"name", cb.cfg.Name,
		"failures", cb.failureCount,
		"next_attempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.state = StateHalfOpen
	cb.successCount = 0
	cb.log.Info("Circuit breaker half-open", "name", cb.cfg.Name)
}

func (cb *CircuitBreaker) toClosed() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.log.Info("Circuit breaker closed", "name", cb.cfg.Name)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Metrics returns the current metrics of the circuit breaker
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	m := cb.metrics
	m.State = cb.state
	return m
}
