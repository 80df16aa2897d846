package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthLevel represents the current health of a dependency.
type HealthLevel int

const (
	LevelHealthy HealthLevel = iota
	LevelDegraded
	LevelDown
)

func (l HealthLevel) String() string {
	switch l {
	case LevelHealthy:
		return "healthy"
	case LevelDegraded:
		return "degraded"
	case LevelDown:
		return "down"
	default:
		return "unknown"
	}
}

// HealthCheckFunc probes a dependency within the given context.
type HealthCheckFunc func(ctx context.Context) error

// ServiceHealth is the tracked status of one dependency.
type ServiceHealth struct {
	ServiceName   string      `json:"service_name"`
	Level         HealthLevel `json:"level"`
	Status        string      `json:"status"`
	ConsecutiveOK int         `json:"consecutive_ok"`
	Failures      int         `json:"consecutive_failures"`
	LastError     string      `json:"last_error,omitempty"`
	LastChecked   time.Time   `json:"last_checked"`
}

// HealthConfig controls the check loop and the failure thresholds.
type HealthConfig struct {
	CheckInterval     time.Duration `json:"check_interval"`
	CheckTimeout      time.Duration `json:"check_timeout"`
	DegradedThreshold int           `json:"degraded_threshold"` // consecutive failures
	DownThreshold     int           `json:"down_threshold"`
}

// DefaultHealthConfig returns sensible defaults
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:     30 * time.Second,
		CheckTimeout:      5 * time.Second,
		DegradedThreshold: 1,
		DownThreshold:     3,
	}
}

// HealthRegistry tracks the dependencies the server needs and drives their
// periodic checks. The health endpoint reads from it.
type HealthRegistry struct {
	config HealthConfig

	mu       sync.RWMutex
	services map[string]*ServiceHealth
	checks   map[string]HealthCheckFunc
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry(config HealthConfig) *HealthRegistry {
	return &HealthRegistry{
		config:   config,
		services: make(map[string]*ServiceHealth),
		checks:   make(map[string]HealthCheckFunc),
	}
}

// Register adds a dependency and its probe.
func (hr *HealthRegistry) Register(name string, check HealthCheckFunc) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	hr.services[name] = &ServiceHealth{
		ServiceName: name,
		Level:       LevelHealthy,
		Status:      "healthy",
	}
	if check != nil {
		hr.checks[name] = check
	}

	slog.Info("Registered service health check", "service", name)
}

// RecordResult folds one probe result into the tracked status.
func (hr *HealthRegistry) RecordResult(name string, err error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	service, exists := hr.services[name]
	if !exists {
		return
	}

	service.LastChecked = time.Now().UTC()

	if err == nil {
		service.ConsecutiveOK++
		service.Failures = 0
		service.LastError = ""
		hr.setLevel(service, LevelHealthy)
		return
	}

	service.Failures++
	service.ConsecutiveOK = 0
	service.LastError = err.Error()

	switch {
	case service.Failures >= hr.config.DownThreshold:
		hr.setLevel(service, LevelDown)
	case service.Failures >= hr.config.DegradedThreshold:
		hr.setLevel(service, LevelDegraded)
	}
}

func (hr *HealthRegistry) setLevel(service *ServiceHealth, level HealthLevel) {
	if service.Level != level {
		slog.Warn("Service health level changed",
			"service", service.ServiceName,
			"old_level", service.Level.String(),
			"new_level", level.String(),
			"failures", service.Failures)
	}
	service.Level = level
	service.Status = level.String()
}

// Snapshot returns a copy of every tracked service.
func (hr *HealthRegistry) Snapshot() map[string]ServiceHealth {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	result := make(map[string]ServiceHealth, len(hr.services))
	for name, service := range hr.services {
		result[name] = *service
	}
	return result
}

// AnyDown reports whether any dependency is in the down state.
func (hr *HealthRegistry) AnyDown() bool {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	for _, service := range hr.services {
		if service.Level == LevelDown {
			return true
		}
	}
	return false
}

// Start runs the check loop until ctx is cancelled. Probes run immediately
// so the health endpoint has data before the first interval elapses.
func (hr *HealthRegistry) Start(ctx context.Context) {
	go func() {
		hr.runChecks(ctx)

		ticker := time.NewTicker(hr.config.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hr.runChecks(ctx)
			}
		}
	}()
}

func (hr *HealthRegistry) runChecks(ctx context.Context) {
	hr.mu.RLock()
	checks := make(map[string]HealthCheckFunc, len(hr.checks))
	for name, check := range hr.checks {
		checks[name] = check
	}
	hr.mu.RUnlock()

	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, hr.config.CheckTimeout)
		err := check(checkCtx)
		cancel()
		hr.RecordResult(name, err)
	}
}
