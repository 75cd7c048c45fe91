// Package health reports liveness and the readiness of the engine's
// dependencies: the backend façade, the resource cache and the settlement
// archive.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// severity orders statuses so the worst check decides the overall status.
func (s Status) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	}
	return 0
}

type CheckResult struct {
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Critical   bool      `json:"critical"`
	Message    string    `json:"message,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CheckedAt  time.Time `json:"checked_at"`
}

type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is not ready as soon as one critical dependency is down.
// Non-critical failures only degrade it.
type ReadyResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type Checker func(ctx context.Context) CheckResult

type Config struct {
	Version string
	// Timeout bounds each check. Defaults to 5s.
	Timeout time.Duration
}

type Service struct {
	version string
	timeout time.Duration
	started time.Time
	log     *zap.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewService(config *Config, log *zap.Logger) *Service {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		version:  config.Version,
		timeout:  timeout,
		started:  time.Now(),
		log:      log,
		checkers: make(map[string]Checker),
	}
}

func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mu.Lock()
	s.checkers[name] = checker
	s.mu.Unlock()
	s.log.Info("Registered health checker", zap.String("name", name))
}

// Names lists the registered checks.
func (s *Service) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.checkers))
	for name := range s.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PingChecker turns a dependency ping into a check. A failing non-critical
// dependency reports degraded instead of unhealthy.
func PingChecker(name string, critical bool, ping func(ctx context.Context) error, log *zap.Logger) Checker {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		err := ping(ctx)

		result := CheckResult{
			Name:       name,
			Status:     StatusHealthy,
			Critical:   critical,
			DurationMs: time.Since(start).Milliseconds(),
			CheckedAt:  start,
		}
		if err == nil {
			return result
		}

		result.Message = err.Error()
		result.Status = StatusDegraded
		if critical {
			result.Status = StatusUnhealthy
		}
		log.Warn("Health check failed",
			zap.String("name", name),
			zap.Bool("critical", critical),
			zap.Error(err),
		)
		return result
	}
}

func (s *Service) Health(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Version:   s.version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Check runs the checker registered under name.
func (s *Service) Check(ctx context.Context, name string) (CheckResult, bool) {
	s.mu.RLock()
	checker, ok := s.checkers[name]
	s.mu.RUnlock()
	if !ok {
		return CheckResult{}, false
	}
	return s.run(ctx, checker), true
}

func (s *Service) run(ctx context.Context, checker Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return checker(ctx)
}

// Ready runs every check concurrently.
func (s *Service) Ready(ctx context.Context) *ReadyResponse {
	names := s.Names()
	results := make([]CheckResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i], _ = s.Check(ctx, name)
		}(i, name)
	}
	wg.Wait()

	resp := &ReadyResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(names)),
	}
	for i, name := range names {
		r := results[i]
		resp.Checks[name] = r
		if r.Status.severity() > resp.Status.severity() {
			resp.Status = r.Status
		}
	}
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

// Watch reports readiness once, then again every time it flips, until ctx
// is done.
func (s *Service) Watch(ctx context.Context, interval time.Duration, onChange func(ready bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	first := true
	var last bool
	for {
		if ready := s.Ready(ctx).Ready; first || ready != last {
			onChange(ready)
			first, last = false, ready
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
