// Package health runs named liveness checks, typically one per loaded unit.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds a check registered without an explicit timeout
const DefaultTimeout = 2 * time.Second

// Checker is a health check function
type Checker func(ctx context.Context) error

type namedChecker struct {
	checker Checker
	timeout time.Duration
}

// Registry holds the health checks of a process.
//
// Thread-safety: All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]namedChecker
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]namedChecker)}
}

// Register adds or replaces the check called name
func (r *Registry) Register(name string, checker Checker) {
	r.RegisterWithTimeout(name, checker, DefaultTimeout)
}

// RegisterWithTimeout is Register with a per-check timeout
func (r *Registry) RegisterWithTimeout(name string, checker Checker, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = namedChecker{checker: checker, timeout: timeout}
}

// Unregister removes a check
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// Names returns the registered check names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs all checks concurrently and returns the overall status with
// the per-check results. An empty registry is up.
func (r *Registry) Check(ctx context.Context) (Status, map[string]CheckResult) {
	r.mu.RLock()
	checkers := make(map[string]namedChecker, len(r.checkers))
	for k, v := range r.checkers {
		checkers[k] = v
	}
	r.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checkers))
	)
	for name, c := range checkers {
		wg.Add(1)
		go func(name string, c namedChecker) {
			defer wg.Done()
			res := runCheck(ctx, c)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()

	overall := StatusUp
	for _, res := range results {
		if res.Status == StatusDown {
			overall = StatusDown
			break
		}
	}
	return overall, results
}

func runCheck(ctx context.Context, c namedChecker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.checker(ctx)
	took := time.Since(start)
	if err != nil {
		return CheckResult{Status: StatusDown, Message: err.Error(), Duration: took}
	}
	return CheckResult{Status: StatusUp, Message: "OK", Duration: took}
}

// CheckResult is the outcome of one check
type CheckResult struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Status of a check or of the whole registry
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)
