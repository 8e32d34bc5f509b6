// Package spinner drains a callback queue with a fixed set of worker goroutines.
package spinner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/fluxorio/nodelet/pkg/callback"
	"github.com/fluxorio/nodelet/pkg/core"
)

var (
	ErrNilQueue           = &core.Error{Code: "INVALID_QUEUE", Message: "spinner queue cannot be nil"}
	ErrInvalidWorkerCount = &core.Error{Code: "INVALID_WORKER_COUNT", Message: "spinner worker count cannot be negative"}
	ErrAlreadyStarted     = &core.Error{Code: "SPINNER_ALREADY_STARTED", Message: "spinner has already been started"}
	ErrStopped            = &core.Error{Code: "SPINNER_STOPPED", Message: "spinner has been stopped"}
)

// disabledBackoff is how long a worker waits before re-polling a disabled queue
const disabledBackoff = 10 * time.Millisecond

// Option configures an AsyncSpinner
type Option func(*options)

type options struct {
	name        string
	logger      core.Logger
	pin         bool
	workerInit  func(id int) error
	interceptor callback.Interceptor
}

// WithName sets the name used in logs
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger
func WithLogger(l core.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithThreadPinning locks every worker goroutine to its own OS thread
func WithThreadPinning(pin bool) Option {
	return func(o *options) { o.pin = pin }
}

// WithWorkerInit runs fn on each worker before it starts draining the queue.
// An error from any worker aborts Start.
func WithWorkerInit(fn func(id int) error) Option {
	return func(o *options) { o.workerInit = fn }
}

// WithInterceptor wraps every callback execution
func WithInterceptor(ic callback.Interceptor) Option {
	return func(o *options) { o.interceptor = ic }
}

// AsyncSpinner runs a fixed number of workers, each repeatedly executing
// callbacks from one queue. With a single worker, callbacks run strictly one
// at a time in FIFO order.
type AsyncSpinner struct {
	workers int
	queue   *callback.Queue
	opts    options

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a spinner bound to q. workers == 0 means one worker per
// available CPU. The spinner does not run until Start is called.
func New(workers int, q *callback.Queue, opts ...Option) (*AsyncSpinner, error) {
	// Fail-fast: validate configuration before anything is spawned
	if q == nil {
		return nil, ErrNilQueue
	}
	if workers < 0 {
		return nil, ErrInvalidWorkerCount
	}
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	o := options{name: q.Name()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = core.DefaultLogger()
	}
	o.logger = o.logger.WithFields(map[string]any{"spinner": o.name, "workers": workers})

	return &AsyncSpinner{
		workers: workers,
		queue:   q,
		opts:    o,
	}, nil
}

// Name returns the spinner name
func (s *AsyncSpinner) Name() string { return s.opts.name }

// Workers returns the resolved number of workers
func (s *AsyncSpinner) Workers() int { return s.workers }

// Queue returns the bound queue
func (s *AsyncSpinner) Queue() *callback.Queue { return s.queue }

// Running reports whether workers are active
func (s *AsyncSpinner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

func (s *AsyncSpinner) exclusive() bool { return s.workers == 1 }

// Start spawns the workers and returns once every worker is ready.
// If any worker fails to initialize, the ones already spawned are stopped
// and an error wrapping core.ErrSpinnerStartFailed is returned.
func (s *AsyncSpinner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.queue.Attach(s.exclusive()); err != nil {
		return core.ErrSpinnerStartFailed.Wrap(fmt.Errorf("spinner %s: %w", s.opts.name, err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan error, s.workers)
	begin := make(chan struct{})

	s.wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go s.run(ctx, i, ready, begin)
	}

	var startErr error
	for i := 0; i < s.workers; i++ {
		if err := <-ready; err != nil {
			startErr = errors.Join(startErr, err)
		}
	}

	if startErr != nil {
		cancel()
		s.wg.Wait()
		s.queue.Detach(s.exclusive())
		s.opts.logger.Error("spinner failed to start", "error", startErr)
		return core.ErrSpinnerStartFailed.Wrap(startErr)
	}

	close(begin)
	s.cancel = cancel
	s.started = true
	s.opts.logger.Debug("spinner started")
	return nil
}

// Stop cancels the workers and waits for them to exit, bounded by ctx.
// Calling Stop on a spinner that never started, or twice, is a no-op.
func (s *AsyncSpinner) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.queue.Detach(s.exclusive())
		s.opts.logger.Debug("spinner stopped")
		return nil
	case <-ctx.Done():
		// workers still finishing their current callback; they exit on their own
		return fmt.Errorf("spinner %s stop: %w", s.opts.name, ctx.Err())
	}
}

// run is the worker's execution loop.
func (s *AsyncSpinner) run(ctx context.Context, id int, ready chan<- error, begin <-chan struct{}) {
	defer s.wg.Done()

	if s.opts.pin {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	if s.opts.workerInit != nil {
		if err := s.opts.workerInit(id); err != nil {
			ready <- fmt.Errorf("worker %d: %w", id, err)
			return
		}
	}
	ready <- nil

	select {
	case <-begin:
	case <-ctx.Done():
		return
	}

	for {
		_, err := s.queue.Dispatch(ctx, s.opts.interceptor)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, callback.ErrQueueDisabled) {
			select {
			case <-time.After(disabledBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		s.opts.logger.Error("spinner worker dispatch failed", "worker", id, "error", err)
	}
}
