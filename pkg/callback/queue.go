// Package callback provides the unbounded FIFO queue that sits between the
// communication layer (producers) and a spinner (consumer).
package callback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/nodelet/pkg/core"
)

// Result is the outcome of a single callback invocation
type Result int

const (
	// Success means the callback ran to completion
	Success Result = iota
	// TryAgain asks the queue to re-enqueue the callback at the tail
	TryAgain
	// Invalid means the callback could not run (or panicked) and is dropped
	Invalid
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case TryAgain:
		return "try_again"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Callback is a pending invocation
type Callback interface {
	Call(ctx context.Context) Result
}

// CallbackFunc adapts a plain function to Callback. It always reports Success.
type CallbackFunc func(ctx context.Context)

func (f CallbackFunc) Call(ctx context.Context) Result {
	f(ctx)
	return Success
}

// Interceptor wraps the execution of a single callback, e.g. to open a
// tracing span around it. It must call cb.Call exactly once.
type Interceptor func(ctx context.Context, cb Callback) Result

// Observer receives queue activity. Implementations must be safe for
// concurrent use; they are called from producers and workers alike.
type Observer interface {
	Enqueued(queue string, depth int)
	Dequeued(queue string, depth int)
	Called(queue string, took time.Duration, result Result)
}

// Errors
var (
	ErrQueueDisabled = &core.Error{Code: "QUEUE_DISABLED", Message: "callback queue is disabled"}
	ErrNilCallback   = &core.Error{Code: "INVALID_CALLBACK", Message: "callback cannot be nil"}
	ErrQueueInUse    = &core.Error{Code: "QUEUE_IN_USE", Message: "callback queue is already spun by a conflicting spinner"}
)

// NoOwner is the owner id for callbacks that are never removed selectively
const NoOwner uint64 = 0

var ownerSeq atomic.Uint64

// NewOwnerID returns a process-unique id used to tag callbacks so they can
// later be dropped with RemoveByOwner.
func NewOwnerID() uint64 {
	return ownerSeq.Add(1)
}

type entry struct {
	cb    Callback
	owner uint64
}

// QueueOption configures a Queue
type QueueOption func(*Queue)

// WithObserver attaches an observer, typically a metrics collector
func WithObserver(o Observer) QueueOption {
	return func(q *Queue) { q.observer = o }
}

// Queue is an unbounded, insertion-ordered queue of pending callbacks.
//
// Enqueue is safe from any goroutine. CallOne may be called by several
// workers at once; entries are still handed out strictly in FIFO order,
// but with more than one worker their executions may overlap.
type Queue struct {
	name     string
	observer Observer

	mu      sync.Mutex
	items   []entry
	head    int
	enabled bool
	// wake is closed on Disable so blocked consumers re-check state
	wake chan struct{}
	// signal carries at most one pending "work available" token
	signal chan struct{}

	attached  int
	exclusive bool
}

// NewQueue creates an enabled, empty queue
func NewQueue(name string, opts ...QueueOption) *Queue {
	q := &Queue{
		name:    name,
		enabled: true,
		wake:    make(chan struct{}),
		signal:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name used in logs and metrics
func (q *Queue) Name() string {
	return q.name
}

// Enqueue appends cb to the tail of the queue
func (q *Queue) Enqueue(cb Callback, owner uint64) error {
	if cb == nil {
		return ErrNilCallback
	}

	q.mu.Lock()
	if !q.enabled {
		q.mu.Unlock()
		return ErrQueueDisabled
	}
	q.items = append(q.items, entry{cb: cb, owner: owner})
	depth := len(q.items) - q.head
	q.mu.Unlock()

	q.notify()
	if q.observer != nil {
		q.observer.Enqueued(q.name, depth)
	}
	return nil
}

// EnqueueFunc is a shorthand for Enqueue(CallbackFunc(fn), owner)
func (q *Queue) EnqueueFunc(fn func(ctx context.Context), owner uint64) error {
	if fn == nil {
		return ErrNilCallback
	}
	return q.Enqueue(CallbackFunc(fn), owner)
}

// CallOne blocks until a callback is available, then runs it on the calling
// goroutine. It returns ctx.Err() when ctx is done first and
// ErrQueueDisabled when the queue is disabled.
func (q *Queue) CallOne(ctx context.Context) (Result, error) {
	return q.Dispatch(ctx, nil)
}

// Dispatch is CallOne with an optional interceptor around the invocation.
func (q *Queue) Dispatch(ctx context.Context, ic Interceptor) (Result, error) {
	for {
		e, ok, wake, err := q.pop()
		if err != nil {
			return Invalid, err
		}
		if ok {
			return q.invoke(ctx, e, ic), nil
		}

		select {
		case <-q.signal:
		case <-wake:
		case <-ctx.Done():
			return Invalid, ctx.Err()
		}
	}
}

// TryCallOne runs the oldest callback if there is one without blocking.
// The boolean reports whether a callback was run.
func (q *Queue) TryCallOne(ctx context.Context) (Result, bool, error) {
	e, ok, _, err := q.pop()
	if err != nil || !ok {
		return Invalid, false, err
	}
	return q.invoke(ctx, e, nil), true, nil
}

// CallAvailable runs every callback present when it was called and returns
// how many ran. Callbacks enqueued meanwhile are left for the next call.
func (q *Queue) CallAvailable(ctx context.Context) int {
	n := q.Len()
	called := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		if _, ok, err := q.TryCallOne(ctx); err != nil || !ok {
			break
		}
		called++
	}
	return called
}

// RemoveByOwner drops every pending callback tagged with owner and returns
// the number removed. A callback already handed to a worker still runs.
func (q *Queue) RemoveByOwner(owner uint64) int {
	if owner == NoOwner {
		return 0
	}
	q.mu.Lock()
	kept := q.items[:0]
	removed := 0
	for _, e := range q.items[q.head:] {
		if e.owner == owner {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// clear the tail so dropped callbacks can be collected
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = entry{}
	}
	q.items = kept
	q.head = 0
	q.mu.Unlock()
	return removed
}

// Len returns the number of pending callbacks
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// IsEmpty reports whether nothing is pending
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear drops all pending callbacks
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.head = 0
	q.mu.Unlock()
}

// Disable stops the queue from accepting callbacks and wakes blocked consumers
func (q *Queue) Disable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.enabled {
		return
	}
	q.enabled = false
	close(q.wake)
}

// Enable re-opens a disabled queue
func (q *Queue) Enable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enabled {
		return
	}
	q.enabled = true
	q.wake = make(chan struct{})
}

// IsEnabled reports whether the queue accepts callbacks
func (q *Queue) IsEnabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// Attach registers a spinner as consumer. An exclusive attach (single
// worker) conflicts with any other attach, so a serialized queue can never be
// drained by two spinners at once.
func (q *Queue) Attach(exclusive bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.exclusive || (exclusive && q.attached > 0) {
		return ErrQueueInUse
	}
	q.attached++
	if exclusive {
		q.exclusive = true
	}
	return nil
}

// Detach releases a previous Attach
func (q *Queue) Detach(exclusive bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.attached > 0 {
		q.attached--
	}
	if exclusive {
		q.exclusive = false
	}
}

// pop removes the head entry. wake is returned for consumers that need to
// block when nothing is pending.
func (q *Queue) pop() (entry, bool, <-chan struct{}, error) {
	q.mu.Lock()
	if !q.enabled {
		q.mu.Unlock()
		return entry{}, false, nil, ErrQueueDisabled
	}
	if q.head == len(q.items) {
		wake := q.wake
		q.mu.Unlock()
		return entry{}, false, wake, nil
	}

	e := q.items[q.head]
	q.items[q.head] = entry{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head >= 1024 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	depth := len(q.items) - q.head
	q.mu.Unlock()

	// pass the token on so another blocked worker picks up the rest
	if depth > 0 {
		q.notify()
	}
	if q.observer != nil {
		q.observer.Dequeued(q.name, depth)
	}
	return e, true, nil, nil
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) invoke(ctx context.Context, e entry, ic Interceptor) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			// Panic isolation: one bad callback must not kill the worker
			core.DefaultLogger().Error("callback panicked", "queue", q.name, "panic", fmt.Sprint(r))
			result = Invalid
		}
		if result == TryAgain {
			if err := q.Enqueue(e.cb, e.owner); err != nil {
				result = Invalid
			}
		}
		if q.observer != nil {
			q.observer.Called(q.name, time.Since(start), result)
		}
	}()
	if ic != nil {
		return ic(ctx, e.cb)
	}
	return e.cb.Call(ctx)
}
