package handle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/nodelet/pkg/callback"
	"github.com/fluxorio/nodelet/pkg/core"
)

// TimerEvent describes one timer expiration
type TimerEvent struct {
	// Expected is when the tick was due
	Expected time.Time
	// Real is when the callback actually started
	Real time.Time
	// LastReal is when the previous callback started (zero for the first)
	LastReal time.Time
}

// TimerCallback runs on the handle's queue
type TimerCallback func(ctx context.Context, ev TimerEvent)

var ErrInvalidPeriod = &core.Error{Code: "INVALID_PERIOD", Message: "timer period must be positive"}

// Timer enqueues a callback on its handle's queue every period. While one
// tick is still pending in the queue, further ticks are skipped instead of
// piling up.
type Timer struct {
	handle  *NodeHandle
	period  time.Duration
	oneshot bool
	cb      TimerCallback
	owner   uint64

	pending  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	lastReal time.Time
}

// CreateTimer starts a timer whose callbacks run on the handle's queue.
// A oneshot timer fires once and then stops itself.
func (h *NodeHandle) CreateTimer(period time.Duration, cb TimerCallback, oneshot bool) (*Timer, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if cb == nil {
		return nil, ErrNilCallback
	}

	t := &Timer{
		handle:  h,
		period:  period,
		oneshot: oneshot,
		cb:      cb,
		owner:   callback.NewOwnerID(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := h.trackTimer(t); err != nil {
		return nil, err
	}
	go t.loop()
	return t, nil
}

// Period returns the timer period
func (t *Timer) Period() time.Duration { return t.period }

// Stop halts the timer and drops a pending tick. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		<-t.done
		t.handle.queue.RemoveByOwner(t.owner)
		t.handle.untrackTimer(t)
	})
}

func (t *Timer) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

func (t *Timer) loop() {
	defer close(t.done)

	next := time.Now().Add(t.period)
	timer := time.NewTimer(t.period)
	defer timer.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
		}

		expected := next
		t.fire(expected)
		if t.oneshot {
			return
		}

		next = next.Add(t.period)
		now := time.Now()
		// fell behind by more than a period: resynchronise instead of bursting
		if next.Before(now) {
			next = now.Add(t.period)
		}
		timer.Reset(time.Until(next))
	}
}

func (t *Timer) fire(expected time.Time) {
	if !t.pending.CompareAndSwap(false, true) {
		return
	}
	err := t.handle.queue.EnqueueFunc(func(ctx context.Context) {
		t.pending.Store(false)
		if t.stopped() {
			return
		}
		now := time.Now()
		t.mu.Lock()
		ev := TimerEvent{Expected: expected, Real: now, LastReal: t.lastReal}
		t.lastReal = now
		t.mu.Unlock()
		t.cb(ctx, ev)
	}, t.owner)
	if err != nil {
		t.pending.Store(false)
		t.handle.logger.Debug("dropping timer tick", "error", err)
	}
}
