package health

import (
	"context"
	"fmt"

	"github.com/fluxorio/nodelet/pkg/callback"
	"github.com/fluxorio/nodelet/pkg/core"
)

// QueueProbe checks that q is being spun: it enqueues a no-op callback and
// waits for it to run. A single-threaded queue stuck in a long callback
// fails the probe once the check times out.
func QueueProbe(q *callback.Queue) Checker {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		owner := callback.NewOwnerID()
		if err := q.EnqueueFunc(func(context.Context) { close(done) }, owner); err != nil {
			return fmt.Errorf("queue %s: %w", q.Name(), err)
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			q.RemoveByOwner(owner)
			return fmt.Errorf("queue %s did not run probe: %w", q.Name(), ctx.Err())
		}
	}
}

// Unit is what UnitProbe needs from a nodelet
type Unit interface {
	Initialized() bool
	STCallbackQueue() *callback.Queue
	MTCallbackQueue() *callback.Queue
}

// UnitProbe checks that u is initialized and that both of its queues are
// being spun. A unit that is not live fails with core.ErrNotInitialized.
func UnitProbe(u Unit) Checker {
	return func(ctx context.Context) error {
		if !u.Initialized() {
			return core.ErrNotInitialized
		}
		st, mt := u.STCallbackQueue(), u.MTCallbackQueue()
		if st == nil || mt == nil {
			return core.ErrNotInitialized
		}
		if err := QueueProbe(st)(ctx); err != nil {
			return err
		}
		return QueueProbe(mt)(ctx)
	}
}
