package handle

import (
	"sync/atomic"

	"github.com/fluxorio/nodelet/pkg/bus"
	"github.com/fluxorio/nodelet/pkg/callback"
)

// Subscription is a topic subscription or service registration made through
// a NodeHandle.
type Subscription struct {
	handle *NodeHandle
	name   string
	owner  uint64
	busSub bus.Subscription
	active atomic.Bool
}

func newSubscription(h *NodeHandle, name string) *Subscription {
	s := &Subscription{
		handle: h,
		name:   name,
		owner:  callback.NewOwnerID(),
	}
	s.active.Store(true)
	return s
}

// Name returns the resolved topic or service name
func (s *Subscription) Name() string { return s.name }

// Queue returns the queue the subscription's callbacks are routed to
func (s *Subscription) Queue() *callback.Queue { return s.handle.queue }

// Active reports whether the subscription still delivers callbacks
func (s *Subscription) Active() bool { return s.active.Load() }

// Unsubscribe unregisters from the bus and drops pending callbacks.
// A callback already running is allowed to finish.
func (s *Subscription) Unsubscribe() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	if s.busSub != nil {
		s.busSub.Unregister()
	}
	s.handle.queue.RemoveByOwner(s.owner)
	s.handle.untrack(s)
}
