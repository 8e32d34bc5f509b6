// Package handle binds a namespace on the bus to one callback queue.
//
// Every callback triggered through a NodeHandle (topic messages, service
// requests, timer ticks) is enqueued on the queue the handle was created
// with. The binding is fixed for the lifetime of the handle.
package handle

import (
	"context"
	"sync"

	"github.com/fluxorio/nodelet/pkg/bus"
	"github.com/fluxorio/nodelet/pkg/callback"
	"github.com/fluxorio/nodelet/pkg/core"
)

// Errors
var (
	ErrShutdown    = &core.Error{Code: "HANDLE_SHUTDOWN", Message: "node handle has been shut down"}
	ErrNilBus      = &core.Error{Code: "INVALID_BUS", Message: "node handle bus cannot be nil"}
	ErrNilQueue    = &core.Error{Code: "INVALID_QUEUE", Message: "node handle queue cannot be nil"}
	ErrNilCallback = &core.Error{Code: "INVALID_CALLBACK", Message: "callback cannot be nil"}
)

// MessageCallback handles a topic message on the handle's queue
type MessageCallback func(ctx context.Context, msg bus.Message)

// ServiceCallback serves a request on the handle's queue
type ServiceCallback func(ctx context.Context, req any) (any, error)

// Option configures a NodeHandle
type Option func(*NodeHandle)

// WithLogger sets the handle logger
func WithLogger(l core.Logger) Option {
	return func(h *NodeHandle) { h.logger = l }
}

// NodeHandle is a communication endpoint scoped to a namespace whose
// callbacks are always routed to one queue.
type NodeHandle struct {
	bus        *bus.Bus
	namespace  string
	remappings map[string]string
	queue      *callback.Queue
	logger     core.Logger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	timers map[*Timer]struct{}
	closed bool
}

// New creates a handle in namespace ns bound to q. Remapping rules are
// resolved against ns and applied to every name the handle resolves.
func New(b *bus.Bus, ns string, remappings map[string]string, q *callback.Queue, opts ...Option) (*NodeHandle, error) {
	if b == nil {
		return nil, ErrNilBus
	}
	if q == nil {
		return nil, ErrNilQueue
	}
	namespace, err := normalizeNamespace(ns)
	if err != nil {
		return nil, err
	}
	remap, err := resolveRemappings(namespace, remappings)
	if err != nil {
		return nil, err
	}

	h := &NodeHandle{
		bus:        b,
		namespace:  namespace,
		remappings: remap,
		queue:      q,
		subs:       make(map[*Subscription]struct{}),
		timers:     make(map[*Timer]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = core.DefaultLogger()
	}
	h.logger = h.logger.WithFields(map[string]any{"namespace": namespace, "queue": q.Name()})
	return h, nil
}

// Namespace returns the fully qualified namespace ("/" for global handles)
func (h *NodeHandle) Namespace() string { return h.namespace }

// CallbackQueue returns the queue every callback of this handle goes to
func (h *NodeHandle) CallbackQueue() *callback.Queue { return h.queue }

// ResolveName expands name against the handle's namespace and applies
// remappings. "/x" is absolute, "x" and "~x" are relative to the namespace.
func (h *NodeHandle) ResolveName(name string) (string, error) {
	resolved, err := resolve(h.namespace, name)
	if err != nil {
		return "", err
	}
	if to, ok := h.remappings[resolved]; ok {
		return to, nil
	}
	return resolved, nil
}

// Subscribe registers cb for topic. Each message is enqueued on the handle's
// queue and cb runs when a spinner dequeues it.
func (h *NodeHandle) Subscribe(topic string, cb MessageCallback) (*Subscription, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	name, err := h.ResolveName(topic)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(h, name)
	busSub, err := h.bus.Subscribe(name, func(msg bus.Message) {
		err := h.queue.EnqueueFunc(func(ctx context.Context) {
			if sub.Active() {
				cb(ctx, msg)
			}
		}, sub.owner)
		if err != nil {
			h.logger.Debug("dropping message", "topic", name, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	sub.busSub = busSub

	if err := h.track(sub); err != nil {
		busSub.Unregister()
		return nil, err
	}
	h.logger.Debug("subscribed", "topic", name)
	return sub, nil
}

// Publish publishes body on topic
func (h *NodeHandle) Publish(topic string, body any) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	name, err := h.ResolveName(topic)
	if err != nil {
		return err
	}
	_, err = h.bus.Publish(name, body)
	return err
}

// AdvertiseService serves name. Requests are executed as callbacks on the
// handle's queue; the caller blocks until cb returns.
func (h *NodeHandle) AdvertiseService(service string, cb ServiceCallback) (*Subscription, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	name, err := h.ResolveName(service)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(h, name)
	busSub, err := h.bus.AdvertiseService(name, func(ctx context.Context, req any, reply func(any, error)) {
		err := h.queue.EnqueueFunc(func(cctx context.Context) {
			if !sub.Active() {
				reply(nil, ErrShutdown)
				return
			}
			reply(cb(cctx, req))
		}, sub.owner)
		if err != nil {
			reply(nil, err)
		}
	})
	if err != nil {
		return nil, err
	}
	sub.busSub = busSub

	if err := h.track(sub); err != nil {
		busSub.Unregister()
		return nil, err
	}
	h.logger.Debug("advertised service", "service", name)
	return sub, nil
}

// CallService calls the service name and waits for the reply or ctx
func (h *NodeHandle) CallService(ctx context.Context, service string, req any) (any, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	name, err := h.ResolveName(service)
	if err != nil {
		return nil, err
	}
	return h.bus.Call(ctx, name, req)
}

// Shutdown unregisters every subscription, service and timer created
// through this handle and drops their pending callbacks. Further calls to
// Subscribe, AdvertiseService, Publish or CreateTimer fail with ErrShutdown.
func (h *NodeHandle) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	timers := make([]*Timer, 0, len(h.timers))
	for t := range h.timers {
		timers = append(timers, t)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	for _, t := range timers {
		t.Stop()
	}
}

// IsShutdown reports whether Shutdown has been called
func (h *NodeHandle) IsShutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *NodeHandle) checkOpen() error {
	if h.IsShutdown() {
		return ErrShutdown
	}
	return nil
}

func (h *NodeHandle) track(s *Subscription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrShutdown
	}
	h.subs[s] = struct{}{}
	return nil
}

func (h *NodeHandle) untrack(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *NodeHandle) trackTimer(t *Timer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrShutdown
	}
	h.timers[t] = struct{}{}
	return nil
}

func (h *NodeHandle) untrackTimer(t *Timer) {
	h.mu.Lock()
	delete(h.timers, t)
	h.mu.Unlock()
}
