// Package nodelet provides the dual-queue lifecycle unit that hosts
// application callbacks.
//
// A Nodelet owns two callback queues: a single-threaded queue spun by one
// worker, where callbacks run one at a time in FIFO order, and a
// multi-threaded queue spun by a pool of workers. Init creates both queues,
// starts their spinners, builds four node handles bound to them and then
// calls the application's OnInit hook exactly once.
//
//	type Camera struct{ *nodelet.Nodelet }
//
//	func NewCamera() *Camera {
//		c := &Camera{}
//		c.Nodelet = nodelet.New(c)
//		return c
//	}
//
//	func (c *Camera) OnInit() error {
//		_, err := c.PrivateNodeHandle().Subscribe("image", c.onImage)
//		return err
//	}
package nodelet

import (
	"context"
	"errors"
	"sync"

	"github.com/fluxorio/nodelet/pkg/bus"
	"github.com/fluxorio/nodelet/pkg/callback"
	"github.com/fluxorio/nodelet/pkg/core"
	"github.com/fluxorio/nodelet/pkg/core/fsm"
	"github.com/fluxorio/nodelet/pkg/handle"
	"github.com/fluxorio/nodelet/pkg/spinner"
)

// Initializer is implemented by every nodelet specialization. OnInit is
// called once, after all four handles are live.
type Initializer interface {
	OnInit() error
}

// InitFunc adapts a function to the Initializer interface
type InitFunc func() error

// OnInit calls f
func (f InitFunc) OnInit() error { return f() }

// Lifecycle states
const (
	StateUninitialized fsm.State = "uninitialized"
	StateInitializing  fsm.State = "initializing"
	StateInitialized   fsm.State = "initialized"
	StateClosed        fsm.State = "closed"
)

const (
	eventInit  fsm.Event = "init"
	eventReady fsm.Event = "ready"
	eventFail  fsm.Event = "fail"
	eventClose fsm.Event = "close"
)

// DefaultName is reported by Name before Init succeeds
const DefaultName = "uninitialized"

// Errors
var (
	ErrClosed         = &core.Error{Code: "NODELET_CLOSED", Message: "nodelet has been closed"}
	ErrInitInProgress = &core.Error{Code: "INIT_IN_PROGRESS", Message: "nodelet initialization is in progress"}
)

// Nodelet is the lifecycle unit. The zero value is not usable; use New.
type Nodelet struct {
	impl      Initializer
	opts      options
	lifecycle *fsm.Machine

	mu     sync.RWMutex
	name   string
	argv   []string
	logger core.Logger
	res    *resources
}

// New creates an uninitialized nodelet around impl. Nothing is allocated
// until Init.
func New(impl Initializer, opts ...Option) *Nodelet {
	core.FailFastIf(impl == nil, "nodelet initializer cannot be nil")

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.bus == nil {
		o.bus = bus.New(bus.WithLogger(o.logger))
	}

	lifecycle := fsm.New(StateUninitialized,
		fsm.Transition{From: StateUninitialized, Event: eventInit, To: StateInitializing},
		fsm.Transition{From: StateInitializing, Event: eventReady, To: StateInitialized},
		fsm.Transition{From: StateInitializing, Event: eventFail, To: StateUninitialized},
		fsm.Transition{From: StateUninitialized, Event: eventClose, To: StateClosed},
		fsm.Transition{From: StateInitialized, Event: eventClose, To: StateClosed},
	)
	// may run with n.mu held, so it must not call back into the nodelet
	lifecycle.OnTransition(func(from fsm.State, event fsm.Event, to fsm.State) {
		o.logger.Debug("nodelet state changed", "from", from, "event", event, "to", to)
	})

	return &Nodelet{
		impl:      impl,
		opts:      o,
		name:      DefaultName,
		logger:    o.logger,
		lifecycle: lifecycle,
	}
}

// Init sets the nodelet up under name. It may succeed only once per
// instance; a second call is logged and rejected with
// core.ErrAlreadyInitialized without touching the running nodelet.
//
// An empty name puts the private handles in the root namespace. A name
// the handles cannot build a namespace from fails like any other setup
// step.
//
// Setup failures release everything created so far and leave the nodelet
// uninitialized. An error from OnInit is returned wrapped in
// core.ErrOnInitFailed; the nodelet stays initialized in that case because
// the hook runs after the unit is live.
func (n *Nodelet) Init(name string, remappings map[string]string, argv []string) error {
	if _, err := n.lifecycle.Fire(eventInit); err != nil {
		switch n.lifecycle.Current() {
		case StateClosed:
			return ErrClosed
		case StateInitializing:
			return ErrInitInProgress
		}
		n.Logger().Error(core.ErrAlreadyInitialized.Message, "requested", name)
		return core.ErrAlreadyInitialized
	}

	logger := n.opts.logger.WithFields(map[string]any{"nodelet": name})
	res, err := n.setup(name, remappings, logger)
	if err != nil {
		n.lifecycle.Fire(eventFail)
		logger.Error("nodelet initialization failed", "error", err)
		n.opts.lifecycle.InitDone(name, err)
		return core.ErrInitFailed.Wrap(err)
	}

	// resources and the Initialized state become visible together
	n.mu.Lock()
	n.name = name
	n.argv = append([]string(nil), argv...)
	n.logger = logger
	n.res = res
	n.lifecycle.Fire(eventReady)
	n.mu.Unlock()

	logger.Debug("nodelet initializing", "st_workers", 1, "mt_workers", res.mtSpinner.Workers())

	err = n.impl.OnInit()
	n.opts.lifecycle.InitDone(name, err)
	if err != nil {
		logger.Error("onInit failed", "error", err)
		return core.ErrOnInitFailed.Wrap(err)
	}
	return nil
}

func (n *Nodelet) setup(name string, remappings map[string]string, logger core.Logger) (_ *resources, err error) {
	res := &resources{}
	defer func() {
		if err != nil {
			res.release(context.Background())
		}
	}()

	var queueOpts []callback.QueueOption
	if n.opts.observer != nil {
		queueOpts = append(queueOpts, callback.WithObserver(n.opts.observer))
	}
	res.st = callback.NewQueue(name+":st", queueOpts...)
	res.mt = callback.NewQueue(name+":mt", queueOpts...)

	if res.stSpinner, err = n.newSpinner(1, res.st, logger); err != nil {
		return nil, err
	}
	if res.mtSpinner, err = n.newSpinner(n.opts.mtWorkers, res.mt, logger); err != nil {
		return nil, err
	}
	if err = res.stSpinner.Start(); err != nil {
		return nil, err
	}
	if err = res.mtSpinner.Start(); err != nil {
		return nil, err
	}

	hopts := []handle.Option{handle.WithLogger(logger)}
	if res.nh, err = handle.New(n.opts.bus, "", remappings, res.st, hopts...); err != nil {
		return nil, err
	}
	if res.pnh, err = handle.New(n.opts.bus, name, remappings, res.st, hopts...); err != nil {
		return nil, err
	}
	if res.mtNh, err = handle.New(n.opts.bus, "", remappings, res.mt, hopts...); err != nil {
		return nil, err
	}
	if res.mtPnh, err = handle.New(n.opts.bus, name, remappings, res.mt, hopts...); err != nil {
		return nil, err
	}
	return res, nil
}

func (n *Nodelet) newSpinner(workers int, q *callback.Queue, logger core.Logger) (*spinner.AsyncSpinner, error) {
	opts := []spinner.Option{
		spinner.WithName(q.Name()),
		spinner.WithLogger(logger),
		spinner.WithThreadPinning(n.opts.pinThreads),
	}
	if n.opts.workerInit != nil {
		opts = append(opts, spinner.WithWorkerInit(n.opts.workerInit))
	}
	if n.opts.interceptor != nil {
		opts = append(opts, spinner.WithInterceptor(n.opts.interceptor(q.Name())))
	}
	return spinner.New(workers, q, opts...)
}

// Close shuts down handles, stops both spinners and disables the queues.
// It is safe to call on a nodelet that was never initialized and safe to
// call more than once.
func (n *Nodelet) Close(ctx context.Context) error {
	if _, err := n.lifecycle.Fire(eventClose); err != nil {
		if n.lifecycle.Is(StateClosed) {
			return nil
		}
		return ErrInitInProgress
	}

	n.mu.Lock()
	res := n.res
	n.res = nil
	n.mu.Unlock()

	if res == nil {
		return nil
	}
	n.Logger().Debug("nodelet closing")
	return res.release(ctx)
}

// Name returns the name passed to Init, or DefaultName
func (n *Nodelet) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// Argv returns a copy of the arguments passed to Init
func (n *Nodelet) Argv() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.argv...)
}

// Initialized reports whether Init has completed setup
func (n *Nodelet) Initialized() bool { return n.lifecycle.Is(StateInitialized) }

// State returns the lifecycle state
func (n *Nodelet) State() fsm.State { return n.lifecycle.Current() }

// Logger returns the nodelet logger, tagged with the nodelet name after Init
func (n *Nodelet) Logger() core.Logger {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.logger
}

// Bus returns the bus the handles are attached to
func (n *Nodelet) Bus() *bus.Bus { return n.opts.bus }

// NodeHandle returns the global handle bound to the single-threaded queue
func (n *Nodelet) NodeHandle() *handle.NodeHandle {
	return n.get(func(r *resources) *handle.NodeHandle { return r.nh })
}

// PrivateNodeHandle returns the private handle bound to the single-threaded queue
func (n *Nodelet) PrivateNodeHandle() *handle.NodeHandle {
	return n.get(func(r *resources) *handle.NodeHandle { return r.pnh })
}

// MTNodeHandle returns the global handle bound to the multi-threaded queue
func (n *Nodelet) MTNodeHandle() *handle.NodeHandle {
	return n.get(func(r *resources) *handle.NodeHandle { return r.mtNh })
}

// MTPrivateNodeHandle returns the private handle bound to the multi-threaded queue
func (n *Nodelet) MTPrivateNodeHandle() *handle.NodeHandle {
	return n.get(func(r *resources) *handle.NodeHandle { return r.mtPnh })
}

// STCallbackQueue returns the single-threaded queue, nil before Init
func (n *Nodelet) STCallbackQueue() *callback.Queue {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.res == nil {
		return nil
	}
	return n.res.st
}

// MTCallbackQueue returns the multi-threaded queue, nil before Init
func (n *Nodelet) MTCallbackQueue() *callback.Queue {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.res == nil {
		return nil
	}
	return n.res.mt
}

// MTWorkers returns the worker count of the multi-threaded spinner, 0 before Init
func (n *Nodelet) MTWorkers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.res == nil {
		return 0
	}
	return n.res.mtSpinner.Workers()
}

func (n *Nodelet) get(pick func(*resources) *handle.NodeHandle) *handle.NodeHandle {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.res == nil {
		return nil
	}
	return pick(n.res)
}

// resources is everything Init allocates. Fields are filled in setup order
// and released in reverse.
type resources struct {
	st, mt               *callback.Queue
	stSpinner, mtSpinner *spinner.AsyncSpinner
	nh, pnh, mtNh, mtPnh *handle.NodeHandle
}

func (r *resources) release(ctx context.Context) error {
	for _, h := range []*handle.NodeHandle{r.mtPnh, r.mtNh, r.pnh, r.nh} {
		if h != nil {
			h.Shutdown()
		}
	}

	var errs []error
	for _, s := range []*spinner.AsyncSpinner{r.mtSpinner, r.stSpinner} {
		if s != nil {
			if err := s.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for _, q := range []*callback.Queue{r.mt, r.st} {
		if q != nil {
			q.Disable()
			q.Clear()
		}
	}
	return errors.Join(errs...)
}
