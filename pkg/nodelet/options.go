package nodelet

import (
	"github.com/fluxorio/nodelet/pkg/bus"
	"github.com/fluxorio/nodelet/pkg/callback"
	"github.com/fluxorio/nodelet/pkg/core"
)

// InterceptorFactory builds the interceptor for the spinner of one queue
type InterceptorFactory func(queue string) callback.Interceptor

// LifecycleObserver is told about the outcome of every accepted Init call.
// err is nil on success, the setup error, or the error returned by OnInit.
type LifecycleObserver interface {
	InitDone(name string, err error)
}

type nopLifecycle struct{}

func (nopLifecycle) InitDone(string, error) {}

// Option configures a Nodelet
type Option func(*options)

type options struct {
	bus         *bus.Bus
	logger      core.Logger
	mtWorkers   int
	pinThreads  bool
	observer    callback.Observer
	interceptor InterceptorFactory
	workerInit  func(id int) error
	lifecycle   LifecycleObserver
}

func defaultOptions() options {
	return options{
		logger:    core.DefaultLogger(),
		lifecycle: nopLifecycle{},
	}
}

// WithBus attaches the nodelet's handles to b. Nodelets loaded into the
// same process share a bus so they can talk to each other; without this
// option each nodelet gets a private bus.
func WithBus(b *bus.Bus) Option {
	return func(o *options) {
		if b != nil {
			o.bus = b
		}
	}
}

// WithLogger sets the base logger
func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMultiThreadedWorkers sets the multi-threaded spinner size.
// 0 (the default) uses one worker per CPU.
func WithMultiThreadedWorkers(n int) Option {
	return func(o *options) { o.mtWorkers = n }
}

// WithThreadPinning locks every spinner worker to an OS thread
func WithThreadPinning(pin bool) Option {
	return func(o *options) { o.pinThreads = pin }
}

// WithObserver reports queue activity of both queues to obs
func WithObserver(obs callback.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithInterceptor wraps every callback execution of both spinners
func WithInterceptor(f InterceptorFactory) Option {
	return func(o *options) { o.interceptor = f }
}

// WithWorkerInit runs fn on every spinner worker before it starts
// dispatching. An error aborts Init.
func WithWorkerInit(fn func(id int) error) Option {
	return func(o *options) { o.workerInit = fn }
}

// WithLifecycleObserver reports Init outcomes to obs
func WithLifecycleObserver(obs LifecycleObserver) Option {
	return func(o *options) {
		if obs != nil {
			o.lifecycle = obs
		}
	}
}
