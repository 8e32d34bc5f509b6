// Package loader hosts many nodelets in one process. Unit types are
// registered by name; Load creates a unit of a type, initializes it on the
// shared bus and keeps it until Unload or Close.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fluxorio/nodelet/pkg/bus"
	"github.com/fluxorio/nodelet/pkg/core"
	"github.com/fluxorio/nodelet/pkg/nodelet"
)

// Unit is a loadable nodelet. *nodelet.Nodelet and any type embedding it
// satisfy Unit.
type Unit interface {
	Init(name string, remappings map[string]string, argv []string) error
	Close(ctx context.Context) error
	Name() string
}

// Factory creates a fresh, uninitialized unit. opts carry the loader's
// shared bus, logger and instrumentation and must be passed to nodelet.New.
type Factory func(opts ...nodelet.Option) Unit

// Errors
var (
	ErrTypeExists    = &core.Error{Code: "TYPE_EXISTS", Message: "unit type already registered"}
	ErrUnknownType   = &core.Error{Code: "UNKNOWN_TYPE", Message: "unit type not registered"}
	ErrAlreadyLoaded = &core.Error{Code: "ALREADY_LOADED", Message: "a unit with this name is already loaded"}
	ErrNotLoaded     = &core.Error{Code: "NOT_LOADED", Message: "no unit loaded under this name"}
	ErrNilFactory    = &core.Error{Code: "INVALID_FACTORY", Message: "factory cannot be nil"}
	ErrLoaderClosed  = &core.Error{Code: "LOADER_CLOSED", Message: "loader is closed"}
)

// Observer is told about units entering and leaving the loader.
// workers is the multi-threaded spinner size, 0 when the unit does not
// report one.
type Observer interface {
	UnitLoaded(name string, workers int)
	UnitUnloaded(name string)
}

type nopObserver struct{}

func (nopObserver) UnitLoaded(string, int) {}
func (nopObserver) UnitUnloaded(string)    {}

// Option configures a Loader
type Option func(*Loader)

// WithBus sets the bus shared by every loaded unit
func WithBus(b *bus.Bus) Option {
	return func(l *Loader) { l.bus = b }
}

// WithLogger sets the loader logger; units inherit it
func WithLogger(logger core.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithObserver reports loads and unloads to o
func WithObserver(o Observer) Option {
	return func(l *Loader) { l.observer = o }
}

// WithNodeletOptions appends options handed to every unit factory
func WithNodeletOptions(opts ...nodelet.Option) Option {
	return func(l *Loader) { l.unitOpts = append(l.unitOpts, opts...) }
}

// Deployment describes one loaded unit
type Deployment struct {
	ID   string
	Name string
	Type string
	Unit Unit
}

// Loader is a registry of unit types and the set of loaded units.
//
// Thread-safety: All methods are safe for concurrent use.
type Loader struct {
	bus      *bus.Bus
	logger   core.Logger
	observer Observer
	unitOpts []nodelet.Option

	mu          sync.RWMutex
	factories   map[string]Factory
	deployments map[string]*Deployment
	closed      bool
}

// New creates an empty loader
func New(opts ...Option) *Loader {
	l := &Loader{
		factories:   make(map[string]Factory),
		deployments: make(map[string]*Deployment),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = core.DefaultLogger()
	}
	if l.bus == nil {
		l.bus = bus.New(bus.WithLogger(l.logger))
	}
	if l.observer == nil {
		l.observer = nopObserver{}
	}
	return l
}

// Bus returns the bus shared by loaded units
func (l *Loader) Bus() *bus.Bus { return l.bus }

// Register makes typeName loadable
func (l *Loader) Register(typeName string, f Factory) error {
	if typeName == "" {
		return ErrUnknownType.Wrap(errors.New("type name cannot be empty"))
	}
	if f == nil {
		return ErrNilFactory
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.factories[typeName]; exists {
		return ErrTypeExists.Wrap(fmt.Errorf("type %s", typeName))
	}
	l.factories[typeName] = f
	return nil
}

// MustRegister is Register that panics on error, for init-time registration
func (l *Loader) MustRegister(typeName string, f Factory) {
	core.FailFast(l.Register(typeName, f))
}

// Load creates a unit of typeName and initializes it as name. On any Init
// error the unit is closed and the error returned; the name stays free.
func (l *Loader) Load(ctx context.Context, name, typeName string, remappings map[string]string, argv []string) (string, error) {
	if err := core.ValidateName(name); err != nil {
		return "", err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return "", ErrLoaderClosed
	}
	f, ok := l.factories[typeName]
	if !ok {
		l.mu.Unlock()
		return "", ErrUnknownType.Wrap(fmt.Errorf("type %s", typeName))
	}
	if _, loaded := l.deployments[name]; loaded {
		l.mu.Unlock()
		return "", ErrAlreadyLoaded.Wrap(fmt.Errorf("unit %s", name))
	}
	// reserve the name while Init runs outside the lock
	dep := &Deployment{ID: uuid.New().String(), Name: name, Type: typeName}
	l.deployments[name] = dep
	l.mu.Unlock()

	opts := append([]nodelet.Option{nodelet.WithBus(l.bus), nodelet.WithLogger(l.logger)}, l.unitOpts...)
	unit := f(opts...)
	if unit == nil {
		l.release(name)
		return "", ErrNilFactory.Wrap(fmt.Errorf("type %s returned no unit", typeName))
	}

	if err := unit.Init(name, remappings, argv); err != nil {
		l.release(name)
		if cerr := unit.Close(ctx); cerr != nil {
			l.logger.Warn("closing failed unit", "unit", name, "error", cerr)
		}
		l.logger.Error("failed to load unit", "unit", name, "type", typeName, "error", err)
		return "", fmt.Errorf("load %s (%s): %w", name, typeName, err)
	}

	l.mu.Lock()
	if l.closed {
		// Close ran while Init was in flight and could not see this unit
		delete(l.deployments, name)
		l.mu.Unlock()
		if cerr := unit.Close(ctx); cerr != nil {
			l.logger.Warn("closing unit loaded after close", "unit", name, "error", cerr)
		}
		return "", ErrLoaderClosed
	}
	dep.Unit = unit
	l.mu.Unlock()

	workers := 0
	if w, ok := unit.(interface{ MTWorkers() int }); ok {
		workers = w.MTWorkers()
	}
	l.observer.UnitLoaded(name, workers)
	l.logger.Info("unit loaded", "unit", name, "type", typeName, "id", dep.ID)
	return dep.ID, nil
}

// Unload closes and forgets the unit loaded as name
func (l *Loader) Unload(ctx context.Context, name string) error {
	l.mu.Lock()
	dep, ok := l.deployments[name]
	if !ok || dep.Unit == nil {
		l.mu.Unlock()
		return ErrNotLoaded.Wrap(fmt.Errorf("unit %s", name))
	}
	delete(l.deployments, name)
	l.mu.Unlock()

	l.observer.UnitUnloaded(name)
	if err := dep.Unit.Close(ctx); err != nil {
		return fmt.Errorf("unload %s: %w", name, err)
	}
	l.logger.Info("unit unloaded", "unit", name, "id", dep.ID)
	return nil
}

// Get returns the deployment loaded as name
func (l *Loader) Get(name string) (Deployment, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	dep, ok := l.deployments[name]
	if !ok || dep.Unit == nil {
		return Deployment{}, false
	}
	return *dep, true
}

// List returns the names of loaded units, sorted
func (l *Loader) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.deployments))
	for name, dep := range l.deployments {
		if dep.Unit != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Types returns the registered type names, sorted
func (l *Loader) Types() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.factories))
	for name := range l.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close unloads every unit and refuses further loads. The bus is closed
// last. Errors from individual units are joined.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	names := make([]string, 0, len(l.deployments))
	for name, dep := range l.deployments {
		if dep.Unit != nil {
			names = append(names, name)
		}
	}
	l.mu.Unlock()

	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := l.Unload(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := l.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (l *Loader) release(name string) {
	l.mu.Lock()
	delete(l.deployments, name)
	l.mu.Unlock()
}
