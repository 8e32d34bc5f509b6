package fsm

import (
	"errors"
	"fmt"
	"sync"
)

// State represents a state in the machine
type State string

// Event represents an event that triggers a transition
type Event string

// Transition represents a valid state transition
type Transition struct {
	From  State
	Event Event
	To    State
}

// Listener is notified after a transition has been applied.
// Listeners run outside the machine lock, in registration order.
type Listener func(from State, event Event, to State)

// ErrInvalidTransition is matched by every *TransitionError
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError reports an event that is not allowed from the current state
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from state '%s' with event '%s'", e.From, e.Event)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Machine is a thread-safe finite state machine. Fire performs the
// check-and-set of a transition as a single step under the machine lock, so
// concurrent callers racing on the same event see exactly one winner.
type Machine struct {
	mu          sync.RWMutex
	current     State
	transitions map[State]map[Event]State
	listeners   []Listener
}

// New creates a machine in the initial state with the given transitions
func New(initial State, transitions ...Transition) *Machine {
	m := &Machine{
		current:     initial,
		transitions: make(map[State]map[Event]State),
	}
	for _, t := range transitions {
		m.AddTransition(t.From, t.Event, t.To)
	}
	return m
}

// AddTransition adds a valid transition
func (m *Machine) AddTransition(from State, event Event, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transitions[from]; !ok {
		m.transitions[from] = make(map[Event]State)
	}
	m.transitions[from][event] = to
}

// OnTransition registers a listener
func (m *Machine) OnTransition(l Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Current returns the current state
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in state s
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// Fire applies event and returns the resulting state. When the event is not
// allowed the state is left untouched and a *TransitionError is returned.
func (m *Machine) Fire(event Event) (State, error) {
	m.mu.Lock()
	from := m.current
	to, ok := m.transitions[from][event]
	if !ok {
		m.mu.Unlock()
		return from, &TransitionError{From: from, Event: event}
	}
	m.current = to
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l(from, event, to)
	}
	return to, nil
}
