package fsm_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fluxorio/nodelet/pkg/core/fsm"
)

const (
	StateIdle    fsm.State = "IDLE"
	StateRunning fsm.State = "RUNNING"
	StateStopped fsm.State = "STOPPED"

	EventStart fsm.Event = "START"
	EventStop  fsm.Event = "STOP"
)

func TestMachine(t *testing.T) {
	machine := fsm.New(StateIdle,
		fsm.Transition{From: StateIdle, Event: EventStart, To: StateRunning},
		fsm.Transition{From: StateRunning, Event: EventStop, To: StateStopped},
	)

	if machine.Current() != StateIdle {
		t.Errorf("expected state %s, got %s", StateIdle, machine.Current())
	}

	var seen []fsm.State
	machine.OnTransition(func(from fsm.State, event fsm.Event, to fsm.State) {
		seen = append(seen, to)
	})

	to, err := machine.Fire(EventStart)
	if err != nil {
		t.Fatalf("failed to fire START: %v", err)
	}
	if to != StateRunning || !machine.Is(StateRunning) {
		t.Errorf("expected state %s, got %s", StateRunning, machine.Current())
	}

	if _, err := machine.Fire(EventStop); err != nil {
		t.Fatalf("failed to fire STOP: %v", err)
	}

	// Invalid transition leaves the state untouched
	state, err := machine.Fire(EventStart)
	if err == nil {
		t.Fatal("expected error for invalid transition")
	}
	if !errors.Is(err, fsm.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	var te *fsm.TransitionError
	if !errors.As(err, &te) || te.From != StateStopped || te.Event != EventStart {
		t.Errorf("unexpected transition error %#v", err)
	}
	if state != StateStopped {
		t.Errorf("expected state %s after rejected event, got %s", StateStopped, state)
	}

	if len(seen) != 2 || seen[0] != StateRunning || seen[1] != StateStopped {
		t.Errorf("listener saw %v", seen)
	}
}

func TestMachine_ConcurrentFireHasOneWinner(t *testing.T) {
	machine := fsm.New(StateIdle, fsm.Transition{From: StateIdle, Event: EventStart, To: StateRunning})

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := machine.Fire(EventStart); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful transition, got %d", wins)
	}
}
