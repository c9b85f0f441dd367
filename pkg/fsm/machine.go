// Package fsm is a small flat finite state machine engine with a fluent
// builder, guarded transitions, entry/exit actions and observers.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MachineState represents the lifecycle of the machine itself
type MachineState int

const (
	// Machine is stopped and not processing events
	MachineStateStopped MachineState = iota
	// Machine is running and processing events
	MachineStateStarted
)

// Definition is an immutable description of states and transitions from
// which any number of machine instances can be created
type Definition struct {
	initialState string
	states       map[string]*State
	order        []string
	transitions  map[string][]Transition
}

// CreateInstance creates a new stopped machine with the given name
func (d *Definition) CreateInstance(name string) *Machine {
	sm := &Machine{
		name:         name,
		definition:   d,
		observers:    NewObserverManager(),
		machineState: MachineStateStopped,
	}
	sm.context = NewContext(context.Background(), sm)
	return sm
}

// GetInitialState returns the initial state ID
func (d *Definition) GetInitialState() string {
	return d.initialState
}

// GetStates returns state IDs in declaration order
func (d *Definition) GetStates() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// GetState returns the state with the given ID
func (d *Definition) GetState(id string) (*State, bool) {
	s, ok := d.states[id]
	return s, ok
}

// GetTransitions returns the transitions keyed by source state
func (d *Definition) GetTransitions() map[string][]Transition {
	result := make(map[string][]Transition, len(d.transitions))
	for from, ts := range d.transitions {
		result[from] = append([]Transition(nil), ts...)
	}
	return result
}

// Validate checks that the definition can be started
func (d *Definition) Validate() error {
	if d.initialState == "" {
		return NewConfigurationError("Definition", "no initial state defined")
	}
	if _, ok := d.states[d.initialState]; !ok {
		return NewConfigurationError("Definition", fmt.Sprintf("initial state '%s' does not exist", d.initialState))
	}
	for from, ts := range d.transitions {
		for _, t := range ts {
			if _, ok := d.states[t.TargetState]; !ok {
				return NewConfigurationError("Definition",
					fmt.Sprintf("transition %s->%s on '%s' targets an unknown state", from, t.TargetState, t.Event))
			}
		}
	}
	return nil
}

// Machine is a running instance of a Definition
type Machine struct {
	name         string
	definition   *Definition
	currentState string
	context      *MachineContext
	observers    *ObserverManager
	machineState MachineState
	mutex        sync.RWMutex
}

// Name returns the instance name
func (sm *Machine) Name() string {
	return sm.name
}

// Definition returns the definition the machine was created from
func (sm *Machine) Definition() *Definition {
	return sm.definition
}

// Start enters the initial state
func (sm *Machine) Start() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.machineState == MachineStateStarted {
		return NewMachineError(ErrCodeInvalidState, "Start", "machine is already started")
	}
	if err := sm.definition.Validate(); err != nil {
		return err
	}

	sm.machineState = MachineStateStarted
	sm.currentState = sm.definition.initialState
	sm.context.updateCurrentState(sm.currentState)

	if err := sm.definition.states[sm.currentState].Enter(sm.context); err != nil {
		sm.observers.NotifyError(NewActionError("entry", sm.currentState, err), sm.context)
	}
	sm.observers.NotifyStateEnter(sm.currentState, sm.context)
	sm.observers.NotifyMachineStarted(sm.context)
	return nil
}

// Stop stops event processing
func (sm *Machine) Stop() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.machineState != MachineStateStarted {
		return NewMachineNotStartedError("Stop")
	}

	sm.observers.NotifyStateExit(sm.currentState, sm.context)
	sm.observers.NotifyMachineStopped(sm.context)
	sm.machineState = MachineStateStopped
	return nil
}

// IsStarted reports whether the machine is processing events
func (sm *Machine) IsStarted() bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.machineState == MachineStateStarted
}

// CurrentState returns the current state
func (sm *Machine) CurrentState() string {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState
}

// IsInState reports whether the machine is in the given state
func (sm *Machine) IsInState(state string) bool {
	return sm.CurrentState() == state
}

// IsInFinalState reports whether the current state is final
func (sm *Machine) IsInFinalState() bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	s, ok := sm.definition.states[sm.currentState]
	return ok && s.IsFinal()
}

// AddObserver registers an observer
func (sm *Machine) AddObserver(observer Observer) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.observers.AddObserver(observer)
}

// RemoveObserver unregisters an observer
func (sm *Machine) RemoveObserver(observer Observer) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.observers.RemoveObserver(observer)
}

// Context returns the machine context
func (sm *Machine) Context() Context {
	return sm.context
}

// HandleEvent handles an event synchronously
func (sm *Machine) HandleEvent(eventName string, eventData any) *EventResult {
	return sm.HandleEventWithContext(context.Background(), eventName, eventData)
}

// HandleEventWithContext handles an event synchronously. The context is
// checked before any transition work starts.
func (sm *Machine) HandleEventWithContext(ctx context.Context, eventName string, eventData any) *EventResult {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.machineState != MachineStateStarted {
		return NewEventResult(false, false, sm.currentState, sm.currentState).
			WithRejection("machine is not started").
			WithError(NewMachineNotStartedError("HandleEvent"))
	}

	event := NewEvent(eventName, eventData)

	if strings.TrimSpace(eventName) == "" {
		reason := "event name cannot be empty"
		sm.observers.NotifyEventRejected(event, reason, sm.context)
		return NewEventResult(false, false, sm.currentState, sm.currentState).
			WithRejection(reason).
			WithError(errors.New(reason))
	}

	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return NewEventResult(false, false, sm.currentState, sm.currentState).
				WithRejection("context done").
				WithError(err)
		}
	}

	sm.context.updateTransitionInfo(sm.currentState, "", event)

	transition, err := sm.findMatchingTransition(eventName)
	if err != nil {
		reason := err.Error()
		sm.observers.NotifyEventRejected(event, reason, sm.context)
		return NewEventResult(false, false, sm.currentState, sm.currentState).
			WithRejection(reason).
			WithError(err)
	}

	previousState := sm.currentState
	targetState := transition.TargetState
	sm.context.updateTransitionInfo(previousState, targetState, event)

	// transition action runs before the state change; failure aborts the transition
	if transition.Action != nil {
		if err := safeExecuteAction(transition.Action, sm.context); err != nil {
			actionErr := NewActionError("transition", previousState, err)
			sm.observers.NotifyError(actionErr, sm.context)
			sm.observers.NotifyEventRejected(event, fmt.Sprintf("transition action failed: %v", err), sm.context)
			return NewEventResult(false, false, previousState, previousState).
				WithError(actionErr)
		}
	}

	if err := sm.definition.states[previousState].Exit(sm.context); err != nil {
		sm.observers.NotifyError(NewActionError("exit", previousState, err), sm.context)
	}
	sm.observers.NotifyStateExit(previousState, sm.context)

	sm.currentState = targetState
	sm.context.updateCurrentState(targetState)

	if err := sm.definition.states[targetState].Enter(sm.context); err != nil {
		sm.observers.NotifyError(NewActionError("entry", targetState, err), sm.context)
	}

	sm.observers.NotifyTransition(previousState, targetState, event, sm.context)
	sm.observers.NotifyStateEnter(targetState, sm.context)

	// self-transitions still ran exit and entry actions
	return NewEventResult(true, true, previousState, targetState)
}

// findMatchingTransition picks the first transition for the event whose guard passes
func (sm *Machine) findMatchingTransition(eventName string) (*Transition, error) {
	candidates := sm.definition.transitions[sm.currentState]

	found := false
	for i := range candidates {
		t := &candidates[i]
		if t.Event != eventName {
			continue
		}
		found = true
		if t.Guard == nil {
			return t, nil
		}
		ok, err := safeEvaluateGuard(t.Guard, sm.context)
		if err != nil {
			sm.observers.NotifyError(err, sm.context)
			continue
		}
		if ok {
			return t, nil
		}
	}

	if found {
		return nil, NewGuardRejectedError(sm.currentState, eventName)
	}
	return nil, NewNoTransitionError(sm.currentState, eventName)
}
