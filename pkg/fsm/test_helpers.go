package fsm

import (
	"sync"
	"testing"
)

// TestObserver is a mock observer for testing that captures all observer events
type TestObserver struct {
	mutex        sync.RWMutex
	Transitions  []TransitionEvent
	StateEnters  []string
	StateExits   []string
	EventRejects []EventRejectEvent
	Errors       []error
	Started      int
	Stopped      int
}

// TransitionEvent is one captured transition
type TransitionEvent struct {
	From  string
	To    string
	Event Event
}

// EventRejectEvent is one captured rejection
type EventRejectEvent struct {
	Event  Event
	Reason string
}

// NewTestObserver creates a new test observer
func NewTestObserver() *TestObserver {
	return &TestObserver{}
}

func (o *TestObserver) OnTransition(from string, to string, event Event, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Transitions = append(o.Transitions, TransitionEvent{From: from, To: to, Event: event})
}

func (o *TestObserver) OnStateEnter(state string, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.StateEnters = append(o.StateEnters, state)
}

func (o *TestObserver) OnStateExit(state string, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.StateExits = append(o.StateExits, state)
}

func (o *TestObserver) OnEventRejected(event Event, reason string, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.EventRejects = append(o.EventRejects, EventRejectEvent{Event: event, Reason: reason})
}

func (o *TestObserver) OnError(err error, ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Errors = append(o.Errors, err)
}

func (o *TestObserver) OnMachineStarted(ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Started++
}

func (o *TestObserver) OnMachineStopped(ctx Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Stopped++
}

// Reset clears everything captured so far
func (o *TestObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.Transitions = nil
	o.StateEnters = nil
	o.StateExits = nil
	o.EventRejects = nil
	o.Errors = nil
	o.Started = 0
	o.Stopped = 0
}

// TransitionCount returns the number of captured transitions
func (o *TestObserver) TransitionCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.Transitions)
}

// CountEnters returns how many times state was entered
func (o *TestObserver) CountEnters(state string) int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	n := 0
	for _, s := range o.StateEnters {
		if s == state {
			n++
		}
	}
	return n
}

// Path returns the sequence of entered states
func (o *TestObserver) Path() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return append([]string(nil), o.StateEnters...)
}

// AssertState fails the test if the machine is not in the expected state
func AssertState(t *testing.T, machine *Machine, expected string) {
	t.Helper()
	if actual := machine.CurrentState(); actual != expected {
		t.Errorf("Expected state '%s', got '%s'", expected, actual)
	}
}

// AssertEventProcessed fails the test if the processed flag differs
func AssertEventProcessed(t *testing.T, result *EventResult, expected bool) {
	t.Helper()
	if result.Processed != expected {
		t.Errorf("Expected event processed=%v, got %v (reason: %s)", expected, result.Processed, result.RejectionReason)
	}
}

// AssertStateChanged fails the test if the result does not describe from -> to
func AssertStateChanged(t *testing.T, result *EventResult, from, to string) {
	t.Helper()
	if result.PreviousState != from || result.CurrentState != to {
		t.Errorf("Expected transition %s -> %s, got %s -> %s", from, to, result.PreviousState, result.CurrentState)
	}
}
