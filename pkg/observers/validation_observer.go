package observers

import (
	"fmt"
	"sync"

	"github.com/anggasct/tracklock/pkg/fsm"
)

// ValidationObserver records transitions that a definition does not allow
// and states that were expected but never visited
type ValidationObserver struct {
	expectedStates     map[string]bool
	visitedStates      map[string]bool
	allowedTransitions map[string]map[string]bool
	violations         []string
	mutex              sync.RWMutex
}

// NewValidationObserver creates a new validation observer
func NewValidationObserver() *ValidationObserver {
	return &ValidationObserver{
		expectedStates:     make(map[string]bool),
		visitedStates:      make(map[string]bool),
		allowedTransitions: make(map[string]map[string]bool),
		violations:         make([]string, 0),
	}
}

// NewValidationObserverFor expects every state of the definition and allows
// exactly its declared transitions
func NewValidationObserverFor(definition *fsm.Definition) *ValidationObserver {
	o := NewValidationObserver()
	for _, state := range definition.GetStates() {
		o.AddExpectedState(state)
	}
	for from, transitions := range definition.GetTransitions() {
		for _, t := range transitions {
			o.AddAllowedTransition(from, t.TargetState)
		}
	}
	return o
}

// AddExpectedState adds an expected state
func (o *ValidationObserver) AddExpectedState(stateName string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.expectedStates[stateName] = true
}

// AddAllowedTransition adds an allowed transition
func (o *ValidationObserver) AddAllowedTransition(from, to string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if _, exists := o.allowedTransitions[from]; !exists {
		o.allowedTransitions[from] = make(map[string]bool)
	}
	o.allowedTransitions[from][to] = true
}

// OnStateEnter marks the state visited
func (o *ValidationObserver) OnStateEnter(state string, ctx fsm.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.visitedStates[state] = true
}

// OnTransition flags transitions outside the allowed set
func (o *ValidationObserver) OnTransition(from string, to string, event fsm.Event, ctx fsm.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if allowed, exists := o.allowedTransitions[from]; !exists || !allowed[to] {
		name := ""
		if event != nil {
			name = event.GetName()
		}
		o.violations = append(o.violations, fmt.Sprintf(
			"Invalid transition from '%s' to '%s' on event '%s'", from, to, name))
	}
}

func (o *ValidationObserver) OnStateExit(state string, ctx fsm.Context) {}

func (o *ValidationObserver) OnEventRejected(event fsm.Event, reason string, ctx fsm.Context) {}

// OnError records the error as a violation
func (o *ValidationObserver) OnError(err error, ctx fsm.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.violations = append(o.violations, fmt.Sprintf("Error occurred: %v", err))
}

func (o *ValidationObserver) OnMachineStarted(ctx fsm.Context) {}

func (o *ValidationObserver) OnMachineStopped(ctx fsm.Context) {}

// GetViolations returns all validation violations
func (o *ValidationObserver) GetViolations() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make([]string, len(o.violations))
	copy(result, o.violations)
	return result
}

// GetUnvisitedStates returns states that were expected but not visited
func (o *ValidationObserver) GetUnvisitedStates() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	var unvisited []string
	for state := range o.expectedStates {
		if !o.visitedStates[state] {
			unvisited = append(unvisited, state)
		}
	}
	return unvisited
}

// HasViolations returns whether any violations occurred
func (o *ValidationObserver) HasViolations() bool {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.violations) > 0
}

// Reset resets the validation state
func (o *ValidationObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.visitedStates = make(map[string]bool)
	o.violations = make([]string, 0)
}
