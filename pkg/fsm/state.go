package fsm

import "fmt"

// ActionFunc represents an action with error support
type ActionFunc func(ctx Context) error

// GuardFunc represents a guard condition function
type GuardFunc func(ctx Context) bool

// State is a single flat state of a machine
type State struct {
	id          string
	entryAction ActionFunc
	exitAction  ActionFunc
	final       bool
}

// NewState creates a new state
func NewState(id string) *State {
	return &State{id: id}
}

// ID returns the state identifier
func (s *State) ID() string {
	return s.id
}

// IsFinal returns whether this is a final state
func (s *State) IsFinal() bool {
	return s.final
}

// Enter executes the entry action
func (s *State) Enter(ctx Context) error {
	if s.entryAction != nil {
		return safeExecuteAction(s.entryAction, ctx)
	}
	return nil
}

// Exit executes the exit action
func (s *State) Exit(ctx Context) error {
	if s.exitAction != nil {
		return safeExecuteAction(s.exitAction, ctx)
	}
	return nil
}

// Transition represents a transition between states
type Transition struct {
	SourceState string
	TargetState string
	Event       string
	Guard       GuardFunc
	Action      ActionFunc
}

// safeEvaluateGuard evaluates a guard with panic recovery
func safeEvaluateGuard(guard GuardFunc, ctx Context) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = fmt.Errorf("guard panic: %v", r)
		}
	}()

	return guard(ctx), nil
}

// safeExecuteAction executes an action with panic recovery
func safeExecuteAction(action ActionFunc, ctx Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()

	return action(ctx)
}
