package fsm

import (
	"context"
	"sync"
)

// Context provides access to data and information during state machine execution
type Context interface {
	context.Context

	Get(key string) (any, bool)
	Set(key string, value any)

	GetMachine() *Machine
	GetCurrentState() string
	GetSourceState() string
	GetTargetState() string

	GetCurrentEvent() Event
	GetEventName() string
	GetEventData() any
}

// MachineContext implements the Context interface
type MachineContext struct {
	context.Context
	data         map[string]any
	machine      *Machine
	currentState string
	sourceState  string
	targetState  string
	currentEvent Event

	mutex sync.RWMutex
}

// NewContext creates a new state machine context
func NewContext(parent context.Context, machine *Machine) *MachineContext {
	if parent == nil {
		parent = context.Background()
	}
	return &MachineContext{
		Context: parent,
		data:    make(map[string]any),
		machine: machine,
	}
}

// Get retrieves a value from the context
func (ctx *MachineContext) Get(key string) (any, bool) {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	value, exists := ctx.data[key]
	return value, exists
}

// Set stores a value in the context
func (ctx *MachineContext) Set(key string, value any) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.data[key] = value
}

// GetMachine returns the associated state machine
func (ctx *MachineContext) GetMachine() *Machine {
	return ctx.machine
}

// GetCurrentState returns the current state ID
func (ctx *MachineContext) GetCurrentState() string {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.currentState
}

// GetSourceState returns the source state of the current transition
func (ctx *MachineContext) GetSourceState() string {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.sourceState
}

// GetTargetState returns the target state of the current transition
func (ctx *MachineContext) GetTargetState() string {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.targetState
}

// GetCurrentEvent returns the event being processed
func (ctx *MachineContext) GetCurrentEvent() Event {
	ctx.mutex.RLock()
	defer ctx.mutex.RUnlock()
	return ctx.currentEvent
}

// GetEventName returns the name of the current event
func (ctx *MachineContext) GetEventName() string {
	if ev := ctx.GetCurrentEvent(); ev != nil {
		return ev.GetName()
	}
	return ""
}

// GetEventData returns the data of the current event
func (ctx *MachineContext) GetEventData() any {
	if ev := ctx.GetCurrentEvent(); ev != nil {
		return ev.GetData()
	}
	return nil
}

func (ctx *MachineContext) updateTransitionInfo(sourceState, targetState string, event Event) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.sourceState = sourceState
	ctx.targetState = targetState
	ctx.currentEvent = event
}

func (ctx *MachineContext) updateCurrentState(state string) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()
	ctx.currentState = state
}
