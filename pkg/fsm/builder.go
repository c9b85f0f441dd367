package fsm

// MachineBuilder is the entry point for building a Definition
type MachineBuilder struct {
	definition *Definition
}

// NewMachine starts building a new state machine definition
func NewMachine() *MachineBuilder {
	return &MachineBuilder{
		definition: &Definition{
			states:      make(map[string]*State),
			transitions: make(map[string][]Transition),
		},
	}
}

// State declares (or reopens) a state and returns its builder
func (b *MachineBuilder) State(id string) *StateBuilder {
	s, ok := b.definition.states[id]
	if !ok {
		s = NewState(id)
		b.definition.states[id] = s
		b.definition.order = append(b.definition.order, id)
	}
	return &StateBuilder{machine: b, state: s}
}

// Build returns the definition. Target states referenced by transitions are
// declared implicitly.
func (b *MachineBuilder) Build() *Definition {
	for _, ts := range b.definition.transitions {
		for _, t := range ts {
			if _, ok := b.definition.states[t.TargetState]; !ok {
				b.State(t.TargetState)
			}
		}
	}
	return b.definition
}

// StateBuilder configures a single state
type StateBuilder struct {
	machine *MachineBuilder
	state   *State
}

// Initial marks the state as the initial state
func (sb *StateBuilder) Initial() *StateBuilder {
	sb.machine.definition.initialState = sb.state.id
	return sb
}

// Final marks the state as final
func (sb *StateBuilder) Final() *StateBuilder {
	sb.state.final = true
	return sb
}

// OnEntry sets the entry action
func (sb *StateBuilder) OnEntry(action ActionFunc) *StateBuilder {
	sb.state.entryAction = action
	return sb
}

// OnExit sets the exit action
func (sb *StateBuilder) OnExit(action ActionFunc) *StateBuilder {
	sb.state.exitAction = action
	return sb
}

// To starts a transition from this state to target
func (sb *StateBuilder) To(target string) *TransitionBuilder {
	return newTransitionBuilder(sb, target)
}

// ToSelf starts a self-transition
func (sb *StateBuilder) ToSelf() *TransitionBuilder {
	return newTransitionBuilder(sb, sb.state.id)
}

// State switches to building another state
func (sb *StateBuilder) State(id string) *StateBuilder {
	return sb.machine.State(id)
}

// Build returns the definition
func (sb *StateBuilder) Build() *Definition {
	return sb.machine.Build()
}

// TransitionBuilder configures one transition. The transition is registered
// as soon as it has an event.
type TransitionBuilder struct {
	state *StateBuilder
	index int
	draft Transition
}

func newTransitionBuilder(sb *StateBuilder, target string) *TransitionBuilder {
	return &TransitionBuilder{
		state: sb,
		index: -1,
		draft: Transition{SourceState: sb.state.id, TargetState: target},
	}
}

func (tb *TransitionBuilder) commit() {
	transitions := tb.state.machine.definition.transitions
	source := tb.draft.SourceState
	if tb.index < 0 {
		transitions[source] = append(transitions[source], tb.draft)
		tb.index = len(transitions[source]) - 1
		return
	}
	transitions[source][tb.index] = tb.draft
}

// On binds the transition to an event
func (tb *TransitionBuilder) On(event string) *TransitionBuilder {
	tb.draft.Event = event
	tb.commit()
	return tb
}

// When sets a guard condition
func (tb *TransitionBuilder) When(guard GuardFunc) *TransitionBuilder {
	tb.draft.Guard = guard
	if tb.index >= 0 {
		tb.commit()
	}
	return tb
}

// Unless sets a negated guard condition
func (tb *TransitionBuilder) Unless(guard GuardFunc) *TransitionBuilder {
	return tb.When(func(ctx Context) bool { return !guard(ctx) })
}

// Do sets the transition action
func (tb *TransitionBuilder) Do(action ActionFunc) *TransitionBuilder {
	tb.draft.Action = action
	if tb.index >= 0 {
		tb.commit()
	}
	return tb
}

// To starts another transition from the same source state
func (tb *TransitionBuilder) To(target string) *TransitionBuilder {
	return newTransitionBuilder(tb.state, target)
}

// ToSelf starts a self-transition from the same source state
func (tb *TransitionBuilder) ToSelf() *TransitionBuilder {
	return newTransitionBuilder(tb.state, tb.state.state.id)
}

// State switches to building another state
func (tb *TransitionBuilder) State(id string) *StateBuilder {
	return tb.state.machine.State(id)
}

// Build returns the definition
func (tb *TransitionBuilder) Build() *Definition {
	return tb.state.machine.Build()
}
