package train

import "github.com/anggasct/tracklock/pkg/fsm"

// Agent states
const (
	StateTraveling = "traveling"
	StateBlocked   = "blocked"
	StateHalted    = "halted"
	StateStopped   = "stopped"
)

// Agent events
const (
	EventSegmentContended = "segment_contended"
	EventSegmentGranted   = "segment_granted"
	EventTerminalReached  = "terminal_reached"
	EventDeparted         = "departed"
	EventFault            = "fault"
)

var definition = fsm.NewMachine().
	State(StateTraveling).Initial().
	To(StateBlocked).On(EventSegmentContended).
	To(StateHalted).On(EventTerminalReached).
	To(StateStopped).On(EventFault).
	State(StateBlocked).
	To(StateTraveling).On(EventSegmentGranted).
	To(StateStopped).On(EventFault).
	State(StateHalted).
	To(StateTraveling).On(EventDeparted).
	To(StateStopped).On(EventFault).
	State(StateStopped).Final().
	Build()

// Definition returns the state machine every agent runs
func Definition() *fsm.Definition {
	return definition
}
