package topology

import "fmt"

// TrackEvent is the logical meaning of a sensor firing
type TrackEvent int

const (
	// EventNone is returned for positions that carry no sensor
	EventNone TrackEvent = iota

	NorthStationUpper
	NorthStationLower
	SouthStationUpper
	SouthStationLower

	CrossroadNorth
	CrossroadSouth
	CrossroadWest
	CrossroadEast

	NorthApproachUpper
	NorthApproachLower
	SouthApproachUpper
	SouthApproachLower

	MiddleNorthWest
	MiddleSouthWest
	MiddleNorthEast
	MiddleSouthEast

	SouthSingleLaneMid
	NorthSingleLaneMid
)

type sensor struct {
	name string
	pos  Position
}

var sensors = map[TrackEvent]sensor{
	NorthStationUpper: {"NorthStationUpper", Position{15, 3}},
	NorthStationLower: {"NorthStationLower", Position{15, 5}},
	SouthStationUpper: {"SouthStationUpper", Position{15, 11}},
	SouthStationLower: {"SouthStationLower", Position{15, 13}},

	CrossroadNorth: {"CrossroadNorth", Position{8, 5}},
	CrossroadSouth: {"CrossroadSouth", Position{10, 8}},
	CrossroadWest:  {"CrossroadWest", Position{6, 7}},
	CrossroadEast:  {"CrossroadEast", Position{10, 7}},

	NorthApproachUpper: {"NorthApproachUpper", Position{14, 7}},
	NorthApproachLower: {"NorthApproachLower", Position{14, 8}},
	SouthApproachUpper: {"SouthApproachUpper", Position{6, 11}},
	SouthApproachLower: {"SouthApproachLower", Position{4, 13}},

	MiddleNorthWest: {"MiddleNorthWest", Position{7, 9}},
	MiddleSouthWest: {"MiddleSouthWest", Position{7, 10}},
	MiddleNorthEast: {"MiddleNorthEast", Position{12, 9}},
	MiddleSouthEast: {"MiddleSouthEast", Position{12, 10}},

	SouthSingleLaneMid: {"SouthSingleLaneMid", Position{1, 9}},
	NorthSingleLaneMid: {"NorthSingleLaneMid", Position{19, 9}},
}

var byPosition = func() map[Position]TrackEvent {
	m := make(map[Position]TrackEvent, len(sensors))
	for ev, s := range sensors {
		m[s.pos] = ev
	}
	return m
}()

// EventFor maps a sensor position to its track event. Unknown positions yield
// EventNone and false.
func EventFor(p Position) (TrackEvent, bool) {
	ev, ok := byPosition[p]
	if !ok {
		return EventNone, false
	}
	return ev, true
}

// Position returns the sensor coordinate of the event
func (e TrackEvent) Position() Position {
	return sensors[e].pos
}

// String returns the event name
func (e TrackEvent) String() string {
	if s, ok := sensors[e]; ok {
		return s.name
	}
	if e == EventNone {
		return "None"
	}
	return fmt.Sprintf("TrackEvent(%d)", int(e))
}

// IsTerminal reports whether the event is a station stop sensor
func (e TrackEvent) IsTerminal() bool {
	switch e {
	case NorthStationUpper, NorthStationLower, SouthStationUpper, SouthStationLower:
		return true
	}
	return false
}

// Sensors lists every instrumented track event
func Sensors() []TrackEvent {
	out := make([]TrackEvent, 0, len(sensors))
	for ev := NorthStationUpper; ev <= NorthSingleLaneMid; ev++ {
		out = append(out, ev)
	}
	return out
}
