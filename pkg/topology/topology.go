// Package topology describes the fixed two-loop layout: the instrumented sensor
// positions, what each of them means, the four switches and the six critical
// segments that trains must occupy exclusively.
package topology

import "fmt"

// Position is a grid coordinate on the track layout
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String returns the position as "(x,y)"
func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Direction is the logical direction of travel of a train
type Direction int

const (
	// South travels from the north terminal towards the south terminal
	South Direction = iota
	// North travels from the south terminal towards the north terminal
	North
)

// String returns the direction name
func (d Direction) String() string {
	if d == North {
		return "North"
	}
	return "South"
}

// MarshalText encodes the direction by name
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a direction name
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Opposite returns the reversed direction
func (d Direction) Opposite() Direction {
	if d == North {
		return South
	}
	return North
}

// ParseDirection parses "north" or "south" in any case
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "north", "North", "NORTH":
		return North, nil
	case "south", "South", "SOUTH":
		return South, nil
	}
	return South, fmt.Errorf("unknown direction %q", s)
}

// Branch selects one of the two legs of a switch
type Branch int

const (
	// Left branch of a switch
	Left Branch = iota
	// Right branch of a switch
	Right
)

// String returns "LEFT" or "RIGHT"
func (b Branch) String() string {
	if b == Right {
		return "RIGHT"
	}
	return "LEFT"
}

// Other returns the opposite branch
func (b Branch) Other() Branch {
	if b == Right {
		return Left
	}
	return Right
}

// Segment is a stretch of track that at most one train may occupy
type Segment int

const (
	Crossroad Segment = iota
	StationLaneNorth
	SingleLaneNorth
	FastMiddleLane
	SingleLaneSouth
	StationLaneSouth
)

var segmentNames = [...]string{
	Crossroad:        "Crossroad",
	StationLaneNorth: "StationLaneNorth",
	SingleLaneNorth:  "SingleLaneNorth",
	FastMiddleLane:   "FastMiddleLane",
	SingleLaneSouth:  "SingleLaneSouth",
	StationLaneSouth: "StationLaneSouth",
}

// String returns the segment name
func (s Segment) String() string {
	if s.Valid() {
		return segmentNames[s]
	}
	return fmt.Sprintf("Segment(%d)", int(s))
}

// MarshalText encodes the segment by name, so segments can key JSON objects
func (s Segment) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a segment name
func (s *Segment) UnmarshalText(text []byte) error {
	parsed, err := ParseSegment(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSegment returns the segment with the given name
func ParseSegment(name string) (Segment, error) {
	for seg, n := range segmentNames {
		if n == name {
			return Segment(seg), nil
		}
	}
	return 0, fmt.Errorf("unknown segment %q", name)
}

// Valid reports whether s is one of the six known segments
func (s Segment) Valid() bool {
	return s >= Crossroad && s <= StationLaneSouth
}

// Segments lists every critical segment in track order from north to south
func Segments() []Segment {
	return []Segment{Crossroad, StationLaneNorth, SingleLaneNorth, FastMiddleLane, SingleLaneSouth, StationLaneSouth}
}

// SwitchID names one of the four switches
type SwitchID int

const (
	StationNorth SwitchID = iota
	StationSouth
	MiddleLaneWest
	MiddleLaneEast
)

var switchNames = [...]string{
	StationNorth:   "StationNorth",
	StationSouth:   "StationSouth",
	MiddleLaneWest: "MiddleLaneWest",
	MiddleLaneEast: "MiddleLaneEast",
}

var switchPositions = map[SwitchID]Position{
	StationNorth:   {17, 7},
	StationSouth:   {3, 11},
	MiddleLaneWest: {4, 9},
	MiddleLaneEast: {15, 9},
}

// String returns the switch name
func (s SwitchID) String() string {
	if s >= StationNorth && s <= MiddleLaneEast {
		return switchNames[s]
	}
	return fmt.Sprintf("Switch(%d)", int(s))
}

// Position returns the physical coordinate of the switch
func (s SwitchID) Position() Position {
	return switchPositions[s]
}

// Switches lists all switches
func Switches() []SwitchID {
	return []SwitchID{StationNorth, StationSouth, MiddleLaneWest, MiddleLaneEast}
}

// SwitchAt returns the switch located at p
func SwitchAt(p Position) (SwitchID, bool) {
	for id, pos := range switchPositions {
		if pos == p {
			return id, true
		}
	}
	return 0, false
}
