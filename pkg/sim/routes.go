package sim

import "github.com/anggasct/tracklock/pkg/topology"

// Lane is one of the two parallel lanes at a station
type Lane int

const (
	Upper Lane = iota
	Lower
)

func (l Lane) String() string {
	if l == Lower {
		return "lower"
	}
	return "upper"
}

type stepKind int

const (
	stepSensor stepKind = iota
	// trailing: the train enters the switch from one leg, which must be selected
	stepTrailing
	// facing: the switch decides which leg the train continues on
	stepFacing
	stepTerminal
)

type step struct {
	kind   stepKind
	event  topology.TrackEvent
	sw     topology.SwitchID
	branch topology.Branch
}

func sensors(events ...topology.TrackEvent) []step {
	out := make([]step, 0, len(events))
	for _, e := range events {
		out = append(out, step{kind: stepSensor, event: e})
	}
	return out
}

func trailing(sw topology.SwitchID, b topology.Branch) step {
	return step{kind: stepTrailing, sw: sw, branch: b}
}

func facing(sw topology.SwitchID) step {
	return step{kind: stepFacing, sw: sw}
}

var terminal = step{kind: stepTerminal}

func join(parts ...[]step) []step {
	var out []step
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// departure is the route out of a station lane, up to the first facing switch
func departure(heading topology.Direction, lane Lane) []step {
	switch {
	case heading == topology.South && lane == Upper:
		return join(
			sensors(topology.NorthStationUpper, topology.CrossroadWest, topology.CrossroadEast, topology.NorthApproachUpper),
			[]step{trailing(topology.StationNorth, topology.Right)},
			sensors(topology.NorthSingleLaneMid),
			[]step{facing(topology.MiddleLaneEast)},
		)
	case heading == topology.South:
		return join(
			sensors(topology.NorthStationLower, topology.CrossroadNorth, topology.CrossroadSouth, topology.NorthApproachLower),
			[]step{trailing(topology.StationNorth, topology.Left)},
			sensors(topology.NorthSingleLaneMid),
			[]step{facing(topology.MiddleLaneEast)},
		)
	case lane == Upper:
		return join(
			sensors(topology.SouthStationUpper, topology.SouthApproachUpper),
			[]step{trailing(topology.StationSouth, topology.Left)},
			sensors(topology.SouthSingleLaneMid),
			[]step{facing(topology.MiddleLaneWest)},
		)
	default:
		return join(
			sensors(topology.SouthStationLower, topology.SouthApproachLower),
			[]step{trailing(topology.StationSouth, topology.Right)},
			sensors(topology.SouthSingleLaneMid),
			[]step{facing(topology.MiddleLaneWest)},
		)
	}
}

// continuation is the route after a facing switch, up to the next facing
// switch or the terminal
func continuation(heading topology.Direction, sw topology.SwitchID, b topology.Branch) []step {
	switch {
	case heading == topology.South && sw == topology.MiddleLaneEast && b == topology.Right:
		return join(
			sensors(topology.MiddleNorthEast, topology.MiddleNorthWest),
			[]step{trailing(topology.MiddleLaneWest, topology.Left)},
			sensors(topology.SouthSingleLaneMid),
			[]step{facing(topology.StationSouth)},
		)
	case heading == topology.South && sw == topology.MiddleLaneEast:
		return join(
			sensors(topology.MiddleSouthEast, topology.MiddleSouthWest),
			[]step{trailing(topology.MiddleLaneWest, topology.Right)},
			sensors(topology.SouthSingleLaneMid),
			[]step{facing(topology.StationSouth)},
		)
	case heading == topology.South && sw == topology.StationSouth && b == topology.Left:
		return join(sensors(topology.SouthApproachUpper, topology.SouthStationUpper), []step{terminal})
	case heading == topology.South && sw == topology.StationSouth:
		return join(sensors(topology.SouthApproachLower, topology.SouthStationLower), []step{terminal})
	case heading == topology.North && sw == topology.MiddleLaneWest && b == topology.Left:
		return join(
			sensors(topology.MiddleNorthWest, topology.MiddleNorthEast),
			[]step{trailing(topology.MiddleLaneEast, topology.Right)},
			sensors(topology.NorthSingleLaneMid),
			[]step{facing(topology.StationNorth)},
		)
	case heading == topology.North && sw == topology.MiddleLaneWest:
		return join(
			sensors(topology.MiddleSouthWest, topology.MiddleSouthEast),
			[]step{trailing(topology.MiddleLaneEast, topology.Left)},
			sensors(topology.NorthSingleLaneMid),
			[]step{facing(topology.StationNorth)},
		)
	case heading == topology.North && sw == topology.StationNorth && b == topology.Right:
		return join(sensors(topology.NorthApproachUpper, topology.CrossroadEast, topology.CrossroadWest, topology.NorthStationUpper), []step{terminal})
	case heading == topology.North && sw == topology.StationNorth:
		return join(sensors(topology.NorthApproachLower, topology.CrossroadSouth, topology.CrossroadNorth, topology.NorthStationLower), []step{terminal})
	}
	return nil
}

// laneOf returns the station lane a terminal sensor belongs to
func laneOf(e topology.TrackEvent) Lane {
	if e == topology.NorthStationLower || e == topology.SouthStationLower {
		return Lower
	}
	return Upper
}

// section is a stretch of physical track a train's head can be on
type section int

const (
	noSection section = iota
	northUpper
	northLower
	crossing
	singleNorth
	fastLane
	slowLane
	singleSouth
	southUpper
	southLower
)

var sectionNames = [...]string{
	noSection:   "none",
	northUpper:  "north-upper",
	northLower:  "north-lower",
	crossing:    "crossing",
	singleNorth: "single-north",
	fastLane:    "fast-lane",
	slowLane:    "slow-lane",
	singleSouth: "single-south",
	southUpper:  "south-upper",
	southLower:  "south-lower",
}

func (s section) String() string {
	return sectionNames[s]
}

// ahead maps each sensor to the section a train enters once it has passed it
var ahead = map[topology.Direction]map[topology.TrackEvent]section{
	topology.South: {
		topology.NorthStationUpper:  northUpper,
		topology.NorthStationLower:  northLower,
		topology.CrossroadWest:      crossing,
		topology.CrossroadNorth:     crossing,
		topology.CrossroadEast:      northUpper,
		topology.CrossroadSouth:     northLower,
		topology.NorthApproachUpper: singleNorth,
		topology.NorthApproachLower: singleNorth,
		topology.NorthSingleLaneMid: singleNorth,
		topology.MiddleNorthEast:    fastLane,
		topology.MiddleSouthEast:    slowLane,
		topology.MiddleNorthWest:    singleSouth,
		topology.MiddleSouthWest:    singleSouth,
		topology.SouthSingleLaneMid: singleSouth,
		topology.SouthApproachUpper: southUpper,
		topology.SouthApproachLower: southLower,
		topology.SouthStationUpper:  southUpper,
		topology.SouthStationLower:  southLower,
	},
	topology.North: {
		topology.SouthStationUpper:  southUpper,
		topology.SouthStationLower:  southLower,
		topology.SouthApproachUpper: singleSouth,
		topology.SouthApproachLower: singleSouth,
		topology.SouthSingleLaneMid: singleSouth,
		topology.MiddleNorthWest:    fastLane,
		topology.MiddleSouthWest:    slowLane,
		topology.MiddleNorthEast:    singleNorth,
		topology.MiddleSouthEast:    singleNorth,
		topology.NorthSingleLaneMid: singleNorth,
		topology.NorthApproachUpper: northUpper,
		topology.NorthApproachLower: northLower,
		topology.CrossroadEast:      crossing,
		topology.CrossroadSouth:     crossing,
		topology.CrossroadWest:      northUpper,
		topology.CrossroadNorth:     northLower,
		topology.NorthStationUpper:  northUpper,
		topology.NorthStationLower:  northLower,
	},
}

// stationSection is the lane a placed train stands on before it moves
func stationSection(heading topology.Direction, lane Lane) section {
	switch {
	case heading == topology.South && lane == Upper:
		return northUpper
	case heading == topology.South:
		return northLower
	case lane == Upper:
		return southUpper
	default:
		return southLower
	}
}
