package train

import "github.com/anggasct/tracklock/pkg/topology"

type actionKind int

const (
	actAcquire actionKind = iota
	actRelease
	actContend
	actArrive
)

// action is what a train does when it passes a sensor
type action struct {
	kind    actionKind
	segment topology.Segment
	// switch command issued with an acquire, or routed by a contend
	hasSwitch bool
	sw        topology.SwitchID
	branch    topology.Branch
	// released by a contend once the switch is set
	vacate topology.Segment
}

func acquire(seg topology.Segment) action {
	return action{kind: actAcquire, segment: seg}
}

func acquireAndSet(seg topology.Segment, sw topology.SwitchID, b topology.Branch) action {
	return action{kind: actAcquire, segment: seg, hasSwitch: true, sw: sw, branch: b}
}

func release(seg topology.Segment) action {
	return action{kind: actRelease, segment: seg}
}

// contend tries seg without blocking; the switch takes preferred on success
// and the other branch otherwise
func contend(seg topology.Segment, sw topology.SwitchID, preferred topology.Branch, vacate topology.Segment) action {
	return action{kind: actContend, segment: seg, hasSwitch: true, sw: sw, branch: preferred, vacate: vacate}
}

var arrive = action{kind: actArrive}

// The station lane locks guard the upper lanes only. A train leaving a lower
// lane holds nothing there, and the other train is routed onto a lower lane
// only while the upper one is held.
var southBound = map[topology.TrackEvent]action{
	topology.NorthStationUpper:  acquire(topology.StationLaneNorth),
	topology.CrossroadWest:      acquire(topology.Crossroad),
	topology.CrossroadNorth:     acquire(topology.Crossroad),
	topology.CrossroadEast:      release(topology.Crossroad),
	topology.CrossroadSouth:     release(topology.Crossroad),
	topology.NorthApproachUpper: acquireAndSet(topology.SingleLaneNorth, topology.StationNorth, topology.Right),
	topology.NorthApproachLower: acquireAndSet(topology.SingleLaneNorth, topology.StationNorth, topology.Left),
	topology.NorthSingleLaneMid: contend(topology.FastMiddleLane, topology.MiddleLaneEast, topology.Right, topology.StationLaneNorth),
	topology.MiddleNorthEast:    release(topology.SingleLaneNorth),
	topology.MiddleSouthEast:    release(topology.SingleLaneNorth),
	topology.MiddleNorthWest:    acquireAndSet(topology.SingleLaneSouth, topology.MiddleLaneWest, topology.Left),
	topology.MiddleSouthWest:    acquireAndSet(topology.SingleLaneSouth, topology.MiddleLaneWest, topology.Right),
	topology.SouthSingleLaneMid: contend(topology.StationLaneSouth, topology.StationSouth, topology.Left, topology.FastMiddleLane),
	topology.SouthApproachUpper: release(topology.SingleLaneSouth),
	topology.SouthApproachLower: release(topology.SingleLaneSouth),
	topology.SouthStationUpper:  arrive,
	topology.SouthStationLower:  arrive,
}

var northBound = map[topology.TrackEvent]action{
	topology.SouthStationUpper:  acquire(topology.StationLaneSouth),
	topology.SouthApproachUpper: acquireAndSet(topology.SingleLaneSouth, topology.StationSouth, topology.Left),
	topology.SouthApproachLower: acquireAndSet(topology.SingleLaneSouth, topology.StationSouth, topology.Right),
	topology.SouthSingleLaneMid: contend(topology.FastMiddleLane, topology.MiddleLaneWest, topology.Left, topology.StationLaneSouth),
	topology.MiddleNorthWest:    release(topology.SingleLaneSouth),
	topology.MiddleSouthWest:    release(topology.SingleLaneSouth),
	topology.MiddleNorthEast:    acquireAndSet(topology.SingleLaneNorth, topology.MiddleLaneEast, topology.Right),
	topology.MiddleSouthEast:    acquireAndSet(topology.SingleLaneNorth, topology.MiddleLaneEast, topology.Left),
	topology.NorthSingleLaneMid: contend(topology.StationLaneNorth, topology.StationNorth, topology.Right, topology.FastMiddleLane),
	topology.NorthApproachUpper: release(topology.SingleLaneNorth),
	topology.NorthApproachLower: release(topology.SingleLaneNorth),
	topology.CrossroadEast:      acquire(topology.Crossroad),
	topology.CrossroadSouth:     acquire(topology.Crossroad),
	topology.CrossroadWest:      release(topology.Crossroad),
	topology.CrossroadNorth:     release(topology.Crossroad),
	topology.NorthStationUpper:  arrive,
	topology.NorthStationLower:  arrive,
}

// startLane is the station lane a train heading dir departs from
func startLane(dir topology.Direction) topology.Segment {
	if dir == topology.North {
		return topology.StationLaneSouth
	}
	return topology.StationLaneNorth
}

func lookup(dir topology.Direction, ev topology.TrackEvent) (action, bool) {
	table := southBound
	if dir == topology.North {
		table = northBound
	}
	a, ok := table[ev]
	return a, ok
}
