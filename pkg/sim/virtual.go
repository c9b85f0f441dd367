package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anggasct/tracklock/pkg/topology"
)

// DefaultSpeedLimit is the largest speed magnitude the virtual track accepts
const DefaultSpeedLimit = 20

// Placement puts a train on a station lane, facing away from that station
type Placement struct {
	TrainID int
	Heading topology.Direction
	Lane    Lane
}

// DefaultPlacements starts train 1 south-bound at the north station and train 2
// north-bound at the south station, both on the upper lane
func DefaultPlacements() []Placement {
	return []Placement{
		{TrainID: 1, Heading: topology.South, Lane: Upper},
		{TrainID: 2, Heading: topology.North, Lane: Upper},
	}
}

// Option configures a VirtualTrack
type Option func(*VirtualTrack)

// WithStepInterval sets the time a train at speed 10 needs between sensors
func WithStepInterval(d time.Duration) Option {
	return func(v *VirtualTrack) { v.stepInterval = d }
}

// WithSpeedLimit sets the largest accepted speed magnitude
func WithSpeedLimit(limit int) Option {
	return func(v *VirtualTrack) { v.speedLimit = limit }
}

// WithClock overrides the timestamp source for sensor events
func WithClock(now func() time.Time) Option {
	return func(v *VirtualTrack) { v.now = now }
}

type vehicle struct {
	id       int
	heading  topology.Direction
	speed    int
	sign     int
	pending  []step
	inactive *topology.Position
	last     topology.TrackEvent
	section  section
	entering section
	derailed error
	arrivals int
	wake     chan struct{}
}

func (t *vehicle) atTerminal() bool {
	return len(t.pending) > 0 && t.pending[0].kind == stepTerminal
}

// nearTerminal also accepts a train whose only remaining sensor is the station one
func (t *vehicle) nearTerminal() bool {
	if t.atTerminal() {
		return true
	}
	return len(t.pending) == 2 && t.pending[0].kind == stepSensor && t.pending[1].kind == stepTerminal
}

func (t *vehicle) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// VirtualTrack is an in-memory rendition of the two-loop layout. A train moves
// one sensor forward per AwaitSensor call. A train leaves its section on the
// active event of a sensor and enters the next one on the inactive event; two
// trains in one section is a collision that stops both.
type VirtualTrack struct {
	mutex        sync.Mutex
	trains       map[int]*vehicle
	switches     map[topology.SwitchID]topology.Branch
	stepInterval time.Duration
	speedLimit   int
	now          func() time.Time
}

// NewVirtualTrack places the given trains, or DefaultPlacements when none are given
func NewVirtualTrack(placements []Placement, opts ...Option) *VirtualTrack {
	if len(placements) == 0 {
		placements = DefaultPlacements()
	}
	v := &VirtualTrack{
		trains:     make(map[int]*vehicle, len(placements)),
		switches:   make(map[topology.SwitchID]topology.Branch),
		speedLimit: DefaultSpeedLimit,
		now:        time.Now,
	}
	for _, sw := range topology.Switches() {
		v.switches[sw] = topology.Left
	}
	for _, p := range placements {
		v.trains[p.TrainID] = &vehicle{
			id:      p.TrainID,
			heading: p.Heading,
			sign:    1,
			pending: departure(p.Heading, p.Lane),
			section: stationSection(p.Heading, p.Lane),
			wake:    make(chan struct{}, 1),
		}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetSwitch sets the switch at pos to branch
func (v *VirtualTrack) SetSwitch(pos topology.Position, branch topology.Branch) error {
	sw, ok := topology.SwitchAt(pos)
	if !ok {
		return &CommandError{Command: "setSwitch", Reason: fmt.Sprintf("no switch at %s", pos)}
	}
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.switches[sw] = branch
	return nil
}

// SetSpeed sets a train's speed. A sign change reverses the train and is only
// accepted at a terminal.
func (v *VirtualTrack) SetSpeed(trainID int, speed int) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	t, ok := v.trains[trainID]
	if !ok {
		return &CommandError{Command: "setSpeed", TrainID: trainID, Reason: "unknown train"}
	}
	if abs(speed) > v.speedLimit {
		return &CommandError{Command: "setSpeed", TrainID: trainID,
			Reason: fmt.Sprintf("speed %d exceeds limit %d", speed, v.speedLimit)}
	}
	if speed != 0 && sign(speed) != t.sign {
		if !t.nearTerminal() {
			return &CommandError{Command: "setSpeed", TrainID: trainID, Reason: "reversal away from a terminal"}
		}
		v.reverse(t)
	}
	t.speed = speed
	t.signal()
	return nil
}

func (v *VirtualTrack) reverse(t *vehicle) {
	station := t.last
	if !t.atTerminal() && len(t.pending) > 0 {
		station = t.pending[0].event
	}
	t.sign = -t.sign
	t.heading = t.heading.Opposite()
	// the train is already on the station sensor
	t.pending = departure(t.heading, laneOf(station))[1:]
}

// AwaitSensor advances the train to its next sensor event
func (v *VirtualTrack) AwaitSensor(ctx context.Context, trainID int) (SensorEvent, error) {
	for {
		v.mutex.Lock()
		t, ok := v.trains[trainID]
		if !ok {
			v.mutex.Unlock()
			return SensorEvent{}, &CommandError{Command: "awaitSensor", TrainID: trainID, Reason: "unknown train"}
		}
		if t.derailed != nil {
			v.mutex.Unlock()
			return SensorEvent{}, t.derailed
		}
		if t.speed == 0 || (t.inactive == nil && t.atTerminal()) {
			wake := t.wake
			v.mutex.Unlock()
			select {
			case <-ctx.Done():
				return SensorEvent{}, ctx.Err()
			case <-wake:
			}
			continue
		}
		delay := v.delay(t.speed)
		v.mutex.Unlock()

		if err := sleep(ctx, delay); err != nil {
			return SensorEvent{}, err
		}

		v.mutex.Lock()
		ev, moved, err := v.advance(t)
		v.mutex.Unlock()
		if err != nil || moved {
			return ev, err
		}
	}
}

// advance consumes steps up to the next sensor. moved is false when the
// train stopped or reached its terminal in the meantime.
func (v *VirtualTrack) advance(t *vehicle) (SensorEvent, bool, error) {
	if t.derailed != nil {
		return SensorEvent{}, false, t.derailed
	}
	if t.speed == 0 {
		return SensorEvent{}, false, nil
	}
	if t.inactive != nil {
		if err := v.enter(t, t.entering); err != nil {
			return SensorEvent{}, false, err
		}
		ev := SensorEvent{TrainID: t.id, Position: *t.inactive, Active: false, Time: v.now()}
		t.inactive = nil
		return ev, true, nil
	}
	for len(t.pending) > 0 {
		s := t.pending[0]
		switch s.kind {
		case stepTerminal:
			return SensorEvent{}, false, nil
		case stepTrailing:
			if v.switches[s.sw] != s.branch {
				t.derailed = &DerailmentError{TrainID: t.id, Switch: s.sw, Branch: v.switches[s.sw]}
				return SensorEvent{}, false, t.derailed
			}
			t.pending = t.pending[1:]
		case stepFacing:
			t.pending = append(continuation(t.heading, s.sw, v.switches[s.sw]), t.pending[1:]...)
		case stepSensor:
			t.pending = t.pending[1:]
			t.last = s.event
			t.entering = ahead[t.heading][s.event]
			if t.entering != t.section {
				t.section = noSection
			}
			pos := s.event.Position()
			t.inactive = &pos
			if t.atTerminal() {
				t.arrivals++
			}
			return SensorEvent{TrainID: t.id, Position: pos, Active: true, Time: v.now()}, true, nil
		}
	}
	return SensorEvent{}, false, fmt.Errorf("train %d ran off the end of its route", t.id)
}

// enter moves t onto sec. Callers hold the mutex.
func (v *VirtualTrack) enter(t *vehicle, sec section) error {
	for _, other := range v.trains {
		if other == t || other.section != sec || sec == noSection {
			continue
		}
		err := &CollisionError{TrainID: t.id, Other: other.id, Section: sec.String()}
		t.derailed = err
		other.derailed = err
		other.signal()
		return err
	}
	t.section = sec
	return nil
}

func (v *VirtualTrack) delay(speed int) time.Duration {
	if v.stepInterval <= 0 {
		return 0
	}
	return v.stepInterval * 10 / time.Duration(abs(speed))
}

// Switch returns the current branch of a switch
func (v *VirtualTrack) Switch(sw topology.SwitchID) topology.Branch {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.switches[sw]
}

// TrainState is what the track knows about a train
type TrainState struct {
	ID       int                `json:"id"`
	Heading  topology.Direction `json:"heading"`
	Speed    int                `json:"speed"`
	Last     string             `json:"last_sensor"`
	Arrivals int                `json:"arrivals"`
	Derailed bool               `json:"derailed"`
}

// Train returns the state of one train
func (v *VirtualTrack) Train(id int) (TrainState, bool) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	t, ok := v.trains[id]
	if !ok {
		return TrainState{}, false
	}
	return TrainState{
		ID:       t.id,
		Heading:  t.heading,
		Speed:    t.speed,
		Last:     t.last.String(),
		Arrivals: t.arrivals,
		Derailed: t.derailed != nil,
	}, true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int) int {
	if n < 0 {
		return -1
	}
	return 1
}
