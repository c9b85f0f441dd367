// Package train implements the per-train agent: it turns sensor events into
// segment lock operations, switch commands and speed commands.
package train

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/anggasct/tracklock/pkg/fsm"
	"github.com/anggasct/tracklock/pkg/segment"
	"github.com/anggasct/tracklock/pkg/sim"
	"github.com/anggasct/tracklock/pkg/topology"
)

// DefaultMaxSpeed is used when Config.MaxSpeed is not set
const DefaultMaxSpeed = 20

// Locks is the part of the segment registry an agent needs
type Locks interface {
	Acquire(ctx context.Context, seg topology.Segment, owner segment.Owner) error
	TryAcquire(seg topology.Segment, owner segment.Owner) bool
	Release(seg topology.Segment, owner segment.Owner) bool
}

// Config describes one train
type Config struct {
	ID        int
	Direction topology.Direction
	Speed     int
	MaxSpeed  int
	// DwellUnit is the duration of one dwell unit; a stop lasts 1000+20*|speed| units
	DwellUnit time.Duration
	// LowerLane marks a train starting on a lower station lane. Otherwise Run
	// reserves the upper lane before the train moves.
	LowerLane bool
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures an Agent
type Option func(*Agent)

// WithLogger sets the logger; the agent adds a train attribute
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithObserver attaches an observer to the agent's state machine
func WithObserver(observer fsm.Observer) Option {
	return func(a *Agent) { a.machine.AddObserver(observer) }
}

// WithSleep replaces the dwell sleep
func WithSleep(sleep SleepFunc) Option {
	return func(a *Agent) { a.sleep = sleep }
}

// Snapshot is a point-in-time view of an agent
type Snapshot struct {
	ID        int                `json:"id"`
	Direction topology.Direction `json:"direction"`
	Speed     int                `json:"speed"`
	Commanded int                `json:"commanded_speed"`
	State     string             `json:"state"`
	Holds     []topology.Segment `json:"holds"`
	Last      *topology.Position `json:"last_position,omitempty"`
	Arrivals  int                `json:"arrivals"`
}

// Agent drives one train
type Agent struct {
	id        int
	owner     segment.Owner
	track     sim.Simulator
	locks     Locks
	machine   *fsm.Machine
	logger    *slog.Logger
	sleep     SleepFunc
	dwellUnit time.Duration
	lowerLane bool

	mutex     sync.RWMutex
	direction topology.Direction
	speed     int
	commanded int
	held      map[topology.Segment]struct{}
	last      *topology.Position
	arrivals  int
}

// NormalizeSpeed returns the cruising magnitude for a requested speed
func NormalizeSpeed(speed, maxSpeed int) int {
	if speed < 0 {
		speed = -speed
	}
	if speed == 0 {
		speed = 1
	}
	if maxSpeed > 0 && speed > maxSpeed {
		speed = maxSpeed
	}
	return speed
}

// DwellUnits is the length of a station stop at the given speed
func DwellUnits(speed int) int {
	if speed < 0 {
		speed = -speed
	}
	return 1000 + 20*speed
}

// Dwell converts DwellUnits into a duration
func Dwell(speed int, unit time.Duration) time.Duration {
	return time.Duration(DwellUnits(speed)) * unit
}

// Owner returns the lock owner name used for a train id
func Owner(id int) segment.Owner {
	return segment.Owner(fmt.Sprintf("train-%d", id))
}

// New creates an agent for cfg. The agent does nothing until Run or HandleSensor.
func New(cfg Config, track sim.Simulator, locks Locks, opts ...Option) *Agent {
	maxSpeed := cfg.MaxSpeed
	if maxSpeed <= 0 {
		maxSpeed = DefaultMaxSpeed
	}
	unit := cfg.DwellUnit
	if unit <= 0 {
		unit = time.Millisecond
	}
	a := &Agent{
		id:        cfg.ID,
		owner:     Owner(cfg.ID),
		track:     track,
		locks:     locks,
		machine:   definition.CreateInstance(fmt.Sprintf("train-%d", cfg.ID)),
		logger:    slog.Default(),
		sleep:     sleepContext,
		dwellUnit: unit,
		lowerLane: cfg.LowerLane,
		direction: cfg.Direction,
		speed:     NormalizeSpeed(cfg.Speed, maxSpeed),
		held:      make(map[topology.Segment]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("train", cfg.ID)
	_ = a.machine.Start()
	return a
}

// ID returns the train id
func (a *Agent) ID() int {
	return a.id
}

// Machine returns the agent's state machine
func (a *Agent) Machine() *fsm.Machine {
	return a.machine
}

// Direction returns the current logical direction
func (a *Agent) Direction() topology.Direction {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.direction
}

// Speed returns the signed cruising speed
func (a *Agent) Speed() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.speed
}

// Holds reports whether the agent holds seg
func (a *Agent) Holds(seg topology.Segment) bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	_, ok := a.held[seg]
	return ok
}

// Snapshot returns the agent's current view; safe for concurrent use
func (a *Agent) Snapshot() Snapshot {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	holds := lo.Keys(a.held)
	sort.Slice(holds, func(i, j int) bool { return holds[i] < holds[j] })

	var last *topology.Position
	if a.last != nil {
		p := *a.last
		last = &p
	}
	return Snapshot{
		ID:        a.id,
		Direction: a.direction,
		Speed:     a.speed,
		Commanded: a.commanded,
		State:     a.machine.CurrentState(),
		Holds:     holds,
		Last:      last,
		Arrivals:  a.arrivals,
	}
}

// Run reserves the starting station lane, commands the cruising speed and then
// handles sensor events until ctx ends or a command fails. It always returns a
// non-nil *AgentError.
func (a *Agent) Run(ctx context.Context) error {
	if !a.lowerLane {
		if err := a.acquire(ctx, startLane(a.Direction())); err != nil {
			return a.fail(ctx, "reserve", err)
		}
	}
	a.logger.Info("departing", "direction", a.Direction(), "speed", a.Speed())
	if err := a.setSpeed(a.Speed()); err != nil {
		return a.fail(ctx, "setSpeed", err)
	}
	for {
		ev, err := a.track.AwaitSensor(ctx, a.id)
		if err != nil {
			return a.fail(ctx, "awaitSensor", err)
		}
		if _, err := a.HandleSensor(ctx, ev.Position); err != nil {
			return a.fail(ctx, "handleSensor", err)
		}
	}
}

// HandleSensor processes one sensor position. It reports whether the position
// triggered a transition for the current direction. Repeats of the previous
// position are ignored.
func (a *Agent) HandleSensor(ctx context.Context, pos topology.Position) (bool, error) {
	a.mutex.Lock()
	repeat := a.last != nil && *a.last == pos
	dir := a.direction
	a.mutex.Unlock()
	if repeat {
		return false, nil
	}

	ev, _ := topology.EventFor(pos)
	act, ok := lookup(dir, ev)

	var err error
	if ok {
		a.logger.Debug("sensor", "event", ev, "position", pos)
		err = a.perform(ctx, act)
	}

	a.mutex.Lock()
	a.last = &pos
	a.mutex.Unlock()
	return ok, err
}

func (a *Agent) perform(ctx context.Context, act action) error {
	switch act.kind {
	case actAcquire:
		if err := a.acquire(ctx, act.segment); err != nil {
			return err
		}
		if act.hasSwitch {
			return a.setSwitch(act.sw, act.branch)
		}
		return nil
	case actRelease:
		a.release(act.segment)
		return nil
	case actContend:
		return a.contend(act)
	case actArrive:
		return a.arrive(ctx)
	}
	return nil
}

func (a *Agent) acquire(ctx context.Context, seg topology.Segment) error {
	if a.Holds(seg) {
		return nil
	}
	if a.locks.TryAcquire(seg, a.owner) {
		a.hold(seg)
		return nil
	}

	a.logger.Info("segment busy, stopping", "segment", seg)
	if err := a.setSpeed(0); err != nil {
		return err
	}
	a.fire(ctx, EventSegmentContended, seg)

	if err := a.locks.Acquire(ctx, seg, a.owner); err != nil {
		return err
	}
	a.hold(seg)
	a.fire(ctx, EventSegmentGranted, seg)
	a.logger.Info("segment granted, resuming", "segment", seg)
	return a.setSpeed(a.Speed())
}

func (a *Agent) contend(act action) error {
	branch := act.branch
	if a.Holds(act.segment) || a.locks.TryAcquire(act.segment, a.owner) {
		a.hold(act.segment)
	} else {
		branch = branch.Other()
		a.logger.Info("segment busy, taking other branch", "segment", act.segment, "switch", act.sw, "branch", branch)
	}
	if err := a.setSwitch(act.sw, branch); err != nil {
		return err
	}
	a.release(act.vacate)
	return nil
}

func (a *Agent) arrive(ctx context.Context) error {
	if err := a.setSpeed(0); err != nil {
		return err
	}
	a.mutex.Lock()
	a.arrivals++
	speed := a.speed
	a.mutex.Unlock()
	a.fire(ctx, EventTerminalReached, nil)

	dwell := Dwell(speed, a.dwellUnit)
	a.logger.Info("terminal reached", "dwell", dwell)
	if err := a.sleep(ctx, dwell); err != nil {
		return err
	}

	a.mutex.Lock()
	a.direction = a.direction.Opposite()
	a.speed = -a.speed
	speed = a.speed
	dir := a.direction
	a.mutex.Unlock()

	if err := a.setSpeed(speed); err != nil {
		return err
	}
	a.fire(ctx, EventDeparted, dir)
	a.logger.Info("departed", "direction", dir, "speed", speed)
	return nil
}

func (a *Agent) hold(seg topology.Segment) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.held[seg] = struct{}{}
}

func (a *Agent) release(seg topology.Segment) {
	a.mutex.Lock()
	_, ok := a.held[seg]
	delete(a.held, seg)
	a.mutex.Unlock()
	if ok {
		a.locks.Release(seg, a.owner)
	}
}

func (a *Agent) setSpeed(speed int) error {
	if err := a.track.SetSpeed(a.id, speed); err != nil {
		return err
	}
	a.mutex.Lock()
	a.commanded = speed
	a.mutex.Unlock()
	return nil
}

func (a *Agent) setSwitch(sw topology.SwitchID, b topology.Branch) error {
	return a.track.SetSwitch(sw.Position(), b)
}

func (a *Agent) fire(ctx context.Context, event string, data any) {
	result := a.machine.HandleEventWithContext(ctx, event, data)
	if result.Error != nil {
		a.logger.Debug("state machine rejected event", "event", event, "error", result.Error)
	}
}

// fail stops the train on a best-effort basis and records the fault. Held
// segments stay held since the train still occupies them.
func (a *Agent) fail(ctx context.Context, op string, err error) error {
	agentErr := newAgentError(a.id, op, err)
	if agentErr.Code == CodeCancelled {
		a.logger.Info("stopping", "reason", err)
	} else {
		a.logger.Error("agent failed", "op", op, "code", agentErr.Code, "error", err)
	}
	if stopErr := a.track.SetSpeed(a.id, 0); stopErr == nil {
		a.mutex.Lock()
		a.commanded = 0
		a.mutex.Unlock()
	}
	a.fire(context.WithoutCancel(ctx), EventFault, agentErr)
	return agentErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
