package train

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/tracklock/pkg/fsm"
	"github.com/anggasct/tracklock/pkg/segment"
	"github.com/anggasct/tracklock/pkg/sim"
	"github.com/anggasct/tracklock/pkg/topology"
)

type fakeTrack struct {
	mutex    sync.Mutex
	commands []string
	switches map[topology.SwitchID]topology.Branch
	speeds   []int
	speedErr error
	events   chan sim.SensorEvent
}

func newFakeTrack() *fakeTrack {
	return &fakeTrack{
		switches: make(map[topology.SwitchID]topology.Branch),
		events:   make(chan sim.SensorEvent, 64),
	}
}

func (f *fakeTrack) AwaitSensor(ctx context.Context, trainID int) (sim.SensorEvent, error) {
	select {
	case <-ctx.Done():
		return sim.SensorEvent{}, ctx.Err()
	case ev := <-f.events:
		return ev, nil
	}
}

func (f *fakeTrack) SetSwitch(pos topology.Position, branch topology.Branch) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	sw, ok := topology.SwitchAt(pos)
	if !ok {
		return &sim.CommandError{Command: "setSwitch", Reason: "no switch"}
	}
	f.switches[sw] = branch
	f.commands = append(f.commands, fmt.Sprintf("switch %s %s", sw, branch))
	return nil
}

func (f *fakeTrack) SetSpeed(trainID int, speed int) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.speedErr != nil && speed != 0 {
		return f.speedErr
	}
	f.speeds = append(f.speeds, speed)
	f.commands = append(f.commands, fmt.Sprintf("speed %d", speed))
	return nil
}

func (f *fakeTrack) Commands() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeTrack) Switch(sw topology.SwitchID) (topology.Branch, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	b, ok := f.switches[sw]
	return b, ok
}

func (f *fakeTrack) LastSpeed() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.speeds) == 0 {
		return 0
	}
	return f.speeds[len(f.speeds)-1]
}

// exclusiveLocks wraps a registry and records any moment where two owners
// believed they held the same segment
type exclusiveLocks struct {
	registry   *segment.Registry
	mutex      sync.Mutex
	owners     map[topology.Segment]segment.Owner
	violations []string
}

func newExclusiveLocks() *exclusiveLocks {
	return &exclusiveLocks{registry: segment.NewRegistry(), owners: make(map[topology.Segment]segment.Owner)}
}

func (l *exclusiveLocks) granted(seg topology.Segment, owner segment.Owner) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if current, ok := l.owners[seg]; ok && current != owner {
		l.violations = append(l.violations, fmt.Sprintf("%s held by %s and %s", seg, current, owner))
	}
	l.owners[seg] = owner
}

func (l *exclusiveLocks) Acquire(ctx context.Context, seg topology.Segment, owner segment.Owner) error {
	if err := l.registry.Acquire(ctx, seg, owner); err != nil {
		return err
	}
	l.granted(seg, owner)
	return nil
}

func (l *exclusiveLocks) TryAcquire(seg topology.Segment, owner segment.Owner) bool {
	if !l.registry.TryAcquire(seg, owner) {
		return false
	}
	l.granted(seg, owner)
	return true
}

func (l *exclusiveLocks) Release(seg topology.Segment, owner segment.Owner) bool {
	l.mutex.Lock()
	if l.owners[seg] == owner {
		delete(l.owners, seg)
	}
	l.mutex.Unlock()
	return l.registry.Release(seg, owner)
}

func (l *exclusiveLocks) Violations() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]string(nil), l.violations...)
}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newTestAgent(t *testing.T, dir topology.Direction, locks Locks, opts ...Option) (*Agent, *fakeTrack) {
	t.Helper()
	track := newFakeTrack()
	opts = append([]Option{WithSleep(noSleep)}, opts...)
	agent := New(Config{ID: 1, Direction: dir, Speed: 10}, track, locks, opts...)
	return agent, track
}

func pass(t *testing.T, a *Agent, events ...topology.TrackEvent) {
	t.Helper()
	for _, ev := range events {
		_, err := a.HandleSensor(context.Background(), ev.Position())
		require.NoError(t, err, "handling %s", ev)
	}
}

func TestNormalizeSpeed(t *testing.T) {
	tests := []struct {
		in, max, want int
	}{
		{10, 20, 10},
		{0, 20, 1},
		{-7, 20, 7},
		{35, 20, 20},
		{35, 0, 35},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSpeed(tt.in, tt.max), "NormalizeSpeed(%d, %d)", tt.in, tt.max)
	}
}

func TestDwell(t *testing.T) {
	assert.Equal(t, 1200, DwellUnits(10))
	assert.Equal(t, 1200, DwellUnits(-10))
	assert.Equal(t, 1000, DwellUnits(0))
	assert.Equal(t, 1200*time.Millisecond, Dwell(10, time.Millisecond))
}

func TestHandleSensor_DuplicateSuppression(t *testing.T) {
	registry := segment.NewRegistry()
	agent, track := newTestAgent(t, topology.South, registry)

	ok, err := agent.HandleSensor(context.Background(), topology.NorthApproachUpper.Position())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = agent.HandleSensor(context.Background(), topology.NorthApproachUpper.Position())
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"switch StationNorth RIGHT"}, track.Commands())
}

func TestHandleSensor_PositionsWithoutTransition(t *testing.T) {
	agent, track := newTestAgent(t, topology.North, segment.NewRegistry())

	ok, err := agent.HandleSensor(context.Background(), topology.Position{X: 99, Y: 99})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = agent.HandleSensor(context.Background(), topology.MiddleLaneWest.Position())
	require.NoError(t, err)
	assert.False(t, ok, "switch coordinates carry no sensor")

	assert.Empty(t, track.Commands())
	assert.Empty(t, agent.Snapshot().Holds)
}

func TestAgent_SouthBoundTrip(t *testing.T) {
	registry := segment.NewRegistry()
	agent, track := newTestAgent(t, topology.South, registry)

	pass(t, agent, topology.NorthStationUpper)
	assert.True(t, agent.Holds(topology.StationLaneNorth))

	pass(t, agent, topology.CrossroadWest)
	assert.True(t, agent.Holds(topology.Crossroad))
	pass(t, agent, topology.CrossroadEast)
	assert.False(t, agent.Holds(topology.Crossroad))

	pass(t, agent, topology.NorthApproachUpper)
	assert.True(t, agent.Holds(topology.SingleLaneNorth))

	pass(t, agent, topology.NorthSingleLaneMid)
	assert.True(t, agent.Holds(topology.FastMiddleLane))
	assert.False(t, agent.Holds(topology.StationLaneNorth))

	pass(t, agent, topology.MiddleNorthEast)
	assert.False(t, agent.Holds(topology.SingleLaneNorth))

	pass(t, agent, topology.MiddleNorthWest)
	assert.True(t, agent.Holds(topology.SingleLaneSouth))

	pass(t, agent, topology.SouthSingleLaneMid)
	assert.True(t, agent.Holds(topology.StationLaneSouth))
	assert.False(t, agent.Holds(topology.FastMiddleLane))

	pass(t, agent, topology.SouthApproachUpper)
	assert.Equal(t, []topology.Segment{topology.StationLaneSouth}, agent.Snapshot().Holds)

	assert.Equal(t, []string{
		"switch StationNorth RIGHT",
		"switch MiddleLaneEast RIGHT",
		"switch MiddleLaneWest LEFT",
		"switch StationSouth LEFT",
	}, track.Commands())

	for _, seg := range []topology.Segment{topology.Crossroad, topology.SingleLaneNorth, topology.FastMiddleLane, topology.SingleLaneSouth} {
		_, held := registry.Holder(seg)
		assert.False(t, held, "%s should be free after the trip", seg)
	}
}

func TestAgent_FallbackWhenContended(t *testing.T) {
	registry := segment.NewRegistry()
	require.True(t, registry.TryAcquire(topology.FastMiddleLane, Owner(2)))

	agent, track := newTestAgent(t, topology.South, registry)
	pass(t, agent, topology.NorthStationUpper, topology.NorthSingleLaneMid)

	branch, ok := track.Switch(topology.MiddleLaneEast)
	require.True(t, ok)
	assert.Equal(t, topology.Left, branch)
	assert.False(t, agent.Holds(topology.FastMiddleLane))
	assert.False(t, agent.Holds(topology.StationLaneNorth), "vacated segment is released on the fallback path too")

	holder, _ := registry.Holder(topology.FastMiddleLane)
	assert.Equal(t, Owner(2), holder)
}

func TestAgent_NorthBoundFallbackIntoLowerStation(t *testing.T) {
	registry := segment.NewRegistry()
	require.True(t, registry.TryAcquire(topology.StationLaneNorth, Owner(2)))

	agent, track := newTestAgent(t, topology.North, registry)
	pass(t, agent, topology.MiddleSouthEast, topology.NorthSingleLaneMid, topology.NorthApproachLower)

	branch, _ := track.Switch(topology.StationNorth)
	assert.Equal(t, topology.Left, branch)
	branch, _ = track.Switch(topology.MiddleLaneEast)
	assert.Equal(t, topology.Left, branch)
	assert.Empty(t, agent.Snapshot().Holds)
}

func TestAgent_BlocksOnContendedCrossroad(t *testing.T) {
	registry := segment.NewRegistry()
	require.True(t, registry.TryAcquire(topology.Crossroad, Owner(2)))

	observer := fsm.NewTestObserver()
	agent, track := newTestAgent(t, topology.South, registry, WithObserver(observer))

	done := make(chan error, 1)
	go func() {
		_, err := agent.HandleSensor(context.Background(), topology.CrossroadWest.Position())
		done <- err
	}()

	assert.Eventually(t, func() bool {
		return agent.Machine().CurrentState() == StateBlocked
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, track.LastSpeed())

	select {
	case <-done:
		t.Fatal("agent entered the crossroad while it was held")
	default:
	}

	require.True(t, registry.Release(topology.Crossroad, Owner(2)))
	require.NoError(t, <-done)

	assert.True(t, agent.Holds(topology.Crossroad))
	assert.Equal(t, 10, track.LastSpeed())
	assert.Equal(t, StateTraveling, agent.Machine().CurrentState())
	assert.Equal(t, []string{StateTraveling, StateBlocked, StateTraveling}, observer.Path())
}

func TestAgents_CrossroadContention(t *testing.T) {
	tests := []struct {
		name        string
		enter, exit topology.TrackEvent
		crossing    topology.TrackEvent
	}{
		{"lower lane against upper lane", topology.CrossroadNorth, topology.CrossroadSouth, topology.CrossroadEast},
		{"upper lane against lower lane", topology.CrossroadWest, topology.CrossroadEast, topology.CrossroadSouth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locks := newExclusiveLocks()
			southBound, _ := newTestAgent(t, topology.South, locks)
			northTrack := newFakeTrack()
			northBound := New(Config{ID: 2, Direction: topology.North, Speed: 15}, northTrack, locks, WithSleep(noSleep))

			pass(t, southBound, tt.enter)
			require.True(t, southBound.Holds(topology.Crossroad))

			done := make(chan error, 1)
			go func() {
				_, err := northBound.HandleSensor(context.Background(), tt.crossing.Position())
				done <- err
			}()

			require.Eventually(t, func() bool {
				return northBound.Machine().CurrentState() == StateBlocked
			}, time.Second, 5*time.Millisecond)
			assert.Equal(t, 0, northTrack.LastSpeed())
			select {
			case <-done:
				t.Fatal("second train entered the crossroad while it was held")
			default:
			}

			pass(t, southBound, tt.exit)
			require.NoError(t, <-done)

			assert.False(t, southBound.Holds(topology.Crossroad))
			assert.True(t, northBound.Holds(topology.Crossroad))
			assert.Equal(t, 15, northTrack.LastSpeed())
			assert.Equal(t, StateTraveling, northBound.Machine().CurrentState())
			assert.Empty(t, locks.Violations())
		})
	}
}

func TestAgent_LowerStationLaneTakesNoLock(t *testing.T) {
	registry := segment.NewRegistry()
	agent, _ := newTestAgent(t, topology.South, registry)

	ok, err := agent.HandleSensor(context.Background(), topology.NorthStationLower.Position())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, agent.Snapshot().Holds)

	// the upper lane stays free for the other train
	assert.True(t, registry.TryAcquire(topology.StationLaneNorth, Owner(2)))

	north, _ := newTestAgent(t, topology.North, segment.NewRegistry())
	ok, err = north.HandleSensor(context.Background(), topology.SouthStationLower.Position())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, north.Snapshot().Holds)
}

func TestAgent_RunReservesStartLane(t *testing.T) {
	tests := []struct {
		name      string
		dir       topology.Direction
		lowerLane bool
		want      []topology.Segment
	}{
		{"south-bound upper", topology.South, false, []topology.Segment{topology.StationLaneNorth}},
		{"north-bound upper", topology.North, false, []topology.Segment{topology.StationLaneSouth}},
		{"lower lane", topology.South, true, []topology.Segment{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track := newFakeTrack()
			agent := New(Config{ID: 1, Direction: tt.dir, Speed: 10, LowerLane: tt.lowerLane}, track, segment.NewRegistry())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- agent.Run(ctx) }()

			require.Eventually(t, func() bool {
				return track.LastSpeed() == 10
			}, time.Second, 5*time.Millisecond)
			assert.Equal(t, tt.want, agent.Snapshot().Holds)

			cancel()
			assert.True(t, IsCancelled(<-done))
		})
	}
}

func TestAgent_RunWaitsForOccupiedStartLane(t *testing.T) {
	registry := segment.NewRegistry()
	require.True(t, registry.TryAcquire(topology.StationLaneSouth, "maintenance"))

	track := newFakeTrack()
	agent := New(Config{ID: 2, Direction: topology.North, Speed: 12}, track, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	require.Eventually(t, func() bool {
		return agent.Machine().CurrentState() == StateBlocked
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"speed 0"}, track.Commands())

	require.True(t, registry.Release(topology.StationLaneSouth, "maintenance"))
	require.Eventually(t, func() bool {
		return agent.Holds(topology.StationLaneSouth) && track.LastSpeed() == 12
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.True(t, IsCancelled(<-done))
}

func TestAgent_CancelledWhileBlocked(t *testing.T) {
	registry := segment.NewRegistry()
	require.True(t, registry.TryAcquire(topology.SingleLaneSouth, Owner(2)))
	agent, _ := newTestAgent(t, topology.South, registry)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := agent.HandleSensor(ctx, topology.MiddleNorthWest.Position())
	require.Error(t, err)
	assert.ErrorIs(t, err, segment.ErrAcquireAborted)
	assert.False(t, agent.Holds(topology.SingleLaneSouth))

	holder, _ := registry.Holder(topology.SingleLaneSouth)
	assert.Equal(t, Owner(2), holder)
}

func TestAgent_TerminalReversal(t *testing.T) {
	var slept time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	agent, track := newTestAgent(t, topology.South, segment.NewRegistry(), WithSleep(sleep))
	observer := fsm.NewTestObserver()
	agent.Machine().AddObserver(observer)

	pass(t, agent, topology.SouthStationUpper)

	assert.Equal(t, 1200*time.Millisecond, slept)
	assert.Equal(t, []string{"speed 0", "speed -10"}, track.Commands())
	assert.Equal(t, topology.North, agent.Direction())
	assert.Equal(t, -10, agent.Speed())
	assert.Equal(t, []string{StateHalted, StateTraveling}, observer.Path())
	assert.Equal(t, 1, agent.Snapshot().Arrivals)

	// the station sensor is dispatched with the new direction only once the train leaves it
	ok, err := agent.HandleSensor(context.Background(), topology.SouthStationUpper.Position())
	require.NoError(t, err)
	assert.False(t, ok)

	pass(t, agent, topology.SouthApproachUpper)
	assert.True(t, agent.Holds(topology.SingleLaneSouth))
}

func TestAgent_DwellCancelled(t *testing.T) {
	agent := New(Config{ID: 3, Direction: topology.North, Speed: 5, DwellUnit: time.Second}, newFakeTrack(), segment.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agent.HandleSensor(ctx, topology.NorthStationLower.Position())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, topology.North, agent.Direction(), "no reversal after an aborted dwell")
}

func TestAgent_RunStopsOnRejectedCommand(t *testing.T) {
	track := newFakeTrack()
	track.speedErr = &sim.CommandError{Command: "setSpeed", TrainID: 1, Reason: "too fast"}
	agent := New(Config{ID: 1, Direction: topology.South, Speed: 10}, track, segment.NewRegistry())

	err := agent.Run(context.Background())

	require.Error(t, err)
	assert.True(t, IsCommandRejected(err))
	var agentErr *AgentError
	require.True(t, errors.As(err, &agentErr))
	assert.Equal(t, 1, agentErr.TrainID)
	assert.Equal(t, "setSpeed", agentErr.Op)
	assert.Equal(t, StateStopped, agent.Machine().CurrentState())
}

func TestAgent_RunKeepsLocksOnFault(t *testing.T) {
	registry := segment.NewRegistry()
	track := newFakeTrack()
	agent := New(Config{ID: 1, Direction: topology.South, Speed: 10}, track, registry, WithSleep(noSleep))

	track.events <- sim.SensorEvent{TrainID: 1, Position: topology.NorthStationUpper.Position(), Active: true}
	track.events <- sim.SensorEvent{TrainID: 1, Position: topology.NorthApproachUpper.Position(), Active: true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return agent.Holds(topology.SingleLaneNorth)
	}, time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, IsCancelled(err))
	assert.True(t, agent.Holds(topology.StationLaneNorth))
	assert.True(t, agent.Holds(topology.SingleLaneNorth))
	assert.Equal(t, 0, track.LastSpeed())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CodeCancelled, classify(context.Canceled))
	assert.Equal(t, CodeCancelled, classify(fmt.Errorf("%w: x", segment.ErrAcquireAborted)))
	assert.Equal(t, CodeCommandRejected, classify(&sim.CommandError{Command: "setSwitch"}))
	assert.Equal(t, CodeTrackFault, classify(&sim.DerailmentError{TrainID: 1}))
	assert.Equal(t, CodeNone, GetErrorCode(errors.New("plain")))
	assert.True(t, IsTrackFault(newAgentError(1, "awaitSensor", &sim.DerailmentError{TrainID: 1})))
}
