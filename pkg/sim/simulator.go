// Package sim defines what a train controller needs from a track and ships an
// in-memory track for tests and demos.
package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/anggasct/tracklock/pkg/topology"
)

// SensorEvent is one sensor state change seen by a train
type SensorEvent struct {
	TrainID  int
	Position topology.Position
	Active   bool
	Time     time.Time
}

func (e SensorEvent) String() string {
	state := "INACTIVE"
	if e.Active {
		state = "ACTIVE"
	}
	return fmt.Sprintf("train %d %s %s", e.TrainID, e.Position, state)
}

// Simulator is the track as seen by a train agent. AwaitSensor blocks until the
// next sensor event for the train or until ctx is done.
type Simulator interface {
	AwaitSensor(ctx context.Context, trainID int) (SensorEvent, error)
	SetSwitch(pos topology.Position, branch topology.Branch) error
	SetSpeed(trainID int, speed int) error
}

// CommandError is returned when the track refuses a command
type CommandError struct {
	Command string
	TrainID int
	Reason  string
}

func (e *CommandError) Error() string {
	if e.TrainID > 0 {
		return fmt.Sprintf("%s rejected for train %d: %s", e.Command, e.TrainID, e.Reason)
	}
	return fmt.Sprintf("%s rejected: %s", e.Command, e.Reason)
}

// DerailmentError is returned when a train runs through a trailing switch set against it
type DerailmentError struct {
	TrainID int
	Switch  topology.SwitchID
	Branch  topology.Branch
}

func (e *DerailmentError) Error() string {
	return fmt.Sprintf("train %d derailed at %s (%s): switch set %s",
		e.TrainID, e.Switch, e.Switch.Position(), e.Branch)
}

// CollisionError is returned when a train runs onto a section another train occupies
type CollisionError struct {
	TrainID int
	Other   int
	Section string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("train %d collided with train %d on %s", e.TrainID, e.Other, e.Section)
}
