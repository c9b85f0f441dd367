package train

import (
	"context"
	"errors"
	"fmt"

	"github.com/anggasct/tracklock/pkg/segment"
	"github.com/anggasct/tracklock/pkg/sim"
)

// ErrorCode classifies why an agent stopped
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	// the track refused a speed or switch command
	CodeCommandRejected
	// the agent's context ended, possibly while waiting for a segment
	CodeCancelled
	// the track failed in some other way, e.g. a derailment
	CodeTrackFault
)

func (c ErrorCode) String() string {
	switch c {
	case CodeCommandRejected:
		return "command_rejected"
	case CodeCancelled:
		return "cancelled"
	case CodeTrackFault:
		return "track_fault"
	}
	return "none"
}

// AgentError is the error an agent stops with
type AgentError struct {
	Code    ErrorCode
	TrainID int
	Op      string
	Err     error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("train %d: %s failed (%s): %v", e.TrainID, e.Op, e.Code, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

func newAgentError(trainID int, op string, err error) *AgentError {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr
	}
	return &AgentError{Code: classify(err), TrainID: trainID, Op: op, Err: err}
}

func classify(err error) ErrorCode {
	var cmdErr *sim.CommandError
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, segment.ErrAcquireAborted):
		return CodeCancelled
	case errors.As(err, &cmdErr):
		return CodeCommandRejected
	default:
		return CodeTrackFault
	}
}

// GetErrorCode returns the code of an AgentError anywhere in the chain
func GetErrorCode(err error) ErrorCode {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Code
	}
	return CodeNone
}

// IsCommandRejected reports whether the agent stopped on a refused command
func IsCommandRejected(err error) bool {
	return GetErrorCode(err) == CodeCommandRejected
}

// IsCancelled reports whether the agent stopped because its context ended
func IsCancelled(err error) bool {
	return GetErrorCode(err) == CodeCancelled
}

// IsTrackFault reports whether the agent stopped on a track failure
func IsTrackFault(err error) bool {
	return GetErrorCode(err) == CodeTrackFault
}
