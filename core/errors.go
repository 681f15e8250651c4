package core

import (
	"errors"
	"fmt"

	"github.com/hupe1980/channelmesh/internal/util"
)

var (
	// ErrAgentNotFound is returned by AgentDirectory lookups for unknown ids.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAgentNameTaken is returned when an agent name collides case-insensitively.
	ErrAgentNameTaken = errors.New("agent name already taken")
	// ErrMessageNotFound is returned when updating a message that does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrDepthExceeded marks the policy stop at the collaboration depth ceiling.
	ErrDepthExceeded = errors.New("maximum collaboration depth reached")
	// ErrBudgetExhausted marks the policy stop of the per-chain invocation budget.
	ErrBudgetExhausted = errors.New("collaboration budget exhausted")
)

// ValidationError describes an invalid input field.
type ValidationError = util.ValidationError

// Stage names the part of a delegation branch that failed.
type Stage string

// Failure stages of a delegation branch.
const (
	StageContext     Stage = "context"
	StageTool        Stage = "tool"
	StageStream      Stage = "stream"
	StagePersistence Stage = "persistence"
)

// BranchError wraps a failure with the stage it happened in.
type BranchError struct {
	Stage Stage
	Err   error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Stage, e.Err)
}

func (e *BranchError) Unwrap() error { return e.Err }

// ContextBuildError reports a failed directory or history read.
func ContextBuildError(err error) error { return &BranchError{Stage: StageContext, Err: err} }

// ToolInvocationError reports a failed tool call.
func ToolInvocationError(err error) error { return &BranchError{Stage: StageTool, Err: err} }

// StreamError reports a failed generation call or broken transport.
func StreamError(err error) error { return &BranchError{Stage: StageStream, Err: err} }

// PersistenceError reports a failed content write.
func PersistenceError(err error) error { return &BranchError{Stage: StagePersistence, Err: err} }

// StageOf extracts the failure stage of err, or "" when err is not a BranchError.
func StageOf(err error) Stage {
	var be *BranchError
	if errors.As(err, &be) {
		return be.Stage
	}
	return ""
}
