package engine

import (
	"fmt"
	"time"
)

// Structural errors (§7) bypass the workflow's error handler and are raised
// straight to the caller of execute/resume.

// UnknownWorkflowError means the Engine facade has no Definition registered
// under the given name.
type UnknownWorkflowError struct {
	WorkflowName string
}

func (e *UnknownWorkflowError) Error() string {
	return fmt.Sprintf("engine: unknown workflow %q", e.WorkflowName)
}

// UnknownStateError means currentState has no handler bound in the State
// Registry's workflow-scoped view.
type UnknownStateError struct {
	WorkflowName string
	StateName    string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("engine: workflow %q has no handler bound to state %q", e.WorkflowName, e.StateName)
}

// InvalidTransitionError means a goto target is not reachable from the
// current state under the workflow's explicit transition table.
type InvalidTransitionError struct {
	WorkflowName string
	From         string
	To           string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("engine: workflow %q has no transition from %q to %q", e.WorkflowName, e.From, e.To)
}

// NotSuspendedError is raised by resume when the target execution is not
// currently SUSPENDED.
type NotSuspendedError struct {
	ExecutionID string
	Status      Status
}

func (e *NotSuspendedError) Error() string {
	return fmt.Sprintf("engine: execution %q is not suspended (status=%s)", e.ExecutionID, e.Status)
}

// MissingTargetStateError is raised when a GOTO resume strategy omits the
// required target state.
type MissingTargetStateError struct {
	ExecutionID string
}

func (e *MissingTargetStateError) Error() string {
	return fmt.Sprintf("engine: resume of execution %q with strategy GOTO requires a target state", e.ExecutionID)
}

// Admission errors are raised directly, bypassing the error handler.

// LockAcquisitionError means the Concurrency Manager refused admission.
type LockAcquisitionError struct {
	Key   string
	Cause error
}

func (e *LockAcquisitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("engine: could not acquire concurrency lock %q: %v", e.Key, e.Cause)
	}
	return fmt.Sprintf("engine: could not acquire concurrency lock %q", e.Key)
}

func (e *LockAcquisitionError) Unwrap() error { return e.Cause }

// Policy errors result from timeout/retry enforcement and are routed
// through the workflow's error handler like any runtime error.

// RetryExhaustedError wraps the last handler error after maxAttempts
// failures.
type RetryExhaustedError struct {
	StateName string
	Attempts  int
	Cause     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("engine: state %q exhausted %d attempts: %v", e.StateName, e.Attempts, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Cause }

// StateTimeoutError is raised when a state handler does not return within
// its declared timeout.
type StateTimeoutError struct {
	StateName string
	Timeout   time.Duration
	Elapsed   time.Duration
}

func (e *StateTimeoutError) Error() string {
	return fmt.Sprintf("engine: state %q timed out after %s (limit %s)", e.StateName, e.Elapsed, e.Timeout)
}

// CircuitOpenError signals that the resilience seam's breaker for a
// workflow:state key has tripped and is refusing invocations. It is a
// Policy-kind error, routed through the workflow error handler exactly like
// RetryExhaustedError, so a recovery can route around a degraded state the
// same way it routes around a timeout.
type CircuitOpenError struct {
	Key   string
	Cause error
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("engine: circuit %q is open: %v", e.Key, e.Cause)
}

func (e *CircuitOpenError) Unwrap() error { return e.Cause }
