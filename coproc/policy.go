package coproc

import (
	"context"
	"errors"
	"fmt"

	"github.com/facebookgo/stack"
)

// PolicyError is the closed set of ways a transform invocation can fail.
type PolicyError int8

const (
	// TransformThrew means the transform's own logic failed on one record.
	TransformThrew PolicyError = iota
	// TransformTimeout means the host's time budget ran out. The host measures
	// it; the core only reacts.
	TransformTimeout
	// Deregister asks the host to stop dispatching to this transform.
	Deregister
)

func (e PolicyError) String() string {
	switch e {
	case TransformThrew:
		return "transform_threw"
	case TransformTimeout:
		return "transform_timeout"
	case Deregister:
		return "deregister"
	default:
		return fmt.Sprintf("policy_error(%d)", int8(e))
	}
}

// ParsePolicyError is the inverse of PolicyError.String.
func ParsePolicyError(name string) (PolicyError, error) {
	for _, e := range []PolicyError{TransformThrew, TransformTimeout, Deregister} {
		if e.String() == name {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown policy error %q", name)
}

// Action is what the driving loop does in response to a PolicyError.
type Action int8

const (
	// ActionSkipRecord drops the failing record's output and moves on.
	ActionSkipRecord Action = iota
	// ActionAbortBatch abandons the batch and reports to the host.
	ActionAbortBatch
	// ActionDeregister abandons the batch and removes the transform.
	ActionDeregister
)

func (a Action) String() string {
	switch a {
	case ActionSkipRecord:
		return "skip_record"
	case ActionAbortBatch:
		return "abort_batch"
	case ActionDeregister:
		return "deregister"
	default:
		return fmt.Sprintf("action(%d)", int8(a))
	}
}

// Action returns the recovery action for e.
func (e PolicyError) Action() Action {
	switch e {
	case TransformThrew:
		return ActionSkipRecord
	case TransformTimeout:
		return ActionAbortBatch
	case Deregister:
		return ActionDeregister
	}
	// Only reachable through an out-of-range conversion; treat it as the most
	// conservative outcome.
	return ActionDeregister
}

// TransformError is the structured failure of one transform invocation.
type TransformError struct {
	Category PolicyError
	Err      error
	// Stack is set when the failure was a recovered panic.
	Stack stack.Stack
}

// NewTransformError lets a transform pick the category of its own failure,
// for instance Deregister when it detects it can never succeed.
func NewTransformError(category PolicyError, err error) *TransformError {
	return &TransformError{Category: category, Err: err}
}

func (e *TransformError) Error() string {
	if e.Err == nil {
		return e.Category.String()
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

func (e *TransformError) Action() Action {
	return e.Category.Action()
}

// Classify maps any error returned by a transform, or observed while running
// one, onto the policy taxonomy. A nil error classifies to nil.
func Classify(err error) *TransformError {
	if err == nil {
		return nil
	}
	var terr *TransformError
	if errors.As(err, &terr) {
		return terr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransformError{Category: TransformTimeout, Err: err}
	}
	return &TransformError{Category: TransformThrew, Err: err}
}

type panicError struct {
	value interface{}
}

func (p panicError) Error() string {
	return fmt.Sprintf("transform panicked: %v", p.value)
}

func recovered(value interface{}) *TransformError {
	return &TransformError{
		Category: TransformThrew,
		Err:      panicError{value: value},
		Stack:    stack.Callers(3),
	}
}
