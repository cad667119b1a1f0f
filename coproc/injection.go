package coproc

import (
	"errors"

	"github.com/atrniv/coproc/protocol"
)

// PolicyInjection forces chosen invocations of a transform to fail with a
// given category. It exists for tests of the recovery paths.
type PolicyInjection struct {
	// TriggerAfter selects the n-th invocation, counting from 1. Zero disables
	// count based triggering.
	TriggerAfter int
	// Match, when set, triggers on every invocation whose record it accepts.
	Match func(protocol.Record) bool
	// ForcedCategory is the failure reported for triggered invocations.
	ForcedCategory PolicyError
}

var errInjected = errors.New("injected failure")

// InjectedTransform wraps a Transform with a PolicyInjection. Triggered
// invocations never reach the wrapped transform, so its state is untouched.
type InjectedTransform struct {
	transform   Transform
	injection   PolicyInjection
	invocations int
	triggered   int
}

func Inject(t Transform, injection PolicyInjection) *InjectedTransform {
	return &InjectedTransform{transform: t, injection: injection}
}

func (t *InjectedTransform) Init() error {
	if initializer, ok := t.transform.(Initializer); ok {
		return initializer.Init()
	}
	return nil
}

func (t *InjectedTransform) Apply(record protocol.Record) ([]protocol.Record, error) {
	t.invocations++
	if t.fires(record) {
		t.triggered++
		return nil, NewTransformError(t.injection.ForcedCategory, errInjected)
	}
	return t.transform.Apply(record)
}

func (t *InjectedTransform) fires(record protocol.Record) bool {
	if t.injection.TriggerAfter > 0 && t.invocations == t.injection.TriggerAfter {
		return true
	}
	return t.injection.Match != nil && t.injection.Match(record)
}

// Invocations counts every Apply call, triggered or not.
func (t *InjectedTransform) Invocations() int {
	return t.invocations
}

// Triggered counts the invocations that were forced to fail.
func (t *InjectedTransform) Triggered() int {
	return t.triggered
}
