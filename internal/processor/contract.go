package processor

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/loykin/clogs/internal/model"
)

// ErrContractViolation marks a hook result that does not match the
// processor's declared output type.
var ErrContractViolation = errors.New("processor: output contract violation")

// ErrPanic wraps a recovered panic from processor code.
var ErrPanic = errors.New("processor: panic")

// Action is what the caller does with a hook result.
type Action int

const (
	// ActionNone keeps the caller's entity unchanged.
	ActionNone Action = iota
	// ActionMerge upserts the result by identity (input == output).
	ActionMerge
	// ActionInsert adds the result as a new row (input != output).
	ActionInsert
)

func (a Action) String() string {
	switch a {
	case ActionMerge:
		return "merge"
	case ActionInsert:
		return "insert"
	default:
		return "none"
	}
}

// reconcile checks a hook result against the declared input and output types.
// Insert and interval-each hooks may spawn rows of the output type; get and
// delete hooks may only substitute an entity of the input type.
func reconcile(def Definition, op Op, hook string, got model.Entity) (Action, error) {
	if model.IsNil(got) {
		return ActionNone, nil
	}
	gt := got.EntityType()
	if def.Output == model.TypeNone {
		return ActionNone, violation(def, hook, gt, "output is none")
	}
	if gt != def.Output {
		return ActionNone, violation(def, hook, gt, "want "+def.Output.String())
	}
	if def.Input == def.Output {
		return ActionMerge, nil
	}
	switch op {
	case OpInsert, opEach:
		return ActionInsert, nil
	}
	return ActionNone, violation(def, hook, gt, "cannot substitute "+def.Input.String()+" on "+string(op))
}

func violation(def Definition, hook string, got model.Type, why string) error {
	return fmt.Errorf("%w: processor %s %s returned %s (%s)", ErrContractViolation, def.Name, hook, got, why)
}

// opEach is the internal op used when reconciling interval-each results.
const opEach Op = "interval_each"

// safeCall runs fn and converts a panic into an error wrapping ErrPanic.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return fn()
}

// failureReason maps a hook failure to its metrics label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrContractViolation):
		return "contract"
	case errors.Is(err, ErrPanic):
		return "panic"
	default:
		return "error"
	}
}
