// Package capacity decides the next requested worker count from a smoothed
// demand target and the cluster's current size.
//
// The policy is asymmetric: scale-up jumps straight to the target, scale-down
// moves half the gap per step, and a request for zero workers is never issued.
package capacity

import "fmt"

// Action is the kind of a Decision.
type Action int

const (
	// NoChange leaves the cluster as it is.
	NoChange Action = iota
	// ScaleTo requests Decision.Workers workers.
	ScaleTo
)

func (a Action) String() string {
	switch a {
	case ScaleTo:
		return "scale_to"
	default:
		return "no_change"
	}
}

// Decision is the outcome of comparing a target with the available workers.
type Decision struct {
	Action Action

	// Workers is the requested worker count. Only meaningful for ScaleTo.
	Workers int

	// Suppressed is set when the policy computed a scale to zero and
	// collapsed it into NoChange.
	Suppressed bool
}

// Direction reports "up", "down" or "none" relative to available.
func (d Decision) Direction(available int) string {
	switch {
	case d.Action != ScaleTo:
		return "none"
	case d.Workers > available:
		return "up"
	default:
		return "down"
	}
}

func (d Decision) String() string {
	if d.Action == ScaleTo {
		return fmt.Sprintf("ScaleTo(%d)", d.Workers)
	}
	if d.Suppressed {
		return "NoChange(suppressed scale to zero)"
	}
	return "NoChange"
}

// Policy holds optional bounds applied before deciding.
type Policy struct {
	// MaxWorkers caps the target. 0 means no upper bound.
	MaxWorkers int
}

// Decide applies the zero Policy.
func Decide(target, available int) Decision {
	return Policy{}.Decide(target, available)
}

// Decide returns the next step from available towards target:
//
//	target == available  -> NoChange
//	target >  available  -> ScaleTo(target)
//	target <  available  -> ScaleTo(floor((target + available) / 2))
//
// A target or computed value of 0 below available becomes NoChange with
// Suppressed set: the loop never shrinks a cluster towards zero workers.
func (p Policy) Decide(target, available int) Decision {
	if target < 0 {
		target = 0
	}
	if available < 0 {
		available = 0
	}
	if p.MaxWorkers > 0 && target > p.MaxWorkers {
		target = p.MaxWorkers
	}

	var next int
	switch {
	case target == available:
		return Decision{Action: NoChange}
	case target > available:
		next = target
	case target == 0:
		return Decision{Action: NoChange, Suppressed: true}
	default:
		next = (target + available) / 2
	}
	return Decision{Action: ScaleTo, Workers: next}
}
