package actor

import "math/bits"

// Stage bits of the cognitive cycle result mask, in execution order.
const (
	StageTriggerDetect uint8 = 1 << iota
	StageOntologyLoad
	StageConstraintCheck
	StageStateResolve
	StageStateCollapse
	StageActionBind
	StageStateCommit
	StageMetaValidate
)

// Context carries the per-call inputs and outputs of a cognitive cycle.
type Context struct {
	// PendingMatch is set when the domain feed matched this tick.
	PendingMatch bool
	// ConstraintThreshold is the minimum population count of the state.
	ConstraintThreshold int
	// PropagateRequested is set by action-bind; the caller forwards Payload
	// onto the entanglement bus.
	PropagateRequested bool
	Payload            uint8
}

// CognitiveCycle runs the eight stages against a and returns one bit per
// stage that fired. A stage that is not satisfied never stops the stages
// after it.
func (a *Actor) CognitiveCycle(ctx *Context) uint8 {
	var mask uint8
	if ctx == nil {
		ctx = &Context{}
	}
	ctx.PropagateRequested = false

	if ctx.PendingMatch {
		mask |= StageTriggerDetect
	}
	// ontology is pre-loaded by the external compiler
	mask |= StageOntologyLoad
	if bits.OnesCount8(a.meaning) >= ctx.ConstraintThreshold {
		mask |= StageConstraintCheck
	}
	if a.meaning != 0 || a.Pending() {
		mask |= StageStateResolve
	}
	a.meaning ^= a.meaning >> 4
	mask |= StageStateCollapse
	if bits.OnesCount64(a.causal)&1 == 1 {
		ctx.PropagateRequested = true
		ctx.Payload = a.meaning
		mask |= StageActionBind
	}
	mask |= StageStateCommit
	if a.Compliant() {
		mask |= StageMetaValidate
	}
	return mask
}
