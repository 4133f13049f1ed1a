package core

import (
	"fmt"

	"pkt.systems/termai/schema"
)

// phaseMachine enforces the run transition table. An attempted transition
// absent from the table is rejected without mutating state, so the
// machine can never reach a state outside the table. Executing.Step is
// monotonically non-decreasing within one run.
type phaseMachine struct {
	current schema.Phase
}

func (m *phaseMachine) Current() schema.Phase {
	return m.current
}

func (m *phaseMachine) Transition(next schema.Phase) error {
	if !schema.CanTransition(m.current.Kind, next.Kind) {
		return fmt.Errorf("%w: %s -> %s", schema.ErrInvalidPhaseTransition, m.current.Kind, next.Kind)
	}
	if m.current.Kind == schema.PhaseExecuting && next.Kind == schema.PhaseExecuting && next.Step < m.current.Step {
		return fmt.Errorf("%w: executing step regressed %d -> %d", schema.ErrInvalidPhaseTransition, m.current.Step, next.Step)
	}
	m.current = next
	return nil
}
