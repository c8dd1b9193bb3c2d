package simulator

import "fmt"

// IRRConvergenceError means the cash-flow sequence admits no internal rate of
// return: either the signs never change or the root search ran out of budget.
// Callers must treat this as "IRR undefined", never as zero.
type IRRConvergenceError struct {
	Reason string
}

func (e *IRRConvergenceError) Error() string {
	return "irr did not converge: " + e.Reason
}

// SimulationDivergenceError is a numerical blow-up inside a rollout (NaN,
// infinity, or a valuation outside any plausible range). It marks an internal
// fault, not a property of the plan.
type SimulationDivergenceError struct {
	Month  int
	Detail string
}

func (e *SimulationDivergenceError) Error() string {
	return fmt.Sprintf("simulation diverged at month %d: %s", e.Month, e.Detail)
}
