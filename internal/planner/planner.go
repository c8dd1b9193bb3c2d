// Package planner turns a portfolio snapshot into a constraint-respecting,
// confidence-scored action sequence. The policy sits behind the Planner
// interface so a learned policy can replace the Monte-Carlo searcher without
// touching the orchestrator or the simulator contracts.
package planner

import (
	"context"
	"fmt"

	"fundopt/internal/graph"
	"fundopt/internal/simulator"
)

// Request carries everything one planning invocation needs. Initial is a
// sandboxed value-copy; the planner never mutates it.
type Request struct {
	Initial       *simulator.State
	Embedding     graph.Embedding
	HorizonMonths int
	Constraints   simulator.Constraints
	Seed          int64

	// OnProgress, when set, is called after each finished rollout batch.
	OnProgress func(done, total int)
}

// ScoredAction is one selected action with the policy's confidence in it.
type ScoredAction struct {
	simulator.PlannedAction
	Confidence float64
}

// Result is the winning feasible trajectory, compacted.
type Result struct {
	Actions      []ScoredAction
	OptimizedIRR float64
	Rollouts     int
	Feasible     int
}

// Planner is the single planning contract.
type Planner interface {
	Plan(ctx context.Context, req Request) (*Result, error)
}

// InfeasiblePlanError reports that no trajectory within the rollout budget
// satisfied the constraints for the full horizon.
type InfeasiblePlanError struct {
	Rollouts int
}

func (e *InfeasiblePlanError) Error() string {
	return fmt.Sprintf("no feasible plan within %d rollouts", e.Rollouts)
}
