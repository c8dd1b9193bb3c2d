package planner

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"

	"fundopt/internal/config"
	"fundopt/internal/models"
	"fundopt/internal/simulator"
)

// MonteCarloPlanner samples candidate action sequences, evaluates each with a
// full simulator rollout, and keeps the best feasible trajectory. Rollout i
// always draws from a rand source seeded with Seed+i and results reduce in
// index order, so a fixed seed yields a bit-identical plan.
type MonteCarloPlanner struct {
	Sim    *simulator.Simulator
	Cfg    config.PlannerConfig
	Logger *zap.Logger
}

type rolloutResult struct {
	index    int
	plan     simulator.Plan
	trace    *simulator.Trace
	irr      float64
	score    float64
	feasible bool
	err      error
}

func (p *MonteCarloPlanner) Plan(ctx context.Context, req Request) (*Result, error) {
	rollouts := p.Cfg.Rollouts
	if rollouts < 1 {
		rollouts = 1
	}
	parallel := p.Cfg.MaxParallel
	if parallel < 1 {
		parallel = 1
	}

	results := make([]rolloutResult, rollouts)
	jobs := make(chan int)
	var wg sync.WaitGroup
	var done int64
	var progressMu sync.Mutex

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			results[i] = p.rollout(ctx, req, i)
			if req.OnProgress != nil {
				progressMu.Lock()
				done++
				req.OnProgress(int(done), rollouts)
				progressMu.Unlock()
			}
		}
	}
	for w := 0; w < parallel; w++ {
		wg.Add(1)
		go worker()
	}
	for i := 0; i < rollouts; i++ {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Divergence is an internal fault; surface the lowest-index one so the
	// failure is reproducible.
	var feasible []rolloutResult
	bestInfeasible := math.Inf(-1)
	for i := range results {
		r := results[i]
		if r.err != nil {
			var div *simulator.SimulationDivergenceError
			if errors.As(r.err, &div) {
				return nil, r.err
			}
			// IRRConvergenceError on a sampled trajectory just disqualifies it.
			continue
		}
		if r.feasible {
			feasible = append(feasible, r)
		} else if r.score > bestInfeasible {
			bestInfeasible = r.score
		}
	}

	if len(feasible) == 0 {
		if p.Logger != nil {
			p.Logger.Info("planning infeasible",
				zap.Int("rollouts", rollouts),
				zap.Float64("best_infeasible_score", bestInfeasible),
			)
		}
		return nil, &InfeasiblePlanError{Rollouts: rollouts}
	}

	sort.SliceStable(feasible, func(i, j int) bool {
		if feasible[i].score != feasible[j].score {
			return feasible[i].score > feasible[j].score
		}
		return feasible[i].index < feasible[j].index
	})
	winner := feasible[0]

	top := feasible
	if share := p.Cfg.TopShare; share > 0 {
		n := int(math.Ceil(share * float64(len(feasible))))
		if n < 1 {
			n = 1
		}
		if n < len(top) {
			top = top[:n]
		}
	}

	// Only decisions the winning trace actually executed may persist: an
	// action the simulator skipped (asset already sold) must never reach the
	// stored plan.
	executed := make(map[actionKey]bool, len(winner.trace.Outcomes))
	for _, out := range winner.trace.Outcomes {
		executed[actionKey{out.AssetIndex, out.Month, out.Type}] = true
	}

	actions := compact(winner.plan, req.HorizonMonths, len(req.Initial.Assets), top, executed)

	return &Result{
		Actions:      actions,
		OptimizedIRR: winner.irr,
		Rollouts:     rollouts,
		Feasible:     len(feasible),
	}, nil
}

func (p *MonteCarloPlanner) rollout(ctx context.Context, req Request, index int) rolloutResult {
	res := rolloutResult{index: index}

	// Rollout zero is always the all-hold trajectory: the plan can never be
	// worse than doing nothing when doing nothing is feasible.
	if index > 0 {
		rng := rand.New(rand.NewSource(req.Seed + int64(index)))
		res.plan = samplePlan(rng, req.Initial, req.Embedding, req.HorizonMonths, req.Constraints, p.Sim.Cfg)
	}

	trace, err := p.Sim.Simulate(ctx, req.Initial, res.plan, simulator.Options{
		Horizon:         req.HorizonMonths,
		Constraints:     req.Constraints,
		StopOnViolation: true,
	})
	if err != nil {
		res.err = err
		return res
	}
	res.trace = trace
	if !trace.Feasible {
		// Infeasible branches never reach selection; score only feeds the
		// diagnostics log.
		res.score = -p.Cfg.ViolationPenalty * float64(trace.Violations)
		return res
	}

	irr, err := simulator.IRR(trace.CashFlows)
	if err != nil {
		res.err = err
		return res
	}
	res.irr = irr
	res.score = irr
	res.feasible = true
	return res
}

type actionKey struct {
	asset, month int
	typ          string
}

// compact reduces a raw trajectory to the returned action list: consecutive
// holds collapse, but each asset keeps one explicit hold marker per plan year
// with no other activity, so a multi-year plan always shows a decision per
// year while the asset is held. Actions absent from the executed set are
// dropped, and a sold asset takes no further decisions, marker or otherwise.
// Confidence is the agreement share among the top feasible trajectories.
func compact(plan simulator.Plan, horizon, numAssets int, top []rolloutResult, executed map[actionKey]bool) []ScoredAction {
	years := (horizon + 11) / 12

	assetYearTaken := map[[2]int]bool{}
	soldYear := map[int]int{}
	var out []ScoredAction

	for _, pa := range plan {
		if pa.Type == models.ActionHold {
			continue
		}
		if executed != nil && !executed[actionKey{pa.AssetIndex, pa.Month, pa.Type}] {
			continue
		}
		year := (pa.Month - 1) / 12
		if pa.Type == models.ActionSell {
			soldYear[pa.AssetIndex] = year
		}
		assetYearTaken[[2]int{pa.AssetIndex, year}] = true
		out = append(out, ScoredAction{
			PlannedAction: pa,
			Confidence:    agreement(top, pa),
		})
	}

	for asset := 0; asset < numAssets; asset++ {
		for y := 0; y < years; y++ {
			if assetYearTaken[[2]int{asset, y}] {
				continue
			}
			if sy, sold := soldYear[asset]; sold && y > sy {
				continue
			}
			hold := simulator.PlannedAction{AssetIndex: asset, Month: y*12 + 1, Type: models.ActionHold}
			out = append(out, ScoredAction{
				PlannedAction: hold,
				Confidence:    holdAgreement(top, asset, y),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].AssetIndex < out[j].AssetIndex
	})
	return out
}

// agreement is the fraction of top trajectories that take the same action
// type on the same asset in the same plan year.
func agreement(top []rolloutResult, pa simulator.PlannedAction) float64 {
	if len(top) == 0 {
		return 1
	}
	year := (pa.Month - 1) / 12
	n := 0
	for _, r := range top {
		for _, other := range r.plan {
			if other.AssetIndex == pa.AssetIndex && other.Type == pa.Type && (other.Month-1)/12 == year {
				n++
				break
			}
		}
	}
	return clamp01(float64(n) / float64(len(top)))
}

// holdAgreement is the fraction of top trajectories with no non-hold action
// for the asset in the given plan year.
func holdAgreement(top []rolloutResult, asset, year int) float64 {
	if len(top) == 0 {
		return 1
	}
	n := 0
	for _, r := range top {
		acted := false
		for _, other := range r.plan {
			if other.AssetIndex == asset && other.Type != models.ActionHold && (other.Month-1)/12 == year {
				acted = true
				break
			}
		}
		if !acted {
			n++
		}
	}
	return clamp01(float64(n) / float64(len(top)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
