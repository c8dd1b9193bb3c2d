package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"fundopt/internal/config"
	"fundopt/internal/graph"
	"fundopt/internal/metrics"
	"fundopt/internal/models"
	"fundopt/internal/planner"
	"fundopt/internal/repository"
	"fundopt/internal/simulator"
)

// RunRequest is a validated optimization request.
type RunRequest struct {
	FundID             string
	TargetHorizonYears int
	MinDSCR            float64
	MaxLeverage        float64
}

// Orchestrator owns the OptimizationRun lifecycle: it validates requests,
// executes each run as an independent background task over a sandboxed copy
// of the fund's assets, and converts every engine error into a terminal
// failed status. At most one planning computation is in flight per run id.
type Orchestrator struct {
	Repo    repository.Repository
	Planner planner.Planner
	Sim     *simulator.Simulator
	Cfg     config.EngineConfig
	Seed    int64
	Logger  *zap.Logger
	Hub     *ProgressHub

	// BaseCtx parents every run's execution context; cancelling it stops all
	// in-flight runs on shutdown.
	BaseCtx context.Context

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

const (
	maxHorizonYears = 30
)

// StartRun validates, persists a pending run, and launches its background
// execution. The caller gets the pending row immediately.
func (o *Orchestrator) StartRun(ctx context.Context, req RunRequest) (*models.OptimizationRun, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	fund, err := o.Repo.GetFundByID(ctx, req.FundID)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		return nil, &ValidationError{Field: "fund_id", Detail: "unknown fund"}
	}

	run := &models.OptimizationRun{
		ID:             uuid.NewString(),
		FundID:         req.FundID,
		StartTimestamp: time.Now().UTC(),
		HorizonMonths:  req.TargetHorizonYears * 12,
		Status:         models.RunStatusPending,
		MinDSCR:        req.MinDSCR,
		MaxLeverage:    req.MaxLeverage,
	}
	if err := o.Repo.InsertRun(ctx, run); err != nil {
		return nil, err
	}

	go o.execute(run.ID, run.FundID, run.StartTimestamp, run.HorizonMonths, simulator.Constraints{
		MinDSCR:     req.MinDSCR,
		MaxLeverage: req.MaxLeverage,
	})
	return run, nil
}

func validate(req RunRequest) error {
	if _, err := uuid.Parse(req.FundID); err != nil {
		return &ValidationError{Field: "fund_id", Detail: "not a uuid"}
	}
	if req.TargetHorizonYears < 1 || req.TargetHorizonYears > maxHorizonYears {
		return &ValidationError{Field: "target_horizon_years", Detail: fmt.Sprintf("must be in [1,%d]", maxHorizonYears)}
	}
	if req.MinDSCR <= 1.0 {
		return &ValidationError{Field: "constraints.min_dscr", Detail: "must be greater than 1.0"}
	}
	if req.MaxLeverage <= 0 || req.MaxLeverage > 1 {
		return &ValidationError{Field: "constraints.max_leverage", Detail: "must be in (0,1]"}
	}
	return nil
}

// Cancel cancels an in-flight run. A pending or running run with no local
// execution (orphaned) fails directly.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	run, err := o.Repo.GetRunByID(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return &ValidationError{Field: "run_id", Detail: "unknown run"}
	}
	if run.Terminal() {
		return &ValidationError{Field: "run_id", Detail: "run already " + run.Status}
	}

	o.mu.Lock()
	cancel, ok := o.inflight[runID]
	o.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	return o.Repo.FailRun(ctx, runID, "cancelled", nil)
}

// claim registers the run as in flight. Execution of an already-claimed run
// id is refused.
func (o *Orchestrator) claim(runID string, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight == nil {
		o.inflight = map[string]context.CancelFunc{}
	}
	if _, ok := o.inflight[runID]; ok {
		return &ErrRunInFlight{RunID: runID}
	}
	o.inflight[runID] = cancel
	return nil
}

func (o *Orchestrator) release(runID string) {
	o.mu.Lock()
	delete(o.inflight, runID)
	o.mu.Unlock()
}

func (o *Orchestrator) execute(runID, fundID string, start time.Time, horizon int, cons simulator.Constraints) {
	base := o.BaseCtx
	if base == nil {
		base = context.Background()
	}
	budget := o.Cfg.RunBudget
	if budget <= 0 {
		budget = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(base, budget)
	defer cancel()

	if err := o.claim(runID, cancel); err != nil {
		if o.Logger != nil {
			o.Logger.Warn("refusing re-entrant run execution", zap.String("run_id", runID))
		}
		return
	}
	defer o.release(runID)

	began := time.Now()
	defer func() { metrics.RunDuration.Observe(time.Since(began).Seconds()) }()

	if err := o.Repo.MarkRunRunning(ctx, runID); err != nil {
		if o.Logger != nil {
			o.Logger.Warn("run did not start", zap.String("run_id", runID), zap.Error(err))
		}
		return
	}
	metrics.RunsStarted.Inc()
	o.Hub.Publish(ProgressEvent{RunID: runID, Status: models.RunStatusRunning, At: time.Now().UTC()})

	baseline, err := o.plan(ctx, runID, fundID, start, horizon, cons)
	if err != nil {
		o.fail(runID, err, baseline)
		return
	}
	metrics.RunsCompleted.Inc()
	o.Hub.Publish(ProgressEvent{RunID: runID, Status: models.RunStatusCompleted, At: time.Now().UTC()})
	if o.Logger != nil {
		o.Logger.Info("run completed", zap.String("run_id", runID), zap.Duration("took", time.Since(began)))
	}
}

// plan does the actual work; it returns the baseline IRR (when computed) so a
// later failure still records it.
func (o *Orchestrator) plan(ctx context.Context, runID, fundID string, start time.Time, horizon int, cons simulator.Constraints) (*float64, error) {
	assets, err := o.Repo.ListAssetsByFundID(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("fund %s has no assets", fundID)
	}
	state := simulator.NewState(assets)

	// Baseline: the all-hold trajectory. An undefined baseline IRR fails the
	// run outright.
	baseTrace, err := o.Sim.Simulate(ctx, state, nil, simulator.Options{Horizon: horizon, Constraints: cons})
	if err != nil {
		return nil, err
	}
	baselineIRR, err := simulator.IRR(baseTrace.CashFlows)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}

	edgeRows, err := o.Repo.ListFacilityEdgesByFundID(ctx, fundID)
	if err != nil {
		return &baselineIRR, err
	}
	emb := graph.Encode(state, graph.BuildEdges(state, edgeRows))

	result, err := o.Planner.Plan(ctx, planner.Request{
		Initial:       state,
		Embedding:     emb,
		HorizonMonths: horizon,
		Constraints:   cons,
		Seed:          o.Seed,
		OnProgress: func(done, total int) {
			metrics.RolloutsEvaluated.Inc()
			o.Hub.Publish(ProgressEvent{
				RunID:        runID,
				Status:       models.RunStatusRunning,
				RolloutsDone: done,
				Rollouts:     total,
				At:           time.Now().UTC(),
			})
		},
	})
	if err != nil {
		return &baselineIRR, err
	}

	// Re-simulate the winning plan end to end as the acceptance check, and to
	// realize the per-action amounts the persisted plan reports.
	finalPlan := make(simulator.Plan, 0, len(result.Actions))
	for _, a := range result.Actions {
		finalPlan = append(finalPlan, a.PlannedAction)
	}
	finalTrace, err := o.Sim.Simulate(ctx, state, finalPlan, simulator.Options{Horizon: horizon, Constraints: cons})
	if err != nil {
		return &baselineIRR, err
	}
	if !finalTrace.Feasible {
		return &baselineIRR, fmt.Errorf("selected plan violates constraints at month %d", finalTrace.FirstViolationMonth)
	}

	actions, err := materialize(runID, state, result.Actions, finalTrace, start)
	if err != nil {
		return &baselineIRR, err
	}
	if err := o.Repo.CompleteRun(ctx, runID, baselineIRR, result.OptimizedIRR, actions); err != nil {
		return &baselineIRR, err
	}
	return &baselineIRR, nil
}

func (o *Orchestrator) fail(runID string, cause error, baseline *float64) {
	reason, class := describeFailure(cause)
	metrics.RunsFailed.WithLabelValues(class).Inc()
	if o.Logger != nil {
		o.Logger.Warn("run failed", zap.String("run_id", runID), zap.String("reason", reason), zap.Error(cause))
	}
	// The run context may already be cancelled; the terminal write must not be.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Repo.FailRun(ctx, runID, reason, baseline); err != nil && o.Logger != nil {
		o.Logger.Error("recording run failure failed", zap.String("run_id", runID), zap.Error(err))
	}
	o.Hub.Publish(ProgressEvent{RunID: runID, Status: models.RunStatusFailed, At: time.Now().UTC()})
}

func describeFailure(err error) (reason, class string) {
	var irrErr *simulator.IRRConvergenceError
	var divErr *simulator.SimulationDivergenceError
	var infErr *planner.InfeasiblePlanError
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled", "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "run budget exceeded without a feasible plan", "budget"
	case errors.As(err, &infErr):
		return err.Error(), "infeasible"
	case errors.As(err, &irrErr):
		return err.Error(), "irr"
	case errors.As(err, &divErr):
		return err.Error(), "divergence"
	default:
		return "internal error: " + err.Error(), "internal"
	}
}

// materialize converts the scored trajectory into persistable Action rows.
// Simulation month m maps onto the first day of the m-th calendar month from
// the run start.
func materialize(runID string, state *simulator.State, scored []planner.ScoredAction, trace *simulator.Trace, start time.Time) ([]models.Action, error) {
	type key struct {
		asset, month int
		typ          string
	}
	details := make(map[key]map[string]float64, len(trace.Outcomes))
	for _, out := range trace.Outcomes {
		details[key{out.AssetIndex, out.Month, out.Type}] = out.Details
	}

	base := firstOfMonth(start)
	actions := make([]models.Action, 0, len(scored))
	for _, a := range scored {
		if a.AssetIndex < 0 || a.AssetIndex >= len(state.Assets) {
			return nil, fmt.Errorf("action references unknown asset index %d", a.AssetIndex)
		}
		row := models.Action{
			ID:              uuid.NewString(),
			RunID:           runID,
			AssetID:         state.Assets[a.AssetIndex].ID,
			Month:           base.AddDate(0, a.Month-1, 0),
			ActionType:      a.Type,
			ConfidenceScore: a.Confidence,
		}
		if d := details[key{a.AssetIndex, a.Month, a.Type}]; len(d) > 0 {
			raw, err := json.Marshal(d)
			if err != nil {
				return nil, err
			}
			row.Details = datatypes.JSON(raw)
		}
		actions = append(actions, row)
	}
	return actions, nil
}

func firstOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
