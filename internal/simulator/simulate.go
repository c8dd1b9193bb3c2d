package simulator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"fundopt/internal/config"
	"fundopt/internal/models"
)

// PlannedAction is one decision at one asset-month. Month is 1-based within
// the simulation horizon. Amount carries the capex budget for capex actions
// and is ignored otherwise (refinance sizing comes from the lender LTV).
type PlannedAction struct {
	AssetIndex int
	Month      int
	Type       string
	Amount     float64
}

// Plan is an action sequence ordered by month. Holds may be present; the
// simulator treats a missing entry and an explicit hold identically.
type Plan []PlannedAction

// ActionOutcome is the realized effect of a planned action: the numbers the
// final persisted plan reports (sale price, refinance proceeds, ...).
type ActionOutcome struct {
	PlannedAction
	Details map[string]float64
}

// MonthSnapshot captures one simulated month across the arena.
type MonthSnapshot struct {
	Month        int
	NOI          []float64
	DebtService  []float64
	DSCR         []float64
	Leverage     float64
	NetCash      float64
	CumulativeCash float64
}

// Trace is the full result of one rollout. CashFlows[0] is the initial equity
// outflow; CashFlows[m] the net cash of month m; the terminal distribution is
// folded into the final entry.
type Trace struct {
	Months    []MonthSnapshot
	CashFlows []float64
	Outcomes  []ActionOutcome

	TerminalValue       float64
	Violations          int
	FirstViolationMonth int
	Feasible            bool
}

// Options configure one Simulate call.
type Options struct {
	Horizon     int
	Constraints Constraints
	// StopOnViolation cuts the rollout at the first constrained month; the
	// returned trace is marked infeasible and carries no IRR-usable tail.
	StopOnViolation bool
}

// Simulator advances value-copied portfolio state month by month. It holds
// only market assumptions and is safe for concurrent use.
type Simulator struct {
	Cfg config.SimulatorConfig
}

// dscrInfinite stands in for DSCR when a month has no debt service; it is
// never a violation.
const dscrInfinite = math.MaxFloat64

const maxPlausibleValue = 1e15

// Simulate runs the plan over a clone of initial. The input state is not
// mutated. Context is checked between months so in-flight rollouts can be
// cancelled cheaply.
func (s *Simulator) Simulate(ctx context.Context, initial *State, plan Plan, opts Options) (*Trace, error) {
	if opts.Horizon <= 0 {
		return nil, fmt.Errorf("simulate: horizon must be positive, got %d", opts.Horizon)
	}
	st := initial.Clone()
	byMonth := groupByMonth(plan)

	tr := &Trace{
		CashFlows: make([]float64, 1, opts.Horizon+1),
		Feasible:  true,
	}
	tr.CashFlows[0] = -st.Equity()

	cumulative := 0.0
	for m := 1; m <= opts.Horizon; m++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		snap := MonthSnapshot{
			Month:       m,
			NOI:         make([]float64, len(st.Assets)),
			DebtService: make([]float64, len(st.Assets)),
			DSCR:        make([]float64, len(st.Assets)),
		}
		actionCash := 0.0
		var pendingSales []int

		// Scheduled amortization first.
		for i := range st.Assets {
			a := &st.Assets[i]
			if !a.Held || a.DebtBalance <= 0 {
				continue
			}
			interest := a.DebtBalance * a.InterestRate / 12
			service := a.MonthlyPayment
			principal := service - interest
			if principal < 0 {
				principal = 0
			}
			if principal > a.DebtBalance {
				principal = a.DebtBalance
				service = interest + principal
			}
			a.DebtBalance -= principal
			if a.AmortMonths > 0 {
				a.AmortMonths--
			}
			snap.DebtService[i] = service
		}

		// Actions effective this month. A sale closes at month end so the
		// asset still earns its final month of NOI; refinanced terms start
		// servicing next month.
		for _, pa := range byMonth[m] {
			if pa.AssetIndex < 0 || pa.AssetIndex >= len(st.Assets) {
				return nil, fmt.Errorf("simulate: action references unknown asset index %d", pa.AssetIndex)
			}
			a := &st.Assets[pa.AssetIndex]
			if !a.Held {
				continue
			}
			switch pa.Type {
			case models.ActionHold:
				tr.Outcomes = append(tr.Outcomes, ActionOutcome{PlannedAction: pa})
			case models.ActionRefinance:
				newBalance := s.Cfg.RefiLTV * a.Value
				cost := newBalance * s.Cfg.RefiCostPct
				proceeds := newBalance - a.DebtBalance - cost
				a.DebtBalance = newBalance
				a.InterestRate = s.Cfg.RefiRate
				a.AmortMonths = s.Cfg.RefiTermMonths
				a.MonthlyPayment = AnnuityPayment(newBalance, s.Cfg.RefiRate, s.Cfg.RefiTermMonths)
				actionCash += proceeds
				tr.Outcomes = append(tr.Outcomes, ActionOutcome{
					PlannedAction: pa,
					Details: map[string]float64{
						"refinance_amount": newBalance,
						"rate":             s.Cfg.RefiRate,
						"term_months":      float64(s.Cfg.RefiTermMonths),
						"net_proceeds":     proceeds,
					},
				})
			case models.ActionSell:
				pendingSales = append(pendingSales, pa.AssetIndex)
				tr.Outcomes = append(tr.Outcomes, ActionOutcome{
					PlannedAction: pa,
					Details: map[string]float64{
						"sale_price": a.Value * (1 - s.Cfg.SaleCostPct),
					},
				})
			case models.ActionCapex:
				amount := pa.Amount
				a.Value += amount * s.Cfg.CapexValueMultiplier
				a.MonthlyNOI += amount * s.Cfg.CapexNOIUplift / 12
				actionCash -= amount
				tr.Outcomes = append(tr.Outcomes, ActionOutcome{
					PlannedAction: pa,
					Details:       map[string]float64{"capex_amount": amount},
				})
			default:
				return nil, fmt.Errorf("simulate: unknown action type %q", pa.Type)
			}
		}

		// Operations: escalated NOI net of vacancy, drifting valuation.
		noiTotal, serviceTotal := 0.0, 0.0
		for i := range st.Assets {
			a := &st.Assets[i]
			if !a.Held {
				snap.DSCR[i] = dscrInfinite
				continue
			}
			monthlyEsc := math.Pow(1+a.EscalationRate, 1.0/12) - 1
			a.MonthlyNOI *= 1 + monthlyEsc
			a.Value *= 1 + monthlyEsc
			eff := a.MonthlyNOI * (1 - a.VacancyRate)
			snap.NOI[i] = eff
			noiTotal += eff
			serviceTotal += snap.DebtService[i]
			if snap.DebtService[i] > 0 {
				snap.DSCR[i] = eff / snap.DebtService[i]
			} else {
				snap.DSCR[i] = dscrInfinite
			}
		}

		// Month-end sales.
		for _, idx := range pendingSales {
			a := &st.Assets[idx]
			proceeds := a.Value*(1-s.Cfg.SaleCostPct) - a.DebtBalance
			actionCash += proceeds
			a.Held = false
			a.DebtBalance = 0
		}

		snap.Leverage = st.Leverage()
		snap.NetCash = noiTotal - serviceTotal + actionCash
		cumulative += snap.NetCash
		snap.CumulativeCash = cumulative

		if err := s.checkNumerics(st, m); err != nil {
			return nil, err
		}

		violated := s.violates(snap, opts.Constraints)
		if violated {
			tr.Violations++
			if tr.FirstViolationMonth == 0 {
				tr.FirstViolationMonth = m
			}
			tr.Feasible = false
		}

		tr.Months = append(tr.Months, snap)
		tr.CashFlows = append(tr.CashFlows, snap.NetCash)

		if violated && opts.StopOnViolation {
			return tr, nil
		}
	}

	tr.TerminalValue = s.terminalValue(st)
	tr.CashFlows[len(tr.CashFlows)-1] += tr.TerminalValue
	return tr, nil
}

// violates applies the covenant checks for one month. DSCR counts only assets
// with actual debt service that month.
func (s *Simulator) violates(snap MonthSnapshot, c Constraints) bool {
	for i := range snap.DSCR {
		if snap.DebtService[i] > 0 && snap.DSCR[i] < c.MinDSCR {
			return true
		}
	}
	return c.MaxLeverage > 0 && snap.Leverage > c.MaxLeverage
}

// terminalValue is the exit distribution at horizon: forward NOI capped at the
// asset cap rate plus the configured exit spread, net of sale costs and debt
// payoff, over assets still held.
func (s *Simulator) terminalValue(st *State) float64 {
	total := 0.0
	for i := range st.Assets {
		a := &st.Assets[i]
		if !a.Held {
			continue
		}
		exitCap := a.CapRate + s.Cfg.ExitCapSpread
		gross := a.Value
		if exitCap > 0 {
			gross = a.MonthlyNOI * 12 * (1 - a.VacancyRate) / exitCap
		}
		total += gross*(1-s.Cfg.SaleCostPct) - a.DebtBalance
	}
	return total
}

func (s *Simulator) checkNumerics(st *State, month int) error {
	for i := range st.Assets {
		a := &st.Assets[i]
		if !a.Held {
			continue
		}
		if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) ||
			math.IsNaN(a.DebtBalance) || math.IsInf(a.DebtBalance, 0) {
			return &SimulationDivergenceError{Month: month, Detail: fmt.Sprintf("asset %s produced non-finite state", a.ID)}
		}
		if math.Abs(a.Value) > maxPlausibleValue {
			return &SimulationDivergenceError{Month: month, Detail: fmt.Sprintf("asset %s valuation blew up to %.3g", a.ID, a.Value)}
		}
	}
	return nil
}

func groupByMonth(plan Plan) map[int][]PlannedAction {
	out := make(map[int][]PlannedAction, len(plan))
	for _, pa := range plan {
		out[pa.Month] = append(out[pa.Month], pa)
	}
	for m := range out {
		sort.SliceStable(out[m], func(i, j int) bool {
			return out[m][i].AssetIndex < out[m][j].AssetIndex
		})
	}
	return out
}
