package simulator

import (
	"math"

	"fundopt/internal/models"
)

// Constraints are the covenant levels a plan must hold for every simulated
// month. Violating states are rejected during planning, never clamped.
type Constraints struct {
	MinDSCR     float64
	MaxLeverage float64
}

// AssetState is the simulator's mutable value-copy of one asset. Assets are
// addressed by stable arena index within a run so rollout copies stay cheap.
type AssetState struct {
	ID   string
	Name string

	Value       float64
	DebtBalance float64
	// Annual note rate as a fraction.
	InterestRate float64
	// Remaining amortization months; zero means interest-only debt.
	AmortMonths int
	// Fixed monthly payment for the current debt terms.
	MonthlyPayment float64

	MonthlyNOI     float64
	VacancyRate    float64
	EscalationRate float64
	CapRate        float64

	Held bool
}

// State is the arena of assets a rollout mutates.
type State struct {
	Assets []AssetState
}

// NewState builds the sandboxed simulation state from persisted asset rows.
// The rows themselves are never touched again.
func NewState(assets []models.Asset) *State {
	st := &State{Assets: make([]AssetState, 0, len(assets))}
	for _, a := range assets {
		as := AssetState{
			ID:             a.ID,
			Name:           a.Name,
			Value:          a.CurrentValue.InexactFloat64(),
			DebtBalance:    a.DebtBalance.InexactFloat64(),
			InterestRate:   a.InterestRate,
			AmortMonths:    a.AmortMonths,
			MonthlyNOI:     a.MonthlyNOI.InexactFloat64(),
			VacancyRate:    a.VacancyRate,
			EscalationRate: a.EscalationRate,
			CapRate:        a.CapRate,
			Held:           true,
		}
		as.MonthlyPayment = AnnuityPayment(as.DebtBalance, as.InterestRate, as.AmortMonths)
		st.Assets = append(st.Assets, as)
	}
	return st
}

// Clone returns an independent copy for one rollout.
func (s *State) Clone() *State {
	out := &State{Assets: make([]AssetState, len(s.Assets))}
	copy(out.Assets, s.Assets)
	return out
}

// Equity is the portfolio equity position: total value minus total debt over
// held assets.
func (s *State) Equity() float64 {
	total := 0.0
	for i := range s.Assets {
		if !s.Assets[i].Held {
			continue
		}
		total += s.Assets[i].Value - s.Assets[i].DebtBalance
	}
	return total
}

// Leverage is total outstanding debt over total value of held assets. Zero
// when nothing is held.
func (s *State) Leverage() float64 {
	debt, value := 0.0, 0.0
	for i := range s.Assets {
		if !s.Assets[i].Held {
			continue
		}
		debt += s.Assets[i].DebtBalance
		value += s.Assets[i].Value
	}
	if value <= 0 {
		return 0
	}
	return debt / value
}

// AnnuityPayment is the fixed monthly payment fully amortizing balance over
// termMonths at the given annual rate. Interest-only (termMonths == 0) pays
// interest alone.
func AnnuityPayment(balance, annualRate float64, termMonths int) float64 {
	if balance <= 0 {
		return 0
	}
	i := annualRate / 12
	if termMonths <= 0 {
		return balance * i
	}
	if i == 0 {
		return balance / float64(termMonths)
	}
	f := math.Pow(1+i, float64(termMonths))
	return balance * i * f / (f - 1)
}

// RemainingBalance is the closed-form balance of a fully-amortizing loan after
// n payments. Used by tests to pin the simulator's step loop to the formula.
func RemainingBalance(principal, annualRate float64, termMonths, paid int) float64 {
	i := annualRate / 12
	if termMonths <= 0 {
		return principal
	}
	if i == 0 {
		return principal * float64(termMonths-paid) / float64(termMonths)
	}
	pmt := AnnuityPayment(principal, annualRate, termMonths)
	f := math.Pow(1+i, float64(paid))
	return principal*f - pmt*(f-1)/i
}
