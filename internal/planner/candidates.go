package planner

import (
	"math/rand"

	"fundopt/internal/config"
	"fundopt/internal/graph"
	"fundopt/internal/models"
	"fundopt/internal/simulator"
)

// samplePlan draws one candidate trajectory. The priors are heuristic: a
// refinance is more attractive the wider the spread between the asset's note
// rate and today's refi rate and the more leverage headroom the covenant
// leaves; capex favors the front half of the horizon so the NOI uplift has
// time to season; sales cluster near the exit. At most one action of each
// type per asset, never two actions on the same asset-month, and nothing
// after a sale: an asset that leaves the portfolio takes no further action.
func samplePlan(rng *rand.Rand, st *simulator.State, emb graph.Embedding, horizon int, c simulator.Constraints, simCfg config.SimulatorConfig) simulator.Plan {
	var plan simulator.Plan

	// Portfolio-wide leverage pressure shifts the mix toward deleveraging
	// (sales) and away from cash-out refinancing.
	pressure := 0.0
	if c.MaxLeverage > 0 {
		pressure = clamp01(emb.Portfolio[graph.FeatLeverage] / c.MaxLeverage)
	}

	for i := range st.Assets {
		a := &st.Assets[i]
		taken := map[int]bool{}

		// Decide the exit first: everything else must precede it.
		sellMonth := 0
		pSell := 0.1 + 0.3*pressure
		if rng.Float64() < pSell {
			lo := horizon - 17
			if lo < 1 {
				lo = 1
			}
			sellMonth = lo + rng.Intn(horizon-lo+1)
			taken[sellMonth] = true
			plan = append(plan, simulator.PlannedAction{
				AssetIndex: i, Month: sellMonth, Type: models.ActionSell,
			})
		}

		pRefi := 0.25
		if a.InterestRate > simCfg.RefiRate {
			pRefi += 2 * (a.InterestRate - simCfg.RefiRate)
		}
		pRefi *= 1 - 0.5*pressure
		if horizon > 18 && a.DebtBalance > 0 && rng.Float64() < pRefi {
			m := 3 + rng.Intn(horizon-12)
			if !taken[m] && (sellMonth == 0 || m < sellMonth) {
				taken[m] = true
				plan = append(plan, simulator.PlannedAction{
					AssetIndex: i, Month: m, Type: models.ActionRefinance,
				})
			}
		}

		if horizon >= 12 && rng.Float64() < 0.3 {
			m := 1 + rng.Intn(horizon/2)
			if !taken[m] && (sellMonth == 0 || m < sellMonth) {
				amount := a.Value * (0.02 + 0.06*rng.Float64())
				plan = append(plan, simulator.PlannedAction{
					AssetIndex: i, Month: m, Type: models.ActionCapex, Amount: amount,
				})
			}
		}
	}
	return plan
}
