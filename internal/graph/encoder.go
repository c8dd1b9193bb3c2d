// Package graph encodes a fund's portfolio as a graph (assets are nodes,
// shared debt facilities and cross-collateralization are edges) and produces
// the fixed-size embedding the planner conditions on. Encoding is a pure
// function of its inputs: no randomness, no persisted side effects.
package graph

import (
	"math"

	"fundopt/internal/models"
	"fundopt/internal/simulator"
)

// EmbeddingDim is the per-node embedding width.
const EmbeddingDim = 8

// Message-passing weights per edge kind. Cross-collateralized assets couple
// harder than a merely shared facility.
var edgeWeights = map[string]float64{
	models.EdgeKindSharedFacility:  0.5,
	models.EdgeKindCrossCollateral: 1.0,
}

const (
	passRounds  = 2
	selfWeight  = 0.6
	neighWeight = 0.4
)

// Edge references assets by arena index within the state.
type Edge struct {
	A, B   int
	Weight float64
}

// Embedding is the encoder output: one vector per asset in arena order plus a
// mean-pooled portfolio vector.
type Embedding struct {
	PerAsset  [][EmbeddingDim]float64
	Portfolio [EmbeddingDim]float64
}

// BuildEdges maps persisted facility edges onto arena indices, dropping any
// edge that references an asset outside the snapshot.
func BuildEdges(st *simulator.State, rows []models.FacilityEdge) []Edge {
	idx := make(map[string]int, len(st.Assets))
	for i := range st.Assets {
		idx[st.Assets[i].ID] = i
	}
	out := make([]Edge, 0, len(rows))
	for _, r := range rows {
		a, okA := idx[r.AssetAID]
		b, okB := idx[r.AssetBID]
		if !okA || !okB || a == b {
			continue
		}
		w, ok := edgeWeights[r.Kind]
		if !ok {
			w = 0.5
		}
		out = append(out, Edge{A: a, B: b, Weight: w})
	}
	return out
}

// Encode produces normalized per-asset features, runs a fixed number of
// weighted neighbor-averaging rounds, and mean-pools the portfolio vector.
func Encode(st *simulator.State, edges []Edge) Embedding {
	n := len(st.Assets)
	emb := Embedding{PerAsset: make([][EmbeddingDim]float64, n)}
	if n == 0 {
		return emb
	}

	maxValue := 0.0
	for i := range st.Assets {
		if st.Assets[i].Value > maxValue {
			maxValue = st.Assets[i].Value
		}
	}
	if maxValue <= 0 {
		maxValue = 1
	}

	for i := range st.Assets {
		emb.PerAsset[i] = nodeFeatures(&st.Assets[i], maxValue)
	}

	// Neighbor averaging. Iteration order is fixed by arena index so the
	// result is bit-stable for identical inputs.
	for round := 0; round < passRounds; round++ {
		next := make([][EmbeddingDim]float64, n)
		sums := make([][EmbeddingDim]float64, n)
		weights := make([]float64, n)
		for _, e := range edges {
			for d := 0; d < EmbeddingDim; d++ {
				sums[e.A][d] += e.Weight * emb.PerAsset[e.B][d]
				sums[e.B][d] += e.Weight * emb.PerAsset[e.A][d]
			}
			weights[e.A] += e.Weight
			weights[e.B] += e.Weight
		}
		for i := 0; i < n; i++ {
			if weights[i] == 0 {
				next[i] = emb.PerAsset[i]
				continue
			}
			for d := 0; d < EmbeddingDim; d++ {
				next[i][d] = selfWeight*emb.PerAsset[i][d] + neighWeight*sums[i][d]/weights[i]
			}
		}
		emb.PerAsset = next
	}

	for i := 0; i < n; i++ {
		for d := 0; d < EmbeddingDim; d++ {
			emb.Portfolio[d] += emb.PerAsset[i][d]
		}
	}
	for d := 0; d < EmbeddingDim; d++ {
		emb.Portfolio[d] /= float64(n)
	}
	return emb
}

// Feature slots of the raw node vector.
const (
	FeatValue = iota
	FeatLeverage
	FeatDSCR
	FeatMaturity
	FeatNOITrend
	FeatVacancy
	FeatCapRate
	FeatNOIYield
)

func nodeFeatures(a *simulator.AssetState, maxValue float64) [EmbeddingDim]float64 {
	var f [EmbeddingDim]float64
	f[FeatValue] = a.Value / maxValue

	if a.Value > 0 {
		f[FeatLeverage] = a.DebtBalance / a.Value
	}

	service := simulator.AnnuityPayment(a.DebtBalance, a.InterestRate, a.AmortMonths)
	if service > 0 {
		// Squash DSCR into (0,1); 2.0x maps to ~0.88.
		dscr := a.MonthlyNOI * (1 - a.VacancyRate) / service
		f[FeatDSCR] = 1 - math.Exp(-dscr)
	} else {
		f[FeatDSCR] = 1
	}

	f[FeatMaturity] = math.Min(float64(a.AmortMonths)/360.0, 1)
	f[FeatNOITrend] = a.EscalationRate
	f[FeatVacancy] = a.VacancyRate
	f[FeatCapRate] = a.CapRate
	if a.Value > 0 {
		f[FeatNOIYield] = a.MonthlyNOI * 12 / a.Value
	}
	return f
}
