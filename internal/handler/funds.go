package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fundopt/internal/repository"
	"fundopt/internal/simulator"
)

// FundHandler serves read-only fund snapshots: the asset roster with current
// leverage and DSCR, and the run history.
type FundHandler struct {
	Repo repository.Repository
}

func (h *FundHandler) Register(r *gin.Engine) {
	group := r.Group("/funds")
	group.GET("/:fund_id", h.getFund)
	group.GET("/:fund_id/runs", h.listRuns)
}

type assetSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	DebtBalance float64 `json:"debt_balance"`
	Leverage    float64 `json:"leverage"`
	DSCR        float64 `json:"dscr"`
	MonthlyNOI  float64 `json:"monthly_noi"`
}

// @Summary Fund snapshot with per-asset leverage and DSCR
// @Tags funds
// @Produce json
// @Router /funds/{fund_id} [get]
func (h *FundHandler) getFund(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	fundID := strings.TrimSpace(c.Param("fund_id"))
	fund, err := h.Repo.GetFundByID(c.Request.Context(), fundID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if fund == nil {
		Error(c, http.StatusNotFound, "fund not found", nil)
		return
	}
	assets, err := h.Repo.ListAssetsByFundID(c.Request.Context(), fundID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}

	st := simulator.NewState(assets)
	summaries := make([]assetSummary, 0, len(st.Assets))
	for i := range st.Assets {
		a := st.Assets[i]
		s := assetSummary{
			ID:          a.ID,
			Name:        a.Name,
			Value:       a.Value,
			DebtBalance: a.DebtBalance,
			MonthlyNOI:  a.MonthlyNOI,
		}
		if a.Value > 0 {
			s.Leverage = a.DebtBalance / a.Value
		}
		if a.MonthlyPayment > 0 {
			s.DSCR = a.MonthlyNOI * (1 - a.VacancyRate) / a.MonthlyPayment
		}
		summaries = append(summaries, s)
	}

	Ok(c, gin.H{
		"fund":               fund,
		"assets":             summaries,
		"portfolio_leverage": st.Leverage(),
		"portfolio_equity":   st.Equity(),
	}, nil)
}

// @Summary Optimization run history for a fund
// @Tags funds
// @Produce json
// @Router /funds/{fund_id}/runs [get]
func (h *FundHandler) listRuns(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	fundID := strings.TrimSpace(c.Param("fund_id"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.Repo.ListRunsByFundID(c.Request.Context(), fundID, limit)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	docs := make([]runDoc, 0, len(runs))
	for i := range runs {
		docs = append(docs, toRunDoc(&runs[i]))
	}
	Ok(c, docs, map[string]any{"count": len(docs)})
}
