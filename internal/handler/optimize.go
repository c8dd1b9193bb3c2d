package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fundopt/internal/engine"
	"fundopt/internal/models"
	"fundopt/internal/repository"
)

// OptimizeHandler exposes the run lifecycle to the dashboard. The request and
// response shapes of the optimize endpoints are a fixed external contract.
type OptimizeHandler struct {
	Repo         repository.Repository
	Orchestrator *engine.Orchestrator
	Logger       *zap.Logger
}

func (h *OptimizeHandler) Register(r *gin.Engine) {
	r.POST("/fund/optimize", h.startRun)
	r.GET("/fund/optimize/:run_id", h.getRun)
	r.POST("/fund/optimize/:run_id/cancel", h.cancelRun)
}

type optimizeRequest struct {
	FundID             string `json:"fund_id"`
	TargetHorizonYears int    `json:"target_horizon_years"`
	Constraints        struct {
		MinDSCR     float64 `json:"min_dscr"`
		MaxLeverage float64 `json:"max_leverage"`
	} `json:"constraints"`
}

type optimizeResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type constraintsDoc struct {
	MinDSCR     float64 `json:"min_dscr"`
	MaxLeverage float64 `json:"max_leverage"`
}

type actionDoc struct {
	ID              string          `json:"id"`
	AssetID         string          `json:"asset_id"`
	Month           string          `json:"month"`
	ActionType      string          `json:"action_type"`
	ConfidenceScore float64         `json:"confidence_score"`
	Details         json.RawMessage `json:"details"`
}

type runDoc struct {
	ID             string         `json:"id"`
	FundID         string         `json:"fund_id"`
	StartTimestamp string         `json:"start_timestamp"`
	HorizonMonths  int            `json:"horizon_months"`
	OptimizedIRR   *float64       `json:"optimized_irr"`
	BaselineIRR    *float64       `json:"baseline_irr"`
	Status         string         `json:"status"`
	Actions        []actionDoc    `json:"actions"`
	Constraints    constraintsDoc `json:"constraints"`
}

// @Summary Start an optimization run
// @Tags optimize
// @Accept json
// @Produce json
// @Success 200 {object} optimizeResponse
// @Router /fund/optimize [post]
func (h *OptimizeHandler) startRun(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	var req optimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "malformed request: "+err.Error(), nil)
		return
	}
	run, err := h.Orchestrator.StartRun(c.Request.Context(), engine.RunRequest{
		FundID:             strings.TrimSpace(req.FundID),
		TargetHorizonYears: req.TargetHorizonYears,
		MinDSCR:            req.Constraints.MinDSCR,
		MaxLeverage:        req.Constraints.MaxLeverage,
	})
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			Error(c, http.StatusBadRequest, verr.Error(), nil)
			return
		}
		if h.Logger != nil {
			h.Logger.Error("start run failed", zap.Error(err))
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, optimizeResponse{
		RunID:   run.ID,
		Status:  run.Status,
		Message: "optimization started; poll GET /fund/optimize/" + run.ID,
	})
}

// @Summary Get an optimization run with its action plan
// @Tags optimize
// @Produce json
// @Success 200 {object} runDoc
// @Router /fund/optimize/{run_id} [get]
func (h *OptimizeHandler) getRun(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	runID := strings.TrimSpace(c.Param("run_id"))
	if runID == "" {
		Error(c, http.StatusBadRequest, "run_id required", nil)
		return
	}
	run, err := h.Repo.GetRunByID(c.Request.Context(), runID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if run == nil {
		Error(c, http.StatusNotFound, "run not found", nil)
		return
	}
	c.JSON(http.StatusOK, toRunDoc(run))
}

// @Summary Cancel an in-flight optimization run
// @Tags optimize
// @Produce json
// @Success 200 {object} map[string]string
// @Router /fund/optimize/{run_id}/cancel [post]
func (h *OptimizeHandler) cancelRun(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "engine unavailable", nil)
		return
	}
	runID := strings.TrimSpace(c.Param("run_id"))
	if runID == "" {
		Error(c, http.StatusBadRequest, "run_id required", nil)
		return
	}
	if err := h.Orchestrator.Cancel(c.Request.Context(), runID); err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			Error(c, http.StatusConflict, verr.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"run_id": runID, "cancelling": true}, nil)
}

func toRunDoc(run *models.OptimizationRun) runDoc {
	doc := runDoc{
		ID:             run.ID,
		FundID:         run.FundID,
		StartTimestamp: run.StartTimestamp.UTC().Format(time.RFC3339),
		HorizonMonths:  run.HorizonMonths,
		OptimizedIRR:   run.OptimizedIRR,
		BaselineIRR:    run.BaselineIRR,
		Status:         run.Status,
		Actions:        make([]actionDoc, 0, len(run.Actions)),
		Constraints: constraintsDoc{
			MinDSCR:     run.MinDSCR,
			MaxLeverage: run.MaxLeverage,
		},
	}
	for _, a := range run.Actions {
		details := json.RawMessage(`{}`)
		if len(a.Details) > 0 {
			details = json.RawMessage(a.Details)
		}
		doc.Actions = append(doc.Actions, actionDoc{
			ID:              a.ID,
			AssetID:         a.AssetID,
			Month:           a.Month.UTC().Format(time.RFC3339),
			ActionType:      a.ActionType,
			ConfidenceScore: a.ConfidenceScore,
			Details:         details,
		})
	}
	return doc
}
