package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"fundopt/internal/config"
	"fundopt/internal/engine"
	"fundopt/internal/models"
	"fundopt/internal/planner"
	"fundopt/internal/simulator"
)

const (
	testFundID  = "11111111-1111-1111-1111-111111111111"
	testAssetID = "22222222-2222-2222-2222-222222222222"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// noopPlanner lets lifecycle tests exercise the HTTP surface without a full
// Monte-Carlo search.
type noopPlanner struct{}

func (noopPlanner) Plan(ctx context.Context, req planner.Request) (*planner.Result, error) {
	return nil, &planner.InfeasiblePlanError{Rollouts: 1}
}

func seedFund(repo *stubRepo) {
	repo.funds[testFundID] = models.Fund{ID: testFundID, Name: "core fund"}
	repo.assets[testFundID] = []models.Asset{{
		ID:           testAssetID,
		FundID:       testFundID,
		Name:         "office tower",
		CurrentValue: decimal.NewFromInt(10_000_000),
		DebtBalance:  decimal.NewFromInt(6_000_000),
		InterestRate: 0.05,
		AmortMonths:  300,
		MonthlyNOI:   decimal.NewFromFloat(700_000.0 / 12),
		CapRate:      0.07,
	}}
}

func newOptimizeRouter(repo *stubRepo) *gin.Engine {
	o := &engine.Orchestrator{
		Repo:    repo,
		Planner: noopPlanner{},
		Sim:     &simulator.Simulator{Cfg: config.SimulatorConfig{ExitCapSpread: 0.005, SaleCostPct: 0.02}},
		Cfg:     config.EngineConfig{RunBudget: 5 * time.Second},
		Hub:     engine.NewProgressHub(),
		BaseCtx: context.Background(),
	}
	r := gin.New()
	(&OptimizeHandler{Repo: repo, Orchestrator: o}).Register(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStartRunEndpoint_OK(t *testing.T) {
	repo := newStubRepo()
	seedFund(repo)
	r := newOptimizeRouter(repo)

	w := doJSON(t, r, http.MethodPost, "/fund/optimize", map[string]any{
		"fund_id":              testFundID,
		"target_horizon_years": 5,
		"constraints":          map[string]any{"min_dscr": 1.25, "max_leverage": 0.75},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := uuid.Parse(resp.RunID); err != nil {
		t.Fatalf("run_id %q is not a uuid", resp.RunID)
	}
	if resp.Status != models.RunStatusPending {
		t.Fatalf("status=%q want pending", resp.Status)
	}
	if resp.Message == "" {
		t.Fatal("message must tell the caller where to poll")
	}
}

func TestStartRunEndpoint_Malformed(t *testing.T) {
	repo := newStubRepo()
	seedFund(repo)
	r := newOptimizeRouter(repo)

	req := httptest.NewRequest(http.MethodPost, "/fund/optimize", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", w.Code)
	}
}

func TestStartRunEndpoint_Invalid(t *testing.T) {
	repo := newStubRepo()
	seedFund(repo)
	r := newOptimizeRouter(repo)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"dscr at one", map[string]any{
			"fund_id": testFundID, "target_horizon_years": 5,
			"constraints": map[string]any{"min_dscr": 1.0, "max_leverage": 0.75},
		}},
		{"bad fund id", map[string]any{
			"fund_id": "nope", "target_horizon_years": 5,
			"constraints": map[string]any{"min_dscr": 1.25, "max_leverage": 0.75},
		}},
		{"horizon too long", map[string]any{
			"fund_id": testFundID, "target_horizon_years": 99,
			"constraints": map[string]any{"min_dscr": 1.25, "max_leverage": 0.75},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/fund/optimize", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s want 400", w.Code, w.Body.String())
			}
			var resp apiResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Message == "" {
				t.Fatal("rejection must carry the reason")
			}
		})
	}
}

func TestGetRunEndpoint_NotFound(t *testing.T) {
	r := newOptimizeRouter(newStubRepo())
	w := doJSON(t, r, http.MethodGet, "/fund/optimize/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", w.Code)
	}
}

func TestGetRunEndpoint_Shape(t *testing.T) {
	repo := newStubRepo()
	seedFund(repo)
	r := newOptimizeRouter(repo)

	baseline, optimized := 0.085, 0.101
	runID := uuid.NewString()
	start := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	repo.runs[runID] = &models.OptimizationRun{
		ID:             runID,
		FundID:         testFundID,
		StartTimestamp: start,
		HorizonMonths:  60,
		Status:         models.RunStatusCompleted,
		BaselineIRR:    &baseline,
		OptimizedIRR:   &optimized,
		MinDSCR:        1.25,
		MaxLeverage:    0.75,
		Actions: []models.Action{
			{
				ID: uuid.NewString(), RunID: runID, AssetID: testAssetID,
				Month: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ActionType: models.ActionRefinance,
				ConfidenceScore: 0.82,
				Details:         datatypes.JSON(`{"refinance_amount":6500000}`),
			},
			{
				ID: uuid.NewString(), RunID: runID, AssetID: testAssetID,
				Month: time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC), ActionType: models.ActionHold,
				ConfidenceScore: 0.91,
			},
		},
	}

	w := doJSON(t, r, http.MethodGet, "/fund/optimize/"+runID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	var doc struct {
		ID             string   `json:"id"`
		FundID         string   `json:"fund_id"`
		StartTimestamp string   `json:"start_timestamp"`
		HorizonMonths  int      `json:"horizon_months"`
		OptimizedIRR   *float64 `json:"optimized_irr"`
		BaselineIRR    *float64 `json:"baseline_irr"`
		Status         string   `json:"status"`
		Actions        []struct {
			ID              string          `json:"id"`
			AssetID         string          `json:"asset_id"`
			Month           string          `json:"month"`
			ActionType      string          `json:"action_type"`
			ConfidenceScore float64         `json:"confidence_score"`
			Details         json.RawMessage `json:"details"`
		} `json:"actions"`
		Constraints struct {
			MinDSCR     float64 `json:"min_dscr"`
			MaxLeverage float64 `json:"max_leverage"`
		} `json:"constraints"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ID != runID || doc.FundID != testFundID || doc.Status != models.RunStatusCompleted {
		t.Fatalf("doc header mismatch: %+v", doc)
	}
	if _, err := time.Parse(time.RFC3339, doc.StartTimestamp); err != nil {
		t.Fatalf("start_timestamp %q not RFC3339", doc.StartTimestamp)
	}
	if doc.HorizonMonths != 60 || doc.OptimizedIRR == nil || *doc.OptimizedIRR != optimized {
		t.Fatalf("run numbers mismatch: %+v", doc)
	}
	if doc.Constraints.MinDSCR != 1.25 || doc.Constraints.MaxLeverage != 0.75 {
		t.Fatalf("constraints mismatch: %+v", doc.Constraints)
	}
	if len(doc.Actions) != 2 {
		t.Fatalf("actions=%d want 2", len(doc.Actions))
	}
	if doc.Actions[0].ActionType != models.ActionRefinance {
		t.Fatalf("first action %+v", doc.Actions[0])
	}
	var details map[string]float64
	if err := json.Unmarshal(doc.Actions[0].Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details["refinance_amount"] != 6500000 {
		t.Fatalf("details=%v", details)
	}
	// Actions without numbers still serialize an object, not null.
	if string(doc.Actions[1].Details) != "{}" {
		t.Fatalf("hold details=%s want {}", doc.Actions[1].Details)
	}
}

func TestGetRunEndpoint_PendingHasEmptyActions(t *testing.T) {
	repo := newStubRepo()
	r := newOptimizeRouter(repo)

	runID := uuid.NewString()
	repo.runs[runID] = &models.OptimizationRun{
		ID: runID, FundID: testFundID, StartTimestamp: time.Now().UTC(),
		HorizonMonths: 60, Status: models.RunStatusPending, MinDSCR: 1.25, MaxLeverage: 0.75,
	}
	w := doJSON(t, r, http.MethodGet, "/fund/optimize/"+runID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(doc["actions"]) != "[]" {
		t.Fatalf("actions=%s want []", doc["actions"])
	}
	if string(doc["optimized_irr"]) != "null" {
		t.Fatalf("optimized_irr=%s want null", doc["optimized_irr"])
	}
}

func TestCancelEndpoint(t *testing.T) {
	repo := newStubRepo()
	seedFund(repo)
	r := newOptimizeRouter(repo)

	// Terminal runs cannot be cancelled.
	doneID := uuid.NewString()
	repo.runs[doneID] = &models.OptimizationRun{ID: doneID, FundID: testFundID, Status: models.RunStatusCompleted}
	w := doJSON(t, r, http.MethodPost, fmt.Sprintf("/fund/optimize/%s/cancel", doneID), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("terminal cancel status=%d want 409", w.Code)
	}

	// A pending run with no local executor fails directly.
	pendingID := uuid.NewString()
	repo.runs[pendingID] = &models.OptimizationRun{ID: pendingID, FundID: testFundID, Status: models.RunStatusPending}
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/fund/optimize/%s/cancel", pendingID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pending cancel status=%d body=%s", w.Code, w.Body.String())
	}
	if repo.runs[pendingID].Status != models.RunStatusFailed {
		t.Fatalf("status=%q want failed", repo.runs[pendingID].Status)
	}
}
