package handler

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"fundopt/internal/models"
	"fundopt/internal/repository"
)

type stubRepo struct {
	mu     sync.Mutex
	funds  map[string]models.Fund
	assets map[string][]models.Asset
	edges  map[string][]models.FacilityEdge
	runs   map[string]*models.OptimizationRun
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		funds:  map[string]models.Fund{},
		assets: map[string][]models.Asset{},
		edges:  map[string][]models.FacilityEdge{},
		runs:   map[string]*models.OptimizationRun{},
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (s *stubRepo) GetFundByID(ctx context.Context, id string) (*models.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.funds[id]
	if !ok {
		return nil, nil
	}
	out := f
	return &out, nil
}

func (s *stubRepo) ListAssetsByFundID(ctx context.Context, fundID string) ([]models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Asset(nil), s.assets[fundID]...), nil
}

func (s *stubRepo) ListFacilityEdgesByFundID(ctx context.Context, fundID string) ([]models.FacilityEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.FacilityEdge(nil), s.edges[fundID]...), nil
}

func (s *stubRepo) InsertRun(ctx context.Context, run *models.OptimizationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *stubRepo) GetRunByID(ctx context.Context, id string) (*models.OptimizationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	cp.Actions = append([]models.Action(nil), run.Actions...)
	return &cp, nil
}

func (s *stubRepo) ListRunsByFundID(ctx context.Context, fundID string, limit int) ([]models.OptimizationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OptimizationRun
	for _, run := range s.runs {
		if run.FundID == fundID {
			out = append(out, *run)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubRepo) MarkRunRunning(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != models.RunStatusPending {
		return repository.ErrStatusConflict
	}
	run.Status = models.RunStatusRunning
	return nil
}

func (s *stubRepo) CompleteRun(ctx context.Context, id string, baselineIRR, optimizedIRR float64, actions []models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != models.RunStatusRunning {
		return repository.ErrStatusConflict
	}
	run.Status = models.RunStatusCompleted
	run.BaselineIRR = &baselineIRR
	run.OptimizedIRR = &optimizedIRR
	run.Actions = append([]models.Action(nil), actions...)
	return nil
}

func (s *stubRepo) FailRun(ctx context.Context, id, reason string, baselineIRR *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Terminal() {
		return repository.ErrStatusConflict
	}
	run.Status = models.RunStatusFailed
	run.FailureReason = reason
	if baselineIRR != nil {
		run.BaselineIRR = baselineIRR
	}
	return nil
}

func (s *stubRepo) ListStuckRuns(ctx context.Context, before time.Time) ([]models.OptimizationRun, error) {
	return nil, nil
}

var _ repository.Repository = (*stubRepo)(nil)
