package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"fundopt/internal/models"
)

// ErrStatusConflict means a run status write lost to the monotonic transition
// guard: the row was no longer in the expected predecessor state.
var ErrStatusConflict = errors.New("run status transition rejected")

// Repository is the engine's persistence boundary: read-only fund and asset
// state, plus the run and action rows the orchestrator owns.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	GetFundByID(ctx context.Context, id string) (*models.Fund, error)
	ListAssetsByFundID(ctx context.Context, fundID string) ([]models.Asset, error)
	ListFacilityEdgesByFundID(ctx context.Context, fundID string) ([]models.FacilityEdge, error)

	InsertRun(ctx context.Context, run *models.OptimizationRun) error
	// GetRunByID preloads the run's actions. Returns (nil, nil) when absent.
	GetRunByID(ctx context.Context, id string) (*models.OptimizationRun, error)
	ListRunsByFundID(ctx context.Context, fundID string, limit int) ([]models.OptimizationRun, error)

	// MarkRunRunning moves pending -> running; ErrStatusConflict otherwise.
	MarkRunRunning(ctx context.Context, id string) error
	// CompleteRun atomically writes the IRRs, the action list, and the
	// completed status in one transaction. Only a running run completes.
	CompleteRun(ctx context.Context, id string, baselineIRR, optimizedIRR float64, actions []models.Action) error
	// FailRun moves a non-terminal run to failed with a reason. The baseline
	// IRR is kept when it was already computed.
	FailRun(ctx context.Context, id, reason string, baselineIRR *float64) error

	// ListStuckRuns returns runs sitting in "running" since before the cutoff
	// (orphaned by a crash); the reaper fails them.
	ListStuckRuns(ctx context.Context, before time.Time) ([]models.OptimizationRun, error)
}
