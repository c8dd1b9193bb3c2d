package gormrepository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"fundopt/internal/models"
	"fundopt/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- funds and assets (read-only) -------------------------------------------

func (s *Store) GetFundByID(ctx context.Context, id string) (*models.Fund, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Fund
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListAssetsByFundID(ctx context.Context, fundID string) ([]models.Asset, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Asset
	err := s.db.WithContext(ctx).
		Where("fund_id = ?", fundID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListFacilityEdgesByFundID(ctx context.Context, fundID string) ([]models.FacilityEdge, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.FacilityEdge
	err := s.db.WithContext(ctx).
		Where("fund_id = ?", fundID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- runs and actions --------------------------------------------------------

func (s *Store) InsertRun(ctx context.Context, run *models.OptimizationRun) error {
	if s == nil || s.db == nil || run == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *Store) GetRunByID(ctx context.Context, id string) (*models.OptimizationRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.OptimizationRun
	err := s.db.WithContext(ctx).
		Preload("Actions", func(db *gorm.DB) *gorm.DB {
			return db.Order("month asc, asset_id asc")
		}).
		Where("id = ?", id).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListRunsByFundID(ctx context.Context, fundID string, limit int) ([]models.OptimizationRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var items []models.OptimizationRun
	err := s.db.WithContext(ctx).
		Where("fund_id = ?", fundID).
		Order("created_at desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkRunRunning uses the status predicate as the monotonic transition guard:
// a row that already left "pending" is not touched.
func (s *Store) MarkRunRunning(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.OptimizationRun{}).
		Where("id = ? AND status = ?", id, models.RunStatusPending).
		Update("status", models.RunStatusRunning)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrStatusConflict
	}
	return nil
}

func (s *Store) CompleteRun(ctx context.Context, id string, baselineIRR, optimizedIRR float64, actions []models.Action) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.InTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.OptimizationRun{}).
			Where("id = ? AND status = ?", id, models.RunStatusRunning).
			Updates(map[string]any{
				"status":        models.RunStatusCompleted,
				"baseline_irr":  baselineIRR,
				"optimized_irr": optimizedIRR,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrStatusConflict
		}
		if len(actions) == 0 {
			return nil
		}
		return tx.Create(&actions).Error
	})
}

func (s *Store) FailRun(ctx context.Context, id, reason string, baselineIRR *float64) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"status":         models.RunStatusFailed,
		"failure_reason": reason,
	}
	if baselineIRR != nil {
		updates["baseline_irr"] = *baselineIRR
	}
	res := s.db.WithContext(ctx).
		Model(&models.OptimizationRun{}).
		Where("id = ? AND status IN ?", id, []string{models.RunStatusPending, models.RunStatusRunning}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrStatusConflict
	}
	return nil
}

func (s *Store) ListStuckRuns(ctx context.Context, before time.Time) ([]models.OptimizationRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.OptimizationRun
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.RunStatusRunning, before).
		Order("updated_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
