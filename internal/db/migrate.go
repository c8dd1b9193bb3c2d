package db

import (
	"fundopt/internal/models"
)

// AutoMigrate creates or evolves the optimizer schema: fund and asset state,
// the facility graph, and the run/action rows the orchestrator owns.
func (d *DB) AutoMigrate() error {
	if d == nil || d.Gorm == nil {
		return nil
	}

	return d.Gorm.AutoMigrate(
		&models.Fund{},
		&models.Asset{},
		&models.FacilityEdge{},
		&models.OptimizationRun{},
		&models.Action{},
	)
}
