package models

import (
	"time"
)

// Run statuses. Transitions are monotonic: pending -> running -> completed|failed.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// OptimizationRun is one optimization request over a fund: horizon, covenant
// constraints, and the computed IRRs once the planner finishes. Terminal rows
// are never updated again.
type OptimizationRun struct {
	ID     string `gorm:"type:uuid;primaryKey"`
	FundID string `gorm:"type:uuid;not null;index"`

	StartTimestamp time.Time `gorm:"type:timestamptz;not null"`
	HorizonMonths  int       `gorm:"not null"`

	Status string `gorm:"type:varchar(20);not null;index;default:'pending'"`

	// Nullable until computed; a failed run may carry a baseline but no optimum.
	BaselineIRR  *float64
	OptimizedIRR *float64

	MinDSCR     float64 `gorm:"not null"`
	MaxLeverage float64 `gorm:"not null"`

	FailureReason string `gorm:"type:text"`

	Actions []Action `gorm:"foreignKey:RunID"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (OptimizationRun) TableName() string {
	return "optimization_runs"
}

// Terminal reports whether the run reached a state that admits no further
// transitions.
func (r *OptimizationRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
