package models

import (
	"time"

	"gorm.io/datatypes"
)

// Action types the planner can emit.
const (
	ActionHold      = "hold"
	ActionRefinance = "refinance"
	ActionSell      = "sell"
	ActionCapex     = "capex"
)

// Action is one decision at one asset-month of a completed plan. Month is the
// first day of the simulated month. Details carries the type-specific numbers
// (refinance_amount, sale_price, capex_amount, ...).
type Action struct {
	ID      string `gorm:"type:uuid;primaryKey"`
	RunID   string `gorm:"type:uuid;not null;index"`
	AssetID string `gorm:"type:uuid;not null;index"`

	Month      time.Time `gorm:"type:date;not null"`
	ActionType string    `gorm:"type:varchar(20);not null"`

	ConfidenceScore float64        `gorm:"not null"`
	Details         datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Action) TableName() string {
	return "actions"
}
