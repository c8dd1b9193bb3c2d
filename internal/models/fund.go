package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fund is a commercial-real-estate fund. Asset state hangs off it; the engine
// only ever reads funds and assets, optimization works on value copies.
type Fund struct {
	ID   string `gorm:"type:uuid;primaryKey"`
	Name string `gorm:"type:varchar(200);not null"`

	// Default covenant levels, overridable per run.
	MinDSCR     decimal.Decimal `gorm:"type:numeric(10,4);not null"`
	MaxLeverage decimal.Decimal `gorm:"type:numeric(10,4);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Fund) TableName() string {
	return "funds"
}
