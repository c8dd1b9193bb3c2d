package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is one property held by a fund, with its current debt terms and the
// operating assumptions the simulator starts from. Money-like values are
// stored as numeric to avoid float errors.
type Asset struct {
	ID     string `gorm:"type:uuid;primaryKey"`
	FundID string `gorm:"type:uuid;not null;index"`
	Name   string `gorm:"type:varchar(200);not null"`

	CurrentValue decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	DebtBalance  decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	// Annual interest rate as a fraction (0.05 = 5%).
	InterestRate float64 `gorm:"not null"`
	// Remaining fully-amortizing term in months. Zero means interest-only.
	AmortMonths int `gorm:"not null"`

	MonthlyNOI decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	// VacancyRate and EscalationRate are annual fractions applied by the simulator.
	VacancyRate    float64 `gorm:"not null"`
	EscalationRate float64 `gorm:"not null"`
	// CapRate backs the direct-cap valuation and the exit value at horizon.
	CapRate float64 `gorm:"not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Asset) TableName() string {
	return "assets"
}

// FacilityEdge links two assets of the same fund that share a debt facility or
// cross-collateralize each other. Edges feed the graph state encoder.
type FacilityEdge struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	FundID   string `gorm:"type:uuid;not null;index"`
	AssetAID string `gorm:"type:uuid;not null;index"`
	AssetBID string `gorm:"type:uuid;not null;index"`
	// Kind is one of EdgeKind* below.
	Kind string `gorm:"type:varchar(30);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (FacilityEdge) TableName() string {
	return "facility_edges"
}

const (
	EdgeKindSharedFacility  = "shared_facility"
	EdgeKindCrossCollateral = "cross_collateral"
)
