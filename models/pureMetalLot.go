package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PureMetalLot is refined metal in grams. InitialGrams grows when metal is received into an
// existing lot (credit settlements), so 0 <= RemainingGrams <= InitialGrams always holds.
type PureMetalLot struct {
	ID              int                    `gorm:"primary_key" json:"id"`
	OrganizationId  string                 `gorm:"size:64;not null;index:idx_pml_org_metal_entry,priority:1" json:"organization_id"`
	MetalType       MetalType              `gorm:"type:enum('AU','AG','RH','PT','PD');not null;index:idx_pml_org_metal_entry,priority:2" json:"metal_type"`
	InitialGrams    decimal.Decimal        `gorm:"type:decimal(20,4);not null" json:"initial_grams"`
	RemainingGrams  decimal.Decimal        `gorm:"type:decimal(20,4);not null" json:"remaining_grams"`
	Purity          decimal.Decimal        `gorm:"type:decimal(10,4);not null;default:1" json:"purity"`
	SourceType      PureMetalLotSourceType `gorm:"type:enum('RECOVERY','SALE_PAYMENT','PRODUCTION','CREDIT_SETTLEMENT','ADJUSTMENT');not null" json:"source_type"`
	SourceId        int                    `gorm:"index" json:"source_id"`
	SaleId          *int                   `gorm:"index" json:"sale_id"`
	RecoveryOrderId *int                   `gorm:"index" json:"recovery_order_id"`
	Status          PureMetalLotStatus     `gorm:"type:enum('AVAILABLE','PARTIALLY_USED','USED');not null;default:'AVAILABLE'" json:"status"`
	EntryDate       time.Time              `gorm:"not null;index:idx_pml_org_metal_entry,priority:3" json:"entry_date"`
	Notes           string                 `gorm:"size:255" json:"notes"`
	Version         int                    `gorm:"not null;default:0" json:"version"`
	CreatedAt       time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

func (l *PureMetalLot) CheckInvariant() error {
	return checkRange(l.RemainingGrams, l.InitialGrams)
}

// RefreshStatus derives the status from the balances.
func (l *PureMetalLot) RefreshStatus() {
	switch {
	case l.RemainingGrams.IsZero():
		l.Status = PureMetalLotStatusUsed
	case l.RemainingGrams.Equal(l.InitialGrams):
		l.Status = PureMetalLotStatusAvailable
	default:
		l.Status = PureMetalLotStatusPartiallyUsed
	}
}

// PureMetalLotMovement is the append-only signed-gram ledger of a PureMetalLot.
// MetalType is denormalized so statements can be built per metal.
type PureMetalLotMovement struct {
	ID                    int                   `gorm:"primary_key" json:"id"`
	OrganizationId        string                `gorm:"size:64;not null;index:idx_pmm_org_metal_date,priority:1" json:"organization_id"`
	PureMetalLotId        int                   `gorm:"not null;index" json:"pure_metal_lot_id"`
	MetalType             MetalType             `gorm:"type:enum('AU','AG','RH','PT','PD');not null;index:idx_pmm_org_metal_date,priority:2" json:"metal_type"`
	MovementType          PureMetalMovementType `gorm:"type:enum('ENTRY','EXIT','ADJUSTMENT');not null" json:"movement_type"`
	Grams                 decimal.Decimal       `gorm:"type:decimal(20,4);not null" json:"grams"`
	MovementDate          time.Time             `gorm:"not null;index:idx_pmm_org_metal_date,priority:3" json:"movement_date"`
	DocumentRef           string                `gorm:"size:100;index" json:"document_ref"`
	CompensatesMovementId *int                  `gorm:"uniqueIndex" json:"compensates_movement_id"`
	Notes                 string                `gorm:"size:255" json:"notes"`
	CorrelationId         string                `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt             time.Time             `gorm:"autoCreateTime" json:"created_at"`
}

type PureMetalMovementFilter struct {
	PureMetalLotId int
	MetalType      MetalType
	DocumentRef    string
	From           *time.Time
	Before         *time.Time
}

type NewPureMetalLot struct {
	MetalType       MetalType              `json:"metal_type" validate:"required,oneof=AU AG RH PT PD"`
	Grams           decimal.Decimal        `json:"grams"`
	Purity          decimal.Decimal        `json:"purity"`
	SourceType      PureMetalLotSourceType `json:"source_type" validate:"required,oneof=RECOVERY SALE_PAYMENT PRODUCTION CREDIT_SETTLEMENT ADJUSTMENT"`
	SourceId        int                    `json:"source_id"`
	SaleId          *int                   `json:"sale_id"`
	RecoveryOrderId *int                   `json:"recovery_order_id"`
	EntryDate       time.Time              `json:"entry_date" validate:"required"`
	Notes           string                 `json:"notes" validate:"max=255"`
	DocumentRef     string                 `json:"document_ref" validate:"max=100"`
}
