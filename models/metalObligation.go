package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetalObligation is a grams-denominated balance owed to us (receivable) or by us (credit).
// RemainingGrams only increases through an explicit settlement reversal.
type MetalObligation struct {
	ID             int              `gorm:"primary_key" json:"id"`
	OrganizationId string           `gorm:"size:64;not null;index:idx_obl_org_status,priority:1" json:"organization_id"`
	CounterpartyId int              `gorm:"not null;index" json:"counterparty_id"`
	MetalType      MetalType        `gorm:"type:enum('AU','AG','RH','PT','PD');not null" json:"metal_type"`
	Grams          decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"grams"`
	RemainingGrams decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"remaining_grams"`
	DueDate        *time.Time       `gorm:"index" json:"due_date"`
	Status         SettlementStatus `gorm:"type:enum('PENDING','PARTIALLY_PAID','PAID','CANCELLED');not null;default:'PENDING';index:idx_obl_org_status,priority:2" json:"status"`
	SourceId       int              `gorm:"index" json:"source_id"` // sale id for receivables, deposit/purchase id for credits
	Version        int              `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`

	Kind ObligationKind `gorm:"-" json:"kind"`
}

func (o *MetalObligation) CheckInvariant() error {
	return checkRange(o.RemainingGrams, o.Grams)
}

// MetalReceivable and MetalCredit share the obligation columns in separate tables.
type MetalReceivable struct {
	MetalObligation
}

func (MetalReceivable) TableName() string { return "metal_receivables" }

type MetalCredit struct {
	MetalObligation
}

func (MetalCredit) TableName() string { return "metal_credits" }

// TableName of the obligation kind.
func (k ObligationKind) TableName() string {
	if k == ObligationKindCredit {
		return MetalCredit{}.TableName()
	}
	return MetalReceivable{}.TableName()
}

type ObligationFilter struct {
	CounterpartyId int
	MetalType      MetalType
	Status         SettlementStatus
}

type NewMetalObligation struct {
	CounterpartyId int             `json:"counterparty_id" validate:"required,gt=0"`
	MetalType      MetalType       `json:"metal_type" validate:"required,oneof=AU AG RH PT PD"`
	Grams          decimal.Decimal `json:"grams"`
	DueDate        *time.Time      `json:"due_date"`
	SourceId       int             `json:"source_id"`
}

// MetalSettlement records one payment against an obligation so it can be audited and reversed.
type MetalSettlement struct {
	ID             int              `gorm:"primary_key" json:"id"`
	OrganizationId string           `gorm:"size:64;not null;index:idx_settle_org_obl,priority:1" json:"organization_id"`
	ObligationKind ObligationKind   `gorm:"type:enum('RECEIVABLE','CREDIT');not null;index:idx_settle_org_obl,priority:2" json:"obligation_kind"`
	ObligationId   int              `gorm:"not null;index:idx_settle_org_obl,priority:3" json:"obligation_id"`
	Method         SettlementMethod `gorm:"type:enum('METAL','CURRENCY');not null" json:"method"`
	Grams          decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"grams"`
	Amount         decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"amount"`
	PriceUsed      decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"price_used"`
	PureMetalLotId *int             `gorm:"index" json:"pure_metal_lot_id"`
	LotGrams       decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"lot_grams"` // grams actually moved on the lot
	LotMovementId  *int             `json:"lot_movement_id"`
	IsFullPayment  bool             `gorm:"not null;default:false" json:"is_full_payment"`
	PaymentDate    time.Time        `gorm:"not null" json:"payment_date"`
	ReversedAt     *time.Time       `json:"reversed_at"`
	CorrelationId  string           `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
}
