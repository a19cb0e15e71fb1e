package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryLot is a traceable batch of a product. Quantities are in the product's base unit
// (grams for mass products). Invariant: 0 <= RemainingQuantity <= Quantity.
type InventoryLot struct {
	ID                int             `gorm:"primary_key" json:"id"`
	OrganizationId    string          `gorm:"size:64;not null;index:idx_lot_org_product_received,priority:1" json:"organization_id"`
	ProductId         int             `gorm:"not null;index:idx_lot_org_product_received,priority:2" json:"product_id"`
	BatchNumber       string          `gorm:"size:100;not null;index" json:"batch_number"`
	Quantity          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	RemainingQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"remaining_quantity"`
	CostPrice         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"cost_price"`
	SourceType        LotSourceType   `gorm:"type:enum('PURCHASE','PRODUCTION','ADJUSTMENT');not null" json:"source_type"`
	SourceId          int             `gorm:"index" json:"source_id"`
	ReceivedDate      time.Time       `gorm:"not null;index:idx_lot_org_product_received,priority:3" json:"received_date"`
	Version           int             `gorm:"not null;default:0" json:"version"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// CheckInvariant returns ErrInvariantViolation when remaining falls outside [0, quantity].
func (l *InventoryLot) CheckInvariant() error {
	return checkRange(l.RemainingQuantity, l.Quantity)
}

func (l *InventoryLot) IsAvailable() bool {
	return l.RemainingQuantity.IsPositive()
}

type NewInventoryLot struct {
	ProductId    int             `json:"product_id" validate:"required,gt=0"`
	BatchNumber  string          `json:"batch_number" validate:"max=100"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryUnit    ProductUnit     `json:"entry_unit" validate:"omitempty,oneof=GRAMS KILOGRAMS UNIT"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SourceType   LotSourceType   `json:"source_type" validate:"required,oneof=PURCHASE PRODUCTION ADJUSTMENT"`
	SourceId     int             `json:"source_id"`
	ReceivedDate time.Time       `json:"received_date" validate:"required"`
	DocumentRef  string          `json:"document_ref" validate:"max=100"`
}
