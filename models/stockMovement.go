package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockMovement is an append-only ledger entry. Quantity is signed: positive inbound, negative outbound.
// A compensating movement points at the movement it undoes; each movement can be compensated once.
type StockMovement struct {
	ID                    int               `gorm:"primary_key" json:"id"`
	OrganizationId        string            `gorm:"size:64;not null;index:idx_move_org_product_date,priority:1" json:"organization_id"`
	ProductId             int               `gorm:"not null;index:idx_move_org_product_date,priority:2" json:"product_id"`
	InventoryLotId        *int              `gorm:"index" json:"inventory_lot_id"`
	MovementType          StockMovementType `gorm:"type:enum('RECEIPT','ALLOCATION','ADJUSTMENT','REVERSAL');not null" json:"movement_type"`
	Quantity              decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"quantity"`
	MovementDate          time.Time         `gorm:"not null;index:idx_move_org_product_date,priority:3" json:"movement_date"`
	DocumentRef           string            `gorm:"size:100;index" json:"document_ref"`
	CompensatesMovementId *int              `gorm:"uniqueIndex" json:"compensates_movement_id"`
	Note                  string            `gorm:"size:255" json:"note"`
	CorrelationId         string            `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt             time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

// StockMovementFilter selects ledger entries. From is inclusive, Before is exclusive.
type StockMovementFilter struct {
	ProductId             int
	InventoryLotId        int
	DocumentRef           string
	CompensatesMovementId int
	MovementType          StockMovementType
	From                  *time.Time
	Before                *time.Time
}
