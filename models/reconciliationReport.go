package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reconciliation check types.
const (
	ReconciliationCheckLotReplay          = "LOT_REPLAY"
	ReconciliationCheckPureMetalLotReplay = "PURE_METAL_LOT_REPLAY"
	ReconciliationCheckProductStock       = "PRODUCT_STOCK"
)

// ReconciliationReport is one drift finding between a cached balance and its ledger replay.
type ReconciliationReport struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"size:64;index;not null" json:"organization_id"`
	CheckType      string          `gorm:"size:50;index;not null" json:"check_type"`
	EntityType     string          `gorm:"size:50;index;not null" json:"entity_type"` // InventoryLot, PureMetalLot, Product
	EntityId       int             `gorm:"index;not null" json:"entity_id"`
	CachedBalance  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"cached_balance"`
	LedgerBalance  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"ledger_balance"`
	Repaired       bool            `gorm:"not null;default:false" json:"repaired"`
	Details        string          `gorm:"type:text" json:"details"`
	CorrelationId  string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
