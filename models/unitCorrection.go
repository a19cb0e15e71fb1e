package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnitCorrection is a suspected kilogram-entered-as-gram lot awaiting human review.
// Nothing changes on the lot until the correction is confirmed.
type UnitCorrection struct {
	ID                int                  `gorm:"primary_key" json:"id"`
	OrganizationId    string               `gorm:"size:64;not null;index" json:"organization_id"`
	ProductId         int                  `gorm:"not null;index" json:"product_id"`
	InventoryLotId    int                  `gorm:"not null;index" json:"inventory_lot_id"`
	Threshold         decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"threshold"`
	OriginalQuantity  decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"original_quantity"`
	CorrectedQuantity decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"corrected_quantity"`
	Status            UnitCorrectionStatus `gorm:"type:enum('PENDING','CONFIRMED','REJECTED');not null;default:'PENDING';index" json:"status"`
	ReviewedBy        *string              `gorm:"size:100" json:"reviewed_by"`
	ReviewedAt        *time.Time           `json:"reviewed_at"`
	MovementId        *int                 `json:"movement_id"`
	CreatedAt         time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}
