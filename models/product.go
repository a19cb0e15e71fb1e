package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product carries a cached aggregate of its movement ledger in CurrentStock.
// The ledger is authoritative; reconciliation recomputes the cache.
type Product struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"size:64;index;not null" json:"organization_id"`
	Name           string          `gorm:"size:255;not null" json:"name"`
	Unit           ProductUnit     `gorm:"type:enum('GRAMS','KILOGRAMS','UNIT');not null;default:'GRAMS'" json:"unit"`
	CurrentStock   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"current_stock"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name string      `json:"name" validate:"required,max=255"`
	Unit ProductUnit `json:"unit" validate:"required,oneof=GRAMS KILOGRAMS UNIT"`
}
