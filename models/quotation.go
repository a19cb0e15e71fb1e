package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quotation is the buy/sell price per gram of a metal on a date. One row per (organization, metal, date).
type Quotation struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"size:64;not null;uniqueIndex:uniq_quotation,priority:1" json:"organization_id"`
	MetalType      MetalType       `gorm:"type:enum('AU','AG','RH','PT','PD');not null;uniqueIndex:uniq_quotation,priority:2" json:"metal_type"`
	QuotationDate  time.Time       `gorm:"type:date;not null;uniqueIndex:uniq_quotation,priority:3" json:"quotation_date"`
	BuyPrice       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"buy_price"`
	SellPrice      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"sell_price"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewQuotation struct {
	MetalType     MetalType       `json:"metal_type" validate:"required,oneof=AU AG RH PT PD"`
	QuotationDate time.Time       `json:"quotation_date" validate:"required"`
	BuyPrice      decimal.Decimal `json:"buy_price"`
	SellPrice     decimal.Decimal `json:"sell_price"`
}
