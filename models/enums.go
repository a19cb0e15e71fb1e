package models

import (
	"strings"
)

type MetalType string

const (
	MetalTypeGold      MetalType = "AU"
	MetalTypeSilver    MetalType = "AG"
	MetalTypeRhodium   MetalType = "RH"
	MetalTypePlatinum  MetalType = "PT"
	MetalTypePalladium MetalType = "PD"
)

func (t MetalType) IsValid() bool {
	switch t {
	case MetalTypeGold, MetalTypeSilver, MetalTypeRhodium, MetalTypePlatinum, MetalTypePalladium:
		return true
	}
	return false
}

// ParseMetalType accepts the symbol in any case.
func ParseMetalType(s string) (MetalType, bool) {
	t := MetalType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.IsValid()
}

type ProductUnit string

const (
	ProductUnitGrams     ProductUnit = "GRAMS"
	ProductUnitKilograms ProductUnit = "KILOGRAMS"
	ProductUnitUnit      ProductUnit = "UNIT"
)

func (u ProductUnit) IsValid() bool {
	switch u {
	case ProductUnitGrams, ProductUnitKilograms, ProductUnitUnit:
		return true
	}
	return false
}

// IsMass reports whether quantities in this unit are stored as grams.
func (u ProductUnit) IsMass() bool {
	return u == ProductUnitGrams || u == ProductUnitKilograms
}

type LotSourceType string

const (
	LotSourceTypePurchase   LotSourceType = "PURCHASE"
	LotSourceTypeProduction LotSourceType = "PRODUCTION"
	LotSourceTypeAdjustment LotSourceType = "ADJUSTMENT"
)

func (t LotSourceType) IsValid() bool {
	switch t {
	case LotSourceTypePurchase, LotSourceTypeProduction, LotSourceTypeAdjustment:
		return true
	}
	return false
}

type StockMovementType string

const (
	StockMovementTypeReceipt    StockMovementType = "RECEIPT"
	StockMovementTypeAllocation StockMovementType = "ALLOCATION"
	StockMovementTypeAdjustment StockMovementType = "ADJUSTMENT"
	StockMovementTypeReversal   StockMovementType = "REVERSAL"
)

func (t StockMovementType) IsValid() bool {
	switch t {
	case StockMovementTypeReceipt, StockMovementTypeAllocation, StockMovementTypeAdjustment, StockMovementTypeReversal:
		return true
	}
	return false
}

type PureMetalLotSourceType string

const (
	PureMetalLotSourceTypeRecovery         PureMetalLotSourceType = "RECOVERY"
	PureMetalLotSourceTypeSalePayment      PureMetalLotSourceType = "SALE_PAYMENT"
	PureMetalLotSourceTypeProduction       PureMetalLotSourceType = "PRODUCTION"
	PureMetalLotSourceTypeCreditSettlement PureMetalLotSourceType = "CREDIT_SETTLEMENT"
	PureMetalLotSourceTypeAdjustment       PureMetalLotSourceType = "ADJUSTMENT"
)

func (t PureMetalLotSourceType) IsValid() bool {
	switch t {
	case PureMetalLotSourceTypeRecovery, PureMetalLotSourceTypeSalePayment, PureMetalLotSourceTypeProduction,
		PureMetalLotSourceTypeCreditSettlement, PureMetalLotSourceTypeAdjustment:
		return true
	}
	return false
}

type PureMetalLotStatus string

const (
	PureMetalLotStatusAvailable     PureMetalLotStatus = "AVAILABLE"
	PureMetalLotStatusPartiallyUsed PureMetalLotStatus = "PARTIALLY_USED"
	PureMetalLotStatusUsed          PureMetalLotStatus = "USED"
)

type PureMetalMovementType string

const (
	PureMetalMovementTypeEntry      PureMetalMovementType = "ENTRY"
	PureMetalMovementTypeExit       PureMetalMovementType = "EXIT"
	PureMetalMovementTypeAdjustment PureMetalMovementType = "ADJUSTMENT"
)

type SettlementStatus string

const (
	SettlementStatusPending       SettlementStatus = "PENDING"
	SettlementStatusPartiallyPaid SettlementStatus = "PARTIALLY_PAID"
	SettlementStatusPaid          SettlementStatus = "PAID"
	SettlementStatusCancelled     SettlementStatus = "CANCELLED"
)

func (s SettlementStatus) IsValid() bool {
	switch s {
	case SettlementStatusPending, SettlementStatusPartiallyPaid, SettlementStatusPaid, SettlementStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo encodes pending -> partially-paid -> paid and pending -> cancelled.
// Reversal transitions are handled separately by the settlement engine.
func (s SettlementStatus) CanTransitionTo(next SettlementStatus) bool {
	switch s {
	case SettlementStatusPending:
		return next == SettlementStatusPartiallyPaid || next == SettlementStatusPaid || next == SettlementStatusCancelled
	case SettlementStatusPartiallyPaid:
		return next == SettlementStatusPartiallyPaid || next == SettlementStatusPaid
	}
	return false
}

type AllocationStrategy string

const (
	AllocationStrategyFIFO   AllocationStrategy = "FIFO"
	AllocationStrategyPinned AllocationStrategy = "PINNED"
)

type ObligationKind string

const (
	ObligationKindReceivable ObligationKind = "RECEIVABLE"
	ObligationKindCredit     ObligationKind = "CREDIT"
)

func (k ObligationKind) IsValid() bool {
	return k == ObligationKindReceivable || k == ObligationKindCredit
}

// ParseObligationKind maps the URL segment ("receivables", "credits") or the enum value.
func ParseObligationKind(s string) (ObligationKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "receivables", "receivable":
		return ObligationKindReceivable, true
	case "credits", "credit":
		return ObligationKindCredit, true
	}
	return "", false
}

type SettlementMethod string

const (
	SettlementMethodMetal    SettlementMethod = "METAL"
	SettlementMethodCurrency SettlementMethod = "CURRENCY"
)

type UnitCorrectionStatus string

const (
	UnitCorrectionStatusPending   UnitCorrectionStatus = "PENDING"
	UnitCorrectionStatusConfirmed UnitCorrectionStatus = "CONFIRMED"
	UnitCorrectionStatusRejected  UnitCorrectionStatus = "REJECTED"
)
