package models

import (
	"sort"
	"time"

	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
)

// BalanceAnchor is an explicit opening balance: Balance as of the end of AsOf's day.
// A zero anchor means "empty before the first movement".
type BalanceAnchor struct {
	AsOf    time.Time
	Balance decimal.Decimal
}

// ReplayBalances folds deltas onto opening and returns the running balance after each delta.
func ReplayBalances(opening decimal.Decimal, deltas []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(deltas))
	running := opening
	for i, d := range deltas {
		running = running.Add(d)
		out[i] = running
	}
	return out
}

// FoldStockMovements sums the signed quantities onto opening.
func FoldStockMovements(opening decimal.Decimal, movements []StockMovement) decimal.Decimal {
	total := opening
	for _, m := range movements {
		total = total.Add(m.Quantity)
	}
	return utils.RoundQty(total)
}

// FoldPureMetalMovements sums the signed grams onto opening.
func FoldPureMetalMovements(opening decimal.Decimal, movements []PureMetalLotMovement) decimal.Decimal {
	total := opening
	for _, m := range movements {
		total = total.Add(m.Grams)
	}
	return utils.RoundQty(total)
}

// SortStockMovements orders chronologically, ties by insertion sequence.
func SortStockMovements(movements []StockMovement) {
	sort.SliceStable(movements, func(i, j int) bool {
		if !movements[i].MovementDate.Equal(movements[j].MovementDate) {
			return movements[i].MovementDate.Before(movements[j].MovementDate)
		}
		return movements[i].ID < movements[j].ID
	})
}

func SortPureMetalMovements(movements []PureMetalLotMovement) {
	sort.SliceStable(movements, func(i, j int) bool {
		if !movements[i].MovementDate.Equal(movements[j].MovementDate) {
			return movements[i].MovementDate.Before(movements[j].MovementDate)
		}
		return movements[i].ID < movements[j].ID
	})
}

// DayAfter is the exclusive upper bound that includes every instant of t's day.
func DayAfter(t time.Time) time.Time {
	return utils.DateOnly(t).AddDate(0, 0, 1)
}
