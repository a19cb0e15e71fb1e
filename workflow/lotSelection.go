package workflow

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
)

// LotView is the part of a product lot or a pure metal lot a selector needs.
type LotView struct {
	LotId        int
	BatchNumber  string
	ReceivedDate time.Time
	Remaining    decimal.Decimal
}

// Draw is one step of an allocation plan.
type Draw struct {
	LotId    int
	Quantity decimal.Decimal
}

// LotSelector turns a needed quantity into a plan over candidate lots.
// FIFO and pinned allocation share the engine and differ only here.
type LotSelector interface {
	// Candidates lists the lot ids the plan may touch. Nil means every available lot, oldest first.
	Candidates() []int
	Plan(needed decimal.Decimal, lots []LotView) ([]Draw, error)
}

type FIFOSelector struct{}

func (FIFOSelector) Candidates() []int { return nil }

// Plan expects lots ordered by received date, ties by insertion sequence. Quantities are at
// QuantityPlaces, so the draws sum to needed exactly.
func (FIFOSelector) Plan(needed decimal.Decimal, lots []LotView) ([]Draw, error) {
	needed = utils.RoundQty(needed)
	if !needed.IsPositive() {
		return nil, fmt.Errorf("%w: quantity needed must be positive", models.ErrValidation)
	}
	still := needed
	draws := make([]Draw, 0, 2)
	for _, lot := range lots {
		if !still.IsPositive() {
			break
		}
		if !lot.Remaining.IsPositive() {
			continue
		}
		drawn := utils.MinDecimal(lot.Remaining, still)
		draws = append(draws, Draw{LotId: lot.LotId, Quantity: drawn})
		still = still.Sub(drawn)
	}
	if still.IsPositive() {
		available := needed.Sub(still)
		return nil, fmt.Errorf("%w: needed %s, available %s", models.ErrInsufficientStock,
			needed.StringFixed(utils.QuantityPlaces), available.StringFixed(utils.QuantityPlaces))
	}
	return draws, nil
}

// PinnedSelector replays a caller-chosen plan in the given order.
type PinnedSelector struct {
	Pins []PinnedLot
}

func (s PinnedSelector) Candidates() []int {
	ids := make([]int, 0, len(s.Pins))
	for _, p := range s.Pins {
		ids = append(ids, p.LotId)
	}
	return ids
}

// check validates the pins on their own, before any lot is read.
func (s PinnedSelector) check(needed decimal.Decimal) error {
	if len(s.Pins) == 0 {
		return fmt.Errorf("%w: pinned allocation needs at least one lot", models.ErrValidation)
	}
	seen := make(map[int]struct{}, len(s.Pins))
	total := decimal.Zero
	for _, p := range s.Pins {
		if p.LotId <= 0 || !utils.RoundQty(p.Quantity).IsPositive() {
			return fmt.Errorf("%w: pinned lot %d needs a positive quantity", models.ErrValidation, p.LotId)
		}
		if _, dup := seen[p.LotId]; dup {
			return fmt.Errorf("%w: lot %d pinned twice", models.ErrValidation, p.LotId)
		}
		seen[p.LotId] = struct{}{}
		total = total.Add(utils.RoundQty(p.Quantity))
	}
	if !utils.ApproxEqual(total, needed) {
		return fmt.Errorf("%w: pinned total %s, needed %s", models.ErrAllocationMismatch,
			total.StringFixed(utils.QuantityPlaces), needed.StringFixed(utils.QuantityPlaces))
	}
	return nil
}

func (s PinnedSelector) Plan(needed decimal.Decimal, lots []LotView) ([]Draw, error) {
	if err := s.check(needed); err != nil {
		return nil, err
	}
	byId := make(map[int]LotView, len(lots))
	for _, l := range lots {
		byId[l.LotId] = l
	}
	draws := make([]Draw, 0, len(s.Pins))
	for _, p := range s.Pins {
		lot, ok := byId[p.LotId]
		if !ok {
			return nil, fmt.Errorf("%w: lot %d", models.ErrNotFound, p.LotId)
		}
		qty := utils.RoundQty(p.Quantity)
		if qty.GreaterThan(lot.Remaining) {
			return nil, fmt.Errorf("%w: lot %d has %s, pinned %s", models.ErrInsufficientStock, lot.LotId,
				lot.Remaining.StringFixed(utils.QuantityPlaces), qty.StringFixed(utils.QuantityPlaces))
		}
		draws = append(draws, Draw{LotId: lot.LotId, Quantity: qty})
	}
	if drawn := sumDraws(draws); !utils.ApproxEqual(drawn, needed) {
		return nil, fmt.Errorf("%w: pinned plan draws %s, needed %s", models.ErrAllocationMismatch,
			drawn.StringFixed(utils.QuantityPlaces), needed.StringFixed(utils.QuantityPlaces))
	}
	return draws, nil
}

func selectorFor(strategy models.AllocationStrategy, pins []PinnedLot) (LotSelector, error) {
	switch {
	case strategy == models.AllocationStrategyPinned || (strategy == "" && len(pins) > 0):
		return PinnedSelector{Pins: pins}, nil
	case strategy == models.AllocationStrategyFIFO || strategy == "":
		if len(pins) > 0 {
			return nil, fmt.Errorf("%w: pinned lots given with FIFO strategy", models.ErrValidation)
		}
		return FIFOSelector{}, nil
	}
	return nil, fmt.Errorf("%w: allocation strategy %q", models.ErrValidation, strategy)
}

func inventoryLotViews(lots []models.InventoryLot) []LotView {
	out := make([]LotView, 0, len(lots))
	for _, l := range lots {
		out = append(out, LotView{LotId: l.ID, BatchNumber: l.BatchNumber, ReceivedDate: l.ReceivedDate, Remaining: l.RemainingQuantity})
	}
	return out
}

func pureMetalLotViews(lots []models.PureMetalLot) []LotView {
	out := make([]LotView, 0, len(lots))
	for _, l := range lots {
		out = append(out, LotView{LotId: l.ID, ReceivedDate: l.EntryDate, Remaining: l.RemainingGrams})
	}
	return out
}

func sumDraws(draws []Draw) decimal.Decimal {
	total := decimal.Zero
	for _, d := range draws {
		total = total.Add(d.Quantity)
	}
	return total
}
