package workflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateFIFOSpansLotsOldestFirst(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	// created out of date order on purpose
	lotB := f.lot(t, p.ID, "500", "2024-01-10")
	lotA := f.lot(t, p.ID, "1000", "2024-01-01")

	res, err := f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("1200"),
		DocumentRef:    "SALE-1",
	})
	require.NoError(t, err)
	require.True(t, res.Committed)
	assert.Equal(t, models.AllocationStrategyFIFO, res.Strategy)
	requireDecimal(t, "1200", res.Total)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, lotA.ID, res.Allocations[0].LotId)
	requireDecimal(t, "1000", res.Allocations[0].Quantity)
	assert.Equal(t, lotB.ID, res.Allocations[1].LotId)
	requireDecimal(t, "200", res.Allocations[1].Quantity)
	for _, a := range res.Allocations {
		assert.NotZero(t, a.MovementId)
	}

	requireDecimal(t, "0", f.remaining(t, lotA.ID))
	requireDecimal(t, "300", f.remaining(t, lotB.ID))
	requireDecimal(t, "300", f.stock(t, p.ID))
	require.NoError(t, f.ledger.VerifyLot(f.ctx, lotA.ID))
	require.NoError(t, f.ledger.VerifyLot(f.ctx, lotB.ID))

	outbox := f.store.Outbox(f.ctx)
	require.Len(t, outbox, 1)
	assert.Equal(t, models.OutboxActionAllocationCommitted, outbox[0].Action)
	assert.Equal(t, p.ID, outbox[0].ReferenceId)
}

func TestAllocateInsufficientStockLeavesLotsUntouched(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lotA := f.lot(t, p.ID, "2500", "2024-01-01")
	lotB := f.lot(t, p.ID, "1500", "2024-01-02")

	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("5000"),
		DocumentRef:    "SALE-2",
	})
	require.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "needed 5000.0000, available 4000.0000")
	assert.Equal(t, "insufficient_stock", models.ErrorKind(err))

	requireDecimal(t, "2500", f.remaining(t, lotA.ID))
	requireDecimal(t, "1500", f.remaining(t, lotB.ID))
	requireDecimal(t, "4000", f.stock(t, p.ID))
	history, err := f.ledger.History(f.ctx, models.StockMovementFilter{ProductId: p.ID})
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Empty(t, f.store.Outbox(f.ctx))
}

func TestAllocateHonorsAsOf(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	f.lot(t, p.ID, "1000", "2024-01-01")
	f.lot(t, p.ID, "500", "2024-01-10")

	asOf := day("2024-01-05")
	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("1200"),
		DocumentRef:    "SALE-3",
		AsOf:           &asOf,
	})
	require.ErrorIs(t, err, models.ErrInsufficientStock)
}

func TestPreviewWritesNothing(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lotA := f.lot(t, p.ID, "1000", "2024-01-01")
	f.lot(t, p.ID, "500", "2024-01-10")

	preview, err := f.allocation.Preview(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("1200"),
		DocumentRef:    "SALE-4",
	})
	require.NoError(t, err)
	assert.False(t, preview.Committed)
	require.Len(t, preview.Allocations, 2)
	assert.Zero(t, preview.Allocations[0].MovementId)
	requireDecimal(t, "1000", f.remaining(t, lotA.ID))

	committed, err := f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("1200"),
		DocumentRef:    "SALE-4",
	})
	require.NoError(t, err)
	for i := range preview.Allocations {
		assert.Equal(t, preview.Allocations[i].LotId, committed.Allocations[i].LotId)
		assert.True(t, preview.Allocations[i].Quantity.Equal(committed.Allocations[i].Quantity))
	}
}

func TestAllocatePinned(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lotA := f.lot(t, p.ID, "1000", "2024-01-01")
	lotB := f.lot(t, p.ID, "500", "2024-01-10")

	res, err := f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("500"),
		Strategy:       models.AllocationStrategyPinned,
		Pinned:         []PinnedLot{{LotId: lotB.ID, Quantity: dec("300")}, {LotId: lotA.ID, Quantity: dec("200")}},
		DocumentRef:    "SALE-5",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AllocationStrategyPinned, res.Strategy)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, lotB.ID, res.Allocations[0].LotId)
	assert.Equal(t, lotA.ID, res.Allocations[1].LotId)
	requireDecimal(t, "800", f.remaining(t, lotA.ID))
	requireDecimal(t, "200", f.remaining(t, lotB.ID))
}

func TestAllocatePinnedRejections(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	other := f.product(t, models.ProductUnitGrams)
	lotA := f.lot(t, p.ID, "1000", "2024-01-01")
	lotB := f.lot(t, p.ID, "500", "2024-01-10")
	foreign := f.lot(t, other.ID, "100", "2024-01-01")

	cases := []struct {
		name    string
		req     AllocationRequest
		wantErr error
	}{
		{
			name: "sum mismatch",
			req: AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("500"), DocumentRef: "X",
				Pinned: []PinnedLot{{LotId: lotA.ID, Quantity: dec("200")}, {LotId: lotB.ID, Quantity: dec("200")}}},
			wantErr: models.ErrAllocationMismatch,
		},
		{
			name: "duplicate lot",
			req: AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("400"), DocumentRef: "X",
				Pinned: []PinnedLot{{LotId: lotA.ID, Quantity: dec("200")}, {LotId: lotA.ID, Quantity: dec("200")}}},
			wantErr: models.ErrValidation,
		},
		{
			name: "non-positive quantity",
			req: AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("400"), DocumentRef: "X",
				Pinned: []PinnedLot{{LotId: lotA.ID, Quantity: dec("400")}, {LotId: lotB.ID, Quantity: dec("0")}}},
			wantErr: models.ErrValidation,
		},
		{
			name: "pins with FIFO strategy",
			req: AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("100"), DocumentRef: "X", Strategy: models.AllocationStrategyFIFO,
				Pinned: []PinnedLot{{LotId: lotA.ID, Quantity: dec("100")}}},
			wantErr: models.ErrValidation,
		},
		{
			name: "pin above lot remaining",
			req: AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("600"), DocumentRef: "X",
				Pinned: []PinnedLot{{LotId: lotB.ID, Quantity: dec("600")}}},
			wantErr: models.ErrInsufficientStock,
		},
		{
			name: "lot of another product",
			req: AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("50"), DocumentRef: "X",
				Pinned: []PinnedLot{{LotId: foreign.ID, Quantity: dec("50")}}},
			wantErr: models.ErrValidation,
		},
		{
			name:    "missing document reference",
			req:     AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("50")},
			wantErr: models.ErrValidation,
		},
		{
			name:    "non-positive quantity needed",
			req:     AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("-5"), DocumentRef: "X"},
			wantErr: models.ErrValidation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.allocation.Allocate(f.ctx, tc.req)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
	requireDecimal(t, "1000", f.remaining(t, lotA.ID))
	requireDecimal(t, "500", f.remaining(t, lotB.ID))
	requireDecimal(t, "100", f.remaining(t, foreign.ID))
}

func TestAllocateRetriesConflictsThenGivesUp(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lot := f.lot(t, p.ID, "1000", "2024-01-01")
	f.allocation.Retry = RetryPolicy{MaxTries: 3}

	f.store.InjectConflicts(3)
	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("100"), DocumentRef: "SALE-6"})
	require.ErrorIs(t, err, models.ErrTransientFailure)
	require.ErrorIs(t, err, models.ErrConcurrencyConflict)
	assert.Equal(t, "transient_failure", models.ErrorKind(err))
	requireDecimal(t, "1000", f.remaining(t, lot.ID))

	f.store.InjectConflicts(2)
	res, err := f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("100"), DocumentRef: "SALE-6"})
	require.NoError(t, err)
	requireDecimal(t, "100", res.Total)
	requireDecimal(t, "900", f.remaining(t, lot.ID))
}

func TestAllocateRollsBackOnMidwayFailure(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lotA := f.lot(t, p.ID, "1000", "2024-01-01")
	lotB := f.lot(t, p.ID, "500", "2024-01-10")

	boom := errors.New("disk full")
	f.store.FailOn("AppendStockMovement", 1, boom)
	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("1200"), DocumentRef: "SALE-7"})
	require.ErrorIs(t, err, boom)

	requireDecimal(t, "1000", f.remaining(t, lotA.ID))
	requireDecimal(t, "500", f.remaining(t, lotB.ID))
	requireDecimal(t, "1500", f.stock(t, p.ID))
	history, err := f.ledger.History(f.ctx, models.StockMovementFilter{DocumentRef: "SALE-7"})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestConcurrentAllocationsNeverOverdraw(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lotA := f.lot(t, p.ID, "600", "2024-01-01")
	lotB := f.lot(t, p.ID, "400", "2024-01-02")

	var wg sync.WaitGroup
	errs := make([]error, 12)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.allocation.Allocate(f.ctx, AllocationRequest{
				ProductId:      p.ID,
				QuantityNeeded: dec("100"),
				DocumentRef:    "CONCURRENT",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, models.ErrInsufficientStock)
	}
	assert.Equal(t, 10, succeeded)
	requireDecimal(t, "0", f.remaining(t, lotA.ID))
	requireDecimal(t, "0", f.remaining(t, lotB.ID))
	requireDecimal(t, "0", f.stock(t, p.ID))
}

func TestReverseAllocationRestoresLots(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lotA := f.lot(t, p.ID, "1000", "2024-01-01")
	lotB := f.lot(t, p.ID, "500", "2024-01-10")
	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("1200"), DocumentRef: "SALE-8"})
	require.NoError(t, err)

	rev, err := f.allocation.ReverseAllocation(f.ctx, "SALE-8", "")
	require.NoError(t, err)
	assert.Equal(t, "REV:SALE-8", rev.ReversalRef)
	require.Len(t, rev.Lots, 2)
	requireDecimal(t, "1000", f.remaining(t, lotA.ID))
	requireDecimal(t, "500", f.remaining(t, lotB.ID))
	requireDecimal(t, "1500", f.stock(t, p.ID))

	reversals, err := f.ledger.History(f.ctx, models.StockMovementFilter{DocumentRef: "REV:SALE-8"})
	require.NoError(t, err)
	require.Len(t, reversals, 2)
	for _, m := range reversals {
		assert.Equal(t, models.StockMovementTypeReversal, m.MovementType)
		assert.Equal(t, ReversalReasonAllocation, m.Note)
		require.NotNil(t, m.CompensatesMovementId)
	}

	_, err = f.allocation.ReverseAllocation(f.ctx, "SALE-8", "")
	require.ErrorIs(t, err, models.ErrAlreadyReversed)
	_, err = f.allocation.ReverseAllocation(f.ctx, "NO-SUCH-DOC", "")
	require.ErrorIs(t, err, models.ErrNotFound)

	actions := []string{}
	for _, rec := range f.store.Outbox(f.ctx) {
		actions = append(actions, rec.Action)
	}
	assert.Equal(t, []string{models.OutboxActionAllocationCommitted, models.OutboxActionAllocationReversed}, actions)
}

func TestAllocatePureMetalAndReverse(t *testing.T) {
	f := newFixture()
	first := f.pureLot(t, models.MetalTypeGold, "50", "2024-01-01")
	second := f.pureLot(t, models.MetalTypeGold, "30", "2024-01-02")
	f.pureLot(t, models.MetalTypeSilver, "500", "2023-12-01")

	res, err := f.allocation.AllocatePureMetal(f.ctx, PureMetalAllocationRequest{
		MetalType:   models.MetalTypeGold,
		Grams:       dec("60"),
		DocumentRef: "MELT-1",
	})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, first.ID, res.Allocations[0].LotId)
	requireDecimal(t, "50", res.Allocations[0].Quantity)
	assert.Equal(t, second.ID, res.Allocations[1].LotId)
	requireDecimal(t, "10", res.Allocations[1].Quantity)

	got, err := f.lots.GetPureMetalLot(f.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PureMetalLotStatusUsed, got.Status)
	got, err = f.lots.GetPureMetalLot(f.ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PureMetalLotStatusPartiallyUsed, got.Status)
	requireDecimal(t, "20", got.RemainingGrams)

	_, err = f.allocation.AllocatePureMetal(f.ctx, PureMetalAllocationRequest{MetalType: models.MetalTypeGold, Grams: dec("21"), DocumentRef: "MELT-2"})
	require.ErrorIs(t, err, models.ErrInsufficientStock)

	rev, err := f.allocation.ReverseAllocation(f.ctx, "MELT-1", "")
	require.NoError(t, err)
	require.Len(t, rev.PureMetalLots, 2)
	for _, id := range []int{first.ID, second.ID} {
		lot, err := f.lots.GetPureMetalLot(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PureMetalLotStatusAvailable, lot.Status)
		assert.True(t, lot.RemainingGrams.Equal(lot.InitialGrams))
		require.NoError(t, f.ledger.VerifyPureMetalLot(f.ctx, id))
	}
}

func TestAllocateRequiresOrganization(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	f.lot(t, p.ID, "10", "2024-01-01")

	_, err := f.allocation.Allocate(t.Context(), AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("1"), DocumentRef: "X"})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestAllocateNeverDrawsFromLotsReceivedLater(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lotA := f.lot(t, p.ID, "100", "2024-01-01")
	lotB := f.lot(t, p.ID, "500", "2024-01-10")

	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("200"),
		DocumentRef:    "SALE-BACKDATED",
		MovementDate:   day("2024-01-05"),
	})
	require.ErrorIs(t, err, models.ErrInsufficientStock)

	// a later as-of cannot widen the cutoff past the movement date
	asOf := day("2024-01-20")
	_, err = f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("200"),
		DocumentRef:    "SALE-BACKDATED",
		MovementDate:   day("2024-01-05"),
		AsOf:           &asOf,
	})
	require.ErrorIs(t, err, models.ErrInsufficientStock)

	_, err = f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("50"),
		Pinned:         []PinnedLot{{LotId: lotB.ID, Quantity: dec("50")}},
		DocumentRef:    "SALE-BACKDATED",
		MovementDate:   day("2024-01-05"),
	})
	require.ErrorIs(t, err, models.ErrValidation)

	res, err := f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("80"),
		DocumentRef:    "SALE-BACKDATED",
		MovementDate:   day("2024-01-05"),
	})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	assert.Equal(t, lotA.ID, res.Allocations[0].LotId)
	requireDecimal(t, "500", f.remaining(t, lotB.ID))

	for _, asOf := range []string{"2024-01-05", "2024-01-06", "2024-01-10", "2024-02-01"} {
		a, err := f.ledger.ReconstructBalance(f.ctx, BalanceScope{LotId: lotA.ID}, day(asOf))
		require.NoError(t, err)
		requireDecimal(t, "20", a, asOf)
		b, err := f.ledger.ReconstructBalance(f.ctx, BalanceScope{LotId: lotB.ID}, day(asOf))
		require.NoError(t, err)
		assert.False(t, b.IsNegative(), "lot B at %s: %s", asOf, b)
	}
}

func TestMovementsCannotPrecedeLotReceipt(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	future := f.lot(t, p.ID, "10", "2024-04-01")
	futureId := future.ID

	_, err := f.lots.AdjustLot(f.ctx, future.ID, dec("-1"), "count", "COUNT-1")
	require.ErrorIs(t, err, models.ErrValidation)
	err = f.ledger.Record(f.ctx, &models.StockMovement{
		ProductId:      p.ID,
		InventoryLotId: &futureId,
		MovementType:   models.StockMovementTypeAdjustment,
		Quantity:       dec("-1"),
		MovementDate:   day("2024-03-31"),
	})
	require.ErrorIs(t, err, models.ErrValidation)
	requireDecimal(t, "10", f.remaining(t, future.ID))

	gold := f.pureLot(t, models.MetalTypeGold, "30", "2024-01-10")
	_, err = f.allocation.AllocatePureMetal(f.ctx, PureMetalAllocationRequest{
		MetalType:    models.MetalTypeGold,
		Grams:        dec("5"),
		Pinned:       []PinnedLot{{LotId: gold.ID, Quantity: dec("5")}},
		DocumentRef:  "MELT-BACKDATED",
		MovementDate: day("2024-01-05"),
	})
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = f.allocation.AllocatePureMetal(f.ctx, PureMetalAllocationRequest{
		MetalType:    models.MetalTypeGold,
		Grams:        dec("5"),
		DocumentRef:  "MELT-BACKDATED",
		MovementDate: day("2024-01-05"),
	})
	require.ErrorIs(t, err, models.ErrInsufficientStock)

	got, err := f.lots.GetPureMetalLot(f.ctx, gold.ID)
	require.NoError(t, err)
	requireDecimal(t, "30", got.RemainingGrams)
}

func TestAllocatePinnedDrawsExactly(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lots := []*models.InventoryLot{
		f.lot(t, p.ID, "10", "2024-01-01"),
		f.lot(t, p.ID, "10", "2024-01-02"),
		f.lot(t, p.ID, "10", "2024-01-03"),
	}
	pins := func(qty string) []PinnedLot {
		out := make([]PinnedLot, 0, len(lots))
		for _, l := range lots {
			out = append(out, PinnedLot{LotId: l.ID, Quantity: dec(qty)})
		}
		return out
	}

	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("30.0003"),
		Pinned:         pins("10.0001"),
		DocumentRef:    "SALE-PINNED",
	})
	require.ErrorIs(t, err, models.ErrInsufficientStock)
	for _, l := range lots {
		requireDecimal(t, "10", f.remaining(t, l.ID))
	}
	assert.Empty(t, f.store.Outbox(f.ctx))

	res, err := f.allocation.Allocate(f.ctx, AllocationRequest{
		ProductId:      p.ID,
		QuantityNeeded: dec("29.9997"),
		Pinned:         pins("9.9999"),
		DocumentRef:    "SALE-PINNED",
	})
	require.NoError(t, err)
	requireDecimal(t, "29.9997", res.Total)
	for _, l := range lots {
		requireDecimal(t, "0.0001", f.remaining(t, l.ID))
	}
}

func TestAllocateFIFODrawsExactly(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	f.lot(t, p.ID, "10", "2024-01-01")
	last := f.lot(t, p.ID, "0.0001", "2024-01-02")

	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("10.0002"), DocumentRef: "SALE-FIFO"})
	require.ErrorIs(t, err, models.ErrInsufficientStock)

	res, err := f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("10.0001"), DocumentRef: "SALE-FIFO"})
	require.NoError(t, err)
	requireDecimal(t, "10.0001", res.Total)
	require.Len(t, res.Allocations, 2)
	requireDecimal(t, "0", f.remaining(t, last.ID))
}

func TestLotMovementsStayInDayOrder(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lot := f.lot(t, p.ID, "10", "2024-01-01")

	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("10"), DocumentRef: "SALE-20", MovementDate: day("2024-01-20")})
	require.NoError(t, err)
	_, err = f.allocation.ReverseAllocation(f.ctx, "SALE-20", "")
	require.NoError(t, err)

	// the stock drawn on the 20th was not there to draw on the 10th
	_, err = f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("10"), DocumentRef: "SALE-10", MovementDate: day("2024-01-10")})
	require.ErrorIs(t, err, models.ErrValidation)
	requireDecimal(t, "10", f.remaining(t, lot.ID))
	for _, asOf := range []string{"2024-01-10", "2024-01-20"} {
		got, err := f.ledger.ReconstructBalance(f.ctx, BalanceScope{LotId: lot.ID}, day(asOf))
		require.NoError(t, err)
		assert.False(t, got.IsNegative(), asOf)
	}

	// a reversal is never dated before the movement it compensates
	_, err = f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("4"), DocumentRef: "SALE-APR", MovementDate: day("2024-04-01")})
	require.NoError(t, err)
	rev, err := f.allocation.ReverseAllocation(f.ctx, "SALE-APR", "")
	require.NoError(t, err)
	require.Len(t, rev.Lots, 1)
	history, err := f.ledger.History(f.ctx, models.StockMovementFilter{InventoryLotId: lot.ID, MovementType: models.StockMovementTypeReversal})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, day("2024-04-01").Equal(history[1].MovementDate), history[1].MovementDate)
	requireDecimal(t, "10", f.remaining(t, lot.ID))
}
