package workflow

import (
	"testing"

	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUnitCorrections(f *fixture) *UnitCorrectionWorkflow {
	w := NewUnitCorrectionWorkflow(f.store, f.logger)
	w.Clock = clockAt(testNow)
	return w
}

func TestUnitCorrectionSuggestAndConfirm(t *testing.T) {
	f := newFixture()
	w := newUnitCorrections(f)
	p := f.product(t, models.ProductUnitGrams)
	small := f.lot(t, p.ID, "2", "2024-01-01")
	f.lot(t, p.ID, "5000", "2024-01-02")
	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("1"), DocumentRef: "SALE-1"})
	require.NoError(t, err)

	suggested, err := w.Suggest(f.ctx, p.ID, dec("10"))
	require.NoError(t, err)
	require.Len(t, suggested, 1)
	assert.Equal(t, small.ID, suggested[0].InventoryLotId)
	assert.Equal(t, models.UnitCorrectionStatusPending, suggested[0].Status)
	requireDecimal(t, "2000", suggested[0].CorrectedQuantity)
	// suggestions change nothing
	requireDecimal(t, "1", f.remaining(t, small.ID))

	again, err := w.Suggest(f.ctx, p.ID, dec("10"))
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = w.Confirm(f.ctx, suggested[0].ID, "  ")
	require.ErrorIs(t, err, models.ErrValidation)

	confirmed, err := w.Confirm(f.ctx, suggested[0].ID, "auditor")
	require.NoError(t, err)
	assert.Equal(t, models.UnitCorrectionStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.MovementId)
	require.NotNil(t, confirmed.ReviewedBy)
	assert.Equal(t, "auditor", *confirmed.ReviewedBy)

	lot, err := f.lots.GetLot(f.ctx, small.ID)
	require.NoError(t, err)
	requireDecimal(t, "2000", lot.Quantity)
	requireDecimal(t, "1999", lot.RemainingQuantity)
	require.NoError(t, f.ledger.VerifyLot(f.ctx, small.ID))
	requireDecimal(t, "6999", f.stock(t, p.ID))

	outbox := f.store.Outbox(f.ctx)
	assert.Equal(t, models.OutboxActionUnitCorrectionConfirmed, outbox[len(outbox)-1].Action)

	_, err = w.Confirm(f.ctx, suggested[0].ID, "auditor")
	require.ErrorIs(t, err, models.ErrInvalidStatusTransition)
	_, err = w.Reject(f.ctx, suggested[0].ID, "auditor")
	require.ErrorIs(t, err, models.ErrInvalidStatusTransition)
}

func TestUnitCorrectionReject(t *testing.T) {
	f := newFixture()
	w := newUnitCorrections(f)
	p := f.product(t, models.ProductUnitGrams)
	small := f.lot(t, p.ID, "3", "2024-01-01")

	suggested, err := w.Suggest(f.ctx, p.ID, dec("10"))
	require.NoError(t, err)
	require.Len(t, suggested, 1)

	rejected, err := w.Reject(f.ctx, suggested[0].ID, "auditor")
	require.NoError(t, err)
	assert.Equal(t, models.UnitCorrectionStatusRejected, rejected.Status)
	requireDecimal(t, "3", f.remaining(t, small.ID))

	list, err := w.List(f.ctx, p.ID, models.UnitCorrectionStatusRejected)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = w.List(f.ctx, p.ID, models.UnitCorrectionStatusPending)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUnitCorrectionRejections(t *testing.T) {
	f := newFixture()
	w := newUnitCorrections(f)
	units := f.product(t, models.ProductUnitUnit)
	grams := f.product(t, models.ProductUnitGrams)

	_, err := w.Suggest(f.ctx, units.ID, dec("10"))
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = w.Suggest(f.ctx, grams.ID, dec("0"))
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = w.Confirm(f.ctx, 999, "auditor")
	require.ErrorIs(t, err, models.ErrNotFound)
}
