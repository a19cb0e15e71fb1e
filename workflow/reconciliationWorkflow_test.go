package workflow

import (
	"testing"
	"time"

	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciliationReportsAndRepairsDrift(t *testing.T) {
	f := newFixture()
	p := f.product(t, models.ProductUnitGrams)
	lot := f.lot(t, p.ID, "1000", "2024-01-01")
	f.pureLot(t, models.MetalTypeGold, "25", "2024-01-01")
	_, err := f.allocation.Allocate(f.ctx, AllocationRequest{ProductId: p.ID, QuantityNeeded: dec("200"), DocumentRef: "SALE-1"})
	require.NoError(t, err)

	f.store.CorruptLotBalance(lot.ID, dec("750"))
	f.store.CorruptProductStock(p.ID, dec("999"))

	w := NewReconciliationWorker(f.store, f.logger)
	w.Clock = clockAt(testNow)
	w.RepairLots = false

	summary, err := w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProductsChecked)
	assert.Equal(t, 1, summary.LotsChecked)
	assert.Equal(t, 1, summary.PureMetalLotsChecked)
	require.Len(t, summary.Findings, 2)

	lotFinding := summary.Findings[0]
	assert.Equal(t, models.ReconciliationCheckLotReplay, lotFinding.CheckType)
	assert.Equal(t, lot.ID, lotFinding.EntityId)
	assert.False(t, lotFinding.Repaired)
	requireDecimal(t, "800", lotFinding.LedgerBalance)

	stockFinding := summary.Findings[1]
	assert.Equal(t, models.ReconciliationCheckProductStock, stockFinding.CheckType)
	assert.True(t, stockFinding.Repaired)
	requireDecimal(t, "800", f.stock(t, p.ID))
	// lot repair is opt-in
	requireDecimal(t, "750", f.remaining(t, lot.ID))

	w.RepairLots = true
	summary, err = w.RunOnce(f.ctx)
	require.NoError(t, err)
	require.Len(t, summary.Findings, 1)
	assert.True(t, summary.Findings[0].Repaired)
	requireDecimal(t, "800", f.remaining(t, lot.ID))
	require.NoError(t, f.ledger.VerifyLot(f.ctx, lot.ID))

	summary, err = w.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Findings)

	reports, err := f.store.ListReconciliationReports(f.ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, reports, 3)
}

func TestReconciliationRequiresOrganization(t *testing.T) {
	f := newFixture()
	w := NewReconciliationWorker(f.store, f.logger)
	_, err := w.RunOnce(t.Context())
	require.ErrorIs(t, err, models.ErrValidation)
}
