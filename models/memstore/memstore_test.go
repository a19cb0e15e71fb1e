package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orgCtx(org string) context.Context {
	return utils.SetOrganizationIdInContext(context.Background(), org)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	ctx := orgCtx("org-a")
	p := &models.Product{OrganizationId: "org-a", Name: "Silver bar", Unit: models.ProductUnitGrams}
	require.NoError(t, s.CreateProduct(ctx, p))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx models.Store) error {
		require.NoError(t, tx.AddProductStock(ctx, p.ID, decimal.NewFromInt(5)))
		require.NoError(t, tx.CreateInventoryLot(ctx, &models.InventoryLot{OrganizationId: "org-a", ProductId: p.ID, Quantity: decimal.NewFromInt(5), RemainingQuantity: decimal.NewFromInt(5)}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetProduct(ctx, p.ID, false)
	require.NoError(t, err)
	assert.True(t, got.CurrentStock.IsZero())
	lots, err := s.ListLotsByProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, lots)
}

func TestReadsAreScopedToOrganization(t *testing.T) {
	s := New()
	a, b := orgCtx("org-a"), orgCtx("org-b")
	p := &models.Product{OrganizationId: "org-a", Name: "Gold", Unit: models.ProductUnitGrams}
	require.NoError(t, s.CreateProduct(a, p))

	_, err := s.GetProduct(b, p.ID, false)
	require.ErrorIs(t, err, models.ErrNotFound)
	products, err := s.ListProducts(b)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestSaveLotBalanceChecksVersion(t *testing.T) {
	s := New()
	ctx := orgCtx("org-a")
	lot := &models.InventoryLot{OrganizationId: "org-a", ProductId: 1, Quantity: decimal.NewFromInt(10), RemainingQuantity: decimal.NewFromInt(10)}
	require.NoError(t, s.CreateInventoryLot(ctx, lot))

	first, err := s.GetInventoryLot(ctx, lot.ID, true)
	require.NoError(t, err)
	stale, err := s.GetInventoryLot(ctx, lot.ID, true)
	require.NoError(t, err)

	first.RemainingQuantity = decimal.NewFromInt(8)
	require.NoError(t, s.SaveLotBalance(ctx, first))
	stale.RemainingQuantity = decimal.NewFromInt(9)
	require.ErrorIs(t, s.SaveLotBalance(ctx, stale), models.ErrConcurrencyConflict)

	s.InjectConflicts(1)
	require.ErrorIs(t, s.SaveLotBalance(ctx, first), models.ErrConcurrencyConflict)
	require.NoError(t, s.SaveLotBalance(ctx, first))
}

func TestCompensationIsUnique(t *testing.T) {
	s := New()
	ctx := orgCtx("org-a")
	original := &models.StockMovement{OrganizationId: "org-a", ProductId: 1, MovementType: models.StockMovementTypeAllocation, Quantity: decimal.NewFromInt(-1)}
	require.NoError(t, s.AppendStockMovement(ctx, original))

	id := original.ID
	rev := func() *models.StockMovement {
		return &models.StockMovement{OrganizationId: "org-a", ProductId: 1, MovementType: models.StockMovementTypeReversal, Quantity: decimal.NewFromInt(1), CompensatesMovementId: &id}
	}
	require.NoError(t, s.AppendStockMovement(ctx, rev()))
	require.ErrorIs(t, s.AppendStockMovement(ctx, rev()), models.ErrAlreadyReversed)
}

func TestListOutboxNewestFirst(t *testing.T) {
	s := New()
	a, b := orgCtx("org-a"), orgCtx("org-b")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec, err := models.NewOutboxRecord(a, "org-a", now, models.OutboxReferenceAllocation, i+1, models.OutboxActionAllocationCommitted, map[string]int{"i": i})
		require.NoError(t, err)
		require.NoError(t, s.EnqueueOutbox(a, rec))
	}
	rec, err := models.NewOutboxRecord(b, "org-b", now, models.OutboxReferenceLot, 9, models.OutboxActionUnitCorrectionConfirmed, nil)
	require.NoError(t, err)
	require.NoError(t, s.EnqueueOutbox(b, rec))

	got, err := s.ListOutbox(a, models.OutboxFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Greater(t, got[0].ID, got[1].ID)

	got, err = s.ListOutbox(a, models.OutboxFilter{ReferenceId: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].ReferenceId)

	got, err = s.ListOutbox(b, models.OutboxFilter{PublishStatus: models.OutboxPublishStatusPending})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.OutboxReferenceLot, got[0].ReferenceType)
}
