package reports

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/models/memstore"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const org = "org-reports"

func date(s string) time.Time {
	t, err := utils.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type ledgerFixture struct {
	ctx     context.Context
	store   *memstore.Store
	builder *StatementBuilder
	product *models.Product
	lot     *models.InventoryLot
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := memstore.New()
	ctx := utils.SetOrganizationIdInContext(context.Background(), org)

	p := &models.Product{OrganizationId: org, Name: "Gold grain", Unit: models.ProductUnitGrams}
	require.NoError(t, store.CreateProduct(ctx, p))
	lot := &models.InventoryLot{
		OrganizationId:    org,
		ProductId:         p.ID,
		BatchNumber:       "B-1",
		Quantity:          qty("1000"),
		RemainingQuantity: qty("690"),
		ReceivedDate:      date("2024-01-01"),
	}
	require.NoError(t, store.CreateInventoryLot(ctx, lot))

	lotId := lot.ID
	movements := []models.StockMovement{
		{MovementType: models.StockMovementTypeReceipt, Quantity: qty("1000"), MovementDate: date("2024-01-01"), InventoryLotId: &lotId, DocumentRef: "PO-1"},
		{MovementType: models.StockMovementTypeAllocation, Quantity: qty("-200"), MovementDate: date("2024-01-05"), InventoryLotId: &lotId, DocumentRef: "SALE-1"},
		{MovementType: models.StockMovementTypeAdjustment, Quantity: qty("-10"), MovementDate: date("2024-01-05"), DocumentRef: "W-1"},
		{MovementType: models.StockMovementTypeAllocation, Quantity: qty("-100"), MovementDate: date("2024-01-20"), InventoryLotId: &lotId, DocumentRef: "SALE-2"},
	}
	for i := range movements {
		movements[i].OrganizationId = org
		movements[i].ProductId = p.ID
		require.NoError(t, store.AppendStockMovement(ctx, &movements[i]))
	}
	return &ledgerFixture{ctx: ctx, store: store, builder: NewStatementBuilder(store, logger), product: p, lot: lot}
}

func TestBuildStockStatement(t *testing.T) {
	f := newLedgerFixture(t)

	st, err := f.builder.BuildStockStatement(f.ctx, f.product.ID, date("2024-01-03"), date("2024-01-10"))
	require.NoError(t, err)
	assert.True(t, qty("1000").Equal(st.InitialBalance))
	require.Len(t, st.Lines, 2)

	assert.Equal(t, "SALE-1", st.Lines[0].DocumentRef)
	assert.Equal(t, "B-1", st.Lines[0].LotReference)
	assert.Equal(t, f.lot.ID, st.Lines[0].LotId)
	assert.True(t, qty("800").Equal(st.Lines[0].RunningBalance))

	assert.Equal(t, "W-1", st.Lines[1].DocumentRef)
	assert.Equal(t, NoLotReference, st.Lines[1].LotReference)
	assert.Zero(t, st.Lines[1].LotId)
	assert.True(t, qty("790").Equal(st.Lines[1].RunningBalance))
	assert.True(t, qty("790").Equal(st.FinalBalance))

	again, err := f.builder.BuildStockStatement(f.ctx, f.product.ID, date("2024-01-03"), date("2024-01-10"))
	require.NoError(t, err)
	assert.Equal(t, st, again)
}

func TestBuildStockStatementEmptyRange(t *testing.T) {
	f := newLedgerFixture(t)
	st, err := f.builder.BuildStockStatement(f.ctx, f.product.ID, date("2024-01-06"), date("2024-01-19"))
	require.NoError(t, err)
	assert.Empty(t, st.Lines)
	assert.True(t, qty("790").Equal(st.InitialBalance))
	assert.True(t, st.InitialBalance.Equal(st.FinalBalance))
}

func TestBuildStockStatementRejections(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.builder.BuildStockStatement(f.ctx, f.product.ID, date("2024-01-10"), date("2024-01-03"))
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = f.builder.BuildStockStatement(context.Background(), f.product.ID, date("2024-01-03"), date("2024-01-10"))
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = f.builder.BuildStockStatement(f.ctx, f.product.ID+1, date("2024-01-03"), date("2024-01-10"))
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.builder.BuildPureMetalStatement(f.ctx, "XX", date("2024-01-03"), date("2024-01-10"))
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestBuildPureMetalStatement(t *testing.T) {
	f := newLedgerFixture(t)
	gold := &models.PureMetalLot{OrganizationId: org, MetalType: models.MetalTypeGold, InitialGrams: qty("50"), RemainingGrams: qty("30"), EntryDate: date("2024-01-01")}
	require.NoError(t, f.store.CreatePureMetalLot(f.ctx, gold))
	for _, m := range []models.PureMetalLotMovement{
		{PureMetalLotId: gold.ID, MetalType: models.MetalTypeGold, MovementType: models.PureMetalMovementTypeEntry, Grams: qty("50"), MovementDate: date("2024-01-01")},
		{PureMetalLotId: gold.ID, MetalType: models.MetalTypeGold, MovementType: models.PureMetalMovementTypeExit, Grams: qty("-20"), MovementDate: date("2024-01-04"), DocumentRef: "MELT-1"},
		{PureMetalLotId: gold.ID + 1, MetalType: models.MetalTypeSilver, MovementType: models.PureMetalMovementTypeEntry, Grams: qty("900"), MovementDate: date("2024-01-04")},
	} {
		m.OrganizationId = org
		require.NoError(t, f.store.AppendPureMetalLotMovement(f.ctx, &m))
	}

	st, err := f.builder.BuildPureMetalStatement(f.ctx, models.MetalTypeGold, date("2024-01-02"), date("2024-01-31"))
	require.NoError(t, err)
	assert.True(t, qty("50").Equal(st.InitialBalance))
	require.Len(t, st.Lines, 1)
	assert.Equal(t, "MELT-1", st.Lines[0].DocumentRef)
	assert.Equal(t, "PML-1", st.Lines[0].LotReference)
	assert.True(t, qty("30").Equal(st.FinalBalance))
}

func TestStatementWorkbook(t *testing.T) {
	f := newLedgerFixture(t)
	st, err := f.builder.BuildStockStatement(f.ctx, f.product.ID, date("2024-01-03"), date("2024-01-10"))
	require.NoError(t, err)

	assert.Equal(t, "statement-product-1-2024-01-03-2024-01-10.xlsx", StatementFileName(st))

	var buf bytes.Buffer
	require.NoError(t, WriteStatementWorkbook(&buf, st))
	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer wb.Close()

	cell := func(name string) string {
		v, err := wb.GetCellValue(StatementSheet, name)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "Product 1", cell("A1"))
	assert.Equal(t, "2024-01-03 to 2024-01-10", cell("B1"))
	assert.Equal(t, "InitialBalance", cell("A2"))
	assert.Equal(t, "Date", cell("A4"))
	assert.Equal(t, "RunningBalance", cell("G4"))
	assert.Equal(t, "2024-01-05", cell("A5"))
	assert.Equal(t, "SALE-1", cell("D5"))
	assert.Equal(t, "B-1", cell("E5"))
	assert.Equal(t, NoLotReference, cell("E6"))
	assert.Equal(t, "FinalBalance", cell("A7"))
}
