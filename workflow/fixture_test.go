package workflow

import (
	"context"
	"io"
	"time"

	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/models/memstore"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testOrg = "org-test"

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx        context.Context
	store      *memstore.Store
	logger     *logrus.Logger
	lots       *LotRegistry
	allocation *AllocationEngine
	settlement *SettlementEngine
	ledger     *MovementLedger
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newFixture() *fixture {
	store := memstore.New()
	logger := quietLogger()
	f := &fixture{
		ctx:        utils.SetOrganizationIdInContext(context.Background(), testOrg),
		store:      store,
		logger:     logger,
		lots:       NewLotRegistry(store, logger),
		allocation: NewAllocationEngine(store, logger, nil),
		settlement: NewSettlementEngine(store, logger, nil, nil),
		ledger:     NewMovementLedger(store, logger),
	}
	f.lots.Clock = clockAt(testNow)
	f.allocation.Clock = clockAt(testNow)
	f.allocation.Retry = RetryPolicy{MaxTries: 5}
	f.settlement.Clock = clockAt(testNow)
	f.settlement.Retry = RetryPolicy{MaxTries: 5}
	f.ledger.Clock = clockAt(testNow)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := utils.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *fixture) product(t require.TestingT, unit models.ProductUnit) *models.Product {
	p, err := f.lots.CreateProduct(f.ctx, models.NewProduct{Name: "Gold grain", Unit: unit})
	require.NoError(t, err)
	return p
}

func (f *fixture) lot(t require.TestingT, productId int, qty string, received string) *models.InventoryLot {
	lot, err := f.lots.CreateLot(f.ctx, models.NewInventoryLot{
		ProductId:    productId,
		Quantity:     dec(qty),
		SourceType:   models.LotSourceTypePurchase,
		SourceId:     1,
		ReceivedDate: day(received),
	})
	require.NoError(t, err)
	return lot
}

func (f *fixture) pureLot(t require.TestingT, metal models.MetalType, grams string, entry string) *models.PureMetalLot {
	lot, err := f.lots.CreatePureMetalLot(f.ctx, models.NewPureMetalLot{
		MetalType:  metal,
		Grams:      dec(grams),
		SourceType: models.PureMetalLotSourceTypeRecovery,
		EntryDate:  day(entry),
	})
	require.NoError(t, err)
	return lot
}

func (f *fixture) remaining(t require.TestingT, lotId int) decimal.Decimal {
	lot, err := f.lots.GetLot(f.ctx, lotId)
	require.NoError(t, err)
	return lot.RemainingQuantity
}

func (f *fixture) stock(t require.TestingT, productId int) decimal.Decimal {
	p, err := f.store.GetProduct(f.ctx, productId, false)
	require.NoError(t, err)
	return p.CurrentStock
}

func requireDecimal(t require.TestingT, want string, got decimal.Decimal, msgAndArgs ...any) {
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}
