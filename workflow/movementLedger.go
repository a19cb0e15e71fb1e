package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BalanceScope selects a product-wide or a single-lot balance. Exactly one id is set.
type BalanceScope struct {
	ProductId int
	LotId     int
}

func (s BalanceScope) validate() error {
	if (s.ProductId > 0) == (s.LotId > 0) {
		return fmt.Errorf("%w: balance scope needs exactly one of product id or lot id", models.ErrValidation)
	}
	return nil
}

func (s BalanceScope) filter() models.StockMovementFilter {
	return models.StockMovementFilter{ProductId: s.ProductId, InventoryLotId: s.LotId}
}

// PureMetalScope selects one pure metal lot or every lot of a metal.
type PureMetalScope struct {
	LotId     int
	MetalType models.MetalType
}

// MovementLedger is the append-only source of truth for balances.
type MovementLedger struct {
	Store  models.Store
	Logger *logrus.Logger
	Clock  func() time.Time
}

func NewMovementLedger(store models.Store, logger *logrus.Logger) *MovementLedger {
	return &MovementLedger{Store: store, Logger: logger, Clock: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func requireOrganization(ctx context.Context) (string, error) {
	org, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || org == "" {
		return "", fmt.Errorf("%w: organization id missing from context", models.ErrValidation)
	}
	return org, nil
}

// Record appends one movement in its own transaction. A lot-bound movement also moves the
// lot's cached balance, so the lot stays equal to the replay of its movements.
func (l *MovementLedger) Record(ctx context.Context, m *models.StockMovement) error {
	org, err := requireOrganization(ctx)
	if err != nil {
		return err
	}
	if !m.MovementType.IsValid() {
		return fmt.Errorf("%w: movement type %q", models.ErrValidation, m.MovementType)
	}
	if m.Quantity.IsZero() {
		return fmt.Errorf("%w: movement quantity must be non-zero", models.ErrValidation)
	}
	if m.MovementDate.IsZero() {
		m.MovementDate = l.Clock()
	}
	m.OrganizationId = org
	m.Quantity = utils.RoundQty(m.Quantity)

	ctx, span := tracer.Start(ctx, "MovementLedger.Record", trace.WithAttributes(attribute.Int("product_id", m.ProductId)))
	defer span.End()

	return l.Store.WithTx(ctx, func(tx models.Store) error {
		if _, err := tx.GetProduct(ctx, m.ProductId, true); err != nil {
			return err
		}
		if m.InventoryLotId == nil {
			return appendStockMovement(ctx, tx, m)
		}
		lot, err := tx.GetInventoryLot(ctx, *m.InventoryLotId, true)
		if err != nil {
			return err
		}
		if lot.ProductId != m.ProductId {
			return fmt.Errorf("%w: lot %d belongs to product %d", models.ErrValidation, lot.ID, lot.ProductId)
		}
		if err := checkLotChronology(ctx, tx, lot, m.MovementDate); err != nil {
			return err
		}
		lot.RemainingQuantity = lot.RemainingQuantity.Add(m.Quantity)
		if err := lot.CheckInvariant(); err != nil {
			config.LogIntegrityAlert(l.Logger, "movementLedger.go", "Record", m, err)
			return err
		}
		if err := tx.SaveLotBalance(ctx, lot); err != nil {
			return err
		}
		return appendStockMovement(ctx, tx, m)
	})
}

// appendStockMovement is the in-transaction primitive: append the entry and move the product's cached stock.
func appendStockMovement(ctx context.Context, tx models.Store, m *models.StockMovement) error {
	if m.CorrelationId == "" {
		m.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
	}
	if err := tx.AppendStockMovement(ctx, m); err != nil {
		return err
	}
	return tx.AddProductStock(ctx, m.ProductId, m.Quantity)
}

func appendPureMetalMovement(ctx context.Context, tx models.Store, m *models.PureMetalLotMovement) error {
	if m.CorrelationId == "" {
		m.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
	}
	return tx.AppendPureMetalLotMovement(ctx, m)
}

// ReconstructBalance folds every movement dated on or before asOf's day, starting from zero.
// Replay is day-granular: asOf stands for its whole UTC day, so a movement later on that
// same day is included.
func (l *MovementLedger) ReconstructBalance(ctx context.Context, scope BalanceScope, asOf time.Time) (decimal.Decimal, error) {
	return l.ReconstructBalanceFrom(ctx, scope, models.BalanceAnchor{}, asOf)
}

// ReconstructBalanceFrom folds the movements after the anchor's day up to asOf's day onto the anchor balance.
func (l *MovementLedger) ReconstructBalanceFrom(ctx context.Context, scope BalanceScope, anchor models.BalanceAnchor, asOf time.Time) (decimal.Decimal, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return decimal.Zero, err
	}
	if err := scope.validate(); err != nil {
		return decimal.Zero, err
	}
	f := scope.filter()
	before := models.DayAfter(asOf)
	f.Before = &before
	if !anchor.AsOf.IsZero() {
		if anchor.AsOf.After(asOf) {
			return decimal.Zero, fmt.Errorf("%w: anchor %s is after %s", models.ErrValidation,
				anchor.AsOf.Format(utils.DateLayout), asOf.Format(utils.DateLayout))
		}
		from := models.DayAfter(anchor.AsOf)
		f.From = &from
	}
	movements, err := l.Store.ListStockMovements(ctx, f)
	if err != nil {
		return decimal.Zero, err
	}
	return models.FoldStockMovements(anchor.Balance, movements), nil
}

// ReconstructPureMetalBalance folds pure metal movements dated on or before asOf's day.
func (l *MovementLedger) ReconstructPureMetalBalance(ctx context.Context, scope PureMetalScope, asOf time.Time) (decimal.Decimal, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return decimal.Zero, err
	}
	if (scope.LotId > 0) == (scope.MetalType != "") {
		return decimal.Zero, fmt.Errorf("%w: pure metal scope needs exactly one of lot id or metal type", models.ErrValidation)
	}
	before := models.DayAfter(asOf)
	movements, err := l.Store.ListPureMetalLotMovements(ctx, models.PureMetalMovementFilter{
		PureMetalLotId: scope.LotId,
		MetalType:      scope.MetalType,
		Before:         &before,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return models.FoldPureMetalMovements(decimal.Zero, movements), nil
}

// History lists ledger entries in replay order.
func (l *MovementLedger) History(ctx context.Context, f models.StockMovementFilter) ([]models.StockMovement, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	return l.Store.ListStockMovements(ctx, f)
}

// VerifyLot replays the lot's movements and compares with the cached remaining quantity.
func (l *MovementLedger) VerifyLot(ctx context.Context, lotId int) error {
	if _, err := requireOrganization(ctx); err != nil {
		return err
	}
	return verifyLot(ctx, l.Store, l.Logger, lotId)
}

func (l *MovementLedger) VerifyPureMetalLot(ctx context.Context, lotId int) error {
	if _, err := requireOrganization(ctx); err != nil {
		return err
	}
	return verifyPureMetalLot(ctx, l.Store, l.Logger, lotId)
}

// LotDrift is cached minus replayed balance.
func lotDrift(ctx context.Context, store models.Store, lot *models.InventoryLot) (decimal.Decimal, decimal.Decimal, error) {
	movements, err := store.ListStockMovements(ctx, models.StockMovementFilter{InventoryLotId: lot.ID})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	replayed := models.FoldStockMovements(decimal.Zero, movements)
	return replayed, lot.RemainingQuantity.Sub(replayed), nil
}

func pureMetalLotDrift(ctx context.Context, store models.Store, lot *models.PureMetalLot) (decimal.Decimal, decimal.Decimal, error) {
	movements, err := store.ListPureMetalLotMovements(ctx, models.PureMetalMovementFilter{PureMetalLotId: lot.ID})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	replayed := models.FoldPureMetalMovements(decimal.Zero, movements)
	return replayed, lot.RemainingGrams.Sub(replayed), nil
}

func verifyLot(ctx context.Context, store models.Store, logger *logrus.Logger, lotId int) error {
	lot, err := store.GetInventoryLot(ctx, lotId, false)
	if err != nil {
		return err
	}
	replayed, drift, err := lotDrift(ctx, store, lot)
	if err != nil {
		return err
	}
	if !utils.ApproxZero(drift) {
		err := fmt.Errorf("%w: lot %d cached %s, ledger %s", models.ErrInvariantViolation, lot.ID,
			lot.RemainingQuantity.StringFixed(utils.QuantityPlaces), replayed.StringFixed(utils.QuantityPlaces))
		config.LogIntegrityAlert(logger, "movementLedger.go", "verifyLot", lot.ID, err)
		return err
	}
	return nil
}

func verifyPureMetalLot(ctx context.Context, store models.Store, logger *logrus.Logger, lotId int) error {
	lot, err := store.GetPureMetalLot(ctx, lotId, false)
	if err != nil {
		return err
	}
	replayed, drift, err := pureMetalLotDrift(ctx, store, lot)
	if err != nil {
		return err
	}
	if !utils.ApproxZero(drift) {
		err := fmt.Errorf("%w: pure metal lot %d cached %s, ledger %s", models.ErrInvariantViolation, lot.ID,
			lot.RemainingGrams.StringFixed(utils.QuantityPlaces), replayed.StringFixed(utils.QuantityPlaces))
		config.LogIntegrityAlert(logger, "movementLedger.go", "verifyPureMetalLot", lot.ID, err)
		return err
	}
	return nil
}
