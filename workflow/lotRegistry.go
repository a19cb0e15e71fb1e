package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LotRegistry owns lot creation and the 0 <= remaining <= quantity invariant
// for product lots and pure metal lots.
type LotRegistry struct {
	Store  models.Store
	Logger *logrus.Logger
	Clock  func() time.Time
}

func NewLotRegistry(store models.Store, logger *logrus.Logger) *LotRegistry {
	return &LotRegistry{Store: store, Logger: logger, Clock: utcNow}
}

func (r *LotRegistry) CreateProduct(ctx context.Context, input models.NewProduct) (*models.Product, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	p := &models.Product{
		OrganizationId: org,
		Name:           strings.TrimSpace(input.Name),
		Unit:           input.Unit,
		CurrentStock:   decimal.Zero,
	}
	if err := r.Store.CreateProduct(ctx, p); err != nil {
		config.LogError(r.Logger, "lotRegistry.go", "CreateProduct", "CreateProduct", input, err)
		return nil, err
	}
	return p, nil
}

// CreateLot normalizes the entry unit, creates the lot with remaining = quantity and appends
// the RECEIPT movement in the same transaction.
func (r *LotRegistry) CreateLot(ctx context.Context, input models.NewInventoryLot) (*models.InventoryLot, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if !input.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: lot quantity must be positive", models.ErrValidation)
	}
	if input.CostPrice.IsNegative() {
		return nil, fmt.Errorf("%w: cost price must not be negative", models.ErrValidation)
	}

	ctx, span := tracer.Start(ctx, "LotRegistry.CreateLot", trace.WithAttributes(attribute.Int("product_id", input.ProductId)))
	defer span.End()

	var lot *models.InventoryLot
	err = r.Store.WithTx(ctx, func(tx models.Store) error {
		product, err := tx.GetProduct(ctx, input.ProductId, true)
		if err != nil {
			return err
		}
		qty, err := models.NormalizeQuantity(input.Quantity, input.EntryUnit, product.Unit)
		if err != nil {
			return err
		}
		if !qty.IsPositive() {
			return fmt.Errorf("%w: lot quantity rounds to zero", models.ErrValidation)
		}
		batch := strings.TrimSpace(input.BatchNumber)
		if batch == "" {
			batch = defaultBatchNumber(input.ReceivedDate)
		}
		lot = &models.InventoryLot{
			OrganizationId:    org,
			ProductId:         product.ID,
			BatchNumber:       batch,
			Quantity:          qty,
			RemainingQuantity: qty,
			CostPrice:         input.CostPrice,
			SourceType:        input.SourceType,
			SourceId:          input.SourceId,
			ReceivedDate:      input.ReceivedDate.UTC(),
		}
		if err := tx.CreateInventoryLot(ctx, lot); err != nil {
			return err
		}
		ref := input.DocumentRef
		if ref == "" {
			ref = fmt.Sprintf("%s:%d", input.SourceType, input.SourceId)
		}
		lotId := lot.ID
		return appendStockMovement(ctx, tx, &models.StockMovement{
			OrganizationId: org,
			ProductId:      product.ID,
			InventoryLotId: &lotId,
			MovementType:   models.StockMovementTypeReceipt,
			Quantity:       qty,
			MovementDate:   lot.ReceivedDate,
			DocumentRef:    ref,
		})
	})
	if err != nil {
		config.LogError(r.Logger, "lotRegistry.go", "CreateLot", "WithTx", input, err)
		return nil, err
	}
	return lot, nil
}

func defaultBatchNumber(received time.Time) string {
	return fmt.Sprintf("L%s-%s", received.UTC().Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

// AdjustLot applies a signed correction through an ADJUSTMENT movement.
// Results outside [0, quantity] are rejected, never clamped.
func (r *LotRegistry) AdjustLot(ctx context.Context, lotId int, delta decimal.Decimal, reason string, documentRef string) (*models.InventoryLot, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	delta = utils.RoundQty(delta)
	if delta.IsZero() {
		return nil, fmt.Errorf("%w: adjustment delta must be non-zero", models.ErrValidation)
	}

	ctx, span := tracer.Start(ctx, "LotRegistry.AdjustLot", trace.WithAttributes(attribute.Int("lot_id", lotId)))
	defer span.End()

	var lot *models.InventoryLot
	err = r.Store.WithTx(ctx, func(tx models.Store) error {
		var err error
		lot, err = tx.GetInventoryLot(ctx, lotId, true)
		if err != nil {
			return err
		}
		_, err = adjustLotTx(ctx, tx, r.Logger, lot, lotChange{
			org:          org,
			delta:        delta,
			movementType: models.StockMovementTypeAdjustment,
			documentRef:  documentRef,
			note:         reason,
			date:         r.Clock(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

type lotChange struct {
	org          string
	delta        decimal.Decimal
	movementType models.StockMovementType
	documentRef  string
	note         string
	date         time.Time
	compensates  *int
}

// checkNotBeforeReceipt rejects a lot movement dated before the lot existed.
func checkNotBeforeReceipt(what string, lotId int, received, date time.Time) error {
	if date.Before(received) {
		return fmt.Errorf("%w: %s %d was received %s, movement is dated %s", models.ErrValidation, what, lotId,
			received.UTC().Format(time.RFC3339), date.UTC().Format(time.RFC3339))
	}
	return nil
}

// checkLotChronology keeps a lot's movements in day order. Replay by date then visits the
// same prefixes the cached balance went through, each of which was range-checked.
func checkLotChronology(ctx context.Context, tx models.Store, lot *models.InventoryLot, date time.Time) error {
	if err := checkNotBeforeReceipt("lot", lot.ID, lot.ReceivedDate, date); err != nil {
		return err
	}
	from := models.DayAfter(date)
	later, err := tx.ListStockMovements(ctx, models.StockMovementFilter{InventoryLotId: lot.ID, From: &from})
	if err != nil {
		return err
	}
	if len(later) > 0 {
		return fmt.Errorf("%w: lot %d already moved on %s, after %s", models.ErrValidation, lot.ID,
			later[len(later)-1].MovementDate.UTC().Format(utils.DateLayout), date.UTC().Format(utils.DateLayout))
	}
	return nil
}

func checkPureMetalChronology(ctx context.Context, tx models.Store, lot *models.PureMetalLot, date time.Time) error {
	if err := checkNotBeforeReceipt("pure metal lot", lot.ID, lot.EntryDate, date); err != nil {
		return err
	}
	from := models.DayAfter(date)
	later, err := tx.ListPureMetalLotMovements(ctx, models.PureMetalMovementFilter{PureMetalLotId: lot.ID, From: &from})
	if err != nil {
		return err
	}
	if len(later) > 0 {
		return fmt.Errorf("%w: pure metal lot %d already moved on %s, after %s", models.ErrValidation, lot.ID,
			later[len(later)-1].MovementDate.UTC().Format(utils.DateLayout), date.UTC().Format(utils.DateLayout))
	}
	return nil
}

// notBefore is the date for a compensating movement: now, unless the movement it undoes is later.
func notBefore(now, original time.Time) time.Time {
	if original.After(now) {
		return original
	}
	return now
}

// adjustLotTx moves a locked lot's remaining quantity by c.delta and appends the matching movement.
func adjustLotTx(ctx context.Context, tx models.Store, logger *logrus.Logger, lot *models.InventoryLot, c lotChange) (*models.StockMovement, error) {
	if err := checkLotChronology(ctx, tx, lot, c.date); err != nil {
		return nil, err
	}
	lot.RemainingQuantity = utils.RoundQty(lot.RemainingQuantity.Add(c.delta))
	if err := lot.CheckInvariant(); err != nil {
		config.LogIntegrityAlert(logger, "lotRegistry.go", "adjustLotTx", map[string]any{
			"lot_id": lot.ID,
			"delta":  c.delta.String(),
		}, err)
		return nil, fmt.Errorf("lot %d: %w", lot.ID, err)
	}
	if err := tx.SaveLotBalance(ctx, lot); err != nil {
		return nil, err
	}
	lotId := lot.ID
	m := &models.StockMovement{
		OrganizationId:        c.org,
		ProductId:             lot.ProductId,
		InventoryLotId:        &lotId,
		MovementType:          c.movementType,
		Quantity:              c.delta,
		MovementDate:          c.date,
		DocumentRef:           c.documentRef,
		CompensatesMovementId: c.compensates,
		Note:                  c.note,
	}
	if err := appendStockMovement(ctx, tx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *LotRegistry) GetLot(ctx context.Context, lotId int) (*models.InventoryLot, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	return r.Store.GetInventoryLot(ctx, lotId, false)
}

// ListAvailable returns lots with stock left, oldest first, optionally excluding lots received after asOf.
func (r *LotRegistry) ListAvailable(ctx context.Context, productId int, asOf *time.Time) ([]models.InventoryLot, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	return r.Store.ListAvailableLots(ctx, productId, asOf, false)
}

func (r *LotRegistry) ListLots(ctx context.Context, productId int) ([]models.InventoryLot, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	return r.Store.ListLotsByProduct(ctx, productId)
}

// CreatePureMetalLot registers refined metal and appends its ENTRY movement.
func (r *LotRegistry) CreatePureMetalLot(ctx context.Context, input models.NewPureMetalLot) (*models.PureMetalLot, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	grams := utils.RoundQty(input.Grams)
	if !grams.IsPositive() {
		return nil, fmt.Errorf("%w: grams must be positive", models.ErrValidation)
	}
	purity := input.Purity
	if purity.IsZero() {
		purity = decimal.NewFromInt(1)
	}
	if purity.IsNegative() || purity.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: purity must be within (0, 1]", models.ErrValidation)
	}

	ctx, span := tracer.Start(ctx, "LotRegistry.CreatePureMetalLot", trace.WithAttributes(attribute.String("metal_type", string(input.MetalType))))
	defer span.End()

	var lot *models.PureMetalLot
	err = r.Store.WithTx(ctx, func(tx models.Store) error {
		var err error
		lot, err = createPureMetalLotTx(ctx, tx, org, input, grams, purity)
		return err
	})
	if err != nil {
		config.LogError(r.Logger, "lotRegistry.go", "CreatePureMetalLot", "WithTx", input, err)
		return nil, err
	}
	return lot, nil
}

func createPureMetalLotTx(ctx context.Context, tx models.Store, org string, input models.NewPureMetalLot, grams, purity decimal.Decimal) (*models.PureMetalLot, error) {
	lot := &models.PureMetalLot{
		OrganizationId:  org,
		MetalType:       input.MetalType,
		InitialGrams:    grams,
		RemainingGrams:  grams,
		Purity:          purity,
		SourceType:      input.SourceType,
		SourceId:        input.SourceId,
		SaleId:          input.SaleId,
		RecoveryOrderId: input.RecoveryOrderId,
		Status:          models.PureMetalLotStatusAvailable,
		EntryDate:       input.EntryDate.UTC(),
		Notes:           input.Notes,
	}
	if err := tx.CreatePureMetalLot(ctx, lot); err != nil {
		return nil, err
	}
	ref := input.DocumentRef
	if ref == "" {
		ref = fmt.Sprintf("%s:%d", input.SourceType, input.SourceId)
	}
	if err := appendPureMetalMovement(ctx, tx, &models.PureMetalLotMovement{
		OrganizationId: org,
		PureMetalLotId: lot.ID,
		MetalType:      lot.MetalType,
		MovementType:   models.PureMetalMovementTypeEntry,
		Grams:          grams,
		MovementDate:   lot.EntryDate,
		DocumentRef:    ref,
		Notes:          input.Notes,
	}); err != nil {
		return nil, err
	}
	return lot, nil
}

// AdjustPureMetalLot applies a signed gram correction within [0, initial grams].
func (r *LotRegistry) AdjustPureMetalLot(ctx context.Context, lotId int, delta decimal.Decimal, reason string, documentRef string) (*models.PureMetalLot, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	delta = utils.RoundQty(delta)
	if delta.IsZero() {
		return nil, fmt.Errorf("%w: adjustment delta must be non-zero", models.ErrValidation)
	}
	var lot *models.PureMetalLot
	err = r.Store.WithTx(ctx, func(tx models.Store) error {
		var err error
		lot, err = tx.GetPureMetalLot(ctx, lotId, true)
		if err != nil {
			return err
		}
		_, err = movePureMetalTx(ctx, tx, r.Logger, lot, pureMetalChange{
			org:          org,
			delta:        delta,
			movementType: models.PureMetalMovementTypeAdjustment,
			documentRef:  documentRef,
			notes:        reason,
			date:         r.Clock(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

type pureMetalChange struct {
	org          string
	delta        decimal.Decimal
	movementType models.PureMetalMovementType
	documentRef  string
	notes        string
	date         time.Time
	compensates  *int
	// growInitial also moves InitialGrams: metal received into an existing lot
	// or the compensation of such a receipt.
	growInitial bool
}

// movePureMetalTx moves a locked pure metal lot and appends its movement.
func movePureMetalTx(ctx context.Context, tx models.Store, logger *logrus.Logger, lot *models.PureMetalLot, c pureMetalChange) (*models.PureMetalLotMovement, error) {
	if err := checkPureMetalChronology(ctx, tx, lot, c.date); err != nil {
		return nil, err
	}
	lot.RemainingGrams = utils.RoundQty(lot.RemainingGrams.Add(c.delta))
	if c.growInitial {
		lot.InitialGrams = utils.RoundQty(lot.InitialGrams.Add(c.delta))
	}
	if err := lot.CheckInvariant(); err != nil {
		config.LogIntegrityAlert(logger, "lotRegistry.go", "movePureMetalTx", map[string]any{
			"pure_metal_lot_id": lot.ID,
			"delta":             c.delta.String(),
		}, err)
		return nil, fmt.Errorf("pure metal lot %d: %w", lot.ID, err)
	}
	lot.RefreshStatus()
	if err := tx.SavePureMetalLotBalance(ctx, lot); err != nil {
		return nil, err
	}
	m := &models.PureMetalLotMovement{
		OrganizationId:        c.org,
		PureMetalLotId:        lot.ID,
		MetalType:             lot.MetalType,
		MovementType:          c.movementType,
		Grams:                 c.delta,
		MovementDate:          c.date,
		DocumentRef:           c.documentRef,
		CompensatesMovementId: c.compensates,
		Notes:                 c.notes,
	}
	if err := appendPureMetalMovement(ctx, tx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *LotRegistry) ListAvailablePureMetalLots(ctx context.Context, metalType models.MetalType, asOf *time.Time) ([]models.PureMetalLot, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	return r.Store.ListAvailablePureMetalLots(ctx, metalType, asOf, false)
}

func (r *LotRegistry) GetPureMetalLot(ctx context.Context, lotId int) (*models.PureMetalLot, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	return r.Store.GetPureMetalLot(ctx, lotId, false)
}
