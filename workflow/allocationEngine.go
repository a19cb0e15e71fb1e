package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type PinnedLot struct {
	LotId    int             `json:"lot_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
}

type AllocationRequest struct {
	ProductId      int                       `json:"product_id" validate:"required,gt=0"`
	QuantityNeeded decimal.Decimal           `json:"quantity_needed"`
	Strategy       models.AllocationStrategy `json:"strategy" validate:"omitempty,oneof=FIFO PINNED"`
	Pinned         []PinnedLot               `json:"pinned" validate:"dive"`
	DocumentRef    string                    `json:"document_ref" validate:"required,max=100"`
	AsOf           *time.Time                `json:"as_of"`
	MovementDate   time.Time                 `json:"movement_date"`
}

type PureMetalAllocationRequest struct {
	MetalType    models.MetalType          `json:"metal_type" validate:"required,oneof=AU AG RH PT PD"`
	Grams        decimal.Decimal           `json:"grams"`
	Strategy     models.AllocationStrategy `json:"strategy" validate:"omitempty,oneof=FIFO PINNED"`
	Pinned       []PinnedLot               `json:"pinned" validate:"dive"`
	DocumentRef  string                    `json:"document_ref" validate:"required,max=100"`
	AsOf         *time.Time                `json:"as_of"`
	MovementDate time.Time                 `json:"movement_date"`
}

// Allocation is one (lot, quantity drawn) pair of a committed or previewed plan.
type Allocation struct {
	LotId       int             `json:"lot_id"`
	BatchNumber string          `json:"batch_number,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	MovementId  int             `json:"movement_id,omitempty"`
}

type AllocationResult struct {
	ProductId   int                       `json:"product_id,omitempty"`
	MetalType   models.MetalType          `json:"metal_type,omitempty"`
	DocumentRef string                    `json:"document_ref"`
	Strategy    models.AllocationStrategy `json:"strategy"`
	Allocations []Allocation              `json:"allocations"`
	Total       decimal.Decimal           `json:"total"`
	Committed   bool                      `json:"committed"`
}

type ReversalResult struct {
	DocumentRef   string       `json:"document_ref"`
	ReversalRef   string       `json:"reversal_ref"`
	Lots          []Allocation `json:"lots"`
	PureMetalLots []Allocation `json:"pure_metal_lots"`
}

// AllocationEngine satisfies outgoing quantities from lots. Each call is one transaction:
// every touched lot is decremented and gets one movement, or nothing is written.
type AllocationEngine struct {
	Store  models.Store
	Logger *logrus.Logger
	Locker *redislock.Client
	Retry  RetryPolicy
	Clock  func() time.Time
}

func NewAllocationEngine(store models.Store, logger *logrus.Logger, locker *redislock.Client) *AllocationEngine {
	return &AllocationEngine{
		Store:  store,
		Logger: logger,
		Locker: locker,
		Retry:  DefaultRetryPolicy(),
		Clock:  utcNow,
	}
}

func (e *AllocationEngine) prepare(ctx context.Context, req *AllocationRequest) (string, LotSelector, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return "", nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	req.QuantityNeeded = utils.RoundQty(req.QuantityNeeded)
	if !req.QuantityNeeded.IsPositive() {
		return "", nil, fmt.Errorf("%w: quantity needed must be positive", models.ErrValidation)
	}
	sel, err := selectorFor(req.Strategy, req.Pinned)
	if err != nil {
		return "", nil, err
	}
	if pinned, ok := sel.(PinnedSelector); ok {
		if err := pinned.check(req.QuantityNeeded); err != nil {
			return "", nil, err
		}
	}
	if req.MovementDate.IsZero() {
		req.MovementDate = e.Clock()
	}
	req.AsOf = capAsOf(req.AsOf, req.MovementDate)
	return org, sel, nil
}

// capAsOf bounds the lot cutoff by the movement date: a draw can only come from stock
// that had been received when the movement happened.
func capAsOf(asOf *time.Time, movementDate time.Time) *time.Time {
	if asOf == nil || asOf.After(movementDate) {
		return &movementDate
	}
	return asOf
}

func strategyOf(sel LotSelector) models.AllocationStrategy {
	if _, ok := sel.(PinnedSelector); ok {
		return models.AllocationStrategyPinned
	}
	return models.AllocationStrategyFIFO
}

// loadLots reads the selector's candidates. Pinned lots are read in id order so concurrent
// callers lock rows in the same order, and a pinned lot received after asOf is rejected.
func loadLots(ctx context.Context, store models.Store, productId int, sel LotSelector, asOf *time.Time, lock bool) ([]models.InventoryLot, error) {
	ids := sel.Candidates()
	if ids == nil {
		return store.ListAvailableLots(ctx, productId, asOf, lock)
	}
	ordered := append([]int(nil), ids...)
	sort.Ints(ordered)
	lots := make([]models.InventoryLot, 0, len(ordered))
	for _, id := range ordered {
		lot, err := store.GetInventoryLot(ctx, id, lock)
		if err != nil {
			return nil, err
		}
		if lot.ProductId != productId {
			return nil, fmt.Errorf("%w: lot %d belongs to product %d", models.ErrValidation, lot.ID, lot.ProductId)
		}
		if asOf != nil && lot.ReceivedDate.After(*asOf) {
			return nil, fmt.Errorf("%w: lot %d was received %s, after %s", models.ErrValidation, lot.ID,
				lot.ReceivedDate.UTC().Format(time.RFC3339), asOf.UTC().Format(time.RFC3339))
		}
		lots = append(lots, *lot)
	}
	return lots, nil
}

// Preview computes the plan against a non-locking snapshot and writes nothing.
func (e *AllocationEngine) Preview(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	_, sel, err := e.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}
	lots, err := loadLots(ctx, e.Store, req.ProductId, sel, req.AsOf, false)
	if err != nil {
		return nil, err
	}
	views := inventoryLotViews(lots)
	draws, err := sel.Plan(req.QuantityNeeded, views)
	if err != nil {
		return nil, err
	}
	batches := make(map[int]string, len(views))
	for _, v := range views {
		batches[v.LotId] = v.BatchNumber
	}
	res := &AllocationResult{
		ProductId:   req.ProductId,
		DocumentRef: req.DocumentRef,
		Strategy:    strategyOf(sel),
		Total:       sumDraws(draws),
	}
	for _, d := range draws {
		res.Allocations = append(res.Allocations, Allocation{LotId: d.LotId, BatchNumber: batches[d.LotId], Quantity: d.Quantity})
	}
	return res, nil
}

// Allocate commits the plan. Conflicts are retried up to the policy bound, then surface as
// ErrTransientFailure.
func (e *AllocationEngine) Allocate(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	org, sel, err := e.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "AllocationEngine.Allocate", trace.WithAttributes(
		attribute.Int("product_id", req.ProductId),
		attribute.String("document_ref", req.DocumentRef),
		attribute.String("strategy", string(strategyOf(sel))),
	))
	defer span.End()

	unlock := obtainBestEffort(ctx, e.Locker, e.Logger, fmt.Sprintf("allocation:%s:product:%d", org, req.ProductId))
	defer unlock()

	res, err := withConflictRetry(ctx, e.Retry, e.Logger, "Allocate", func() (*AllocationResult, error) {
		var res *AllocationResult
		err := e.Store.WithTx(ctx, func(tx models.Store) error {
			var err error
			res, err = e.allocateTx(ctx, tx, org, sel, req)
			return err
		})
		return res, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.ErrorKind(err))
		e.logFailure("Allocate", req, err)
		return nil, err
	}
	lotIds := make([]int, 0, len(res.Allocations))
	for _, a := range res.Allocations {
		lotIds = append(lotIds, a.LotId)
	}
	span.SetAttributes(attribute.IntSlice("lot_ids", lotIds))
	return res, nil
}

func (e *AllocationEngine) allocateTx(ctx context.Context, tx models.Store, org string, sel LotSelector, req AllocationRequest) (*AllocationResult, error) {
	if _, err := tx.GetProduct(ctx, req.ProductId, true); err != nil {
		return nil, err
	}
	lots, err := loadLots(ctx, tx, req.ProductId, sel, req.AsOf, true)
	if err != nil {
		return nil, err
	}
	draws, err := sel.Plan(req.QuantityNeeded, inventoryLotViews(lots))
	if err != nil {
		return nil, err
	}
	byId := make(map[int]*models.InventoryLot, len(lots))
	for i := range lots {
		byId[lots[i].ID] = &lots[i]
	}

	res := &AllocationResult{
		ProductId:   req.ProductId,
		DocumentRef: req.DocumentRef,
		Strategy:    strategyOf(sel),
		Committed:   true,
	}
	for _, d := range draws {
		lot := byId[d.LotId]
		m, err := adjustLotTx(ctx, tx, e.Logger, lot, lotChange{
			org:          org,
			delta:        d.Quantity.Neg(),
			movementType: models.StockMovementTypeAllocation,
			documentRef:  req.DocumentRef,
			date:         req.MovementDate,
		})
		if err != nil {
			return nil, err
		}
		res.Allocations = append(res.Allocations, Allocation{LotId: lot.ID, BatchNumber: lot.BatchNumber, Quantity: d.Quantity, MovementId: m.ID})
	}
	res.Total = sumDraws(draws)

	if config.StrictLedgerVerify() {
		for _, a := range res.Allocations {
			if err := verifyLot(ctx, tx, e.Logger, a.LotId); err != nil {
				return nil, err
			}
		}
	}

	rec, err := models.NewOutboxRecord(ctx, org, req.MovementDate, models.OutboxReferenceAllocation, req.ProductId, models.OutboxActionAllocationCommitted, res)
	if err != nil {
		return nil, err
	}
	if err := tx.EnqueueOutbox(ctx, rec); err != nil {
		return nil, err
	}
	return res, nil
}

// AllocatePureMetal draws grams from pure metal lots with the same selectors and emits EXIT movements.
func (e *AllocationEngine) AllocatePureMetal(ctx context.Context, req PureMetalAllocationRequest) (*AllocationResult, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	req.Grams = utils.RoundQty(req.Grams)
	if !req.Grams.IsPositive() {
		return nil, fmt.Errorf("%w: grams must be positive", models.ErrValidation)
	}
	sel, err := selectorFor(req.Strategy, req.Pinned)
	if err != nil {
		return nil, err
	}
	if pinned, ok := sel.(PinnedSelector); ok {
		if err := pinned.check(req.Grams); err != nil {
			return nil, err
		}
	}
	if req.MovementDate.IsZero() {
		req.MovementDate = e.Clock()
	}
	req.AsOf = capAsOf(req.AsOf, req.MovementDate)

	ctx, span := tracer.Start(ctx, "AllocationEngine.AllocatePureMetal", trace.WithAttributes(
		attribute.String("metal_type", string(req.MetalType)),
		attribute.String("document_ref", req.DocumentRef),
	))
	defer span.End()

	unlock := obtainBestEffort(ctx, e.Locker, e.Logger, fmt.Sprintf("allocation:%s:metal:%s", org, req.MetalType))
	defer unlock()

	res, err := withConflictRetry(ctx, e.Retry, e.Logger, "AllocatePureMetal", func() (*AllocationResult, error) {
		var res *AllocationResult
		err := e.Store.WithTx(ctx, func(tx models.Store) error {
			lots, err := loadPureMetalLots(ctx, tx, req.MetalType, sel, req.AsOf)
			if err != nil {
				return err
			}
			draws, err := sel.Plan(req.Grams, pureMetalLotViews(lots))
			if err != nil {
				return err
			}
			byId := make(map[int]*models.PureMetalLot, len(lots))
			for i := range lots {
				byId[lots[i].ID] = &lots[i]
			}
			res = &AllocationResult{
				MetalType:   req.MetalType,
				DocumentRef: req.DocumentRef,
				Strategy:    strategyOf(sel),
				Total:       sumDraws(draws),
				Committed:   true,
			}
			for _, d := range draws {
				m, err := movePureMetalTx(ctx, tx, e.Logger, byId[d.LotId], pureMetalChange{
					org:          org,
					delta:        d.Quantity.Neg(),
					movementType: models.PureMetalMovementTypeExit,
					documentRef:  req.DocumentRef,
					date:         req.MovementDate,
				})
				if err != nil {
					return err
				}
				res.Allocations = append(res.Allocations, Allocation{LotId: d.LotId, Quantity: d.Quantity, MovementId: m.ID})
			}
			rec, err := models.NewOutboxRecord(ctx, org, req.MovementDate, models.OutboxReferenceAllocation, 0, models.OutboxActionAllocationCommitted, res)
			if err != nil {
				return err
			}
			return tx.EnqueueOutbox(ctx, rec)
		})
		return res, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.ErrorKind(err))
		e.logFailure("AllocatePureMetal", req, err)
		return nil, err
	}
	return res, nil
}

func loadPureMetalLots(ctx context.Context, tx models.Store, metalType models.MetalType, sel LotSelector, asOf *time.Time) ([]models.PureMetalLot, error) {
	ids := sel.Candidates()
	if ids == nil {
		return tx.ListAvailablePureMetalLots(ctx, metalType, asOf, true)
	}
	ordered := append([]int(nil), ids...)
	sort.Ints(ordered)
	lots := make([]models.PureMetalLot, 0, len(ordered))
	for _, id := range ordered {
		lot, err := tx.GetPureMetalLot(ctx, id, true)
		if err != nil {
			return nil, err
		}
		if lot.MetalType != metalType {
			return nil, fmt.Errorf("%w: pure metal lot %d holds %s", models.ErrValidation, lot.ID, lot.MetalType)
		}
		if asOf != nil && lot.EntryDate.After(*asOf) {
			return nil, fmt.Errorf("%w: pure metal lot %d entered %s, after %s", models.ErrValidation, lot.ID,
				lot.EntryDate.UTC().Format(time.RFC3339), asOf.UTC().Format(time.RFC3339))
		}
		lots = append(lots, *lot)
	}
	return lots, nil
}

// ReverseAllocation appends a REVERSAL for every allocation movement of documentRef that has
// not been compensated yet and restores the lots. Pure metal EXIT movements of the same
// document are compensated with ENTRY movements.
func (e *AllocationEngine) ReverseAllocation(ctx context.Context, documentRef string, reversalRef string) (*ReversalResult, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	documentRef = strings.TrimSpace(documentRef)
	if documentRef == "" {
		return nil, fmt.Errorf("%w: document reference is required", models.ErrValidation)
	}
	reversalRef = strings.TrimSpace(reversalRef)
	if reversalRef == "" {
		reversalRef = "REV:" + documentRef
	}

	ctx, span := tracer.Start(ctx, "AllocationEngine.ReverseAllocation", trace.WithAttributes(attribute.String("document_ref", documentRef)))
	defer span.End()

	res, err := withConflictRetry(ctx, e.Retry, e.Logger, "ReverseAllocation", func() (*ReversalResult, error) {
		var res *ReversalResult
		err := e.Store.WithTx(ctx, func(tx models.Store) error {
			var err error
			res, err = e.reverseTx(ctx, tx, org, documentRef, reversalRef)
			return err
		})
		return res, err
	})
	if err != nil {
		span.RecordError(err)
		e.logFailure("ReverseAllocation", documentRef, err)
		return nil, err
	}
	return res, nil
}

func (e *AllocationEngine) reverseTx(ctx context.Context, tx models.Store, org, documentRef, reversalRef string) (*ReversalResult, error) {
	now := e.Clock()
	res := &ReversalResult{DocumentRef: documentRef, ReversalRef: reversalRef}

	movements, err := tx.ListStockMovements(ctx, models.StockMovementFilter{
		DocumentRef:  documentRef,
		MovementType: models.StockMovementTypeAllocation,
	})
	if err != nil {
		return nil, err
	}
	metalMovements, err := tx.ListPureMetalLotMovements(ctx, models.PureMetalMovementFilter{DocumentRef: documentRef})
	if err != nil {
		return nil, err
	}
	found := len(movements)
	for _, m := range metalMovements {
		if m.MovementType == models.PureMetalMovementTypeExit {
			found++
		}
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: no allocation for document %s", models.ErrNotFound, documentRef)
	}

	// lots are locked in id order before anything is written
	lots := map[int]*models.InventoryLot{}
	var lotIds []int
	for _, m := range movements {
		if m.InventoryLotId == nil {
			continue
		}
		if _, ok := lots[*m.InventoryLotId]; !ok {
			lots[*m.InventoryLotId] = nil
			lotIds = append(lotIds, *m.InventoryLotId)
		}
	}
	sort.Ints(lotIds)
	compensated := map[int]bool{}
	for _, id := range lotIds {
		lot, err := tx.GetInventoryLot(ctx, id, true)
		if err != nil {
			return nil, err
		}
		lots[id] = lot
		history, err := tx.ListStockMovements(ctx, models.StockMovementFilter{InventoryLotId: id, MovementType: models.StockMovementTypeReversal})
		if err != nil {
			return nil, err
		}
		for _, h := range history {
			if h.CompensatesMovementId != nil {
				compensated[*h.CompensatesMovementId] = true
			}
		}
	}

	for _, m := range movements {
		if compensated[m.ID] {
			continue
		}
		movementId := m.ID
		if m.InventoryLotId == nil {
			rev := &models.StockMovement{
				OrganizationId:        org,
				ProductId:             m.ProductId,
				MovementType:          models.StockMovementTypeReversal,
				Quantity:              m.Quantity.Neg(),
				MovementDate:          now,
				DocumentRef:           reversalRef,
				Note:                  ReversalReasonAllocation,
				CompensatesMovementId: &movementId,
			}
			if err := appendStockMovement(ctx, tx, rev); err != nil {
				return nil, err
			}
			res.Lots = append(res.Lots, Allocation{Quantity: rev.Quantity, MovementId: rev.ID})
			continue
		}
		lot := lots[*m.InventoryLotId]
		rev, err := adjustLotTx(ctx, tx, e.Logger, lot, lotChange{
			org:          org,
			delta:        m.Quantity.Abs(),
			movementType: models.StockMovementTypeReversal,
			documentRef:  reversalRef,
			note:         ReversalReasonAllocation,
			date:         notBefore(now, m.MovementDate),
			compensates:  &movementId,
		})
		if err != nil {
			return nil, err
		}
		res.Lots = append(res.Lots, Allocation{LotId: lot.ID, BatchNumber: lot.BatchNumber, Quantity: rev.Quantity, MovementId: rev.ID})
	}

	if err := e.reversePureMetalTx(ctx, tx, org, metalMovements, reversalRef, now, res); err != nil {
		return nil, err
	}
	if len(res.Lots) == 0 && len(res.PureMetalLots) == 0 {
		return nil, fmt.Errorf("%w: document %s", models.ErrAlreadyReversed, documentRef)
	}

	rec, err := models.NewOutboxRecord(ctx, org, now, models.OutboxReferenceAllocation, 0, models.OutboxActionAllocationReversed, res)
	if err != nil {
		return nil, err
	}
	if err := tx.EnqueueOutbox(ctx, rec); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *AllocationEngine) reversePureMetalTx(ctx context.Context, tx models.Store, org string, movements []models.PureMetalLotMovement, reversalRef string, now time.Time, res *ReversalResult) error {
	var exits []models.PureMetalLotMovement
	var lotIds []int
	seen := map[int]bool{}
	for _, m := range movements {
		if m.MovementType != models.PureMetalMovementTypeExit {
			continue
		}
		exits = append(exits, m)
		if !seen[m.PureMetalLotId] {
			seen[m.PureMetalLotId] = true
			lotIds = append(lotIds, m.PureMetalLotId)
		}
	}
	sort.Ints(lotIds)
	lots := make(map[int]*models.PureMetalLot, len(lotIds))
	compensated := map[int]bool{}
	for _, id := range lotIds {
		lot, err := tx.GetPureMetalLot(ctx, id, true)
		if err != nil {
			return err
		}
		lots[id] = lot
		history, err := tx.ListPureMetalLotMovements(ctx, models.PureMetalMovementFilter{PureMetalLotId: id})
		if err != nil {
			return err
		}
		for _, h := range history {
			if h.CompensatesMovementId != nil {
				compensated[*h.CompensatesMovementId] = true
			}
		}
	}
	for _, m := range exits {
		if compensated[m.ID] {
			continue
		}
		movementId := m.ID
		rev, err := movePureMetalTx(ctx, tx, e.Logger, lots[m.PureMetalLotId], pureMetalChange{
			org:          org,
			delta:        m.Grams.Abs(),
			movementType: models.PureMetalMovementTypeEntry,
			documentRef:  reversalRef,
			notes:        ReversalReasonPureMetalAllocation,
			date:         notBefore(now, m.MovementDate),
			compensates:  &movementId,
		})
		if err != nil {
			return err
		}
		res.PureMetalLots = append(res.PureMetalLots, Allocation{LotId: m.PureMetalLotId, Quantity: rev.Grams, MovementId: rev.ID})
	}
	return nil
}

func (e *AllocationEngine) logFailure(funcName string, data any, err error) {
	switch models.ErrorKind(err) {
	case "insufficient_stock", "allocation_mismatch", "validation", "not_found", "already_reversed":
		if e.Logger != nil {
			e.Logger.WithFields(logrus.Fields{
				"field": funcName,
				"kind":  models.ErrorKind(err),
			}).Info(err.Error())
		}
	default:
		config.LogError(e.Logger, "allocationEngine.go", funcName, funcName, data, err)
	}
}
