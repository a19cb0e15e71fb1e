package workflow

import (
	"context"
	"errors"
	"fmt"
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

type MetalSettlementRequest struct {
	// PureMetalLotId is the lot drawn from for receivables. For credits it is the lot the
	// metal is received into; zero opens a new lot.
	PureMetalLotId int             `json:"pure_metal_lot_id" validate:"gte=0"`
	Grams          decimal.Decimal `json:"grams"`
	PaymentDate    time.Time       `json:"payment_date"`
	Notes          string          `json:"notes" validate:"max=255"`
}

type CurrencySettlementRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   time.Time       `json:"payment_date"`
	IsFullPayment bool            `json:"is_full_payment"`
}

type SettlementResult struct {
	Obligation *models.MetalObligation `json:"obligation"`
	Settlement *models.MetalSettlement `json:"settlement"`
}

// SettlementEngine manages metal receivables (owed to us) and metal credits (owed by us).
// Receivables settled in metal draw from a pure metal lot; credits settled in metal put
// metal into one.
type SettlementEngine struct {
	Store      models.Store
	Logger     *logrus.Logger
	Locker     *redislock.Client
	Quotes     QuotationProvider
	Accounting AccountingGateway
	Retry      RetryPolicy
	Clock      func() time.Time
}

func NewSettlementEngine(store models.Store, logger *logrus.Logger, locker *redislock.Client, quotes QuotationProvider) *SettlementEngine {
	if quotes == nil {
		quotes = StoreQuotationProvider{Store: store}
	}
	return &SettlementEngine{
		Store:      store,
		Logger:     logger,
		Locker:     locker,
		Quotes:     quotes,
		Accounting: OutboxAccountingGateway{},
		Retry:      DefaultRetryPolicy(),
		Clock:      utcNow,
	}
}

func (e *SettlementEngine) CreateReceivable(ctx context.Context, input models.NewMetalObligation) (*models.MetalObligation, error) {
	return e.createObligation(ctx, models.ObligationKindReceivable, input)
}

func (e *SettlementEngine) CreateCredit(ctx context.Context, input models.NewMetalObligation) (*models.MetalObligation, error) {
	return e.createObligation(ctx, models.ObligationKindCredit, input)
}

func (e *SettlementEngine) createObligation(ctx context.Context, kind models.ObligationKind, input models.NewMetalObligation) (*models.MetalObligation, error) {
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
	o := &models.MetalObligation{
		OrganizationId: org,
		CounterpartyId: input.CounterpartyId,
		MetalType:      input.MetalType,
		Grams:          grams,
		RemainingGrams: grams,
		DueDate:        input.DueDate,
		Status:         models.SettlementStatusPending,
		SourceId:       input.SourceId,
		Kind:           kind,
	}
	if err := e.Store.CreateObligation(ctx, kind, o); err != nil {
		config.LogError(e.Logger, "settlementEngine.go", "createObligation", string(kind), input, err)
		return nil, err
	}
	return o, nil
}

func (e *SettlementEngine) GetObligation(ctx context.Context, kind models.ObligationKind, id int) (*models.MetalObligation, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: obligation kind %q", models.ErrValidation, kind)
	}
	return e.Store.GetObligation(ctx, kind, id, false)
}

func (e *SettlementEngine) ListObligations(ctx context.Context, kind models.ObligationKind, f models.ObligationFilter) ([]models.MetalObligation, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: obligation kind %q", models.ErrValidation, kind)
	}
	return e.Store.ListObligations(ctx, kind, f)
}

func (e *SettlementEngine) ListSettlements(ctx context.Context, kind models.ObligationKind, obligationId int) ([]models.MetalSettlement, error) {
	if _, err := requireOrganization(ctx); err != nil {
		return nil, err
	}
	return e.Store.ListSettlements(ctx, kind, obligationId)
}

// applyPayment moves the obligation's remaining grams down and derives the new status. A payment
// over the remaining by no more than epsilon closes the obligation; the grams actually applied
// are returned so a reversal restores exactly what was taken.
func applyPayment(o *models.MetalObligation, grams decimal.Decimal) (decimal.Decimal, error) {
	if o.Status == models.SettlementStatusPaid || o.Status == models.SettlementStatusCancelled {
		return decimal.Zero, fmt.Errorf("%w: %s %d is %s", models.ErrInvalidStatusTransition, o.Kind, o.ID, o.Status)
	}
	grams = utils.RoundQty(grams)
	if !grams.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: settled grams must be positive", models.ErrValidation)
	}
	if utils.ExceedsBy(grams, o.RemainingGrams) {
		return decimal.Zero, fmt.Errorf("%w: %s grams exceed the remaining %s", models.ErrValidation,
			grams.StringFixed(utils.QuantityPlaces), o.RemainingGrams.StringFixed(utils.QuantityPlaces))
	}
	applied := utils.MinDecimal(grams, o.RemainingGrams)
	remaining := o.RemainingGrams.Sub(applied)
	next := models.SettlementStatusPartiallyPaid
	if remaining.IsZero() {
		next = models.SettlementStatusPaid
	}
	if !o.Status.CanTransitionTo(next) {
		return decimal.Zero, fmt.Errorf("%w: %s -> %s", models.ErrInvalidStatusTransition, o.Status, next)
	}
	o.RemainingGrams = remaining
	o.Status = next
	return applied, o.CheckInvariant()
}

func settlementDocumentRef(kind models.ObligationKind, id int) string {
	return fmt.Sprintf("SETTLE-%s:%d", kind, id)
}

func (e *SettlementEngine) lockKey(org string, kind models.ObligationKind, id int) string {
	return fmt.Sprintf("settlement:%s:%s:%d", org, kind, id)
}

// SettleWithMetal pays an obligation in physical metal and writes the matching pure metal movement.
func (e *SettlementEngine) SettleWithMetal(ctx context.Context, kind models.ObligationKind, obligationId int, req MetalSettlementRequest) (*SettlementResult, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: obligation kind %q", models.ErrValidation, kind)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	req.Grams = utils.RoundQty(req.Grams)
	if !req.Grams.IsPositive() {
		return nil, fmt.Errorf("%w: grams must be positive", models.ErrValidation)
	}
	if kind == models.ObligationKindReceivable && req.PureMetalLotId <= 0 {
		return nil, fmt.Errorf("%w: a pure metal lot is required to settle a receivable in metal", models.ErrValidation)
	}
	if req.PaymentDate.IsZero() {
		req.PaymentDate = e.Clock()
	}

	ctx, span := tracer.Start(ctx, "SettlementEngine.SettleWithMetal", trace.WithAttributes(
		attribute.String("obligation_kind", string(kind)),
		attribute.Int("obligation_id", obligationId),
		attribute.Int("pure_metal_lot_id", req.PureMetalLotId),
	))
	defer span.End()

	unlock := obtainBestEffort(ctx, e.Locker, e.Logger, e.lockKey(org, kind, obligationId))
	defer unlock()

	res, err := withConflictRetry(ctx, e.Retry, e.Logger, "SettleWithMetal", func() (*SettlementResult, error) {
		var res *SettlementResult
		err := e.Store.WithTx(ctx, func(tx models.Store) error {
			var err error
			res, err = e.settleWithMetalTx(ctx, tx, org, kind, obligationId, req)
			return err
		})
		return res, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.ErrorKind(err))
		config.LogError(e.Logger, "settlementEngine.go", "SettleWithMetal", string(kind), obligationId, err)
		return nil, err
	}
	return res, nil
}

func (e *SettlementEngine) settleWithMetalTx(ctx context.Context, tx models.Store, org string, kind models.ObligationKind, obligationId int, req MetalSettlementRequest) (*SettlementResult, error) {
	o, err := tx.GetObligation(ctx, kind, obligationId, true)
	if err != nil {
		return nil, err
	}
	o.Kind = kind
	owed := o.RemainingGrams
	applied, err := applyPayment(o, req.Grams)
	if err != nil {
		return nil, err
	}
	// metal changes hands gram for gram, so the tolerance does not apply
	if !applied.Equal(req.Grams) {
		return nil, fmt.Errorf("%w: %s grams exceed the remaining %s", models.ErrValidation,
			req.Grams.StringFixed(utils.QuantityPlaces), owed.StringFixed(utils.QuantityPlaces))
	}

	ref := settlementDocumentRef(kind, o.ID)
	var lot *models.PureMetalLot
	var movement *models.PureMetalLotMovement

	switch {
	case kind == models.ObligationKindReceivable:
		lot, err = tx.GetPureMetalLot(ctx, req.PureMetalLotId, true)
		if err != nil {
			return nil, err
		}
		if lot.MetalType != o.MetalType {
			return nil, fmt.Errorf("%w: pure metal lot %d holds %s, obligation is %s", models.ErrValidation, lot.ID, lot.MetalType, o.MetalType)
		}
		if req.Grams.GreaterThan(lot.RemainingGrams) {
			return nil, fmt.Errorf("%w: pure metal lot %d has %s grams, requested %s", models.ErrInsufficientStock, lot.ID,
				lot.RemainingGrams.StringFixed(utils.QuantityPlaces), req.Grams.StringFixed(utils.QuantityPlaces))
		}
		movement, err = movePureMetalTx(ctx, tx, e.Logger, lot, pureMetalChange{
			org:          org,
			delta:        req.Grams.Neg(),
			movementType: models.PureMetalMovementTypeExit,
			documentRef:  ref,
			notes:        req.Notes,
			date:         req.PaymentDate,
		})
		if err != nil {
			return nil, err
		}

	case req.PureMetalLotId == 0:
		lot, err = createPureMetalLotTx(ctx, tx, org, models.NewPureMetalLot{
			MetalType:   o.MetalType,
			SourceType:  models.PureMetalLotSourceTypeCreditSettlement,
			SourceId:    o.ID,
			EntryDate:   req.PaymentDate,
			Notes:       req.Notes,
			DocumentRef: ref,
		}, req.Grams, decimal.NewFromInt(1))
		if err != nil {
			return nil, err
		}
		movements, err := tx.ListPureMetalLotMovements(ctx, models.PureMetalMovementFilter{PureMetalLotId: lot.ID})
		if err != nil {
			return nil, err
		}
		if len(movements) > 0 {
			movement = &movements[len(movements)-1]
		}

	default:
		lot, err = tx.GetPureMetalLot(ctx, req.PureMetalLotId, true)
		if err != nil {
			return nil, err
		}
		if lot.MetalType != o.MetalType {
			return nil, fmt.Errorf("%w: pure metal lot %d holds %s, obligation is %s", models.ErrValidation, lot.ID, lot.MetalType, o.MetalType)
		}
		movement, err = movePureMetalTx(ctx, tx, e.Logger, lot, pureMetalChange{
			org:          org,
			delta:        req.Grams,
			movementType: models.PureMetalMovementTypeEntry,
			documentRef:  ref,
			notes:        req.Notes,
			date:         req.PaymentDate,
			growInitial:  true,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.SaveObligationBalance(ctx, kind, o); err != nil {
		return nil, err
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	lotId := lot.ID
	s := &models.MetalSettlement{
		OrganizationId: org,
		ObligationKind: kind,
		ObligationId:   o.ID,
		Method:         models.SettlementMethodMetal,
		Grams:          req.Grams,
		Amount:         decimal.Zero,
		PriceUsed:      decimal.Zero,
		PureMetalLotId: &lotId,
		LotGrams:       req.Grams,
		PaymentDate:    req.PaymentDate,
		CorrelationId:  cid,
	}
	if movement != nil {
		mid := movement.ID
		s.LotMovementId = &mid
	}
	if err := tx.CreateSettlement(ctx, s); err != nil {
		return nil, err
	}
	return &SettlementResult{Obligation: o, Settlement: s}, nil
}

// SettleWithCurrency converts the amount to grams with the payment date's buy price. A full
// payment closes the obligation exactly and records the implied price instead.
func (e *SettlementEngine) SettleWithCurrency(ctx context.Context, kind models.ObligationKind, obligationId int, req CurrencySettlementRequest) (*SettlementResult, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: obligation kind %q", models.ErrValidation, kind)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if req.PaymentDate.IsZero() {
		req.PaymentDate = e.Clock()
	}

	ctx, span := tracer.Start(ctx, "SettlementEngine.SettleWithCurrency", trace.WithAttributes(
		attribute.String("obligation_kind", string(kind)),
		attribute.Int("obligation_id", obligationId),
		attribute.Bool("full_payment", req.IsFullPayment),
	))
	defer span.End()

	// quotation lookup happens before any lock is taken
	current, err := e.Store.GetObligation(ctx, kind, obligationId, false)
	if err != nil {
		return nil, err
	}
	var quote *models.Quotation
	if !req.IsFullPayment {
		quote, err = e.Quotes.GetQuotation(ctx, current.MetalType, req.PaymentDate)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if !quote.BuyPrice.IsPositive() {
			return nil, fmt.Errorf("%w: %s on %s", models.ErrQuotationNotFound, current.MetalType, req.PaymentDate.Format(utils.DateLayout))
		}
	}

	unlock := obtainBestEffort(ctx, e.Locker, e.Logger, e.lockKey(org, kind, obligationId))
	defer unlock()

	res, err := withConflictRetry(ctx, e.Retry, e.Logger, "SettleWithCurrency", func() (*SettlementResult, error) {
		var res *SettlementResult
		err := e.Store.WithTx(ctx, func(tx models.Store) error {
			o, err := tx.GetObligation(ctx, kind, obligationId, true)
			if err != nil {
				return err
			}
			o.Kind = kind

			var grams, price decimal.Decimal
			if req.IsFullPayment {
				if !o.RemainingGrams.IsPositive() {
					return fmt.Errorf("%w: %s %d has nothing left to pay", models.ErrInvalidStatusTransition, kind, o.ID)
				}
				grams = o.RemainingGrams
				price = req.Amount.DivRound(grams, utils.QuantityPlaces)
			} else {
				price = quote.BuyPrice
				grams = utils.RoundQty(req.Amount.Div(price))
			}
			grams, err = applyPayment(o, grams)
			if err != nil {
				return err
			}
			if err := tx.SaveObligationBalance(ctx, kind, o); err != nil {
				return err
			}
			cid, _ := utils.GetCorrelationIdFromContext(ctx)
			s := &models.MetalSettlement{
				OrganizationId: org,
				ObligationKind: kind,
				ObligationId:   o.ID,
				Method:         models.SettlementMethodCurrency,
				Grams:          grams,
				Amount:         req.Amount,
				PriceUsed:      price,
				LotGrams:       decimal.Zero,
				IsFullPayment:  req.IsFullPayment,
				PaymentDate:    req.PaymentDate,
				CorrelationId:  cid,
			}
			if err := tx.CreateSettlement(ctx, s); err != nil {
				return err
			}
			if err := e.Accounting.RecordCurrencySettlement(ctx, tx, currencyEvent(o, s, false)); err != nil {
				return err
			}
			res = &SettlementResult{Obligation: o, Settlement: s}
			return nil
		})
		return res, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, models.ErrorKind(err))
		config.LogError(e.Logger, "settlementEngine.go", "SettleWithCurrency", string(kind), obligationId, err)
		return nil, err
	}
	return res, nil
}

func currencyEvent(o *models.MetalObligation, s *models.MetalSettlement, reversal bool) CurrencySettlementEvent {
	return CurrencySettlementEvent{
		SettlementId:   s.ID,
		ObligationKind: s.ObligationKind,
		ObligationId:   o.ID,
		CounterpartyId: o.CounterpartyId,
		MetalType:      o.MetalType,
		Grams:          s.Grams,
		Amount:         s.Amount,
		PriceUsed:      s.PriceUsed,
		IsFullPayment:  s.IsFullPayment,
		PaymentDate:    s.PaymentDate,
		Reversal:       reversal,
	}
}

// Cancel closes a pending obligation. Anything already paid must be reversed first.
func (e *SettlementEngine) Cancel(ctx context.Context, kind models.ObligationKind, obligationId int) (*models.MetalObligation, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: obligation kind %q", models.ErrValidation, kind)
	}
	unlock := obtainBestEffort(ctx, e.Locker, e.Logger, e.lockKey(org, kind, obligationId))
	defer unlock()

	return withConflictRetry(ctx, e.Retry, e.Logger, "Cancel", func() (*models.MetalObligation, error) {
		var o *models.MetalObligation
		err := e.Store.WithTx(ctx, func(tx models.Store) error {
			var err error
			o, err = tx.GetObligation(ctx, kind, obligationId, true)
			if err != nil {
				return err
			}
			o.Kind = kind
			if !o.Status.CanTransitionTo(models.SettlementStatusCancelled) {
				return fmt.Errorf("%w: %s %d is %s", models.ErrInvalidStatusTransition, kind, o.ID, o.Status)
			}
			o.Status = models.SettlementStatusCancelled
			return tx.SaveObligationBalance(ctx, kind, o)
		})
		return o, err
	})
}

// ReverseSettlement is the only path that raises an obligation's remaining grams.
func (e *SettlementEngine) ReverseSettlement(ctx context.Context, settlementId int) (*SettlementResult, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "SettlementEngine.ReverseSettlement", trace.WithAttributes(attribute.Int("settlement_id", settlementId)))
	defer span.End()

	current, err := e.Store.GetSettlement(ctx, settlementId, false)
	if err != nil {
		return nil, err
	}
	unlock := obtainBestEffort(ctx, e.Locker, e.Logger, e.lockKey(org, current.ObligationKind, current.ObligationId))
	defer unlock()

	res, err := withConflictRetry(ctx, e.Retry, e.Logger, "ReverseSettlement", func() (*SettlementResult, error) {
		var res *SettlementResult
		err := e.Store.WithTx(ctx, func(tx models.Store) error {
			var err error
			res, err = e.reverseSettlementTx(ctx, tx, org, settlementId)
			return err
		})
		return res, err
	})
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, models.ErrAlreadyReversed) {
			config.LogError(e.Logger, "settlementEngine.go", "ReverseSettlement", "WithTx", settlementId, err)
		}
		return nil, err
	}
	return res, nil
}

func (e *SettlementEngine) reverseSettlementTx(ctx context.Context, tx models.Store, org string, settlementId int) (*SettlementResult, error) {
	s, err := tx.GetSettlement(ctx, settlementId, true)
	if err != nil {
		return nil, err
	}
	if s.ReversedAt != nil {
		return nil, fmt.Errorf("%w: settlement %d", models.ErrAlreadyReversed, s.ID)
	}
	kind := s.ObligationKind
	o, err := tx.GetObligation(ctx, kind, s.ObligationId, true)
	if err != nil {
		return nil, err
	}
	o.Kind = kind
	if o.Status == models.SettlementStatusCancelled {
		return nil, fmt.Errorf("%w: %s %d is cancelled", models.ErrInvalidStatusTransition, kind, o.ID)
	}
	o.RemainingGrams = utils.RoundQty(o.RemainingGrams.Add(s.Grams))
	if err := o.CheckInvariant(); err != nil {
		config.LogIntegrityAlert(e.Logger, "settlementEngine.go", "reverseSettlementTx", s, err)
		return nil, err
	}
	if utils.ApproxEqual(o.RemainingGrams, o.Grams) {
		o.RemainingGrams = o.Grams
		o.Status = models.SettlementStatusPending
	} else {
		o.Status = models.SettlementStatusPartiallyPaid
	}

	now := e.Clock()
	switch s.Method {
	case models.SettlementMethodMetal:
		if s.PureMetalLotId == nil {
			return nil, fmt.Errorf("%w: metal settlement %d has no lot", models.ErrInvariantViolation, s.ID)
		}
		lot, err := tx.GetPureMetalLot(ctx, *s.PureMetalLotId, true)
		if err != nil {
			return nil, err
		}
		change := pureMetalChange{
			org:         org,
			documentRef: "REV:" + settlementDocumentRef(kind, o.ID),
			notes:       ReversalReasonMetalSettlement,
			date:        notBefore(now, s.PaymentDate),
			compensates: s.LotMovementId,
		}
		if kind == models.ObligationKindReceivable {
			change.delta = s.LotGrams
			change.movementType = models.PureMetalMovementTypeEntry
		} else {
			if s.LotGrams.GreaterThan(lot.RemainingGrams) {
				return nil, fmt.Errorf("%w: pure metal lot %d already used, %s grams left of %s received", models.ErrInsufficientStock, lot.ID,
					lot.RemainingGrams.StringFixed(utils.QuantityPlaces), s.LotGrams.StringFixed(utils.QuantityPlaces))
			}
			change.delta = s.LotGrams.Neg()
			change.movementType = models.PureMetalMovementTypeExit
			change.growInitial = true
		}
		if _, err := movePureMetalTx(ctx, tx, e.Logger, lot, change); err != nil {
			return nil, err
		}
	case models.SettlementMethodCurrency:
		if err := e.Accounting.RecordCurrencySettlement(ctx, tx, currencyEvent(o, s, true)); err != nil {
			return nil, err
		}
	}

	if err := tx.SaveObligationBalance(ctx, kind, o); err != nil {
		return nil, err
	}
	if err := tx.MarkSettlementReversed(ctx, s.ID, now); err != nil {
		return nil, err
	}
	s.ReversedAt = &now
	return &SettlementResult{Obligation: o, Settlement: s}, nil
}

// RecordQuotation stores a day's prices. A past date that already has a quotation only accepts
// the identical values again.
func (e *SettlementEngine) RecordQuotation(ctx context.Context, input models.NewQuotation) (*models.Quotation, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if !input.BuyPrice.IsPositive() || !input.SellPrice.IsPositive() {
		return nil, fmt.Errorf("%w: quotation prices must be positive", models.ErrValidation)
	}
	date := utils.DateOnly(input.QuotationDate)
	today := utils.DateOnly(e.Clock())

	var q *models.Quotation
	err = e.Store.WithTx(ctx, func(tx models.Store) error {
		existing, err := tx.FindQuotation(ctx, input.MetalType, date)
		switch {
		case err == nil:
			if existing.BuyPrice.Equal(input.BuyPrice) && existing.SellPrice.Equal(input.SellPrice) {
				q = existing
				return nil
			}
			if date.Before(today) {
				return fmt.Errorf("%w: %s on %s", models.ErrImmutableQuotation, input.MetalType, date.Format(utils.DateLayout))
			}
		case !errors.Is(err, models.ErrQuotationNotFound):
			return err
		}
		q = &models.Quotation{
			OrganizationId: org,
			MetalType:      input.MetalType,
			QuotationDate:  date,
			BuyPrice:       input.BuyPrice,
			SellPrice:      input.SellPrice,
		}
		return tx.SaveQuotation(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}
