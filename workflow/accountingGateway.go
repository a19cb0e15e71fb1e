package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/shopspring/decimal"
)

// CurrencySettlementEvent is what the bookkeeping collaborator needs to create the money side
// of a currency settlement.
type CurrencySettlementEvent struct {
	SettlementId   int                   `json:"settlement_id"`
	ObligationKind models.ObligationKind `json:"obligation_kind"`
	ObligationId   int                   `json:"obligation_id"`
	CounterpartyId int                   `json:"counterparty_id"`
	MetalType      models.MetalType      `json:"metal_type"`
	Grams          decimal.Decimal       `json:"grams"`
	Amount         decimal.Decimal       `json:"amount"`
	PriceUsed      decimal.Decimal       `json:"price_used"`
	IsFullPayment  bool                  `json:"is_full_payment"`
	PaymentDate    time.Time             `json:"payment_date"`
	Reversal       bool                  `json:"reversal"`
}

// AccountingGateway triggers the external bookkeeping side of a settlement. It is called
// inside the settlement transaction with the transactional store.
type AccountingGateway interface {
	RecordCurrencySettlement(ctx context.Context, tx models.Store, ev CurrencySettlementEvent) error
}

// OutboxAccountingGateway stages the event in the ledger outbox. The dispatcher publishes it
// after commit, so a rolled back settlement never reaches bookkeeping.
type OutboxAccountingGateway struct{}

func (OutboxAccountingGateway) RecordCurrencySettlement(ctx context.Context, tx models.Store, ev CurrencySettlementEvent) error {
	org, err := requireOrganization(ctx)
	if err != nil {
		return err
	}
	action := models.OutboxActionCurrencySettlement
	if ev.Reversal {
		action = models.OutboxActionCurrencySettlementReversed
	}
	rec, err := models.NewOutboxRecord(ctx, org, ev.PaymentDate, models.OutboxReferenceSettlement, ev.SettlementId, action, ev)
	if err != nil {
		return err
	}
	return tx.EnqueueOutbox(ctx, rec)
}
