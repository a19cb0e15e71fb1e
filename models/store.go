package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the ledger engines.
//
// Every method is scoped to the organization in ctx. Reads with lock=true take row locks
// when called inside WithTx. Save*Balance methods are version-checked and return
// ErrConcurrencyConflict when the row changed since it was read.
// Movements have no update or delete method: the ledger is append-only.
type Store interface {
	// WithTx runs fn in one atomic transaction. Any error rolls back every write made through tx.
	// Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id int, lock bool) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	AddProductStock(ctx context.Context, id int, delta decimal.Decimal) error
	SetProductStock(ctx context.Context, id int, stock decimal.Decimal) error

	CreateInventoryLot(ctx context.Context, lot *InventoryLot) error
	GetInventoryLot(ctx context.Context, id int, lock bool) (*InventoryLot, error)
	// ListAvailableLots returns lots with remaining > 0 ordered by received date, then id.
	// asOf excludes lots received after it.
	ListAvailableLots(ctx context.Context, productId int, asOf *time.Time, lock bool) ([]InventoryLot, error)
	ListLotsByProduct(ctx context.Context, productId int) ([]InventoryLot, error)
	SaveLotBalance(ctx context.Context, lot *InventoryLot) error

	AppendStockMovement(ctx context.Context, m *StockMovement) error
	// ListStockMovements returns movements ordered by movement date, then id.
	ListStockMovements(ctx context.Context, f StockMovementFilter) ([]StockMovement, error)

	CreatePureMetalLot(ctx context.Context, lot *PureMetalLot) error
	GetPureMetalLot(ctx context.Context, id int, lock bool) (*PureMetalLot, error)
	ListAvailablePureMetalLots(ctx context.Context, metalType MetalType, asOf *time.Time, lock bool) ([]PureMetalLot, error)
	ListPureMetalLots(ctx context.Context, metalType MetalType) ([]PureMetalLot, error)
	SavePureMetalLotBalance(ctx context.Context, lot *PureMetalLot) error

	AppendPureMetalLotMovement(ctx context.Context, m *PureMetalLotMovement) error
	ListPureMetalLotMovements(ctx context.Context, f PureMetalMovementFilter) ([]PureMetalLotMovement, error)

	CreateObligation(ctx context.Context, kind ObligationKind, o *MetalObligation) error
	GetObligation(ctx context.Context, kind ObligationKind, id int, lock bool) (*MetalObligation, error)
	ListObligations(ctx context.Context, kind ObligationKind, f ObligationFilter) ([]MetalObligation, error)
	SaveObligationBalance(ctx context.Context, kind ObligationKind, o *MetalObligation) error

	CreateSettlement(ctx context.Context, s *MetalSettlement) error
	GetSettlement(ctx context.Context, id int, lock bool) (*MetalSettlement, error)
	ListSettlements(ctx context.Context, kind ObligationKind, obligationId int) ([]MetalSettlement, error)
	// MarkSettlementReversed returns ErrAlreadyReversed when the settlement was reversed before.
	MarkSettlementReversed(ctx context.Context, id int, at time.Time) error

	// FindQuotation is an exact-date lookup; ErrQuotationNotFound when absent.
	FindQuotation(ctx context.Context, metalType MetalType, date time.Time) (*Quotation, error)
	// SaveQuotation inserts or overwrites the (metal, date) row.
	SaveQuotation(ctx context.Context, q *Quotation) error

	EnqueueOutbox(ctx context.Context, rec *LedgerOutboxRecord) error
	// ClaimOutbox moves up to limit ready rows to PROCESSING for dispatcherId. Rows that already
	// reached maxAttempts are marked DEAD and returned with that status.
	ClaimOutbox(ctx context.Context, dispatcherId string, now, staleBefore time.Time, limit, maxAttempts int) ([]LedgerOutboxRecord, error)
	MarkOutboxSent(ctx context.Context, id int, messageId string, at time.Time) error
	MarkOutboxFailed(ctx context.Context, id int, errMsg string, nextAttempt *time.Time, dead bool) error
	// ListOutbox returns the organization's outbox rows, newest first.
	ListOutbox(ctx context.Context, f OutboxFilter) ([]LedgerOutboxRecord, error)

	CreateReconciliationReport(ctx context.Context, r *ReconciliationReport) error
	ListReconciliationReports(ctx context.Context, since time.Time) ([]ReconciliationReport, error)

	CreateUnitCorrection(ctx context.Context, c *UnitCorrection) error
	GetUnitCorrection(ctx context.Context, id int, lock bool) (*UnitCorrection, error)
	ListUnitCorrections(ctx context.Context, productId int, status UnitCorrectionStatus) ([]UnitCorrection, error)
	SaveUnitCorrection(ctx context.Context, c *UnitCorrection) error
}
