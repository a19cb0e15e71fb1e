package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	mysqlErrDuplicateEntry   = 1062
	mysqlErrLockWaitTimeout  = 1205
	mysqlErrDeadlockDetected = 1213
)

// GormStore implements Store on MySQL through gorm.
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *GormStore) locked(q *gorm.DB, lock bool) *gorm.DB {
	if lock && s.inTx {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func organizationId(ctx context.Context) string {
	org, _ := utils.GetOrganizationIdFromContext(ctx)
	return org
}

// translateError maps driver and gorm errors to the ledger's typed errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDeadlockDetected, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
	}
	return err
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
	return translateError(err)
}

// ---------------------------------------------------------------------------
// Products

func (s *GormStore) CreateProduct(ctx context.Context, p *Product) error {
	return translateError(s.conn(ctx).Create(p).Error)
}

func (s *GormStore) GetProduct(ctx context.Context, id int, lock bool) (*Product, error) {
	var p Product
	q := s.conn(ctx).Where("id = ? AND organization_id = ?", id, organizationId(ctx))
	if err := s.locked(q, lock).First(&p).Error; err != nil {
		return nil, translateError(err)
	}
	return &p, nil
}

func (s *GormStore) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	err := s.conn(ctx).Where("organization_id = ?", organizationId(ctx)).Order("id ASC").Find(&products).Error
	return products, translateError(err)
}

func (s *GormStore) AddProductStock(ctx context.Context, id int, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	res := s.conn(ctx).Model(&Product{}).
		Where("id = ? AND organization_id = ?", id, organizationId(ctx)).
		Update("current_stock", gorm.Expr("current_stock + ?", delta))
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return nil
}

func (s *GormStore) SetProductStock(ctx context.Context, id int, stock decimal.Decimal) error {
	err := s.conn(ctx).Model(&Product{}).
		Where("id = ? AND organization_id = ?", id, organizationId(ctx)).
		Update("current_stock", stock).Error
	return translateError(err)
}

// ---------------------------------------------------------------------------
// Inventory lots

func (s *GormStore) CreateInventoryLot(ctx context.Context, lot *InventoryLot) error {
	return translateError(s.conn(ctx).Create(lot).Error)
}

func (s *GormStore) GetInventoryLot(ctx context.Context, id int, lock bool) (*InventoryLot, error) {
	var lot InventoryLot
	q := s.conn(ctx).Where("id = ? AND organization_id = ?", id, organizationId(ctx))
	if err := s.locked(q, lock).First(&lot).Error; err != nil {
		return nil, translateError(err)
	}
	return &lot, nil
}

func (s *GormStore) ListAvailableLots(ctx context.Context, productId int, asOf *time.Time, lock bool) ([]InventoryLot, error) {
	var lots []InventoryLot
	q := s.conn(ctx).
		Where("organization_id = ? AND product_id = ? AND remaining_quantity > 0", organizationId(ctx), productId)
	if asOf != nil {
		q = q.Where("received_date <= ?", *asOf)
	}
	q = q.Order("received_date ASC").Order("id ASC")
	err := s.locked(q, lock).Find(&lots).Error
	return lots, translateError(err)
}

func (s *GormStore) ListLotsByProduct(ctx context.Context, productId int) ([]InventoryLot, error) {
	var lots []InventoryLot
	err := s.conn(ctx).
		Where("organization_id = ? AND product_id = ?", organizationId(ctx), productId).
		Order("received_date ASC").Order("id ASC").
		Find(&lots).Error
	return lots, translateError(err)
}

func (s *GormStore) SaveLotBalance(ctx context.Context, lot *InventoryLot) error {
	res := s.conn(ctx).Model(&InventoryLot{}).
		Where("id = ? AND organization_id = ? AND version = ?", lot.ID, organizationId(ctx), lot.Version).
		Updates(map[string]interface{}{
			"quantity":           lot.Quantity,
			"remaining_quantity": lot.RemainingQuantity,
			"version":            lot.Version + 1,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: inventory lot %d changed concurrently", ErrConcurrencyConflict, lot.ID)
	}
	lot.Version++
	return nil
}

// ---------------------------------------------------------------------------
// Stock movements (append-only)

func (s *GormStore) AppendStockMovement(ctx context.Context, m *StockMovement) error {
	err := s.conn(ctx).Create(m).Error
	if isDuplicateEntry(err) && m.CompensatesMovementId != nil {
		return fmt.Errorf("%w: movement %d", ErrAlreadyReversed, *m.CompensatesMovementId)
	}
	return translateError(err)
}

func (s *GormStore) ListStockMovements(ctx context.Context, f StockMovementFilter) ([]StockMovement, error) {
	var movements []StockMovement
	q := s.conn(ctx).Where("organization_id = ?", organizationId(ctx))
	if f.ProductId > 0 {
		q = q.Where("product_id = ?", f.ProductId)
	}
	if f.InventoryLotId > 0 {
		q = q.Where("inventory_lot_id = ?", f.InventoryLotId)
	}
	if f.DocumentRef != "" {
		q = q.Where("document_ref = ?", f.DocumentRef)
	}
	if f.CompensatesMovementId > 0 {
		q = q.Where("compensates_movement_id = ?", f.CompensatesMovementId)
	}
	if f.MovementType != "" {
		q = q.Where("movement_type = ?", f.MovementType)
	}
	if f.From != nil {
		q = q.Where("movement_date >= ?", *f.From)
	}
	if f.Before != nil {
		q = q.Where("movement_date < ?", *f.Before)
	}
	err := q.Order("movement_date ASC").Order("id ASC").Find(&movements).Error
	return movements, translateError(err)
}

// ---------------------------------------------------------------------------
// Pure metal lots

func (s *GormStore) CreatePureMetalLot(ctx context.Context, lot *PureMetalLot) error {
	return translateError(s.conn(ctx).Create(lot).Error)
}

func (s *GormStore) GetPureMetalLot(ctx context.Context, id int, lock bool) (*PureMetalLot, error) {
	var lot PureMetalLot
	q := s.conn(ctx).Where("id = ? AND organization_id = ?", id, organizationId(ctx))
	if err := s.locked(q, lock).First(&lot).Error; err != nil {
		return nil, translateError(err)
	}
	return &lot, nil
}

func (s *GormStore) ListAvailablePureMetalLots(ctx context.Context, metalType MetalType, asOf *time.Time, lock bool) ([]PureMetalLot, error) {
	var lots []PureMetalLot
	q := s.conn(ctx).
		Where("organization_id = ? AND metal_type = ? AND remaining_grams > 0", organizationId(ctx), metalType)
	if asOf != nil {
		q = q.Where("entry_date <= ?", *asOf)
	}
	q = q.Order("entry_date ASC").Order("id ASC")
	err := s.locked(q, lock).Find(&lots).Error
	return lots, translateError(err)
}

func (s *GormStore) ListPureMetalLots(ctx context.Context, metalType MetalType) ([]PureMetalLot, error) {
	var lots []PureMetalLot
	q := s.conn(ctx).Where("organization_id = ?", organizationId(ctx))
	if metalType != "" {
		q = q.Where("metal_type = ?", metalType)
	}
	err := q.Order("entry_date ASC").Order("id ASC").Find(&lots).Error
	return lots, translateError(err)
}

func (s *GormStore) SavePureMetalLotBalance(ctx context.Context, lot *PureMetalLot) error {
	res := s.conn(ctx).Model(&PureMetalLot{}).
		Where("id = ? AND organization_id = ? AND version = ?", lot.ID, organizationId(ctx), lot.Version).
		Updates(map[string]interface{}{
			"initial_grams":   lot.InitialGrams,
			"remaining_grams": lot.RemainingGrams,
			"status":          lot.Status,
			"version":         lot.Version + 1,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: pure metal lot %d changed concurrently", ErrConcurrencyConflict, lot.ID)
	}
	lot.Version++
	return nil
}

func (s *GormStore) AppendPureMetalLotMovement(ctx context.Context, m *PureMetalLotMovement) error {
	err := s.conn(ctx).Create(m).Error
	if isDuplicateEntry(err) && m.CompensatesMovementId != nil {
		return fmt.Errorf("%w: pure metal movement %d", ErrAlreadyReversed, *m.CompensatesMovementId)
	}
	return translateError(err)
}

func (s *GormStore) ListPureMetalLotMovements(ctx context.Context, f PureMetalMovementFilter) ([]PureMetalLotMovement, error) {
	var movements []PureMetalLotMovement
	q := s.conn(ctx).Where("organization_id = ?", organizationId(ctx))
	if f.PureMetalLotId > 0 {
		q = q.Where("pure_metal_lot_id = ?", f.PureMetalLotId)
	}
	if f.MetalType != "" {
		q = q.Where("metal_type = ?", f.MetalType)
	}
	if f.DocumentRef != "" {
		q = q.Where("document_ref = ?", f.DocumentRef)
	}
	if f.From != nil {
		q = q.Where("movement_date >= ?", *f.From)
	}
	if f.Before != nil {
		q = q.Where("movement_date < ?", *f.Before)
	}
	err := q.Order("movement_date ASC").Order("id ASC").Find(&movements).Error
	return movements, translateError(err)
}

// ---------------------------------------------------------------------------
// Obligations (receivables / credits share columns, separate tables)

func (s *GormStore) CreateObligation(ctx context.Context, kind ObligationKind, o *MetalObligation) error {
	if err := s.conn(ctx).Table(kind.TableName()).Create(o).Error; err != nil {
		return translateError(err)
	}
	o.Kind = kind
	return nil
}

func (s *GormStore) GetObligation(ctx context.Context, kind ObligationKind, id int, lock bool) (*MetalObligation, error) {
	var o MetalObligation
	q := s.conn(ctx).Table(kind.TableName()).Where("id = ? AND organization_id = ?", id, organizationId(ctx))
	if err := s.locked(q, lock).First(&o).Error; err != nil {
		return nil, translateError(err)
	}
	o.Kind = kind
	return &o, nil
}

func (s *GormStore) ListObligations(ctx context.Context, kind ObligationKind, f ObligationFilter) ([]MetalObligation, error) {
	var out []MetalObligation
	q := s.conn(ctx).Table(kind.TableName()).Where("organization_id = ?", organizationId(ctx))
	if f.CounterpartyId > 0 {
		q = q.Where("counterparty_id = ?", f.CounterpartyId)
	}
	if f.MetalType != "" {
		q = q.Where("metal_type = ?", f.MetalType)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, translateError(err)
	}
	for i := range out {
		out[i].Kind = kind
	}
	return out, nil
}

func (s *GormStore) SaveObligationBalance(ctx context.Context, kind ObligationKind, o *MetalObligation) error {
	res := s.conn(ctx).Table(kind.TableName()).Model(&MetalObligation{}).
		Where("id = ? AND organization_id = ? AND version = ?", o.ID, organizationId(ctx), o.Version).
		Updates(map[string]interface{}{
			"remaining_grams": o.RemainingGrams,
			"status":          o.Status,
			"version":         o.Version + 1,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %d changed concurrently", ErrConcurrencyConflict, kind, o.ID)
	}
	o.Version++
	return nil
}

// ---------------------------------------------------------------------------
// Settlements

func (s *GormStore) CreateSettlement(ctx context.Context, st *MetalSettlement) error {
	return translateError(s.conn(ctx).Create(st).Error)
}

func (s *GormStore) GetSettlement(ctx context.Context, id int, lock bool) (*MetalSettlement, error) {
	var st MetalSettlement
	q := s.conn(ctx).Where("id = ? AND organization_id = ?", id, organizationId(ctx))
	if err := s.locked(q, lock).First(&st).Error; err != nil {
		return nil, translateError(err)
	}
	return &st, nil
}

func (s *GormStore) ListSettlements(ctx context.Context, kind ObligationKind, obligationId int) ([]MetalSettlement, error) {
	var out []MetalSettlement
	err := s.conn(ctx).
		Where("organization_id = ? AND obligation_kind = ? AND obligation_id = ?", organizationId(ctx), kind, obligationId).
		Order("id ASC").Find(&out).Error
	return out, translateError(err)
}

func (s *GormStore) MarkSettlementReversed(ctx context.Context, id int, at time.Time) error {
	res := s.conn(ctx).Model(&MetalSettlement{}).
		Where("id = ? AND organization_id = ? AND reversed_at IS NULL", id, organizationId(ctx)).
		Update("reversed_at", at)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetSettlement(ctx, id, false); err != nil {
			return err
		}
		return fmt.Errorf("%w: settlement %d", ErrAlreadyReversed, id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Quotations

func (s *GormStore) FindQuotation(ctx context.Context, metalType MetalType, date time.Time) (*Quotation, error) {
	var q Quotation
	err := s.conn(ctx).
		Where("organization_id = ? AND metal_type = ? AND quotation_date = ?", organizationId(ctx), metalType, utils.DateOnly(date)).
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s on %s", ErrQuotationNotFound, metalType, date.Format(utils.DateLayout))
	}
	if err != nil {
		return nil, translateError(err)
	}
	return &q, nil
}

func (s *GormStore) SaveQuotation(ctx context.Context, q *Quotation) error {
	q.QuotationDate = utils.DateOnly(q.QuotationDate)
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "metal_type"}, {Name: "quotation_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"buy_price", "sell_price", "updated_at"}),
	}).Create(q).Error
	if err != nil {
		return translateError(err)
	}
	saved, err := s.FindQuotation(ctx, q.MetalType, q.QuotationDate)
	if err != nil {
		return err
	}
	*q = *saved
	return nil
}

// ---------------------------------------------------------------------------
// Outbox

func (s *GormStore) EnqueueOutbox(ctx context.Context, rec *LedgerOutboxRecord) error {
	return translateError(s.conn(ctx).Create(rec).Error)
}

// ClaimOutbox is cross-organization: the dispatcher serves every organization.
func (s *GormStore) ClaimOutbox(ctx context.Context, dispatcherId string, now, staleBefore time.Time, limit, maxAttempts int) ([]LedgerOutboxRecord, error) {
	var claimed []LedgerOutboxRecord
	ctx = utils.SetSkipOrganizationScopeInContext(ctx, true)
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING but lock is stale (dispatcher crashed mid-batch)
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{OutboxPublishStatusPending, OutboxPublishStatusFailed}, now, OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			// Poison messages go terminal (DLQ equivalent).
			if maxAttempts > 0 && claimed[i].PublishAttempts >= maxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", maxAttempts)
				claimed[i].PublishStatus = OutboxPublishStatusDead
				claimed[i].LastPublishError = &msg
				if err := tx.Model(&LedgerOutboxRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			lockedBy := dispatcherId
			claimed[i].PublishStatus = OutboxPublishStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &lockedBy
			claimed[i].PublishAttempts++
			claimed[i].LastPublishError = nil
			if err := tx.Model(&LedgerOutboxRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     claimed[i].PublishStatus,
				"locked_at":          claimed[i].LockedAt,
				"locked_by":          claimed[i].LockedBy,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, translateError(err)
}

func (s *GormStore) MarkOutboxSent(ctx context.Context, id int, messageId string, at time.Time) error {
	return translateError(s.conn(ctx).Model(&LedgerOutboxRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_status":     OutboxPublishStatusSent,
			"published_at":       &at,
			"pub_sub_message_id": &messageId,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error)
}

func (s *GormStore) MarkOutboxFailed(ctx context.Context, id int, errMsg string, nextAttempt *time.Time, dead bool) error {
	status := OutboxPublishStatusFailed
	if dead {
		status = OutboxPublishStatusDead
		nextAttempt = nil
	}
	return translateError(s.conn(ctx).Model(&LedgerOutboxRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"publish_status":     status,
			"last_publish_error": &errMsg,
			"next_attempt_at":    nextAttempt,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error)
}

func (s *GormStore) ListOutbox(ctx context.Context, f OutboxFilter) ([]LedgerOutboxRecord, error) {
	q := s.conn(ctx).Where("organization_id = ?", organizationId(ctx))
	if f.ReferenceType != "" {
		q = q.Where("reference_type = ?", f.ReferenceType)
	}
	if f.ReferenceId > 0 {
		q = q.Where("reference_id = ?", f.ReferenceId)
	}
	if f.PublishStatus != "" {
		q = q.Where("publish_status = ?", f.PublishStatus)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []LedgerOutboxRecord
	err := q.Order("id DESC").Find(&out).Error
	return out, translateError(err)
}

// ---------------------------------------------------------------------------
// Reconciliation and unit corrections

func (s *GormStore) CreateReconciliationReport(ctx context.Context, r *ReconciliationReport) error {
	return translateError(s.conn(ctx).Create(r).Error)
}

func (s *GormStore) ListReconciliationReports(ctx context.Context, since time.Time) ([]ReconciliationReport, error) {
	var out []ReconciliationReport
	err := s.conn(ctx).
		Where("organization_id = ? AND created_at >= ?", organizationId(ctx), since).
		Order("id ASC").Find(&out).Error
	return out, translateError(err)
}

func (s *GormStore) CreateUnitCorrection(ctx context.Context, c *UnitCorrection) error {
	return translateError(s.conn(ctx).Create(c).Error)
}

func (s *GormStore) GetUnitCorrection(ctx context.Context, id int, lock bool) (*UnitCorrection, error) {
	var c UnitCorrection
	q := s.conn(ctx).Where("id = ? AND organization_id = ?", id, organizationId(ctx))
	if err := s.locked(q, lock).First(&c).Error; err != nil {
		return nil, translateError(err)
	}
	return &c, nil
}

func (s *GormStore) ListUnitCorrections(ctx context.Context, productId int, status UnitCorrectionStatus) ([]UnitCorrection, error) {
	var out []UnitCorrection
	q := s.conn(ctx).Where("organization_id = ?", organizationId(ctx))
	if productId > 0 {
		q = q.Where("product_id = ?", productId)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("id ASC").Find(&out).Error
	return out, translateError(err)
}

func (s *GormStore) SaveUnitCorrection(ctx context.Context, c *UnitCorrection) error {
	return translateError(s.conn(ctx).
		Where("organization_id = ?", organizationId(ctx)).
		Save(c).Error)
}
