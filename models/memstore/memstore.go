// Package memstore is an in-memory models.Store for DB-free tests.
// A transaction holds the store mutex for its whole duration and restores a snapshot on error,
// so concurrent WithTx calls are serialized the way row locks serialize them in MySQL.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
)

type quotationKey struct {
	org   string
	metal models.MetalType
	date  string
}

type state struct {
	seq           map[string]int
	products      map[int]models.Product
	lots          map[int]models.InventoryLot
	movements     []models.StockMovement
	pureLots      map[int]models.PureMetalLot
	pureMovements []models.PureMetalLotMovement
	obligations   map[models.ObligationKind]map[int]models.MetalObligation
	settlements   map[int]models.MetalSettlement
	quotations    map[quotationKey]models.Quotation
	outbox        map[int]models.LedgerOutboxRecord
	reports       []models.ReconciliationReport
	corrections   map[int]models.UnitCorrection
}

func newState() *state {
	return &state{
		seq:         map[string]int{},
		products:    map[int]models.Product{},
		lots:        map[int]models.InventoryLot{},
		pureLots:    map[int]models.PureMetalLot{},
		obligations: map[models.ObligationKind]map[int]models.MetalObligation{models.ObligationKindReceivable: {}, models.ObligationKindCredit: {}},
		settlements: map[int]models.MetalSettlement{},
		quotations:  map[quotationKey]models.Quotation{},
		outbox:      map[int]models.LedgerOutboxRecord{},
		corrections: map[int]models.UnitCorrection{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (st *state) clone() *state {
	c := &state{
		seq:           copyMap(st.seq),
		products:      copyMap(st.products),
		lots:          copyMap(st.lots),
		movements:     append([]models.StockMovement(nil), st.movements...),
		pureLots:      copyMap(st.pureLots),
		pureMovements: append([]models.PureMetalLotMovement(nil), st.pureMovements...),
		obligations:   map[models.ObligationKind]map[int]models.MetalObligation{},
		settlements:   copyMap(st.settlements),
		quotations:    copyMap(st.quotations),
		outbox:        copyMap(st.outbox),
		reports:       append([]models.ReconciliationReport(nil), st.reports...),
		corrections:   copyMap(st.corrections),
	}
	for k, m := range st.obligations {
		c.obligations[k] = copyMap(m)
	}
	return c
}

func (st *state) next(table string) int {
	st.seq[table]++
	return st.seq[table]
}

type fault struct {
	skip int
	err  error
}

type faults struct {
	mu        sync.Mutex
	conflicts int
	byOp      map[string]*fault
}

// Store is safe for concurrent use.
type Store struct {
	mu     *sync.Mutex
	st     *state
	faults *faults
	inTx   bool
	now    func() time.Time
}

var _ models.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		mu:     &sync.Mutex{},
		st:     newState(),
		faults: &faults{byOp: map[string]*fault{}},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// InjectConflicts makes the next n version-checked saves fail with ErrConcurrencyConflict.
func (s *Store) InjectConflicts(n int) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.conflicts = n
}

// FailOn makes the (skip+1)-th call of op return err once. op is the Store method name.
func (s *Store) FailOn(op string, skip int, err error) {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	s.faults.byOp[op] = &fault{skip: skip, err: err}
}

func (s *Store) injected(op string) error {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	f, ok := s.faults.byOp[op]
	if !ok {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	delete(s.faults.byOp, op)
	return f.err
}

func (s *Store) conflict(what string, id int) error {
	s.faults.mu.Lock()
	defer s.faults.mu.Unlock()
	if s.faults.conflicts > 0 {
		s.faults.conflicts--
		return fmt.Errorf("%w: injected on %s %d", models.ErrConcurrencyConflict, what, id)
	}
	return nil
}

func (s *Store) guard() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func org(ctx context.Context) string {
	o, _ := utils.GetOrganizationIdFromContext(ctx)
	return o
}

func notFound(what string, id int) error {
	return fmt.Errorf("%w: %s %d", models.ErrNotFound, what, id)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx models.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	tx := &Store{mu: s.mu, st: s.st, faults: s.faults, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Products

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	defer s.guard()()
	p.ID = s.st.next("products")
	p.CreatedAt, p.UpdatedAt = s.now(), s.now()
	s.st.products[p.ID] = *p
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id int, lock bool) (*models.Product, error) {
	defer s.guard()()
	p, ok := s.st.products[id]
	if !ok || p.OrganizationId != org(ctx) {
		return nil, notFound("product", id)
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	defer s.guard()()
	var out []models.Product
	for _, p := range s.st.products {
		if p.OrganizationId == org(ctx) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddProductStock(ctx context.Context, id int, delta decimal.Decimal) error {
	defer s.guard()()
	p, ok := s.st.products[id]
	if !ok || p.OrganizationId != org(ctx) {
		return notFound("product", id)
	}
	p.CurrentStock = p.CurrentStock.Add(delta)
	s.st.products[id] = p
	return nil
}

func (s *Store) SetProductStock(ctx context.Context, id int, stock decimal.Decimal) error {
	defer s.guard()()
	p, ok := s.st.products[id]
	if !ok || p.OrganizationId != org(ctx) {
		return notFound("product", id)
	}
	p.CurrentStock = stock
	s.st.products[id] = p
	return nil
}

// ---------------------------------------------------------------------------
// Inventory lots

func (s *Store) CreateInventoryLot(ctx context.Context, lot *models.InventoryLot) error {
	defer s.guard()()
	if err := s.injected("CreateInventoryLot"); err != nil {
		return err
	}
	lot.ID = s.st.next("inventory_lots")
	lot.CreatedAt, lot.UpdatedAt = s.now(), s.now()
	s.st.lots[lot.ID] = *lot
	return nil
}

func (s *Store) GetInventoryLot(ctx context.Context, id int, lock bool) (*models.InventoryLot, error) {
	defer s.guard()()
	lot, ok := s.st.lots[id]
	if !ok || lot.OrganizationId != org(ctx) {
		return nil, notFound("inventory lot", id)
	}
	return &lot, nil
}

func sortLots(lots []models.InventoryLot) {
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].ReceivedDate.Equal(lots[j].ReceivedDate) {
			return lots[i].ReceivedDate.Before(lots[j].ReceivedDate)
		}
		return lots[i].ID < lots[j].ID
	})
}

func (s *Store) ListAvailableLots(ctx context.Context, productId int, asOf *time.Time, lock bool) ([]models.InventoryLot, error) {
	defer s.guard()()
	var out []models.InventoryLot
	for _, lot := range s.st.lots {
		if lot.OrganizationId != org(ctx) || lot.ProductId != productId || !lot.IsAvailable() {
			continue
		}
		if asOf != nil && lot.ReceivedDate.After(*asOf) {
			continue
		}
		out = append(out, lot)
	}
	sortLots(out)
	return out, nil
}

func (s *Store) ListLotsByProduct(ctx context.Context, productId int) ([]models.InventoryLot, error) {
	defer s.guard()()
	var out []models.InventoryLot
	for _, lot := range s.st.lots {
		if lot.OrganizationId == org(ctx) && lot.ProductId == productId {
			out = append(out, lot)
		}
	}
	sortLots(out)
	return out, nil
}

func (s *Store) SaveLotBalance(ctx context.Context, lot *models.InventoryLot) error {
	defer s.guard()()
	if err := s.injected("SaveLotBalance"); err != nil {
		return err
	}
	if err := s.conflict("inventory lot", lot.ID); err != nil {
		return err
	}
	cur, ok := s.st.lots[lot.ID]
	if !ok || cur.OrganizationId != org(ctx) {
		return notFound("inventory lot", lot.ID)
	}
	if cur.Version != lot.Version {
		return fmt.Errorf("%w: inventory lot %d changed concurrently", models.ErrConcurrencyConflict, lot.ID)
	}
	cur.Quantity = lot.Quantity
	cur.RemainingQuantity = lot.RemainingQuantity
	cur.Version++
	cur.UpdatedAt = s.now()
	s.st.lots[lot.ID] = cur
	lot.Version = cur.Version
	return nil
}

// ---------------------------------------------------------------------------
// Stock movements

func (s *Store) AppendStockMovement(ctx context.Context, m *models.StockMovement) error {
	defer s.guard()()
	if err := s.injected("AppendStockMovement"); err != nil {
		return err
	}
	if m.CompensatesMovementId != nil {
		for _, existing := range s.st.movements {
			if existing.CompensatesMovementId != nil && *existing.CompensatesMovementId == *m.CompensatesMovementId {
				return fmt.Errorf("%w: movement %d", models.ErrAlreadyReversed, *m.CompensatesMovementId)
			}
		}
	}
	m.ID = s.st.next("stock_movements")
	m.CreatedAt = s.now()
	s.st.movements = append(s.st.movements, *m)
	return nil
}

func (s *Store) ListStockMovements(ctx context.Context, f models.StockMovementFilter) ([]models.StockMovement, error) {
	defer s.guard()()
	var out []models.StockMovement
	for _, m := range s.st.movements {
		if m.OrganizationId != org(ctx) {
			continue
		}
		if f.ProductId > 0 && m.ProductId != f.ProductId {
			continue
		}
		if f.InventoryLotId > 0 && (m.InventoryLotId == nil || *m.InventoryLotId != f.InventoryLotId) {
			continue
		}
		if f.DocumentRef != "" && m.DocumentRef != f.DocumentRef {
			continue
		}
		if f.CompensatesMovementId > 0 && (m.CompensatesMovementId == nil || *m.CompensatesMovementId != f.CompensatesMovementId) {
			continue
		}
		if f.MovementType != "" && m.MovementType != f.MovementType {
			continue
		}
		if f.From != nil && m.MovementDate.Before(*f.From) {
			continue
		}
		if f.Before != nil && !m.MovementDate.Before(*f.Before) {
			continue
		}
		out = append(out, m)
	}
	models.SortStockMovements(out)
	return out, nil
}

// ---------------------------------------------------------------------------
// Pure metal lots

func (s *Store) CreatePureMetalLot(ctx context.Context, lot *models.PureMetalLot) error {
	defer s.guard()()
	lot.ID = s.st.next("pure_metal_lots")
	lot.CreatedAt, lot.UpdatedAt = s.now(), s.now()
	s.st.pureLots[lot.ID] = *lot
	return nil
}

func (s *Store) GetPureMetalLot(ctx context.Context, id int, lock bool) (*models.PureMetalLot, error) {
	defer s.guard()()
	lot, ok := s.st.pureLots[id]
	if !ok || lot.OrganizationId != org(ctx) {
		return nil, notFound("pure metal lot", id)
	}
	return &lot, nil
}

func sortPureLots(lots []models.PureMetalLot) {
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].EntryDate.Equal(lots[j].EntryDate) {
			return lots[i].EntryDate.Before(lots[j].EntryDate)
		}
		return lots[i].ID < lots[j].ID
	})
}

func (s *Store) ListAvailablePureMetalLots(ctx context.Context, metalType models.MetalType, asOf *time.Time, lock bool) ([]models.PureMetalLot, error) {
	defer s.guard()()
	var out []models.PureMetalLot
	for _, lot := range s.st.pureLots {
		if lot.OrganizationId != org(ctx) || lot.MetalType != metalType || !lot.RemainingGrams.IsPositive() {
			continue
		}
		if asOf != nil && lot.EntryDate.After(*asOf) {
			continue
		}
		out = append(out, lot)
	}
	sortPureLots(out)
	return out, nil
}

func (s *Store) ListPureMetalLots(ctx context.Context, metalType models.MetalType) ([]models.PureMetalLot, error) {
	defer s.guard()()
	var out []models.PureMetalLot
	for _, lot := range s.st.pureLots {
		if lot.OrganizationId != org(ctx) || (metalType != "" && lot.MetalType != metalType) {
			continue
		}
		out = append(out, lot)
	}
	sortPureLots(out)
	return out, nil
}

func (s *Store) SavePureMetalLotBalance(ctx context.Context, lot *models.PureMetalLot) error {
	defer s.guard()()
	if err := s.injected("SavePureMetalLotBalance"); err != nil {
		return err
	}
	if err := s.conflict("pure metal lot", lot.ID); err != nil {
		return err
	}
	cur, ok := s.st.pureLots[lot.ID]
	if !ok || cur.OrganizationId != org(ctx) {
		return notFound("pure metal lot", lot.ID)
	}
	if cur.Version != lot.Version {
		return fmt.Errorf("%w: pure metal lot %d changed concurrently", models.ErrConcurrencyConflict, lot.ID)
	}
	cur.InitialGrams = lot.InitialGrams
	cur.RemainingGrams = lot.RemainingGrams
	cur.Status = lot.Status
	cur.Version++
	cur.UpdatedAt = s.now()
	s.st.pureLots[lot.ID] = cur
	lot.Version = cur.Version
	return nil
}

func (s *Store) AppendPureMetalLotMovement(ctx context.Context, m *models.PureMetalLotMovement) error {
	defer s.guard()()
	if err := s.injected("AppendPureMetalLotMovement"); err != nil {
		return err
	}
	if m.CompensatesMovementId != nil {
		for _, existing := range s.st.pureMovements {
			if existing.CompensatesMovementId != nil && *existing.CompensatesMovementId == *m.CompensatesMovementId {
				return fmt.Errorf("%w: pure metal movement %d", models.ErrAlreadyReversed, *m.CompensatesMovementId)
			}
		}
	}
	m.ID = s.st.next("pure_metal_lot_movements")
	m.CreatedAt = s.now()
	s.st.pureMovements = append(s.st.pureMovements, *m)
	return nil
}

func (s *Store) ListPureMetalLotMovements(ctx context.Context, f models.PureMetalMovementFilter) ([]models.PureMetalLotMovement, error) {
	defer s.guard()()
	var out []models.PureMetalLotMovement
	for _, m := range s.st.pureMovements {
		if m.OrganizationId != org(ctx) {
			continue
		}
		if f.PureMetalLotId > 0 && m.PureMetalLotId != f.PureMetalLotId {
			continue
		}
		if f.MetalType != "" && m.MetalType != f.MetalType {
			continue
		}
		if f.DocumentRef != "" && m.DocumentRef != f.DocumentRef {
			continue
		}
		if f.From != nil && m.MovementDate.Before(*f.From) {
			continue
		}
		if f.Before != nil && !m.MovementDate.Before(*f.Before) {
			continue
		}
		out = append(out, m)
	}
	models.SortPureMetalMovements(out)
	return out, nil
}

// ---------------------------------------------------------------------------
// Obligations

func (s *Store) CreateObligation(ctx context.Context, kind models.ObligationKind, o *models.MetalObligation) error {
	defer s.guard()()
	o.ID = s.st.next(kind.TableName())
	o.Kind = kind
	o.CreatedAt, o.UpdatedAt = s.now(), s.now()
	s.st.obligations[kind][o.ID] = *o
	return nil
}

func (s *Store) GetObligation(ctx context.Context, kind models.ObligationKind, id int, lock bool) (*models.MetalObligation, error) {
	defer s.guard()()
	o, ok := s.st.obligations[kind][id]
	if !ok || o.OrganizationId != org(ctx) {
		return nil, notFound(string(kind), id)
	}
	return &o, nil
}

func (s *Store) ListObligations(ctx context.Context, kind models.ObligationKind, f models.ObligationFilter) ([]models.MetalObligation, error) {
	defer s.guard()()
	var out []models.MetalObligation
	for _, o := range s.st.obligations[kind] {
		if o.OrganizationId != org(ctx) {
			continue
		}
		if f.CounterpartyId > 0 && o.CounterpartyId != f.CounterpartyId {
			continue
		}
		if f.MetalType != "" && o.MetalType != f.MetalType {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveObligationBalance(ctx context.Context, kind models.ObligationKind, o *models.MetalObligation) error {
	defer s.guard()()
	if err := s.injected("SaveObligationBalance"); err != nil {
		return err
	}
	if err := s.conflict(string(kind), o.ID); err != nil {
		return err
	}
	cur, ok := s.st.obligations[kind][o.ID]
	if !ok || cur.OrganizationId != org(ctx) {
		return notFound(string(kind), o.ID)
	}
	if cur.Version != o.Version {
		return fmt.Errorf("%w: %s %d changed concurrently", models.ErrConcurrencyConflict, kind, o.ID)
	}
	cur.RemainingGrams = o.RemainingGrams
	cur.Status = o.Status
	cur.Version++
	cur.UpdatedAt = s.now()
	s.st.obligations[kind][o.ID] = cur
	o.Version = cur.Version
	return nil
}

// ---------------------------------------------------------------------------
// Settlements

func (s *Store) CreateSettlement(ctx context.Context, st *models.MetalSettlement) error {
	defer s.guard()()
	st.ID = s.st.next("metal_settlements")
	st.CreatedAt = s.now()
	s.st.settlements[st.ID] = *st
	return nil
}

func (s *Store) GetSettlement(ctx context.Context, id int, lock bool) (*models.MetalSettlement, error) {
	defer s.guard()()
	st, ok := s.st.settlements[id]
	if !ok || st.OrganizationId != org(ctx) {
		return nil, notFound("settlement", id)
	}
	return &st, nil
}

func (s *Store) ListSettlements(ctx context.Context, kind models.ObligationKind, obligationId int) ([]models.MetalSettlement, error) {
	defer s.guard()()
	var out []models.MetalSettlement
	for _, st := range s.st.settlements {
		if st.OrganizationId == org(ctx) && st.ObligationKind == kind && st.ObligationId == obligationId {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MarkSettlementReversed(ctx context.Context, id int, at time.Time) error {
	defer s.guard()()
	st, ok := s.st.settlements[id]
	if !ok || st.OrganizationId != org(ctx) {
		return notFound("settlement", id)
	}
	if st.ReversedAt != nil {
		return fmt.Errorf("%w: settlement %d", models.ErrAlreadyReversed, id)
	}
	st.ReversedAt = &at
	s.st.settlements[id] = st
	return nil
}

// ---------------------------------------------------------------------------
// Quotations

func (s *Store) FindQuotation(ctx context.Context, metalType models.MetalType, date time.Time) (*models.Quotation, error) {
	defer s.guard()()
	q, ok := s.st.quotations[quotationKey{org: org(ctx), metal: metalType, date: date.UTC().Format(utils.DateLayout)}]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", models.ErrQuotationNotFound, metalType, date.Format(utils.DateLayout))
	}
	return &q, nil
}

func (s *Store) SaveQuotation(ctx context.Context, q *models.Quotation) error {
	defer s.guard()()
	q.QuotationDate = utils.DateOnly(q.QuotationDate)
	key := quotationKey{org: q.OrganizationId, metal: q.MetalType, date: q.QuotationDate.Format(utils.DateLayout)}
	if existing, ok := s.st.quotations[key]; ok {
		q.ID = existing.ID
		q.CreatedAt = existing.CreatedAt
	} else {
		q.ID = s.st.next("quotations")
		q.CreatedAt = s.now()
	}
	q.UpdatedAt = s.now()
	s.st.quotations[key] = *q
	return nil
}

// ---------------------------------------------------------------------------
// Outbox

func (s *Store) EnqueueOutbox(ctx context.Context, rec *models.LedgerOutboxRecord) error {
	defer s.guard()()
	if err := s.injected("EnqueueOutbox"); err != nil {
		return err
	}
	rec.ID = s.st.next("ledger_outbox_records")
	if rec.PublishStatus == "" {
		rec.PublishStatus = models.OutboxPublishStatusPending
	}
	rec.CreatedAt, rec.UpdatedAt = s.now(), s.now()
	s.st.outbox[rec.ID] = *rec
	return nil
}

func (s *Store) ClaimOutbox(ctx context.Context, dispatcherId string, now, staleBefore time.Time, limit, maxAttempts int) ([]models.LedgerOutboxRecord, error) {
	defer s.guard()()
	ids := make([]int, 0, len(s.st.outbox))
	for id := range s.st.outbox {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var claimed []models.LedgerOutboxRecord
	for _, id := range ids {
		if limit > 0 && len(claimed) >= limit {
			break
		}
		rec := s.st.outbox[id]
		ready := (rec.PublishStatus == models.OutboxPublishStatusPending || rec.PublishStatus == models.OutboxPublishStatusFailed) &&
			(rec.NextAttemptAt == nil || !rec.NextAttemptAt.After(now))
		stale := rec.PublishStatus == models.OutboxPublishStatusProcessing && rec.LockedAt != nil && !rec.LockedAt.After(staleBefore)
		if !ready && !stale {
			continue
		}
		if maxAttempts > 0 && rec.PublishAttempts >= maxAttempts {
			msg := fmt.Sprintf("max publish attempts exceeded (%d)", maxAttempts)
			rec.PublishStatus = models.OutboxPublishStatusDead
			rec.LastPublishError = &msg
			rec.NextAttemptAt, rec.LockedAt, rec.LockedBy = nil, nil, nil
		} else {
			lockedAt, lockedBy := now, dispatcherId
			rec.PublishStatus = models.OutboxPublishStatusProcessing
			rec.LockedAt = &lockedAt
			rec.LockedBy = &lockedBy
			rec.PublishAttempts++
			rec.LastPublishError = nil
			rec.NextAttemptAt = nil
		}
		s.st.outbox[id] = rec
		claimed = append(claimed, rec)
	}
	return claimed, nil
}

func (s *Store) MarkOutboxSent(ctx context.Context, id int, messageId string, at time.Time) error {
	defer s.guard()()
	rec, ok := s.st.outbox[id]
	if !ok {
		return notFound("outbox record", id)
	}
	rec.PublishStatus = models.OutboxPublishStatusSent
	rec.PublishedAt = &at
	rec.PubSubMessageId = &messageId
	rec.LockedAt, rec.LockedBy, rec.NextAttemptAt = nil, nil, nil
	s.st.outbox[id] = rec
	return nil
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id int, errMsg string, nextAttempt *time.Time, dead bool) error {
	defer s.guard()()
	rec, ok := s.st.outbox[id]
	if !ok {
		return notFound("outbox record", id)
	}
	rec.PublishStatus = models.OutboxPublishStatusFailed
	rec.NextAttemptAt = nextAttempt
	if dead {
		rec.PublishStatus = models.OutboxPublishStatusDead
		rec.NextAttemptAt = nil
	}
	rec.LastPublishError = &errMsg
	rec.LockedAt, rec.LockedBy = nil, nil
	s.st.outbox[id] = rec
	return nil
}

func (s *Store) ListOutbox(ctx context.Context, f models.OutboxFilter) ([]models.LedgerOutboxRecord, error) {
	defer s.guard()()
	var out []models.LedgerOutboxRecord
	for _, rec := range s.st.outbox {
		if rec.OrganizationId != org(ctx) {
			continue
		}
		if (f.ReferenceType != "" && rec.ReferenceType != f.ReferenceType) ||
			(f.ReferenceId > 0 && rec.ReferenceId != f.ReferenceId) ||
			(f.PublishStatus != "" && rec.PublishStatus != f.PublishStatus) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Outbox returns every outbox record of the organization in id order.
func (s *Store) Outbox(ctx context.Context) []models.LedgerOutboxRecord {
	defer s.guard()()
	var out []models.LedgerOutboxRecord
	for _, rec := range s.st.outbox {
		if o := org(ctx); o == "" || rec.OrganizationId == o {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---------------------------------------------------------------------------
// Reconciliation and unit corrections

func (s *Store) CreateReconciliationReport(ctx context.Context, r *models.ReconciliationReport) error {
	defer s.guard()()
	r.ID = s.st.next("reconciliation_reports")
	r.CreatedAt = s.now()
	s.st.reports = append(s.st.reports, *r)
	return nil
}

func (s *Store) ListReconciliationReports(ctx context.Context, since time.Time) ([]models.ReconciliationReport, error) {
	defer s.guard()()
	var out []models.ReconciliationReport
	for _, r := range s.st.reports {
		if r.OrganizationId == org(ctx) && !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) CreateUnitCorrection(ctx context.Context, c *models.UnitCorrection) error {
	defer s.guard()()
	c.ID = s.st.next("unit_corrections")
	c.CreatedAt, c.UpdatedAt = s.now(), s.now()
	s.st.corrections[c.ID] = *c
	return nil
}

func (s *Store) GetUnitCorrection(ctx context.Context, id int, lock bool) (*models.UnitCorrection, error) {
	defer s.guard()()
	c, ok := s.st.corrections[id]
	if !ok || c.OrganizationId != org(ctx) {
		return nil, notFound("unit correction", id)
	}
	return &c, nil
}

func (s *Store) ListUnitCorrections(ctx context.Context, productId int, status models.UnitCorrectionStatus) ([]models.UnitCorrection, error) {
	defer s.guard()()
	var out []models.UnitCorrection
	for _, c := range s.st.corrections {
		if c.OrganizationId != org(ctx) {
			continue
		}
		if productId > 0 && c.ProductId != productId {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveUnitCorrection(ctx context.Context, c *models.UnitCorrection) error {
	defer s.guard()()
	cur, ok := s.st.corrections[c.ID]
	if !ok || cur.OrganizationId != org(ctx) {
		return notFound("unit correction", c.ID)
	}
	c.UpdatedAt = s.now()
	s.st.corrections[c.ID] = *c
	return nil
}

// CorruptLotBalance overwrites a lot's cached remaining quantity without writing a movement.
// Tests use it to simulate drift for reconciliation.
func (s *Store) CorruptLotBalance(id int, remaining decimal.Decimal) {
	defer s.guard()()
	lot := s.st.lots[id]
	lot.RemainingQuantity = remaining
	s.st.lots[id] = lot
}

// CorruptProductStock overwrites a product's cached stock.
func (s *Store) CorruptProductStock(id int, stock decimal.Decimal) {
	defer s.guard()()
	p := s.st.products[id]
	p.CurrentStock = stock
	s.st.products[id] = p
}
