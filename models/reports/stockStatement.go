package reports

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// NoLotReference is the batch reference of movements not bound to a lot.
const NoLotReference = "N/A"

type StatementLine struct {
	Date           time.Time       `json:"date"`
	MovementId     int             `json:"movementId"`
	MovementType   string          `json:"movementType"`
	DocumentRef    string          `json:"documentRef"`
	LotId          int             `json:"lotId,omitempty"`
	LotReference   string          `json:"lotReference"`
	Quantity       decimal.Decimal `json:"quantity"`
	RunningBalance decimal.Decimal `json:"runningBalance"`
}

type Statement struct {
	ProductId      int              `json:"productId,omitempty"`
	MetalType      models.MetalType `json:"metalType,omitempty"`
	StartDate      time.Time        `json:"startDate"`
	EndDate        time.Time        `json:"endDate"`
	InitialBalance decimal.Decimal  `json:"initialBalance"`
	Lines          []StatementLine  `json:"lines"`
	FinalBalance   decimal.Decimal  `json:"finalBalance"`
}

// StatementBuilder replays the movement ledger over a date range. It only reads, and the same
// inputs over an unchanged ledger give the same statement.
type StatementBuilder struct {
	Store  models.Store
	Logger *logrus.Logger
}

func NewStatementBuilder(store models.Store, logger *logrus.Logger) *StatementBuilder {
	return &StatementBuilder{Store: store, Logger: logger}
}

func statementRange(ctx context.Context, start, end time.Time) (time.Time, time.Time, error) {
	if org, ok := utils.GetOrganizationIdFromContext(ctx); !ok || org == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: organization id missing from context", models.ErrValidation)
	}
	start, end = utils.DateOnly(start), utils.DateOnly(end)
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end date %s is before start date %s", models.ErrValidation,
			end.Format(utils.DateLayout), start.Format(utils.DateLayout))
	}
	return start, end, nil
}

// BuildStockStatement lists a product's movements from start to end, both days inclusive.
// The initial balance folds everything dated before start.
func (b *StatementBuilder) BuildStockStatement(ctx context.Context, productId int, start, end time.Time) (*Statement, error) {
	started := time.Now()
	start, end, err := statementRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if _, err := b.Store.GetProduct(ctx, productId, false); err != nil {
		return nil, err
	}

	before := start
	opening, err := b.Store.ListStockMovements(ctx, models.StockMovementFilter{ProductId: productId, Before: &before})
	if err != nil {
		return nil, err
	}
	upTo := models.DayAfter(end)
	movements, err := b.Store.ListStockMovements(ctx, models.StockMovementFilter{ProductId: productId, From: &start, Before: &upTo})
	if err != nil {
		return nil, err
	}
	models.SortStockMovements(movements)

	lots, err := b.Store.ListLotsByProduct(ctx, productId)
	if err != nil {
		return nil, err
	}
	batches := make(map[int]string, len(lots))
	for _, l := range lots {
		batches[l.ID] = l.BatchNumber
	}

	st := &Statement{
		ProductId:      productId,
		StartDate:      start,
		EndDate:        end,
		InitialBalance: models.FoldStockMovements(decimal.Zero, opening),
		Lines:          make([]StatementLine, 0, len(movements)),
	}
	deltas := make([]decimal.Decimal, len(movements))
	for i, m := range movements {
		deltas[i] = m.Quantity
	}
	running := models.ReplayBalances(st.InitialBalance, deltas)
	for i, m := range movements {
		line := StatementLine{
			Date:           m.MovementDate,
			MovementId:     m.ID,
			MovementType:   string(m.MovementType),
			DocumentRef:    m.DocumentRef,
			LotReference:   NoLotReference,
			Quantity:       m.Quantity,
			RunningBalance: utils.RoundQty(running[i]),
		}
		if m.InventoryLotId != nil {
			line.LotId = *m.InventoryLotId
			if batch, ok := batches[*m.InventoryLotId]; ok && batch != "" {
				line.LotReference = batch
			}
		}
		st.Lines = append(st.Lines, line)
	}
	st.FinalBalance = st.InitialBalance
	if n := len(st.Lines); n > 0 {
		st.FinalBalance = st.Lines[n-1].RunningBalance
	}
	b.logSlow(ctx, "stock_statement", started, map[string]any{"product_id": productId, "lines": len(st.Lines)})
	return st, nil
}

// BuildPureMetalStatement is the statement of every pure metal lot of one metal.
func (b *StatementBuilder) BuildPureMetalStatement(ctx context.Context, metalType models.MetalType, start, end time.Time) (*Statement, error) {
	started := time.Now()
	start, end, err := statementRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if !metalType.IsValid() {
		return nil, fmt.Errorf("%w: metal type %q", models.ErrValidation, metalType)
	}

	before := start
	opening, err := b.Store.ListPureMetalLotMovements(ctx, models.PureMetalMovementFilter{MetalType: metalType, Before: &before})
	if err != nil {
		return nil, err
	}
	upTo := models.DayAfter(end)
	movements, err := b.Store.ListPureMetalLotMovements(ctx, models.PureMetalMovementFilter{MetalType: metalType, From: &start, Before: &upTo})
	if err != nil {
		return nil, err
	}
	models.SortPureMetalMovements(movements)

	st := &Statement{
		MetalType:      metalType,
		StartDate:      start,
		EndDate:        end,
		InitialBalance: models.FoldPureMetalMovements(decimal.Zero, opening),
		Lines:          make([]StatementLine, 0, len(movements)),
	}
	running := st.InitialBalance
	for _, m := range movements {
		running = utils.RoundQty(running.Add(m.Grams))
		st.Lines = append(st.Lines, StatementLine{
			Date:           m.MovementDate,
			MovementId:     m.ID,
			MovementType:   string(m.MovementType),
			DocumentRef:    m.DocumentRef,
			LotId:          m.PureMetalLotId,
			LotReference:   fmt.Sprintf("PML-%d", m.PureMetalLotId),
			Quantity:       m.Grams,
			RunningBalance: running,
		})
	}
	st.FinalBalance = running
	b.logSlow(ctx, "pure_metal_statement", started, map[string]any{"metal_type": metalType, "lines": len(st.Lines)})
	return st, nil
}

func reportSlowMs() int64 {
	// Env: REPORT_SLOW_MS (default 500ms)
	ms := int64(500)
	if v := strings.TrimSpace(os.Getenv("REPORT_SLOW_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ms = n
		}
	}
	return ms
}

func (b *StatementBuilder) logSlow(ctx context.Context, name string, started time.Time, extra map[string]any) {
	d := time.Since(started)
	if d.Milliseconds() < reportSlowMs() {
		return
	}
	logger := b.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	org, _ := utils.GetOrganizationIdFromContext(ctx)
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	logger.WithFields(logrus.Fields{
		"field":           "slow_report",
		"name":            name,
		"ms":              d.Milliseconds(),
		"organization_id": org,
		"correlation_id":  cid,
		"extra":           extra,
	}).Warn("slow statement")
}
