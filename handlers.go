package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/models/reports"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/mmdatafocus/metal_ledger/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	organizationHeader = "X-Organization-Id"
	userNameHeader     = "X-User-Name"
)

// ledgerServices wires the engines over one store. It is built once dependencies are connected.
type ledgerServices struct {
	store       models.Store
	logger      *logrus.Logger
	lots        *workflow.LotRegistry
	ledger      *workflow.MovementLedger
	allocations *workflow.AllocationEngine
	settlements *workflow.SettlementEngine
	statements  *reports.StatementBuilder
	corrections *workflow.UnitCorrectionWorkflow
}

func newLedgerServices(store models.Store, logger *logrus.Logger, rdb redis.UniversalClient, locker *redislock.Client) *ledgerServices {
	var quotes workflow.QuotationProvider = workflow.StoreQuotationProvider{Store: store}
	if rdb != nil {
		quotes = workflow.NewQuotationCache(quotes, rdb, logger)
	}
	return &ledgerServices{
		store:       store,
		logger:      logger,
		lots:        workflow.NewLotRegistry(store, logger),
		ledger:      workflow.NewMovementLedger(store, logger),
		allocations: workflow.NewAllocationEngine(store, logger, locker),
		settlements: workflow.NewSettlementEngine(store, logger, locker, quotes),
		statements:  reports.NewStatementBuilder(store, logger),
		corrections: workflow.NewUnitCorrectionWorkflow(store, logger),
	}
}

// httpStatus maps a ledger error to the response status.
func httpStatus(err error) int {
	switch models.ErrorKind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "insufficient_stock", "allocation_mismatch", "invalid_status_transition",
		"immutable_quotation", "already_reversed", "immutable_ledger":
		return http.StatusConflict
	case "quotation_not_found":
		return http.StatusUnprocessableEntity
	case "transient_failure", "concurrency_conflict":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal error", "kind": models.ErrorKind(err)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": models.ErrorKind(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": "validation"})
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryDate(c *gin.Context, name string, def time.Time) (time.Time, bool) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return def, true
	}
	d, err := utils.ParseDate(v)
	if err != nil {
		badRequest(c, name+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

// organizationMiddleware moves the X-Organization-Id header into the request context.
func organizationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		org := strings.TrimSpace(c.GetHeader(organizationHeader))
		if org == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": organizationHeader + " header is required", "kind": "validation"})
			return
		}
		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), org)
		if user := strings.TrimSpace(c.GetHeader(userNameHeader)); user != "" {
			ctx = utils.SetUserNameInContext(ctx, user)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func registerLedgerRoutes(r gin.IRouter, svc func() *ledgerServices) {
	g := r.Group("/internal", organizationMiddleware())
	h := &ledgerHandlers{svc: svc}

	g.POST("/products", h.createProduct)
	g.GET("/products/:id/lots", h.listLots)
	g.GET("/products/:id/balance", h.productBalance)
	g.GET("/products/:id/statement", h.productStatement)
	g.POST("/lots", h.createLot)
	g.GET("/lots/:id", h.getLot)
	g.POST("/lots/:id/adjust", h.adjustLot)

	g.POST("/allocations", h.allocate)
	g.POST("/allocations/preview", h.previewAllocation)
	g.POST("/allocations/reverse", h.reverseAllocation)
	g.POST("/pure-metal-allocations", h.allocatePureMetal)

	g.POST("/pure-metal-lots", h.createPureMetalLot)
	g.GET("/pure-metal-lots", h.listPureMetalLots)
	g.POST("/pure-metal-lots/:id/adjust", h.adjustPureMetalLot)
	g.GET("/pure-metal-statement", h.pureMetalStatement)

	for path, kind := range map[string]models.ObligationKind{
		"/receivables": models.ObligationKindReceivable,
		"/credits":     models.ObligationKindCredit,
	} {
		g.POST(path, h.createObligation(kind))
		g.GET(path, h.listObligations(kind))
		g.GET(path+"/:id", h.getObligation(kind))
		g.GET(path+"/:id/settlements", h.listSettlements(kind))
		g.POST(path+"/:id/settle-metal", h.settleWithMetal(kind))
		g.POST(path+"/:id/settle-currency", h.settleWithCurrency(kind))
		g.POST(path+"/:id/cancel", h.cancelObligation(kind))
	}
	g.POST("/settlements/:id/reverse", h.reverseSettlement)
	g.POST("/quotations", h.recordQuotation)

	g.POST("/unit-corrections/suggest", h.suggestUnitCorrections)
	g.GET("/unit-corrections", h.listUnitCorrections)
	g.POST("/unit-corrections/:id/confirm", h.reviewUnitCorrection(true))
	g.POST("/unit-corrections/:id/reject", h.reviewUnitCorrection(false))

	g.GET("/ops/outbox", h.listOutbox)
	g.POST("/ops/outbox/replay", h.replayOutbox)
}

type ledgerHandlers struct {
	svc func() *ledgerServices
}

func (h *ledgerHandlers) createProduct(c *gin.Context) {
	var input models.NewProduct
	if !bindJSON(c, &input) {
		return
	}
	p, err := h.svc().lots.CreateProduct(c.Request.Context(), input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *ledgerHandlers) createLot(c *gin.Context) {
	var input models.NewInventoryLot
	if !bindJSON(c, &input) {
		return
	}
	lot, err := h.svc().lots.CreateLot(c.Request.Context(), input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

func (h *ledgerHandlers) getLot(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	lot, err := h.svc().lots.GetLot(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

type adjustRequest struct {
	Delta       decimal.Decimal `json:"delta"`
	Reason      string          `json:"reason"`
	DocumentRef string          `json:"document_ref"`
}

func (h *ledgerHandlers) adjustLot(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req adjustRequest
	if !bindJSON(c, &req) {
		return
	}
	lot, err := h.svc().lots.AdjustLot(c.Request.Context(), id, req.Delta, req.Reason, req.DocumentRef)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

// listLots returns every lot of the product, or only lots with stock when available=true.
func (h *ledgerHandlers) listLots(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var (
		lots []models.InventoryLot
		err  error
	)
	if c.Query("available") == "true" {
		var asOf *time.Time
		if v := c.Query("as_of"); v != "" {
			d, ok := queryDate(c, "as_of", time.Time{})
			if !ok {
				return
			}
			asOf = &d
		}
		lots, err = h.svc().lots.ListAvailable(ctx, id, asOf)
	} else {
		lots, err = h.svc().lots.ListLots(ctx, id)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lots": lots})
}

func (h *ledgerHandlers) productBalance(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	asOf, ok := queryDate(c, "as_of", time.Now().UTC())
	if !ok {
		return
	}
	ctx := c.Request.Context()
	svc := h.svc()
	product, err := svc.store.GetProduct(ctx, id, false)
	if err != nil {
		abortWithError(c, err)
		return
	}
	balance, err := svc.ledger.ReconstructBalance(ctx, workflow.BalanceScope{ProductId: id}, asOf)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id":    id,
		"as_of":         utils.DateOnly(asOf).Format(utils.DateLayout),
		"balance":       balance,
		"current_stock": product.CurrentStock,
	})
}

func (h *ledgerHandlers) productStatement(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	start, end, ok := statementDates(c)
	if !ok {
		return
	}
	st, err := h.svc().statements.BuildStockStatement(c.Request.Context(), id, start, end)
	if err != nil {
		abortWithError(c, err)
		return
	}
	respondStatement(c, st)
}

// respondStatement writes JSON, or an xlsx attachment when format=xlsx.
func respondStatement(c *gin.Context, st *reports.Statement) {
	switch strings.ToLower(c.DefaultQuery("format", "json")) {
	case "json":
		c.JSON(http.StatusOK, st)
	case "xlsx":
		c.Header("Content-Type", reports.StatementContentType)
		c.Header("Content-Disposition", "attachment; filename="+reports.StatementFileName(st))
		c.Status(http.StatusOK)
		if err := reports.WriteStatementWorkbook(c.Writer, st); err != nil {
			_ = c.Error(err)
		}
	default:
		badRequest(c, "format must be json or xlsx")
	}
}

func statementDates(c *gin.Context) (time.Time, time.Time, bool) {
	if c.Query("start") == "" || c.Query("end") == "" {
		badRequest(c, "start and end are required")
		return time.Time{}, time.Time{}, false
	}
	start, ok := queryDate(c, "start", time.Time{})
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	end, ok := queryDate(c, "end", time.Time{})
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (h *ledgerHandlers) allocate(c *gin.Context) {
	var req workflow.AllocationRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc().allocations.Allocate(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *ledgerHandlers) previewAllocation(c *gin.Context) {
	var req workflow.AllocationRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc().allocations.Preview(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ledgerHandlers) allocatePureMetal(c *gin.Context) {
	var req workflow.PureMetalAllocationRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc().allocations.AllocatePureMetal(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type reverseAllocationRequest struct {
	DocumentRef string `json:"document_ref"`
	ReversalRef string `json:"reversal_ref"`
}

func (h *ledgerHandlers) reverseAllocation(c *gin.Context) {
	var req reverseAllocationRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc().allocations.ReverseAllocation(c.Request.Context(), req.DocumentRef, req.ReversalRef)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ledgerHandlers) createPureMetalLot(c *gin.Context) {
	var input models.NewPureMetalLot
	if !bindJSON(c, &input) {
		return
	}
	lot, err := h.svc().lots.CreatePureMetalLot(c.Request.Context(), input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

func (h *ledgerHandlers) listPureMetalLots(c *gin.Context) {
	metal, ok := models.ParseMetalType(c.Query("metal_type"))
	if !ok {
		badRequest(c, "metal_type must be one of AU, AG, RH, PT, PD")
		return
	}
	var asOf *time.Time
	if c.Query("as_of") != "" {
		d, ok := queryDate(c, "as_of", time.Time{})
		if !ok {
			return
		}
		asOf = &d
	}
	lots, err := h.svc().lots.ListAvailablePureMetalLots(c.Request.Context(), metal, asOf)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lots": lots})
}

func (h *ledgerHandlers) adjustPureMetalLot(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req adjustRequest
	if !bindJSON(c, &req) {
		return
	}
	lot, err := h.svc().lots.AdjustPureMetalLot(c.Request.Context(), id, req.Delta, req.Reason, req.DocumentRef)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lot)
}

func (h *ledgerHandlers) pureMetalStatement(c *gin.Context) {
	metal, ok := models.ParseMetalType(c.Query("metal_type"))
	if !ok {
		badRequest(c, "metal_type must be one of AU, AG, RH, PT, PD")
		return
	}
	start, end, ok := statementDates(c)
	if !ok {
		return
	}
	st, err := h.svc().statements.BuildPureMetalStatement(c.Request.Context(), metal, start, end)
	if err != nil {
		abortWithError(c, err)
		return
	}
	respondStatement(c, st)
}

func (h *ledgerHandlers) createObligation(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewMetalObligation
		if !bindJSON(c, &input) {
			return
		}
		engine := h.svc().settlements
		create := engine.CreateReceivable
		if kind == models.ObligationKindCredit {
			create = engine.CreateCredit
		}
		o, err := create(c.Request.Context(), input)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

func (h *ledgerHandlers) listObligations(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var f models.ObligationFilter
		if v := c.Query("counterparty_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil {
				badRequest(c, "counterparty_id must be an integer")
				return
			}
			f.CounterpartyId = id
		}
		if v := c.Query("metal_type"); v != "" {
			metal, ok := models.ParseMetalType(v)
			if !ok {
				badRequest(c, "metal_type must be one of AU, AG, RH, PT, PD")
				return
			}
			f.MetalType = metal
		}
		f.Status = models.SettlementStatus(strings.ToUpper(c.Query("status")))
		out, err := h.svc().settlements.ListObligations(c.Request.Context(), kind, f)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"obligations": out})
	}
}

func (h *ledgerHandlers) getObligation(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		o, err := h.svc().settlements.GetObligation(c.Request.Context(), kind, id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func (h *ledgerHandlers) listSettlements(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		out, err := h.svc().settlements.ListSettlements(c.Request.Context(), kind, id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"settlements": out})
	}
}

func (h *ledgerHandlers) settleWithMetal(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req workflow.MetalSettlementRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := h.svc().settlements.SettleWithMetal(c.Request.Context(), kind, id, req)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (h *ledgerHandlers) settleWithCurrency(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req workflow.CurrencySettlementRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := h.svc().settlements.SettleWithCurrency(c.Request.Context(), kind, id, req)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (h *ledgerHandlers) cancelObligation(kind models.ObligationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		o, err := h.svc().settlements.Cancel(c.Request.Context(), kind, id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func (h *ledgerHandlers) reverseSettlement(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	res, err := h.svc().settlements.ReverseSettlement(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ledgerHandlers) recordQuotation(c *gin.Context) {
	var input models.NewQuotation
	if !bindJSON(c, &input) {
		return
	}
	q, err := h.svc().settlements.RecordQuotation(c.Request.Context(), input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

type suggestUnitCorrectionsRequest struct {
	ProductId int             `json:"product_id"`
	Threshold decimal.Decimal `json:"threshold"`
}

func (h *ledgerHandlers) suggestUnitCorrections(c *gin.Context) {
	var req suggestUnitCorrectionsRequest
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.svc().corrections.Suggest(c.Request.Context(), req.ProductId, req.Threshold)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"corrections": out})
}

func (h *ledgerHandlers) listUnitCorrections(c *gin.Context) {
	productId, _ := strconv.Atoi(c.Query("product_id"))
	status := models.UnitCorrectionStatus(strings.ToUpper(c.Query("status")))
	out, err := h.svc().corrections.List(c.Request.Context(), productId, status)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"corrections": out})
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
}

func (h *ledgerHandlers) reviewUnitCorrection(confirm bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req reviewRequest
		if !bindJSON(c, &req) {
			return
		}
		// The authenticated caller reviews when the body names nobody.
		if strings.TrimSpace(req.Reviewer) == "" {
			req.Reviewer, _ = utils.GetUserNameFromContext(c.Request.Context())
		}
		corrections := h.svc().corrections
		review := corrections.Reject
		if confirm {
			review = corrections.Confirm
		}
		out, err := review(c.Request.Context(), id, req.Reviewer)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// listOutbox shows the publish state of the organization's outbox rows.
func (h *ledgerHandlers) listOutbox(c *gin.Context) {
	f := models.OutboxFilter{
		ReferenceType: strings.ToUpper(strings.TrimSpace(c.Query("reference_type"))),
		PublishStatus: strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		Limit:         100,
	}
	if v := c.Query("reference_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id <= 0 {
			badRequest(c, "reference_id must be a positive integer")
			return
		}
		f.ReferenceId = id
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, 500)
	}
	records, err := h.svc().store.ListOutbox(c.Request.Context(), f)
	if err != nil {
		abortWithError(c, err)
		return
	}
	out := make([]models.OutboxStatus, 0, len(records))
	for _, rec := range records {
		out = append(out, models.NewOutboxStatus(rec))
	}
	c.JSON(http.StatusOK, out)
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id"`
}

// replayOutbox makes a FAILED or DEAD outbox record eligible for the dispatcher again.
func (h *ledgerHandlers) replayOutbox(c *gin.Context) {
	var req outboxReplayRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.RecordId <= 0 {
		badRequest(c, "record_id is required")
		return
	}
	now := time.Now().UTC()
	err := h.svc().store.MarkOutboxFailed(c.Request.Context(), req.RecordId, "replay requested", &now, false)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record_id":       req.RecordId,
		"publish_status":  models.OutboxPublishStatusFailed,
		"next_attempt_at": now.Format(time.RFC3339Nano),
	})
}

// logRequestError is the error branch of customErrorLogger, kept separate for the 5xx kinds.
func logRequestError(logger *logrus.Logger, c *gin.Context) {
	for _, e := range c.Errors {
		if errors.Is(e.Err, models.ErrInvariantViolation) {
			config.LogIntegrityAlert(logger, "handlers.go", c.FullPath(), c.Request.URL.Path, e.Err)
			continue
		}
		config.LogError(logger, "handlers.go", c.FullPath(), c.Request.Method, c.Request.URL.Path, e.Err)
	}
}
