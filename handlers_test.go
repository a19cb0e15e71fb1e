package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/models/memstore"
	"github.com/mmdatafocus/metal_ledger/models/reports"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const testOrg = "org-http"

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRouter() *gin.Engine {
	logger := quietLogger()
	services := newLedgerServices(memstore.New(), logger, nil, nil)
	return newRouter(logger, func() *ledgerServices { return services }, func() redis.UniversalClient { return nil })
}

func call(r http.Handler, method, path string, body any, org string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if org != "" {
		req.Header.Set(organizationHeader, org)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func TestHealthzAndReadiness(t *testing.T) {
	r := newRouter(quietLogger(), func() *ledgerServices { return nil }, func() redis.UniversalClient { return nil })

	w := call(r, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = call(r, http.MethodGet, "/internal/lots/1", nil, testOrg)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestOrganizationHeaderRequired(t *testing.T) {
	r := newTestRouter()
	w := call(r, http.MethodPost, "/internal/products", map[string]string{"name": "Gold", "unit": "GRAMS"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	decodeBody(t, w, &body)
	assert.Equal(t, "validation", body["kind"])
}

func TestAllocationOverHTTP(t *testing.T) {
	r := newTestRouter()

	w := call(r, http.MethodPost, "/internal/products", map[string]string{"name": "Gold grain", "unit": "GRAMS"}, testOrg)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var product models.Product
	decodeBody(t, w, &product)

	w = call(r, http.MethodPost, "/internal/lots", map[string]any{
		"product_id":    product.ID,
		"batch_number":  "B-1",
		"quantity":      "1000",
		"source_type":   "PURCHASE",
		"received_date": "2024-01-01T00:00:00Z",
	}, testOrg)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = call(r, http.MethodPost, "/internal/allocations", map[string]any{
		"product_id":      product.ID,
		"quantity_needed": "300",
		"document_ref":    "SALE-1",
	}, testOrg)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res struct {
		Allocations []struct {
			BatchNumber string `json:"batch_number"`
		} `json:"allocations"`
		Committed bool `json:"committed"`
	}
	decodeBody(t, w, &res)
	assert.True(t, res.Committed)
	assert.Len(t, res.Allocations, 1)

	w = call(r, http.MethodPost, "/internal/allocations", map[string]any{
		"product_id":      product.ID,
		"quantity_needed": "5000",
		"document_ref":    "SALE-2",
	}, testOrg)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	var failure map[string]string
	decodeBody(t, w, &failure)
	assert.Equal(t, "insufficient_stock", failure["kind"])

	// another organization sees none of it
	w = call(r, http.MethodGet, fmt.Sprintf("/internal/products/%d/lots", product.ID), nil, "org-other")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"lots":null}`, w.Body.String())

	w = call(r, http.MethodGet, "/internal/ops/outbox", nil, testOrg)
	require.Equal(t, http.StatusOK, w.Code)
	var outbox []models.OutboxStatus
	decodeBody(t, w, &outbox)
	require.Len(t, outbox, 1)
	assert.Equal(t, models.OutboxActionAllocationCommitted, outbox[0].Action)
	assert.Equal(t, product.ID, outbox[0].ReferenceId)
	assert.False(t, outbox[0].IsPublished)
}

func TestStatementExport(t *testing.T) {
	r := newTestRouter()
	w := call(r, http.MethodPost, "/internal/products", map[string]string{"name": "Silver bar", "unit": "GRAMS"}, testOrg)
	require.Equal(t, http.StatusCreated, w.Code)
	var product models.Product
	decodeBody(t, w, &product)

	path := fmt.Sprintf("/internal/products/%d/statement?start=2024-01-01&end=2024-01-31&format=xlsx", product.ID)
	w = call(r, http.MethodGet, path, nil, testOrg)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reports.StatementContentType, w.Header().Get("Content-Type"))

	wb, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer wb.Close()
	v, err := wb.GetCellValue(reports.StatementSheet, "A4")
	require.NoError(t, err)
	assert.Equal(t, "Date", v)

	w = call(r, http.MethodGet, fmt.Sprintf("/internal/products/%d/statement?start=2024-01-01&end=2024-01-31&format=pdf", product.ID), nil, testOrg)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = call(r, http.MethodGet, fmt.Sprintf("/internal/products/%d/statement?start=2024-02-01&end=2024-01-01", product.ID), nil, testOrg)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = call(r, http.MethodGet, fmt.Sprintf("/internal/products/%d/statement?start=2024-01-01", product.ID), nil, testOrg)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestValidation(t *testing.T) {
	r := newTestRouter()

	w := call(r, http.MethodGet, "/internal/lots/abc", nil, testOrg)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = call(r, http.MethodGet, "/internal/lots/42", nil, testOrg)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = call(r, http.MethodGet, "/internal/pure-metal-lots?metal_type=XX", nil, testOrg)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = call(r, http.MethodPost, "/internal/ops/outbox/replay", map[string]int{}, testOrg)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = call(r, http.MethodGet, "/nowhere", nil, testOrg)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHttpStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrValidation, http.StatusBadRequest},
		{fmt.Errorf("%w: lot 3", models.ErrNotFound), http.StatusNotFound},
		{models.ErrInsufficientStock, http.StatusConflict},
		{models.ErrAllocationMismatch, http.StatusConflict},
		{models.ErrInvalidStatusTransition, http.StatusConflict},
		{models.ErrImmutableQuotation, http.StatusConflict},
		{models.ErrAlreadyReversed, http.StatusConflict},
		{models.ErrQuotationNotFound, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w after 3 attempts: %w", models.ErrTransientFailure, models.ErrConcurrencyConflict), http.StatusServiceUnavailable},
		{models.ErrInvariantViolation, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, httpStatus(tc.err), "%v", tc.err)
	}
}
