package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawStatementRewritesLedger(t *testing.T) {
	cases := []struct {
		sql  string
		want bool
	}{
		{"UPDATE stock_movements SET quantity = 0 WHERE id = 1", true},
		{"update `pure_metal_lot_movements` set grams = 1", true},
		{"DELETE FROM stock_movements WHERE id = 3", true},
		{"delete from metal_ledger.stock_movements", true},
		{"TRUNCATE TABLE pure_metal_lot_movements", true},
		{"UPDATE LOW_PRIORITY stock_movements SET quantity = 1", true},
		{"UPDATE inventory_lots SET remaining_quantity = (SELECT SUM(quantity) FROM stock_movements WHERE inventory_lot_id = 1) WHERE id = 1", false},
		{"SELECT * FROM stock_movements", false},
		{"INSERT INTO stock_movements (quantity) VALUES (1)", false},
		{"DELETE FROM ledger_outbox_records WHERE id = 1", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RawStatementRewritesLedger(tc.sql), tc.sql)
	}
}

func TestAllocationMaxRetriesDefaults(t *testing.T) {
	t.Setenv("ALLOCATION_MAX_RETRIES", "")
	assert.Equal(t, uint(5), AllocationMaxRetries())

	t.Setenv("ALLOCATION_MAX_RETRIES", "abc")
	assert.Equal(t, uint(5), AllocationMaxRetries())

	t.Setenv("ALLOCATION_MAX_RETRIES", "2")
	assert.Equal(t, uint(2), AllocationMaxRetries())
}

func TestReconciliationIntervalDisabledByDefault(t *testing.T) {
	t.Setenv("RECONCILIATION_INTERVAL_SECONDS", "")
	assert.Zero(t, ReconciliationInterval())

	t.Setenv("RECONCILIATION_INTERVAL_SECONDS", "60")
	assert.Equal(t, int64(60), int64(ReconciliationInterval().Seconds()))
}
