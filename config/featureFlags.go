package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StrictLedgerVerify replays every touched lot inside the write transaction and
// aborts the write when the cached balance drifts from the ledger.
//
// Set via env:
// - STRICT_LEDGER_VERIFY=true
func StrictLedgerVerify() bool {
	return envBool("STRICT_LEDGER_VERIFY")
}

// OutboxDispatchEnabled starts the Pub/Sub outbox dispatcher in the server process.
//
// Set via env:
// - OUTBOX_DISPATCH=true
func OutboxDispatchEnabled() bool {
	return envBool("OUTBOX_DISPATCH")
}

// ReconciliationInterval is how often the reconciliation worker replays the ledger.
// Zero disables the background worker.
//
// Set via env:
// - RECONCILIATION_INTERVAL_SECONDS=3600
func ReconciliationInterval() time.Duration {
	n := intFromEnv("RECONCILIATION_INTERVAL_SECONDS", 0)
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// AllocationMaxRetries bounds concurrency-conflict retries at the allocation and settlement boundary.
//
// Set via env:
// - ALLOCATION_MAX_RETRIES=5
func AllocationMaxRetries() uint {
	raw := strings.TrimSpace(os.Getenv("ALLOCATION_MAX_RETRIES"))
	if raw == "" {
		return 5
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 5
	}
	return uint(n)
}

// ReconciliationOrganizations lists the organizations the background reconciliation worker replays.
//
// Set via env:
// - RECONCILIATION_ORGANIZATIONS=org-a,org-b
func ReconciliationOrganizations() []string {
	var out []string
	for _, part := range strings.Split(os.Getenv("RECONCILIATION_ORGANIZATIONS"), ",") {
		if org := strings.TrimSpace(part); org != "" {
			out = append(out, org)
		}
	}
	return out
}

// ReconciliationRepairLots lets the reconciliation worker rewrite drifted lot balances from the ledger.
// Product stock is always recomputed.
//
// Set via env:
// - RECONCILIATION_REPAIR_LOTS=true
func ReconciliationRepairLots() bool {
	return envBool("RECONCILIATION_REPAIR_LOTS")
}
