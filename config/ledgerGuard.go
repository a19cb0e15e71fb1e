package config

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrImmutableLedger is returned when a statement tries to rewrite ledger history.
var ErrImmutableLedger = errors.New("ledger movements are append-only")

// LedgerTables are the append-only tables guarded by LedgerGuardPlugin.
var LedgerTables = []string{"stock_movements", "pure_metal_lot_movements"}

// LedgerGuardPlugin rejects UPDATE and DELETE against the movement ledgers.
// Corrections must be new compensating movements.
type LedgerGuardPlugin struct{}

func NewLedgerGuardPlugin() *LedgerGuardPlugin { return &LedgerGuardPlugin{} }

func (p *LedgerGuardPlugin) Name() string { return "ledger_guard" }

func (p *LedgerGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").Register("ledger_guard:update", ledgerGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("ledger_guard:delete", ledgerGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Raw().Before("gorm:raw").Register("ledger_guard:raw", ledgerGuardRawCallback); err != nil {
		return err
	}
	return nil
}

func isLedgerTable(table string) bool {
	table = strings.Trim(strings.ToLower(table), "`")
	for _, t := range LedgerTables {
		if table == t {
			return true
		}
	}
	return false
}

func ledgerGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if isLedgerTable(db.Statement.Table) {
		_ = db.AddError(ErrImmutableLedger)
	}
}

func ledgerGuardRawCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if RawStatementRewritesLedger(db.Statement.SQL.String()) {
		_ = db.AddError(ErrImmutableLedger)
	}
}

// RawStatementRewritesLedger reports whether a raw UPDATE, DELETE or TRUNCATE targets a ledger table.
// Only the statement's target table is checked; subqueries reading the ledger are allowed.
func RawStatementRewritesLedger(sql string) bool {
	fields := strings.Fields(strings.ToLower(sql))
	if len(fields) < 2 {
		return false
	}
	var target string
	switch fields[0] {
	case "update", "truncate":
		for _, f := range fields[1:] {
			if f == "low_priority" || f == "ignore" || f == "table" {
				continue
			}
			target = f
			break
		}
	case "delete":
		for i, f := range fields {
			if f == "from" && i+1 < len(fields) {
				target = fields[i+1]
				break
			}
		}
	default:
		return false
	}
	target = strings.Trim(target, "`;,")
	if i := strings.LastIndex(target, "."); i >= 0 {
		target = target[i+1:]
	}
	return isLedgerTable(target)
}
