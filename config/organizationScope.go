package config

import (
	"context"
	"strings"

	"github.com/mmdatafocus/metal_ledger/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const organizationColumn = "organization_id"

// OrganizationScopePlugin scopes queries/updates/deletes to the request's organization_id
// when the model has an organization_id column.
//
// NOTE:
// - Raw SQL is not scoped. Raw statements must filter organization_id themselves.
// - Cross-organization jobs bypass explicitly via ContextKeySkipOrganizationScope.
type OrganizationScopePlugin struct{}

func NewOrganizationScopePlugin() *OrganizationScopePlugin { return &OrganizationScopePlugin{} }

func (p *OrganizationScopePlugin) Name() string { return "organization_scope" }

func (p *OrganizationScopePlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("organization_scope:query", organizationScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("organization_scope:row", organizationScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("organization_scope:update", organizationScopeCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("organization_scope:delete", organizationScopeCallback); err != nil {
		return err
	}
	return nil
}

func organizationScopeCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	if shouldBypassOrganizationScope(ctx) {
		return
	}
	organizationID := organizationIdFromContext(ctx)
	if organizationID == "" {
		return
	}

	if db.Statement.Schema == nil {
		return
	}
	if db.Statement.Schema.LookUpField(organizationColumn) == nil {
		return
	}

	// Don't duplicate an explicit organization filter.
	if whereHasColumn(db.Statement.Clauses["WHERE"], organizationColumn) {
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: organizationColumn},
				Value:  organizationID,
			},
		},
	})
}

func organizationIdFromContext(ctx context.Context) string {
	if v, ok := appctx.GetString(ctx, appctx.ContextKeyOrganizationId); ok {
		return v
	}
	return ""
}

func shouldBypassOrganizationScope(ctx context.Context) bool {
	v, ok := appctx.GetBool(ctx, appctx.ContextKeySkipOrganizationScope)
	return ok && v
}

func whereHasColumn(c clause.Clause, column string) bool {
	if c.Expression == nil {
		return false
	}
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprHasColumn(e, column) {
			return true
		}
	}
	return false
}

func exprHasColumn(e clause.Expression, column string) bool {
	switch v := e.(type) {
	case clause.Eq:
		return colIs(v.Column, column)
	case clause.Neq:
		return colIs(v.Column, column)
	case clause.Gt:
		return colIs(v.Column, column)
	case clause.Gte:
		return colIs(v.Column, column)
	case clause.Lt:
		return colIs(v.Column, column)
	case clause.Lte:
		return colIs(v.Column, column)
	case clause.IN:
		return colIs(v.Column, column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprHasColumn(x, column) {
				return true
			}
		}
		return false
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprHasColumn(x, column) {
				return true
			}
		}
		return false
	case clause.Expr:
		// Best-effort for raw expressions.
		return strings.Contains(strings.ToLower(v.SQL), column)
	default:
		return false
	}
}

func colIs(col any, column string) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, column)
	case clause.Column:
		return strings.EqualFold(c.Name, column)
	default:
		return false
	}
}
