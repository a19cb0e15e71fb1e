package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReconciliationWorker replays the movement ledger against the cached balances.
// Product stock is always recomputed from the ledger. Drifted lots are reported, and rewritten
// only when RepairLots is set.
type ReconciliationWorker struct {
	Store      models.Store
	Logger     *logrus.Logger
	RepairLots bool
	Clock      func() time.Time
}

type ReconciliationSummary struct {
	OrganizationId       string                        `json:"organization_id"`
	ProductsChecked      int                           `json:"products_checked"`
	LotsChecked          int                           `json:"lots_checked"`
	PureMetalLotsChecked int                           `json:"pure_metal_lots_checked"`
	Findings             []models.ReconciliationReport `json:"findings"`
}

func NewReconciliationWorker(store models.Store, logger *logrus.Logger) *ReconciliationWorker {
	return &ReconciliationWorker{
		Store:      store,
		Logger:     logger,
		RepairLots: config.ReconciliationRepairLots(),
		Clock:      utcNow,
	}
}

// RunOnce checks every lot, pure metal lot and product of the organization in ctx.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) (*ReconciliationSummary, error) {
	org, err := requireOrganization(ctx)
	if err != nil {
		return nil, err
	}
	ctx, _ = utils.EnsureCorrelationId(ctx)
	ctx, span := tracer.Start(ctx, "ReconciliationWorker.RunOnce", trace.WithAttributes(attribute.String("organization_id", org)))
	defer span.End()

	summary := &ReconciliationSummary{OrganizationId: org}
	products, err := w.Store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		if err := w.checkProduct(ctx, org, p, summary); err != nil {
			config.LogError(w.Logger, "reconciliationWorkflow.go", "RunOnce", "checkProduct", p.ID, err)
			return summary, err
		}
	}

	pureLots, err := w.Store.ListPureMetalLots(ctx, "")
	if err != nil {
		return summary, err
	}
	for i := range pureLots {
		if err := w.checkPureMetalLot(ctx, org, &pureLots[i], summary); err != nil {
			config.LogError(w.Logger, "reconciliationWorkflow.go", "RunOnce", "checkPureMetalLot", pureLots[i].ID, err)
			return summary, err
		}
	}

	if w.Logger != nil {
		w.Logger.WithFields(logrus.Fields{
			"field":                   "ReconciliationWorker",
			"organization_id":         org,
			"products_checked":        summary.ProductsChecked,
			"lots_checked":            summary.LotsChecked,
			"pure_metal_lots_checked": summary.PureMetalLotsChecked,
			"findings":                len(summary.Findings),
		}).Info("reconciliation finished")
	}
	return summary, nil
}

func (w *ReconciliationWorker) checkProduct(ctx context.Context, org string, p models.Product, summary *ReconciliationSummary) error {
	summary.ProductsChecked++
	lots, err := w.Store.ListLotsByProduct(ctx, p.ID)
	if err != nil {
		return err
	}
	for i := range lots {
		summary.LotsChecked++
		replayed, drift, err := lotDrift(ctx, w.Store, &lots[i])
		if err != nil {
			return err
		}
		if utils.ApproxZero(drift) {
			continue
		}
		report := models.ReconciliationReport{
			OrganizationId: org,
			CheckType:      models.ReconciliationCheckLotReplay,
			EntityType:     "InventoryLot",
			EntityId:       lots[i].ID,
			CachedBalance:  lots[i].RemainingQuantity,
			LedgerBalance:  replayed,
			Details:        fmt.Sprintf("drift %s", drift.StringFixed(utils.QuantityPlaces)),
		}
		if w.RepairLots {
			repaired, err := w.repairLot(ctx, lots[i].ID, replayed)
			if err != nil {
				return err
			}
			report.Repaired = repaired
		}
		if err := w.record(ctx, &report, summary); err != nil {
			return err
		}
	}

	movements, err := w.Store.ListStockMovements(ctx, models.StockMovementFilter{ProductId: p.ID})
	if err != nil {
		return err
	}
	ledger := models.FoldStockMovements(decimal.Zero, movements)
	if utils.ApproxEqual(ledger, p.CurrentStock) {
		return nil
	}
	if err := w.Store.SetProductStock(ctx, p.ID, ledger); err != nil {
		return err
	}
	return w.record(ctx, &models.ReconciliationReport{
		OrganizationId: org,
		CheckType:      models.ReconciliationCheckProductStock,
		EntityType:     "Product",
		EntityId:       p.ID,
		CachedBalance:  p.CurrentStock,
		LedgerBalance:  ledger,
		Repaired:       true,
		Details:        "cached stock recomputed from ledger",
	}, summary)
}

// repairLot rewrites the cached remaining quantity when the replayed value is a valid balance.
func (w *ReconciliationWorker) repairLot(ctx context.Context, lotId int, replayed decimal.Decimal) (bool, error) {
	repaired := false
	err := w.Store.WithTx(ctx, func(tx models.Store) error {
		lot, err := tx.GetInventoryLot(ctx, lotId, true)
		if err != nil {
			return err
		}
		lot.RemainingQuantity = replayed
		if lot.CheckInvariant() != nil {
			return nil
		}
		if err := tx.SaveLotBalance(ctx, lot); err != nil {
			return err
		}
		repaired = true
		return nil
	})
	return repaired, err
}

func (w *ReconciliationWorker) checkPureMetalLot(ctx context.Context, org string, lot *models.PureMetalLot, summary *ReconciliationSummary) error {
	summary.PureMetalLotsChecked++
	replayed, drift, err := pureMetalLotDrift(ctx, w.Store, lot)
	if err != nil {
		return err
	}
	if utils.ApproxZero(drift) {
		return nil
	}
	report := models.ReconciliationReport{
		OrganizationId: org,
		CheckType:      models.ReconciliationCheckPureMetalLotReplay,
		EntityType:     "PureMetalLot",
		EntityId:       lot.ID,
		CachedBalance:  lot.RemainingGrams,
		LedgerBalance:  replayed,
		Details:        fmt.Sprintf("drift %s", drift.StringFixed(utils.QuantityPlaces)),
	}
	if w.RepairLots {
		err := w.Store.WithTx(ctx, func(tx models.Store) error {
			locked, err := tx.GetPureMetalLot(ctx, lot.ID, true)
			if err != nil {
				return err
			}
			locked.RemainingGrams = replayed
			if locked.CheckInvariant() != nil {
				return nil
			}
			locked.RefreshStatus()
			if err := tx.SavePureMetalLotBalance(ctx, locked); err != nil {
				return err
			}
			report.Repaired = true
			return nil
		})
		if err != nil {
			return err
		}
	}
	return w.record(ctx, &report, summary)
}

func (w *ReconciliationWorker) record(ctx context.Context, report *models.ReconciliationReport, summary *ReconciliationSummary) error {
	report.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
	config.LogIntegrityAlert(w.Logger, "reconciliationWorkflow.go", "record", report,
		fmt.Errorf("%w: %s %s %d", models.ErrInvariantViolation, report.CheckType, report.EntityType, report.EntityId))
	if err := w.Store.CreateReconciliationReport(ctx, report); err != nil {
		return err
	}
	summary.Findings = append(summary.Findings, *report)
	return nil
}

// Run reconciles each organization every interval until ctx is done.
func (w *ReconciliationWorker) Run(ctx context.Context, interval time.Duration, organizationIds []string) {
	if interval <= 0 || len(organizationIds) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, org := range organizationIds {
			if _, err := w.RunOnce(utils.SetOrganizationIdInContext(ctx, org)); err != nil {
				config.LogError(w.Logger, "reconciliationWorkflow.go", "Run", "RunOnce", org, err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
