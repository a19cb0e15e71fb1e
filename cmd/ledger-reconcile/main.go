package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/mmdatafocus/metal_ledger/workflow"
)

func main() {
	organizationID := flag.String("organization-id", "", "Required: organization id")
	repairLots := flag.Bool("repair-lots", false, "Rewrite drifted lot balances from the ledger (product stock is always recomputed)")
	asJSON := flag.Bool("json", false, "Print the summary as JSON")
	flag.Parse()

	if strings.TrimSpace(*organizationID) == "" {
		fmt.Fprintln(os.Stderr, "--organization-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx := utils.SetOrganizationIdInContext(context.Background(), strings.TrimSpace(*organizationID))
	worker := workflow.NewReconciliationWorker(models.NewGormStore(db), logger)
	worker.RepairLots = *repairLots

	summary, err := worker.RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed: %v\n", err)
		os.Exit(1)
	}
	if *asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(summary)
	} else {
		fmt.Printf("organization=%s products=%d lots=%d pure_metal_lots=%d findings=%d\n",
			summary.OrganizationId, summary.ProductsChecked, summary.LotsChecked, summary.PureMetalLotsChecked, len(summary.Findings))
		for _, f := range summary.Findings {
			fmt.Printf("  %s %s#%d cached=%s ledger=%s repaired=%t\n", f.CheckType, f.EntityType, f.EntityId,
				f.CachedBalance.StringFixed(utils.QuantityPlaces), f.LedgerBalance.StringFixed(utils.QuantityPlaces), f.Repaired)
		}
	}
	if len(summary.Findings) > 0 {
		os.Exit(2)
	}
}
