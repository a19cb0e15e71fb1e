package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/mmdatafocus/metal_ledger/workflow"
)

// Review flow for lots entered in kilograms as grams:
//
//	unit-correction -organization-id X -action suggest -product-id 7 -threshold 5
//	unit-correction -organization-id X -action confirm -id 3 -reviewer alice
func main() {
	organizationID := flag.String("organization-id", "", "Required: organization id")
	action := flag.String("action", "list", "suggest | list | confirm | reject")
	productID := flag.Int("product-id", 0, "Product id (suggest, list)")
	thresholdStr := flag.String("threshold", "", "Suggest lots whose quantity is below this many grams")
	correctionID := flag.Int("id", 0, "Unit correction id (confirm, reject)")
	reviewer := flag.String("reviewer", "", "Who reviewed the correction (confirm, reject)")
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
	ctx, _ := utils.EnsureCorrelationId(utils.SetOrganizationIdInContext(context.Background(), strings.TrimSpace(*organizationID)))
	wf := workflow.NewUnitCorrectionWorkflow(models.NewGormStore(db), config.GetLogger())

	switch *action {
	case "suggest":
		threshold, err := utils.ParseDecimal(*thresholdStr)
		if err != nil || *productID <= 0 {
			fmt.Fprintln(os.Stderr, "--product-id and a numeric --threshold are required")
			os.Exit(1)
		}
		found, err := wf.Suggest(ctx, *productID, threshold)
		exitOnErr(err)
		printCorrections(found)
	case "list":
		found, err := wf.List(ctx, *productID, "")
		exitOnErr(err)
		printCorrections(found)
	case "confirm":
		c, err := wf.Confirm(ctx, *correctionID, *reviewer)
		exitOnErr(err)
		printCorrections([]models.UnitCorrection{*c})
	case "reject":
		c, err := wf.Reject(ctx, *correctionID, *reviewer)
		exitOnErr(err)
		printCorrections([]models.UnitCorrection{*c})
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", *action)
		os.Exit(1)
	}
}

func exitOnErr(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", models.ErrorKind(err), err)
	os.Exit(1)
}

func printCorrections(list []models.UnitCorrection) {
	if len(list) == 0 {
		fmt.Println("no unit corrections")
		return
	}
	for _, c := range list {
		fmt.Printf("id=%d product=%d lot=%d %s -> %s status=%s\n", c.ID, c.ProductId, c.InventoryLotId,
			c.OriginalQuantity.StringFixed(utils.QuantityPlaces), c.CorrectedQuantity.StringFixed(utils.QuantityPlaces), c.Status)
	}
}
