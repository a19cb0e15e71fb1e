package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/mmdatafocus/metal_ledger/workflow"
)

// Imports daily quotations from a CSV with the header metal_type,date,buy_price,sell_price.
// Past dates that already hold different prices are reported and skipped.
func main() {
	organizationID := flag.String("organization-id", "", "Required: organization id")
	file := flag.String("file", "", "Required: CSV file path (- for stdin)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing rows and continue importing others")
	flag.Parse()

	if strings.TrimSpace(*organizationID) == "" || strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--organization-id and --file are required")
		os.Exit(1)
	}

	var in io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open %s: %v\n", *file, err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ctx := utils.SetOrganizationIdInContext(context.Background(), strings.TrimSpace(*organizationID))
	engine := workflow.NewSettlementEngine(models.NewGormStore(db), config.GetLogger(), nil, nil)

	r := csv.NewReader(in)
	r.FieldsPerRecord = 4
	imported, skipped, line := 0, 0, 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			fmt.Fprintf(os.Stderr, "line %d: %v\n", line, err)
			os.Exit(1)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "metal_type") {
			continue
		}
		q, err := parseRow(rec)
		if err == nil {
			_, err = engine.RecordQuotation(ctx, q)
		}
		if err != nil {
			if *continueOnError || errors.Is(err, models.ErrImmutableQuotation) {
				fmt.Fprintf(os.Stderr, "line %d skipped: %v\n", line, err)
				skipped++
				continue
			}
			fmt.Fprintf(os.Stderr, "line %d: %v\n", line, err)
			os.Exit(1)
		}
		imported++
	}
	fmt.Printf("quotation import complete: imported=%d skipped=%d\n", imported, skipped)
}

func parseRow(rec []string) (models.NewQuotation, error) {
	metal, ok := models.ParseMetalType(rec[0])
	if !ok {
		return models.NewQuotation{}, fmt.Errorf("%w: metal type %q", models.ErrValidation, rec[0])
	}
	date, err := utils.ParseDate(rec[1])
	if err != nil {
		return models.NewQuotation{}, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	buy, err := utils.ParseDecimal(rec[2])
	if err != nil {
		return models.NewQuotation{}, fmt.Errorf("%w: buy price: %v", models.ErrValidation, err)
	}
	sell, err := utils.ParseDecimal(rec[3])
	if err != nil {
		return models.NewQuotation{}, fmt.Errorf("%w: sell price: %v", models.ErrValidation, err)
	}
	return models.NewQuotation{MetalType: metal, QuotationDate: date, BuyPrice: buy, SellPrice: sell}, nil
}
