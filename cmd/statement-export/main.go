package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/models/reports"
	"github.com/mmdatafocus/metal_ledger/utils"
)

// Exports a stock or pure metal statement as xlsx, to a local file or a GCS bucket.
func main() {
	organizationID := flag.String("organization-id", "", "Required: organization id")
	productID := flag.Int("product-id", 0, "Product to export (mutually exclusive with --metal-type)")
	metalType := flag.String("metal-type", "", "Pure metal to export: AU, AG, RH, PT, PD")
	start := flag.String("start", "", "Required: first day, YYYY-MM-DD")
	end := flag.String("end", "", "Required: last day, YYYY-MM-DD")
	out := flag.String("out", "", "Write the workbook to this path")
	bucket := flag.String("bucket", "", "Upload to this GCS bucket (defaults to GCS_BUCKET when --out is empty)")
	prefix := flag.String("prefix", "statements", "Object key prefix for uploads")
	flag.Parse()

	if strings.TrimSpace(*organizationID) == "" || *start == "" || *end == "" {
		fmt.Fprintln(os.Stderr, "--organization-id, --start and --end are required")
		os.Exit(1)
	}
	if (*productID > 0) == (strings.TrimSpace(*metalType) != "") {
		fmt.Fprintln(os.Stderr, "exactly one of --product-id or --metal-type is required")
		os.Exit(1)
	}
	startDate, err := utils.ParseDate(*start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --start: %v\n", err)
		os.Exit(1)
	}
	endDate, err := utils.ParseDate(*end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --end: %v\n", err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ctx := utils.SetOrganizationIdInContext(context.Background(), strings.TrimSpace(*organizationID))
	builder := reports.NewStatementBuilder(models.NewGormStore(db), config.GetLogger())

	var st *reports.Statement
	if *productID > 0 {
		st, err = builder.BuildStockStatement(ctx, *productID, startDate, endDate)
	} else {
		metal, ok := models.ParseMetalType(*metalType)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown metal type %q\n", *metalType)
			os.Exit(1)
		}
		st, err = builder.BuildPureMetalStatement(ctx, metal, startDate, endDate)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "statement failed: %v\n", err)
		os.Exit(1)
	}

	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", *out, err)
			os.Exit(1)
		}
		if err := reports.WriteStatementWorkbook(f, st); err != nil {
			f.Close()
			fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
			os.Exit(1)
		}
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close %s: %v\n", *out, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s lines=%d\n", *out, len(st.Lines))
		return
	}

	key := path.Join(*prefix, strings.TrimSpace(*organizationID), reports.StatementFileName(st))
	err = utils.UploadToGCS(ctx, *bucket, key, reports.StatementContentType, func(w io.Writer) error {
		return reports.WriteStatementWorkbook(w, st)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("uploaded %s lines=%d\n", key, len(st.Lines))
}
