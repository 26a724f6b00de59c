package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/mmdatafocus/metalstock_backend/models/reports"
	"github.com/mmdatafocus/metalstock_backend/utils"
	"github.com/mmdatafocus/metalstock_backend/workflow"
)

func main() {
	metal := flag.String("metal", "", "Optional: gold, silver, platinum or other")
	out := flag.String("out", "", "Write the workbook to this file")
	toGCS := flag.Bool("gcs", false, "Upload the workbook to GCS_BUCKET")
	withMovements := flag.Bool("movements", false, "Include a movements sheet")
	flag.Parse()

	if strings.TrimSpace(*out) == "" && !*toGCS {
		fmt.Fprintln(os.Stderr, "--out or --gcs is required")
		os.Exit(1)
	}
	var filter models.BucketFilter
	if strings.TrimSpace(*metal) != "" {
		m, err := models.ParseMetalType(*metal)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid --metal: %v\n", err)
			os.Exit(1)
		}
		filter.MetalType = m
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ctx := context.Background()
	data, err := reports.StockSummaryXLSX(ctx, workflow.NewLedgerFromEnv(), filter, *withMovements)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}

	if *out != "" {
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s (%d bytes)\n", *out, len(data))
	}
	if *toGCS {
		name := fmt.Sprintf("ledger/stock-summary-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
		uri, err := utils.UploadBytesToGCS(ctx, name, data, reports.XLSXContentType)
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("uploaded %s\n", uri)
	}
}
