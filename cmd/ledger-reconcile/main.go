package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/workflow"
)

func main() {
	bucketID := flag.Int("bucket-id", 0, "Reconcile one bucket by id")
	all := flag.Bool("all", false, "Reconcile every bucket")
	failOnDrift := flag.Bool("fail-on-drift", false, "Exit 2 when any bucket drifted")
	flag.Parse()

	if *bucketID <= 0 && !*all {
		fmt.Fprintln(os.Stderr, "--bucket-id or --all is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ledger := workflow.NewLedgerFromEnv()
	ctx := context.Background()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *bucketID > 0 {
		res, err := ledger.Reconcile(ctx, *bucketID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Encode(res)
		if *failOnDrift && res.Drift != nil {
			os.Exit(2)
		}
		return
	}

	summary, err := ledger.ReconcileAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
		os.Exit(1)
	}
	_ = enc.Encode(summary)
	if len(summary.Failed) > 0 {
		os.Exit(1)
	}
	if *failOnDrift && len(summary.Drifted) > 0 {
		os.Exit(2)
	}
}
