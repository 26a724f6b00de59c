package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/workflow"
)

func main() {
	limit := flag.Int("limit", 100, "Maximum failures to replay")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()

	ledger := workflow.NewLedgerFromEnv()
	dispatcher := workflow.NewDispatcher(ledger, workflow.NewPubSubAlertPublisher(), config.GetRetryPolicy())
	summary, err := dispatcher.RetryFailedReactions(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retry failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("attempted=%d succeeded=%d rescheduled=%d dead=%d superseded=%d\n",
		summary.Attempted, summary.Succeeded, summary.Rescheduled, summary.Dead, summary.Superseded)
}
