package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	defaults := workflow.DefaultScheduleConfig()
	reconcileSpec := flag.String("reconcile", defaults.ReconcileSpec, "Cron spec for the reconcile sweep (empty disables)")
	retrySpec := flag.String("retry", defaults.RetrySpec, "Cron spec for failure replay (empty disables)")
	retryLimit := flag.Int("retry-limit", defaults.RetryLimit, "Failures replayed per run")
	tz := flag.String("tz", "UTC", "Time zone for cron specs")
	flag.Parse()

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --tz: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	logger := config.GetLogger()

	ledger := workflow.NewLedgerFromEnv()
	dispatcher := workflow.NewDispatcher(ledger, workflow.NewPubSubAlertPublisher(), config.GetRetryPolicy())
	c, err := workflow.NewLedgerScheduler(ctx, ledger, dispatcher, workflow.ScheduleConfig{
		ReconcileSpec: *reconcileSpec,
		RetrySpec:     *retrySpec,
		RetryLimit:    *retryLimit,
		Location:      loc,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid schedule: %v\n", err)
		os.Exit(1)
	}
	c.Start()
	logger.WithFields(logrus.Fields{
		"reconcile": *reconcileSpec,
		"retry":     *retrySpec,
		"tz":        loc.String(),
	}).Info("ledger worker started")

	<-ctx.Done()
	// wait for running jobs before closing connections
	<-c.Stop().Done()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	logger.Info("ledger worker stopped")
}
