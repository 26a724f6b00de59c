package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/metalstock_backend/api"
	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/mmdatafocus/metalstock_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// The ledger is built once the DB is up; until then every route but /health answers 503.
	var router atomic.Pointer[gin.Engine]
	srv := &http.Server{
		Addr: ":" + port,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rt := router.Load(); rt != nil {
				rt.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/health" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; allow running it as a separate job instead.
	if !config.EnvBool("SKIP_MIGRATIONS", false) {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	ledger := workflow.NewLedgerFromEnv()
	dispatcher := workflow.NewDispatcher(ledger, workflow.NewPubSubAlertPublisher(), config.GetRetryPolicy())
	router.Store(api.NewRouter(api.NewHandler(ledger, api.WithDispatcher(dispatcher))))

	logger.WithFields(logrus.Fields{
		"port":   port,
		"driver": config.DatabaseDriver(),
		"redis":  config.GetRedisDB() != nil,
	}).Info("metalstock ledger ready")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
