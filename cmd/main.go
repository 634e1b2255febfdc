package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mstgnz/storepay/handler"
	"github.com/mstgnz/storepay/infra/config"
	"github.com/mstgnz/storepay/infra/logger"
	"github.com/mstgnz/storepay/infra/opensearch"
	"github.com/mstgnz/storepay/order"
	"github.com/mstgnz/storepay/payment"
	"github.com/mstgnz/storepay/provider"
	"github.com/mstgnz/storepay/provider/cod"
	"github.com/mstgnz/storepay/provider/kashier"
	"github.com/mstgnz/storepay/provider/paymob"
	"github.com/mstgnz/storepay/router"
)

const version = "1.0.0"

func main() {
	cfg, err := config.App()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Create a context that listens for interrupt and terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// OpenSearch is optional; without it logs stay on the console
	var (
		searchClient *opensearch.Client
		searchLogger *opensearch.Logger
		audit        provider.AuditLogger = provider.NopAudit{}
	)
	if cfg.OpenSearch.Enabled {
		client, err := opensearch.NewClient(cfg.OpenSearch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opensearch: %v, continuing without it\n", err)
		} else {
			searchClient = client
			searchLogger = opensearch.NewLogger(client)
			audit = provider.NewOpenSearchAudit(searchLogger)
		}
	}

	if searchLogger != nil {
		logger.InitGlobalLogger(searchLogger, logger.ParseLevel(cfg.Logging.Level), cfg.Server.Environment)
	} else {
		logger.InitGlobalLogger(nil, logger.ParseLevel(cfg.Logging.Level), cfg.Server.Environment)
	}
	defer func() { _ = logger.GetGlobalLogger().Sync() }()

	store, err := order.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to open order store", err, logger.LogContext{Fields: map[string]any{"path": cfg.Database.Path}})
	}
	defer store.Close()

	factory := provider.NewFactory(cfg.Payment.MethodGateways)
	kashier.Register(factory, cfg.Kashier, audit)
	paymob.Register(factory, cfg.Paymob, audit)
	cod.Register(factory)
	logger.Info("Payment gateways registered", logger.LogContext{Fields: map[string]any{"gateways": factory.Names()}})

	if searchClient != nil {
		indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := searchClient.EnsureIndices(indexCtx, factory.Names()); err != nil {
			logger.Warn("Failed to create gateway log indices", logger.LogContext{Fields: map[string]any{"error": err.Error()}})
		}
		cancel()
	}

	dedup, rdb, err := payment.NewDeduper(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, cfg.Payment.DedupTTL)
	if err != nil {
		logger.Warn("Redis unavailable, deduplicating confirmations in memory", logger.LogContext{
			Fields: map[string]any{"addr": cfg.Redis.Addr, "error": err.Error()},
		})
	}
	if rdb != nil {
		defer rdb.Close()
	}

	orchestrator := payment.NewOrchestrator(store, factory, cfg.Payment,
		payment.WithPublisher(payment.NewLogPublisher(searchLogger)),
		payment.WithDeduper(dedup),
	)
	coordinator := payment.NewRefundCoordinator(store, factory, orchestrator)

	sweeper := payment.NewSweeper(store, factory, orchestrator, cfg.Payment.PendingTTL, cfg.Payment.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("Failed to schedule pending payment sweeper", err)
	}
	defer sweeper.Stop()

	var logs *handler.LogsHandler
	if searchLogger != nil {
		logs = handler.NewLogsHandler(searchLogger, store, factory)
	}

	r := router.New(ctx, cfg.Server, router.Handlers{
		Payments:  handler.NewPaymentHandler(orchestrator, coordinator, store),
		Callbacks: handler.NewCallbackHandler(orchestrator, cfg.Payment.SuccessURL, cfg.Payment.FailureURL),
		Health:    handler.NewHealthHandler(store, rdb, searchClient, factory, cfg.Server.Environment, version),
		Logs:      logs,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run your HTTP server in a goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", err)
		}
	}()

	logger.Info("API is running", logger.LogContext{Fields: map[string]any{"port": cfg.Server.Port}})

	// Block until a signal is received
	<-ctx.Done()

	logger.Info("Shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", err)
	}
}
