package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/broker"
	"github.com/looptrader/riskengine/internal/config"
	"github.com/looptrader/riskengine/internal/dashboard"
	"github.com/looptrader/riskengine/internal/greeks"
	"github.com/looptrader/riskengine/internal/ledger"
	"github.com/looptrader/riskengine/internal/premium"
	"github.com/looptrader/riskengine/internal/resolver"
	"github.com/looptrader/riskengine/internal/risk"
	"github.com/looptrader/riskengine/internal/valuation"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; the config loader expands ${VAR} references.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	store, err := ledger.NewSQLiteLedger(cfg.Database.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open position ledger")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close ledger")
		}
	}()

	service := buildService(cfg, store, logger)

	server := dashboard.NewServer(dashboard.Config{
		Port:      cfg.Server.Port,
		AuthToken: cfg.Server.AuthToken,
	}, store, service, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal %v, shutting down", sig)
	case err := <-errChan:
		logger.WithError(err).Error("Dashboard server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}

	logger.Info("Risk dashboard stopped")
}

// buildService wires the broker gateway, resolvers, and valuation
// pipeline into a pass-running risk service.
func buildService(cfg *config.Config, store ledger.Interface, logger *logrus.Logger) *risk.Service {
	api := broker.NewSchwabAPI(cfg.Broker.AccessToken, cfg.Broker.BaseURL, cfg.Broker.RateLimitPerMin).
		WithTimeout(cfg.GetBrokerTimeout())
	gateway := broker.NewCircuitBreakerGateway(api)

	accounts := resolver.NewSuffixAccountResolver(gateway)
	underlyings := resolver.NewNameUnderlyingResolver(cfg.Valuation.KnownUnderlyings, cfg.Valuation.DefaultUnderlying)

	accountant := premium.NewAccountant(logger)
	builder := valuation.NewCacheBuilder(
		gateway, accounts, underlyings, accountant, logger,
		cfg.Valuation.MaxParallelAccounts, cfg.GetValuationTimeout(),
	)
	estimator := valuation.NewFallbackEstimator(accountant, logger, nil)
	engine := valuation.NewEngine(accountant, estimator, logger)

	greeksAgg := greeks.NewAggregator(gateway, logger, cfg.GetBrokerTimeout())
	aggregator := risk.NewAggregator(engine, underlyings, logger)

	return risk.NewService(store, builder, greeksAgg, aggregator, logger)
}
