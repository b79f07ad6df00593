// Command riskreport runs one valuation pass and prints the portfolio
// risk report to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/broker"
	"github.com/looptrader/riskengine/internal/config"
	"github.com/looptrader/riskengine/internal/greeks"
	"github.com/looptrader/riskengine/internal/ledger"
	"github.com/looptrader/riskengine/internal/premium"
	"github.com/looptrader/riskengine/internal/resolver"
	"github.com/looptrader/riskengine/internal/risk"
	"github.com/looptrader/riskengine/internal/valuation"
)

func main() {
	var configPath string
	var accountID int64
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Int64Var(&accountID, "account", 0, "Restrict the pass to one account id (0 = all)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	// Keep the report readable; pass details go to stderr.
	logger.SetOutput(os.Stderr)

	store, err := ledger.NewSQLiteLedger(cfg.Database.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open position ledger")
	}
	defer store.Close()

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
	service := risk.NewService(store, builder, greeksAgg, aggregator, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var snapshot *risk.Snapshot
	if accountID != 0 {
		snapshot, err = service.RunForAccount(ctx, accountID)
	} else {
		snapshot, err = service.Run(ctx)
	}
	if err != nil {
		logger.WithError(err).Fatal("Valuation pass failed")
	}

	printReport(snapshot)
}

func printReport(snapshot *risk.Snapshot) {
	p := snapshot.Portfolio

	source := "broker snapshots"
	if !p.BrokerAvailable {
		source = "fallback estimates only"
	}
	fmt.Printf("Portfolio risk report (pass %s, %s)\n\n", snapshot.PassID, source)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Position", "Account", "Bot", "Underlying", "Initial", "Open", "PnL", "PnL %", "Est")
	for _, v := range snapshot.Valuations {
		est := ""
		if v.Estimated {
			est = "~"
		}
		table.Append(
			fmt.Sprintf("%d", v.PositionID),
			fmt.Sprintf("%d", v.AccountID),
			v.BotName,
			v.UnderlyingSymbol,
			fmt.Sprintf("$%.2f", v.InitialPremium),
			fmt.Sprintf("$%.2f", v.CurrentOpenPremium),
			fmt.Sprintf("$%.2f", v.PnL),
			fmt.Sprintf("%.2f%%", v.PnLPercent),
			est,
		)
	}
	table.Render()

	fmt.Println()
	totals := tablewriter.NewWriter(os.Stdout)
	totals.Header("Metric", "Value")
	totals.Append("Total P&L", fmt.Sprintf("$%.2f (%.2f%%)", p.TotalPnL, p.TotalPnLPercent))
	totals.Append("Open premium", fmt.Sprintf("$%.2f", p.TotalPremiumOpen))
	totals.Append("Cost basis", fmt.Sprintf("$%.2f", p.TotalCostBasis))
	totals.Append("Notional risk", fmt.Sprintf("$%.2f", p.TotalNotionalRisk))
	totals.Append("Delta", fmt.Sprintf("%.2f", p.TotalDelta))
	totals.Append("Gamma", fmt.Sprintf("%.4f", p.TotalGamma))
	totals.Append("Theta", fmt.Sprintf("%.2f", p.TotalTheta))
	totals.Append("Vega", fmt.Sprintf("%.2f", p.TotalVega))
	totals.Append("Skipped positions", fmt.Sprintf("%d", p.SkippedPositions))
	if p.BestPosition != nil {
		totals.Append("Best position", fmt.Sprintf("%d (%.2f%%)", p.BestPosition.PositionID, p.BestPosition.PnLPercent))
	}
	if p.WorstPosition != nil {
		totals.Append("Worst position", fmt.Sprintf("%d (%.2f%%)", p.WorstPosition.PositionID, p.WorstPosition.PnLPercent))
	}
	totals.Render()

	if len(p.UnderlyingConcentration) > 0 {
		fmt.Println()
		conc := tablewriter.NewWriter(os.Stdout)
		conc.Header("Underlying", "Positions")
		for _, uc := range p.UnderlyingConcentration {
			conc.Append(uc.Symbol, fmt.Sprintf("%d", uc.Positions))
		}
		conc.Render()
	}

	if len(p.PerAccount) > 0 {
		ids := make([]int64, 0, len(p.PerAccount))
		for id := range p.PerAccount {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		fmt.Println()
		acct := tablewriter.NewWriter(os.Stdout)
		acct.Header("Account", "Positions", "Open", "Basis", "PnL", "PnL %")
		for _, id := range ids {
			a := p.PerAccount[id]
			acct.Append(
				fmt.Sprintf("%d", id),
				fmt.Sprintf("%d", a.Positions),
				fmt.Sprintf("$%.2f", a.TotalPremiumOpen),
				fmt.Sprintf("$%.2f", a.TotalCostBasis),
				fmt.Sprintf("$%.2f", a.TotalPnL),
				fmt.Sprintf("%.2f%%", a.TotalPnLPercent),
			)
		}
		acct.Render()
	}
}
