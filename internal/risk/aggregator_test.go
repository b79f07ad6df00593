package risk

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/models"
	"github.com/looptrader/riskengine/internal/premium"
	"github.com/looptrader/riskengine/internal/resolver"
	"github.com/looptrader/riskengine/internal/valuation"
)

var fixedNow = time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestAggregator() *Aggregator {
	accountant := premium.NewAccountant(quietLogger())
	estimator := valuation.NewFallbackEstimator(accountant, quietLogger(), func() time.Time { return fixedNow })
	engine := valuation.NewEngine(accountant, estimator, quietLogger())
	underlyings := resolver.NewNameUnderlyingResolver([]string{"SPXW", "SPX", "NDX"}, "SPX")
	return NewAggregator(engine, underlyings, quietLogger())
}

func builtContext(values map[int64]float64) *valuation.Context {
	vc := valuation.NewContext()
	vc.Cache = values
	vc.BrokerOK = true
	return vc
}

// creditSpread is a put credit spread: short 5900, long 5850, so the
// notional risk is the 50-point width.
func creditSpread(id, accountID int64, botName string, price, qty float64) models.Position {
	return models.Position{
		ID: id, Active: true, AccountID: accountID, BotName: botName,
		OpenedAt: fixedNow.Add(-time.Hour),
		Orders: []models.Order{{
			ID: id * 10, Status: models.OrderStatusFilled, IsOpenPosition: true,
			Side: models.SideSell, Price: price, Quantity: qty, FilledQuantity: qty,
			Legs: []models.OrderLeg{
				{Instruction: "SELL_TO_OPEN", Quantity: qty, Instrument: models.Instrument{Symbol: "SPXW  250919P05900000"}},
				{Instruction: "BUY_TO_OPEN", Quantity: qty, Instrument: models.Instrument{Symbol: "SPXW  250919P05850000"}},
			},
		}},
	}
}

func TestAggregateTotals(t *testing.T) {
	agg := newTestAggregator()

	positions := []models.Position{
		creditSpread(1, 7, "SPXW Put Credit A", 2.85, 1), // +285 premium
		creditSpread(2, 7, "SPXW Put Credit B", 1.00, 1), // +100 premium
	}
	vc := builtContext(map[int64]float64{1: 250, 2: 120})
	greeks := map[int64]models.Greeks{
		1: {Delta: -30, Theta: 50},
		2: {Delta: -10, Theta: 20},
	}

	portfolio, valuations := agg.Aggregate(vc, positions, greeks)

	if len(valuations) != 2 {
		t.Fatalf("expected 2 valuations, got %d", len(valuations))
	}
	if math.Abs(portfolio.TotalPnL-(285-250+100-120)) > 1e-9 {
		t.Fatalf("TotalPnL = %v, want 15", portfolio.TotalPnL)
	}
	if math.Abs(portfolio.TotalPremiumOpen-370) > 1e-9 {
		t.Fatalf("TotalPremiumOpen = %v, want 370", portfolio.TotalPremiumOpen)
	}
	if math.Abs(portfolio.TotalCostBasis-385) > 1e-9 {
		t.Fatalf("TotalCostBasis = %v, want 385", portfolio.TotalCostBasis)
	}
	if math.Abs(portfolio.TotalPnLPercent-15.0/385*100) > 1e-6 {
		t.Fatalf("TotalPnLPercent = %v, want %v", portfolio.TotalPnLPercent, 15.0/385*100)
	}
	if math.Abs(portfolio.TotalDelta-(-40)) > 1e-9 || math.Abs(portfolio.TotalTheta-70) > 1e-9 {
		t.Fatalf("Greeks totals = %v/%v, want -40/70", portfolio.TotalDelta, portfolio.TotalTheta)
	}
	// Two 50-wide spreads, one contract each.
	if math.Abs(portfolio.TotalNotionalRisk-10000) > 1e-9 {
		t.Fatalf("TotalNotionalRisk = %v, want 10000", portfolio.TotalNotionalRisk)
	}
	if !portfolio.BrokerAvailable {
		t.Fatal("BrokerAvailable should mirror the pass context")
	}
	if portfolio.SkippedPositions != 0 {
		t.Fatalf("SkippedPositions = %d, want 0", portfolio.SkippedPositions)
	}
}

func TestAggregateBestAndWorst(t *testing.T) {
	agg := newTestAggregator()

	positions := []models.Position{
		creditSpread(1, 7, "SPXW A", 2.85, 1), // pnl 285-250=35 -> 12.28%
		creditSpread(2, 7, "SPXW B", 1.00, 1), // pnl 100-120=-20 -> -20%
	}
	vc := builtContext(map[int64]float64{1: 250, 2: 120})

	portfolio, _ := agg.Aggregate(vc, positions, nil)
	if portfolio.BestPosition == nil || portfolio.BestPosition.PositionID != 1 {
		t.Fatalf("BestPosition = %+v, want position 1", portfolio.BestPosition)
	}
	if portfolio.WorstPosition == nil || portfolio.WorstPosition.PositionID != 2 {
		t.Fatalf("WorstPosition = %+v, want position 2", portfolio.WorstPosition)
	}
}

func TestAggregateNakedNotional(t *testing.T) {
	agg := newTestAggregator()

	naked := models.Position{
		ID: 1, Active: true, AccountID: 7, BotName: "SPXW Naked Put",
		OpenedAt: fixedNow.Add(-time.Hour),
		Orders: []models.Order{{
			Status: models.OrderStatusFilled, IsOpenPosition: true,
			Side: models.SideSell, Price: 2.85, Quantity: 2, FilledQuantity: 2,
			Legs: []models.OrderLeg{
				{Instruction: "SELL_TO_OPEN", Quantity: 2, Instrument: models.Instrument{Symbol: "SPXW  250919P05900000"}},
			},
		}},
	}

	portfolio, _ := agg.Aggregate(builtContext(nil), []models.Position{naked}, nil)
	// Single strike: the bare strike value, 5900 * 2 * 100.
	if math.Abs(portfolio.TotalNotionalRisk-1180000) > 1e-9 {
		t.Fatalf("TotalNotionalRisk = %v, want 1180000", portfolio.TotalNotionalRisk)
	}
}

func TestAggregateBadStrikesSkipOnlyNotional(t *testing.T) {
	agg := newTestAggregator()

	bad := creditSpread(1, 7, "SPXW Bad Symbols", 2.85, 1)
	bad.Orders[0].Legs[0].Instrument.Symbol = "garbage"
	good := creditSpread(2, 7, "SPXW Good", 1.00, 1)

	vc := builtContext(map[int64]float64{1: 250, 2: 80})
	portfolio, valuations := agg.Aggregate(vc, []models.Position{bad, good}, nil)

	if len(valuations) != 2 {
		t.Fatalf("bad strikes must not drop the position's P&L, got %d valuations", len(valuations))
	}
	if math.Abs(portfolio.TotalPnL-(285-250+100-80)) > 1e-9 {
		t.Fatalf("TotalPnL = %v, want 55", portfolio.TotalPnL)
	}
	// Only the good spread contributes notional.
	if math.Abs(portfolio.TotalNotionalRisk-5000) > 1e-9 {
		t.Fatalf("TotalNotionalRisk = %v, want 5000", portfolio.TotalNotionalRisk)
	}
	if portfolio.SkippedPositions != 0 {
		t.Fatalf("SkippedPositions = %d, want 0 (notional skip is not a position skip)", portfolio.SkippedPositions)
	}
}

func TestAggregateSkipsPositionWithoutOpeningOrder(t *testing.T) {
	agg := newTestAggregator()

	broken := models.Position{ID: 1, Active: true, AccountID: 7, OpenedAt: fixedNow.Add(-time.Hour)}
	good := creditSpread(2, 7, "SPXW Good", 2.85, 1)

	portfolio, valuations := agg.Aggregate(builtContext(map[int64]float64{2: 250}), []models.Position{broken, good}, nil)

	if portfolio.SkippedPositions != 1 {
		t.Fatalf("SkippedPositions = %d, want 1", portfolio.SkippedPositions)
	}
	if len(valuations) != 1 || valuations[0].PositionID != 2 {
		t.Fatalf("healthy position must still be valued, got %+v", valuations)
	}
	if math.Abs(portfolio.TotalPnL-35) > 1e-9 {
		t.Fatalf("TotalPnL = %v, want 35", portfolio.TotalPnL)
	}
}

func TestAggregateConcentrationOrder(t *testing.T) {
	agg := newTestAggregator()

	positions := []models.Position{
		creditSpread(1, 7, "NDX Condor", 2.00, 1),
		creditSpread(2, 7, "SPXW A", 2.00, 1),
		creditSpread(3, 7, "SPXW B", 2.00, 1),
		creditSpread(4, 7, "Unnamed Bot", 2.00, 1), // falls back to SPX
	}

	portfolio, _ := agg.Aggregate(builtContext(nil), positions, nil)
	conc := portfolio.UnderlyingConcentration
	if len(conc) != 3 {
		t.Fatalf("expected 3 underlyings, got %+v", conc)
	}
	if conc[0].Symbol != "SPXW" || conc[0].Positions != 2 {
		t.Fatalf("most concentrated first, got %+v", conc)
	}
	// NDX and SPX tie at 1: alphabetical.
	if conc[1].Symbol != "NDX" || conc[2].Symbol != "SPX" {
		t.Fatalf("ties must sort alphabetically, got %+v", conc)
	}
}

func TestAggregatePerAccount(t *testing.T) {
	agg := newTestAggregator()

	positions := []models.Position{
		creditSpread(1, 7, "SPXW A", 2.85, 1),
		creditSpread(2, 8, "SPXW B", 1.00, 1),
	}
	vc := builtContext(map[int64]float64{1: 250, 2: 120})

	portfolio, _ := agg.Aggregate(vc, positions, nil)
	if len(portfolio.PerAccount) != 2 {
		t.Fatalf("expected 2 account entries, got %+v", portfolio.PerAccount)
	}
	a7 := portfolio.PerAccount[7]
	if a7.Positions != 1 || math.Abs(a7.TotalPnL-35) > 1e-9 {
		t.Fatalf("account 7 = %+v, want 1 position with 35 pnl", a7)
	}
	if math.Abs(a7.TotalPnLPercent-35.0/285*100) > 1e-6 {
		t.Fatalf("account 7 pnl percent = %v", a7.TotalPnLPercent)
	}
	a8 := portfolio.PerAccount[8]
	if math.Abs(a8.TotalPnL-(-20)) > 1e-9 {
		t.Fatalf("account 8 = %+v, want -20 pnl", a8)
	}
}

func TestAggregateEmpty(t *testing.T) {
	agg := newTestAggregator()
	portfolio, valuations := agg.Aggregate(builtContext(nil), nil, nil)
	if len(valuations) != 0 {
		t.Fatalf("expected no valuations, got %+v", valuations)
	}
	if portfolio.TotalPnLPercent != 0 || portfolio.BestPosition != nil || portfolio.WorstPosition != nil {
		t.Fatalf("empty portfolio must be all zeroes, got %+v", portfolio)
	}
	if portfolio.UnderlyingConcentration == nil {
		t.Fatal("UnderlyingConcentration must be empty, not nil, for JSON rendering")
	}
}
