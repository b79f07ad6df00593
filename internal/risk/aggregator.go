// Package risk aggregates per-position valuations and Greeks into
// portfolio-level totals, notional risk, and concentration.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/models"
	"github.com/looptrader/riskengine/internal/resolver"
	"github.com/looptrader/riskengine/internal/valuation"
)

// Aggregator computes portfolio totals from an already-built valuation
// pass. A malformed position is logged and skipped; the rest of the
// portfolio must still render.
type Aggregator struct {
	engine      *valuation.Engine
	underlyings resolver.UnderlyingResolver
	logger      *logrus.Logger
}

// NewAggregator wires a portfolio risk aggregator.
func NewAggregator(
	engine *valuation.Engine,
	underlyings resolver.UnderlyingResolver,
	logger *logrus.Logger,
) *Aggregator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Aggregator{engine: engine, underlyings: underlyings, logger: logger}
}

// Aggregate rolls positions up into a PortfolioRisk and returns the
// per-position valuations that fed it. The valuation context must be
// fully built before this is called; reading a half-built cache would
// break the proportional-allocation sums.
func (a *Aggregator) Aggregate(
	vc *valuation.Context,
	positions []models.Position,
	greeksByPosition map[int64]models.Greeks,
) (*models.PortfolioRisk, []models.PositionValuation) {
	result := &models.PortfolioRisk{
		UnderlyingConcentration: []models.UnderlyingCount{},
		PerAccount:              make(map[int64]models.AccountRisk),
		BrokerAvailable:         vc != nil && vc.BrokerOK,
	}

	concentration := make(map[string]int)
	var valuations []models.PositionValuation

	for i := range positions {
		p := &positions[i]

		if p.OpeningOrder() == nil {
			a.logger.WithField("position_id", p.ID).Warn("position has no filled opening order; skipping")
			result.SkippedPositions++
			continue
		}

		underlying := a.underlyings.Underlying(p.BotName)
		v := a.engine.Valuate(vc, p, underlying)
		valuations = append(valuations, v)

		result.TotalPremiumOpen += v.CurrentOpenPremium
		result.TotalCostBasis += math.Abs(v.InitialPremium)
		result.TotalPnL += v.PnL
		concentration[underlying]++

		if g, ok := greeksByPosition[p.ID]; ok {
			result.TotalDelta += g.Delta
			result.TotalGamma += g.Gamma
			result.TotalTheta += g.Theta
			result.TotalVega += g.Vega
		}

		notional, err := notionalRisk(p)
		if err != nil {
			// Strike parsing is format-fragile; drop only this
			// position's notional contribution, keep its P&L.
			a.logger.WithError(err).WithField("position_id", p.ID).
				Warn("could not compute notional risk for position")
		} else {
			result.TotalNotionalRisk += notional
		}

		acct := result.PerAccount[p.AccountID]
		acct.AccountID = p.AccountID
		acct.Positions++
		acct.TotalPremiumOpen += v.CurrentOpenPremium
		acct.TotalCostBasis += math.Abs(v.InitialPremium)
		acct.TotalPnL += v.PnL
		result.PerAccount[p.AccountID] = acct
	}

	if result.TotalCostBasis > models.PremiumEpsilon {
		result.TotalPnLPercent = result.TotalPnL / result.TotalCostBasis * 100
	}
	for id, acct := range result.PerAccount {
		if acct.TotalCostBasis > models.PremiumEpsilon {
			acct.TotalPnLPercent = acct.TotalPnL / acct.TotalCostBasis * 100
			result.PerAccount[id] = acct
		}
	}

	result.BestPosition, result.WorstPosition = bestAndWorst(valuations)
	result.UnderlyingConcentration = sortedConcentration(concentration)

	return result, valuations
}

// notionalRisk is the maximum dollar loss implied by the opening
// order's strikes: spread width for two or more strikes, the bare
// strike for a naked single-strike position.
func notionalRisk(p *models.Position) (float64, error) {
	opening := p.OpeningOrder()
	strikes, err := models.LegStrikes(opening.Legs)
	if err != nil {
		return 0, err
	}
	if len(strikes) == 0 {
		return 0, fmt.Errorf("opening order %d has no legs with strikes", opening.ID)
	}

	qty := opening.EffectiveQuantity()
	if len(strikes) == 1 {
		return strikes[0] * qty * models.SharesPerContract, nil
	}

	minStrike, maxStrike := strikes[0], strikes[0]
	for _, s := range strikes[1:] {
		if s < minStrike {
			minStrike = s
		}
		if s > maxStrike {
			maxStrike = s
		}
	}
	return (maxStrike - minStrike) * qty * models.SharesPerContract, nil
}

// bestAndWorst picks the extremes by P&L percent.
func bestAndWorst(valuations []models.PositionValuation) (best, worst *models.PositionValuation) {
	for i := range valuations {
		v := &valuations[i]
		if best == nil || v.PnLPercent > best.PnLPercent {
			best = v
		}
		if worst == nil || v.PnLPercent < worst.PnLPercent {
			worst = v
		}
	}
	return best, worst
}

// sortedConcentration renders the per-underlying counts in a stable
// order: most positions first, then alphabetically.
func sortedConcentration(counts map[string]int) []models.UnderlyingCount {
	out := make([]models.UnderlyingCount, 0, len(counts))
	for symbol, n := range counts {
		out = append(out, models.UnderlyingCount{Symbol: symbol, Positions: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Positions != out[j].Positions {
			return out[i].Positions > out[j].Positions
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
