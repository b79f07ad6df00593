// Package greeks aggregates per-position option sensitivities from a
// single batched broker quote request per valuation pass.
package greeks

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/broker"
	"github.com/looptrader/riskengine/internal/models"
)

// Aggregator batches the option symbols of every position's opening
// order into one quote call and accumulates sign-aware Greeks per
// position. Never one broker call per position.
type Aggregator struct {
	gateway broker.Gateway
	logger  *logrus.Logger
	timeout time.Duration
}

// NewAggregator wires a Greeks aggregator. timeout bounds the single
// quotes call.
func NewAggregator(gateway broker.Gateway, logger *logrus.Logger, timeout time.Duration) *Aggregator {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Aggregator{gateway: gateway, logger: logger, timeout: timeout}
}

// BatchFetch returns aggregated Greeks per position id. Missing quotes
// or a failed broker call degrade to all-zero Greeks for the affected
// positions, never an error: the risk page must render without them.
func (a *Aggregator) BatchFetch(ctx context.Context, positions []models.Position) map[int64]models.Greeks {
	result := make(map[int64]models.Greeks, len(positions))
	for _, p := range positions {
		result[p.ID] = models.Greeks{}
	}

	symbols := collectSymbols(positions)
	if len(symbols) == 0 {
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	quotes, err := a.gateway.GetQuotes(callCtx, symbols)
	if err != nil {
		a.logger.WithError(err).Warn("batched quote fetch failed; reporting zero Greeks")
		return result
	}

	for i := range positions {
		p := &positions[i]
		opening := p.OpeningOrder()
		if opening == nil {
			continue
		}

		totals := models.Greeks{}
		for _, leg := range opening.Legs {
			quote, ok := quotes[leg.Instrument.Symbol]
			if !ok {
				continue
			}
			multiplier := leg.Quantity
			if leg.IsSell() {
				multiplier = -leg.Quantity
			}
			totals.Add(models.Greeks{
				Delta: multiplier * quote.Delta * models.SharesPerContract,
				Gamma: multiplier * quote.Gamma * models.SharesPerContract,
				Theta: multiplier * quote.Theta * models.SharesPerContract,
				Vega:  multiplier * quote.Vega * models.SharesPerContract,
			})
		}
		result[p.ID] = totals
	}
	return result
}

// collectSymbols gathers the distinct option symbols across all
// positions' opening-order legs, sorted for a stable request.
func collectSymbols(positions []models.Position) []string {
	seen := make(map[string]struct{})
	for i := range positions {
		opening := positions[i].OpeningOrder()
		if opening == nil {
			continue
		}
		for _, leg := range opening.Legs {
			if leg.Instrument.Symbol != "" {
				seen[leg.Instrument.Symbol] = struct{}{}
			}
		}
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
