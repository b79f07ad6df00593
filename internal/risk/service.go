package risk

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/greeks"
	"github.com/looptrader/riskengine/internal/ledger"
	"github.com/looptrader/riskengine/internal/models"
	"github.com/looptrader/riskengine/internal/valuation"
)

// Service runs one synchronous valuation pass per call: load active
// positions, build the broker value cache to completion, run the
// batched Greeks fetch, then aggregate. The cache is rebuilt on every
// call and is read-only once built.
type Service struct {
	ledger     ledger.Interface
	builder    *valuation.CacheBuilder
	greeks     *greeks.Aggregator
	aggregator *Aggregator
	logger     *logrus.Logger
}

// NewService wires a pass-running service.
func NewService(
	ledger ledger.Interface,
	builder *valuation.CacheBuilder,
	greeksAgg *greeks.Aggregator,
	aggregator *Aggregator,
	logger *logrus.Logger,
) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		ledger:     ledger,
		builder:    builder,
		greeks:     greeksAgg,
		aggregator: aggregator,
		logger:     logger,
	}
}

// Snapshot is the result of one valuation pass.
type Snapshot struct {
	Portfolio  *models.PortfolioRisk
	Valuations []models.PositionValuation
	PassID     string
}

// Run executes a full pass over all active positions. Only ledger
// failures are fatal; broker failures degrade to estimates and zero
// Greeks inside the pass.
func (s *Service) Run(ctx context.Context) (*Snapshot, error) {
	return s.run(ctx, 0)
}

// RunForAccount executes a pass restricted to one account.
func (s *Service) RunForAccount(ctx context.Context, accountID int64) (*Snapshot, error) {
	return s.run(ctx, accountID)
}

func (s *Service) run(ctx context.Context, accountID int64) (*Snapshot, error) {
	positions, err := s.ledger.GetActivePositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active positions: %w", err)
	}
	if accountID != 0 {
		filtered := positions[:0]
		for _, p := range positions {
			if p.AccountID == accountID {
				filtered = append(filtered, p)
			}
		}
		positions = filtered
	}

	vc := valuation.NewContext()

	// The cache must be complete (or definitively failed) before any
	// P&L is read; Build blocks until every account worker is done.
	vc.Cache, vc.BrokerOK = s.builder.Build(ctx, positions)

	greeksByPosition := s.greeks.BatchFetch(ctx, positions)

	portfolio, valuations := s.aggregator.Aggregate(vc, positions, greeksByPosition)

	s.logger.WithFields(logrus.Fields{
		"pass_id":   vc.PassID,
		"positions": len(positions),
		"cached":    len(vc.Cache),
		"broker_ok": vc.BrokerOK,
		"skipped":   portfolio.SkippedPositions,
	}).Info("valuation pass complete")

	return &Snapshot{Portfolio: portfolio, Valuations: valuations, PassID: vc.PassID}, nil
}
