package valuation

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/models"
	"github.com/looptrader/riskengine/internal/premium"
)

// Engine combines initial premium with the current cost-to-close into
// per-position P&L. It reads the pass Context's cache and never calls
// the broker itself.
type Engine struct {
	accountant *premium.Accountant
	fallback   *FallbackEstimator
	logger     *logrus.Logger
}

// NewEngine wires a P&L engine.
func NewEngine(accountant *premium.Accountant, fallback *FallbackEstimator, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{accountant: accountant, fallback: fallback, logger: logger}
}

// CurrentOpenPremium returns the estimated current cost-to-close in
// dollars (always >= 0) and whether the value came from the fallback
// estimator rather than a broker snapshot. Effectively closed positions
// are clamped to 0 regardless of source.
func (e *Engine) CurrentOpenPremium(vc *Context, p *models.Position) (float64, bool) {
	if e.accountant.NetPositionDetails(p).IsClosed() {
		return 0, false
	}
	if v, ok := vc.Lookup(p.ID); ok {
		return math.Abs(v), false
	}
	return e.fallback.Estimate(p), true
}

// CurrentPnL returns initialPremium - currentOpenPremium. The single
// formula is correct for both credit and debit positions because the
// sign of the initial premium already encodes direction.
func (e *Engine) CurrentPnL(vc *Context, p *models.Position) float64 {
	open, _ := e.CurrentOpenPremium(vc, p)
	return e.accountant.InitialPremium(p) - open
}

// Valuate computes the full per-position valuation for one pass.
func (e *Engine) Valuate(vc *Context, p *models.Position, underlying string) models.PositionValuation {
	initial := e.accountant.InitialPremium(p)
	open, estimated := e.CurrentOpenPremium(vc, p)
	pnl := initial - open

	var pnlPercent float64
	if math.Abs(initial) > models.PremiumEpsilon {
		pnlPercent = pnl / math.Abs(initial) * 100
	}

	return models.PositionValuation{
		PositionID:         p.ID,
		AccountID:          p.AccountID,
		BotName:            p.BotName,
		UnderlyingSymbol:   underlying,
		InitialPremium:     initial,
		CurrentOpenPremium: open,
		PnL:                pnl,
		PnLPercent:         pnlPercent,
		Estimated:          estimated,
	}
}
