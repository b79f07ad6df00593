// Package premium turns raw multi-leg order fills into the signed
// initial premium of a position and its net-contract classification.
package premium

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/models"
)

// Accountant computes premium and net-contract figures from filled
// orders. Missing or malformed data degrades to zero with a warning,
// never an error; a single bad position must not take down a pass.
type Accountant struct {
	logger *logrus.Logger
}

// NewAccountant creates an Accountant logging through the given logger.
func NewAccountant(logger *logrus.Logger) *Accountant {
	if logger == nil {
		logger = logrus.New()
	}
	return &Accountant{logger: logger}
}

// InitialPremium returns the signed premium of the opening order:
// positive for a net credit received, negative for a net debit paid.
// The sign is fixed at open and never changes afterwards. The order
// price is already the net per-contract price for the whole multi-leg
// ticket, so no per-leg summation is needed.
func (a *Accountant) InitialPremium(p *models.Position) float64 {
	opening := p.OpeningOrder()
	if opening == nil {
		a.logger.WithField("position_id", p.ID).Warn("no filled opening order; treating initial premium as 0")
		return 0
	}

	qty := opening.EffectiveQuantity()
	if opening.Price == 0 || qty == 0 {
		a.logger.WithFields(logrus.Fields{
			"position_id": p.ID,
			"order_id":    opening.ID,
		}).Warn("opening order missing price or quantity; treating initial premium as 0")
		return 0
	}

	return opening.Price * qty * models.SharesPerContract
}

// NetPosition is the net-contract view of a position's filled orders.
// NetContracts > 0 means net short, < 0 net long.
type NetPosition struct {
	NetContracts float64
	CostBasis    float64
	Orders       []models.Order
}

// IsShort reports whether the position is net short.
func (n NetPosition) IsShort() bool {
	return n.NetContracts > models.ClosedContractsEpsilon
}

// IsLong reports whether the position is net long.
func (n NetPosition) IsLong() bool {
	return n.NetContracts < -models.ClosedContractsEpsilon
}

// IsClosed reports whether the position is effectively flat. Premium
// and valuation calculations must return 0 for closed positions.
func (n NetPosition) IsClosed() bool {
	return math.Abs(n.NetContracts) < models.ClosedContractsEpsilon
}

// NetPositionDetails iterates all filled orders: sell-type orders add
// their quantity to NetContracts and their dollar value to CostBasis,
// buy-type orders subtract both. Orders whose type could not be
// classified are treated as sells for backward compatibility with
// legacy fills (logged, since this can mis-sign bad data).
func (a *Accountant) NetPositionDetails(p *models.Position) NetPosition {
	net := NetPosition{}
	for _, o := range p.FilledOrders() {
		qty := o.EffectiveQuantity()
		dollars := o.Price * qty * models.SharesPerContract

		side := o.Side
		if side == models.SideUnknown {
			a.logger.WithFields(logrus.Fields{
				"position_id": p.ID,
				"order_id":    o.ID,
				"order_type":  o.OrderType,
			}).Warn("unclassified order type; assuming sell semantics")
			side = models.SideSell
		}

		switch side {
		case models.SideSell:
			net.NetContracts += qty
			net.CostBasis += dollars
		case models.SideBuy:
			net.NetContracts -= qty
			net.CostBasis -= dollars
		}
		net.Orders = append(net.Orders, o)
	}
	return net
}
