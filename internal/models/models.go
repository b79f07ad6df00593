// Package models defines the domain types for the position valuation
// engine: positions, their multi-leg order fills, and the valuation and
// portfolio risk outputs consumed by the dashboard layer.
package models

import (
	"strings"
	"time"
)

// SharesPerContract is the standard option contract multiplier.
const SharesPerContract = 100.0

// ClosedContractsEpsilon is the net-contract magnitude below which a
// position is treated as flat. Premium and valuation calculations must
// return 0 once a position is effectively closed.
const ClosedContractsEpsilon = 0.01

// PremiumEpsilon is the dollar threshold below which an initial premium
// is considered zero for percentage calculations.
const PremiumEpsilon = 0.01

// OrderStatus is the broker-reported order lifecycle state.
// Only filled orders contribute to premium and net-contract math.
type OrderStatus string

// Order status values as reported by the upstream bot ingestion.
const (
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusWorking   OrderStatus = "WORKING"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// OrderSide is the buy/sell classification of an order, decided once at
// ingestion so downstream logic never re-scans order-type strings.
type OrderSide int

const (
	// SideUnknown marks an order whose type could not be classified.
	// Downstream math treats it with SELL semantics for backward
	// compatibility with legacy fills.
	SideUnknown OrderSide = iota
	// SideBuy marks a net-buy (debit) order ticket.
	SideBuy
	// SideSell marks a net-sell (credit) order ticket.
	SideSell
)

// String returns the side name for logging.
func (s OrderSide) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// ClassifySide maps a raw order-type string to an OrderSide.
// Recognizes the usual broker vocabularies (BUY/SELL, BUY_TO_OPEN,
// SELL_TO_CLOSE, NET_CREDIT/NET_DEBIT).
func ClassifySide(orderType string) OrderSide {
	t := strings.ToUpper(strings.TrimSpace(orderType))
	switch {
	case t == "":
		return SideUnknown
	case strings.Contains(t, "SELL"), strings.Contains(t, "NET_CREDIT"):
		return SideSell
	case strings.Contains(t, "BUY"), strings.Contains(t, "NET_DEBIT"):
		return SideBuy
	default:
		return SideUnknown
	}
}

// Instrument is the option contract an order leg trades. The symbol
// encodes the strike in a fixed-width numeric suffix (OCC format).
type Instrument struct {
	ID               int64    `json:"id"`
	LegID            int64    `json:"leg_id"`
	Symbol           string   `json:"symbol"`
	UnderlyingSymbol string   `json:"underlying_symbol"`
	PutCall          string   `json:"put_call"`
	Delta            *float64 `json:"delta,omitempty"`
}

// OrderLeg is a single leg of a multi-leg order ticket.
type OrderLeg struct {
	ID          int64      `json:"id"`
	OrderID     int64      `json:"order_id"`
	Instruction string     `json:"instruction"` // e.g. SELL_TO_OPEN, BUY_TO_CLOSE
	Quantity    float64    `json:"quantity"`
	Instrument  Instrument `json:"instrument"`
}

// IsSell reports whether the leg instruction is a sell
// (SELL_TO_OPEN/SELL_TO_CLOSE).
func (l *OrderLeg) IsSell() bool {
	return strings.HasPrefix(strings.ToUpper(l.Instruction), "SELL")
}

// Order is one multi-leg ticket belonging to a position. Price is the
// signed net per-contract price for the whole ticket, so no per-leg
// price summation is needed.
type Order struct {
	ID             int64       `json:"id"`
	PositionID     int64       `json:"position_id"`
	BrokerOrderID  string      `json:"broker_order_id,omitempty"`
	Status         OrderStatus `json:"status"`
	OrderType      string      `json:"order_type"`
	Side           OrderSide   `json:"side"`
	Price          float64     `json:"price"`
	Quantity       float64     `json:"quantity"`
	FilledQuantity float64     `json:"filled_quantity"`
	IsOpenPosition bool        `json:"is_open_position"`
	EnteredAt      time.Time   `json:"entered_at"`
	Legs           []OrderLeg  `json:"legs"`
}

// IsFilled reports whether the order counts toward position math.
// Broker status strings vary in casing, so the match is case-insensitive.
func (o *Order) IsFilled() bool {
	return strings.EqualFold(string(o.Status), string(OrderStatusFilled))
}

// EffectiveQuantity returns the filled quantity when reported, falling
// back to the requested quantity for brokers that omit fill counts.
func (o *Order) EffectiveQuantity() float64 {
	if o.FilledQuantity > 0 {
		return o.FilledQuantity
	}
	return o.Quantity
}

// Position is one bot-opened trade with its order fills. Closed
// positions are immutable except for the closed timestamp.
type Position struct {
	ID        int64     `json:"id"`
	Active    bool      `json:"active"`
	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"` // zero while open
	AccountID int64     `json:"account_id"`
	BotID     int64     `json:"bot_id"`
	BotName   string    `json:"bot_name,omitempty"`
	Orders    []Order   `json:"orders"`
}

// OpeningOrder returns the order that established the position: the one
// flagged IsOpenPosition if it is filled, otherwise the first filled
// order. Returns nil when the position has no filled orders.
func (p *Position) OpeningOrder() *Order {
	var first *Order
	for i := range p.Orders {
		o := &p.Orders[i]
		if !o.IsFilled() {
			continue
		}
		if o.IsOpenPosition {
			return o
		}
		if first == nil {
			first = o
		}
	}
	return first
}

// FilledOrders returns the orders that count toward position math, in
// ledger order.
func (p *Position) FilledOrders() []Order {
	filled := make([]Order, 0, len(p.Orders))
	for _, o := range p.Orders {
		if o.IsFilled() {
			filled = append(filled, o)
		}
	}
	return filled
}

// Age returns how long the position has been open as of now. Closed
// positions report the open-to-close span.
func (p *Position) Age(now time.Time) time.Duration {
	end := now
	if !p.ClosedAt.IsZero() {
		end = p.ClosedAt
	}
	d := end.Sub(p.OpenedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Greeks holds per-position aggregated option sensitivities, already
// scaled by contract count, direction, and the share multiplier.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Add accumulates another Greeks value.
func (g *Greeks) Add(o Greeks) {
	g.Delta += o.Delta
	g.Gamma += o.Gamma
	g.Theta += o.Theta
	g.Vega += o.Vega
}

// PositionValuation is the per-position output of a valuation pass.
// Estimated is true when the value came from the time-decay fallback
// rather than a broker snapshot.
type PositionValuation struct {
	PositionID         int64   `json:"position_id"`
	AccountID          int64   `json:"account_id"`
	BotName            string  `json:"bot_name,omitempty"`
	UnderlyingSymbol   string  `json:"underlying_symbol"`
	InitialPremium     float64 `json:"initial_premium"`
	CurrentOpenPremium float64 `json:"current_open_premium"`
	PnL                float64 `json:"pnl"`
	PnLPercent         float64 `json:"pnl_percent"`
	Estimated          bool    `json:"estimated"`
}

// UnderlyingCount is one entry of the portfolio concentration list.
type UnderlyingCount struct {
	Symbol    string `json:"symbol"`
	Positions int    `json:"positions"`
}

// AccountRisk is the per-account breakdown of the portfolio metrics.
type AccountRisk struct {
	AccountID        int64   `json:"account_id"`
	Positions        int     `json:"positions"`
	TotalPremiumOpen float64 `json:"total_premium_open"`
	TotalCostBasis   float64 `json:"total_cost_basis"`
	TotalPnL         float64 `json:"total_pnl"`
	TotalPnLPercent  float64 `json:"total_pnl_percent"`
}

// PortfolioRisk is the aggregated output of one valuation pass.
// BrokerAvailable is false when no live snapshot could be fetched and
// every position value is therefore estimated.
type PortfolioRisk struct {
	TotalDelta              float64               `json:"total_delta"`
	TotalGamma              float64               `json:"total_gamma"`
	TotalTheta              float64               `json:"total_theta"`
	TotalVega               float64               `json:"total_vega"`
	TotalNotionalRisk       float64               `json:"total_notional_risk"`
	TotalPremiumOpen        float64               `json:"total_premium_open"`
	TotalCostBasis          float64               `json:"total_cost_basis"`
	TotalPnL                float64               `json:"total_pnl"`
	TotalPnLPercent         float64               `json:"total_pnl_percent"`
	BestPosition            *PositionValuation    `json:"best_position,omitempty"`
	WorstPosition           *PositionValuation    `json:"worst_position,omitempty"`
	UnderlyingConcentration []UnderlyingCount     `json:"underlying_concentration"`
	PerAccount              map[int64]AccountRisk `json:"per_account,omitempty"`
	BrokerAvailable         bool                  `json:"broker_available"`
	SkippedPositions        int                   `json:"skipped_positions"`
}
