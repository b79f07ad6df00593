// Package valuation estimates the current cost-to-close of open option
// positions: from a brokerage account snapshot when one is available,
// proportionally allocated across positions sharing an underlying, and
// from a time-decay heuristic when it is not.
package valuation

import (
	"time"

	"github.com/google/uuid"
)

// Context is the per-pass valuation state: the broker value cache plus
// pass metadata for log correlation. A Context is built once per
// request, shared read-only across every position evaluated in that
// pass, and never reused across passes — always rebuild, to avoid
// serving stale allocations.
type Context struct {
	PassID  string
	BuiltAt time.Time
	// Cache maps position id to the absolute current market value from
	// the broker snapshot. No entry means "unknown", not "zero";
	// callers fall back per-position.
	Cache map[int64]float64
	// BrokerOK is false when no account snapshot could be fetched at
	// all; every downstream value is then estimated.
	BrokerOK bool
}

// NewContext creates an empty pass context with a fresh pass id.
// The cache starts nil; a Context without a built cache behaves as
// "broker unavailable" and every lookup misses.
func NewContext() *Context {
	return &Context{
		PassID:  uuid.NewString(),
		BuiltAt: time.Now().UTC(),
	}
}

// Lookup returns the cached absolute market value for a position.
func (c *Context) Lookup(positionID int64) (float64, bool) {
	if c == nil || c.Cache == nil {
		return 0, false
	}
	v, ok := c.Cache[positionID]
	return v, ok
}
