package valuation

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/models"
	"github.com/looptrader/riskengine/internal/premium"
)

// Classification buckets a position's filled legs for decay purposes.
type Classification int

const (
	// ClassSpread marks positions with both buy and sell fills.
	ClassSpread Classification = iota
	// ClassShort marks pure-sell positions.
	ClassShort
	// ClassLong marks pure-buy positions.
	ClassLong
)

// String returns the classification name for logging.
func (c Classification) String() string {
	switch c {
	case ClassShort:
		return "short"
	case ClassLong:
		return "long"
	default:
		return "spread"
	}
}

// decayBucket is one row of the age-based decay table. The factors are
// a heuristic approximation of time-value erosion, not a pricing model;
// the exact coefficients are placeholders to validate against real
// fills.
type decayBucket struct {
	maxAge time.Duration // 0 means "everything older"
	spread float64
	short  float64
	long   float64
}

var decayTable = []decayBucket{
	{maxAge: 6 * time.Hour, spread: 0.95, short: 0.95, long: 0.90},
	{maxAge: 24 * time.Hour, spread: 0.85, short: 0.85, long: 0.70},
	{maxAge: 7 * 24 * time.Hour, spread: 0.60, short: 0.60, long: 0.40},
	{maxAge: 30 * 24 * time.Hour, spread: 0.30, short: 0.30, long: 0.15},
	{maxAge: 0, spread: 0.10, short: 0.10, long: 0.05},
}

// Floors applied in the oldest bucket so a still-open position never
// collapses to exactly zero.
const (
	oldSpreadFloorPct = 0.02
	oldShortFloorPct  = 0.02
	oldLongFloorPct   = 0.01
)

// FallbackEstimator approximates a position's current cost-to-close
// from its cost basis and age when no broker snapshot entry exists.
type FallbackEstimator struct {
	accountant *premium.Accountant
	logger     *logrus.Logger
	now        func() time.Time
}

// NewFallbackEstimator creates an estimator. nowFn may be nil, in which
// case time.Now is used (tests inject a fixed clock).
func NewFallbackEstimator(accountant *premium.Accountant, logger *logrus.Logger, nowFn func() time.Time) *FallbackEstimator {
	if logger == nil {
		logger = logrus.New()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &FallbackEstimator{accountant: accountant, logger: logger, now: nowFn}
}

// Classify buckets the position by the legs of its filled orders:
// mixed buy and sell legs make a spread, pure sells a short, pure buys
// a long. A multi-leg spread is usually opened as one net ticket, so
// the order side alone would misread it; the ticket's legs carry the
// real directions. Orders without leg data fall back to the order
// side, with unclassifiable sides counting as sells, consistent with
// the accountant.
func Classify(net premium.NetPosition) Classification {
	var hasBuy, hasSell bool
	for _, o := range net.Orders {
		if len(o.Legs) > 0 {
			for i := range o.Legs {
				if o.Legs[i].IsSell() {
					hasSell = true
				} else {
					hasBuy = true
				}
			}
			continue
		}
		if o.Side == models.SideBuy {
			hasBuy = true
		} else {
			hasSell = true
		}
	}
	switch {
	case hasBuy && hasSell:
		return ClassSpread
	case hasBuy:
		return ClassLong
	default:
		return ClassShort
	}
}

// Estimate returns the decayed cost-to-close approximation for a
// position, in dollars, always >= 0. Effectively closed positions
// return 0 immediately and are excluded from decay math entirely.
func (e *FallbackEstimator) Estimate(p *models.Position) float64 {
	net := e.accountant.NetPositionDetails(p)
	if net.IsClosed() {
		return 0
	}

	contracts := math.Abs(net.NetContracts)
	basis := math.Abs(net.CostBasis)
	if basis == 0 || contracts == 0 {
		return 0
	}
	basisPricePerContract := basis / (contracts * models.SharesPerContract)

	class := Classify(net)
	age := p.Age(e.now())
	factor, oldest := decayFactor(class, age)

	estimate := contracts * basisPricePerContract * factor * models.SharesPerContract
	if oldest {
		floor := basis * floorPct(class)
		if estimate < floor {
			estimate = floor
		}
	}

	e.logger.WithFields(logrus.Fields{
		"position_id": p.ID,
		"class":       class.String(),
		"age_hours":   age.Hours(),
		"factor":      factor,
		"estimate":    estimate,
	}).Debug("estimated cost-to-close from decay table")

	return estimate
}

// decayFactor returns the factor for a classification and age, and
// whether the oldest (floored) bucket applied. Factors are
// non-increasing in age for any fixed classification.
func decayFactor(class Classification, age time.Duration) (float64, bool) {
	for _, bucket := range decayTable {
		if bucket.maxAge != 0 && age > bucket.maxAge {
			continue
		}
		return bucketFactor(bucket, class), bucket.maxAge == 0
	}
	last := decayTable[len(decayTable)-1]
	return bucketFactor(last, class), true
}

func bucketFactor(b decayBucket, class Classification) float64 {
	switch class {
	case ClassShort:
		return b.short
	case ClassLong:
		return b.long
	default:
		return b.spread
	}
}

func floorPct(class Classification) float64 {
	switch class {
	case ClassLong:
		return oldLongFloorPct
	case ClassShort:
		return oldShortFloorPct
	default:
		return oldSpreadFloorPct
	}
}
