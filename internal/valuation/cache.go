package valuation

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/looptrader/riskengine/internal/broker"
	"github.com/looptrader/riskengine/internal/models"
	"github.com/looptrader/riskengine/internal/premium"
	"github.com/looptrader/riskengine/internal/resolver"
)

// maxAccountWorkers caps the per-account fetch pool regardless of how
// many accounts the fleet spans.
const maxAccountWorkers = 10

// CacheBuilder builds the per-pass broker value cache: one snapshot
// fetch per distinct account, then proportional allocation of each
// underlying's absolute market value across the positions that share
// it. The builder is the only component besides the Greeks aggregator
// that talks to the broker.
type CacheBuilder struct {
	gateway     broker.Gateway
	accounts    resolver.AccountResolver
	underlyings resolver.UnderlyingResolver
	accountant  *premium.Accountant
	logger      *logrus.Logger
	maxParallel int
	timeout     time.Duration
}

// NewCacheBuilder wires a builder. maxParallel bounds concurrent
// account fetches (further capped at maxAccountWorkers); timeout bounds
// each broker call.
func NewCacheBuilder(
	gateway broker.Gateway,
	accounts resolver.AccountResolver,
	underlyings resolver.UnderlyingResolver,
	accountant *premium.Accountant,
	logger *logrus.Logger,
	maxParallel int,
	timeout time.Duration,
) *CacheBuilder {
	if logger == nil {
		logger = logrus.New()
	}
	if maxParallel <= 0 || maxParallel > maxAccountWorkers {
		maxParallel = maxAccountWorkers
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CacheBuilder{
		gateway:     gateway,
		accounts:    accounts,
		underlyings: underlyings,
		accountant:  accountant,
		logger:      logger,
		maxParallel: maxParallel,
		timeout:     timeout,
	}
}

// Build fetches account snapshots and returns the position id to
// absolute market value map, plus whether any snapshot was fetched.
//
// The cache is additive and partial: an account whose fetch fails
// contributes no entries, and callers fall back per-position. The map
// must be fully built before any position's open premium is read, so
// Build returns only after every account worker has finished.
func (b *CacheBuilder) Build(ctx context.Context, positions []models.Position) (map[int64]float64, bool) {
	byAccount := make(map[int64][]models.Position)
	for _, p := range positions {
		byAccount[p.AccountID] = append(byAccount[p.AccountID], p)
	}
	if len(byAccount) == 0 {
		return map[int64]float64{}, true
	}

	var (
		mu        sync.Mutex
		cache     = make(map[int64]float64)
		anyLoaded bool
	)

	g, gctx := errgroup.WithContext(ctx)
	limit := len(byAccount)
	if limit > b.maxParallel {
		limit = b.maxParallel
	}
	g.SetLimit(limit)

	for accountID, accountPositions := range byAccount {
		accountID, accountPositions := accountID, accountPositions
		g.Go(func() error {
			entries, ok := b.buildAccount(gctx, accountID, accountPositions)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				anyLoaded = true
			}
			for id, v := range entries {
				cache[id] = v
			}
			// Account failures are absorbed above; never abort the
			// group, the cache is allowed to be partial.
			return nil
		})
	}
	_ = g.Wait()

	return cache, anyLoaded
}

// buildAccount fetches one account snapshot and allocates it across
// the account's positions. Returns ok=false when the broker could not
// be reached for this account.
func (b *CacheBuilder) buildAccount(ctx context.Context, accountID int64, positions []models.Position) (map[int64]float64, bool) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	hash, err := b.accounts.Resolve(callCtx, accountID)
	if err != nil {
		b.logger.WithError(err).WithField("account_id", accountID).
			Warn("could not resolve broker account; positions fall back to estimates")
		return nil, false
	}

	snapshot, err := b.gateway.GetAccountPositions(callCtx, hash)
	if err != nil {
		b.logger.WithError(err).WithField("account_id", accountID).
			Warn("account snapshot fetch failed; positions fall back to estimates")
		return nil, false
	}

	return b.allocate(accountID, positions, snapshot), true
}

// allocate groups an account's positions by inferred underlying, sums
// the snapshot's matching entries with sign preserved (shorts negative,
// longs positive, so a spread's legs net before any magnitude is
// taken), and splits each group's absolute total across its positions.
func (b *CacheBuilder) allocate(accountID int64, positions []models.Position, snapshot []broker.SnapshotPosition) map[int64]float64 {
	groups := make(map[string][]models.Position)
	for _, p := range positions {
		underlying := b.underlyings.Underlying(p.BotName)
		groups[underlying] = append(groups[underlying], p)
	}

	cache := make(map[int64]float64)
	for underlying, group := range groups {
		var signedSum float64
		matched := false
		for _, holding := range snapshot {
			if strings.EqualFold(holding.UnderlyingSymbol, underlying) {
				signedSum += holding.MarketValue
				matched = true
			}
		}
		if !matched {
			// Unknown, not zero: leave the group without entries so
			// downstream falls back per-position.
			continue
		}
		absTotal := math.Abs(signedSum)

		if len(group) == 1 {
			cache[group[0].ID] = absTotal
			continue
		}

		// Multiple positions share the underlying: allocate the
		// absolute total proportionally to positive initial premiums.
		premiums := make([]float64, len(group))
		var premiumSum float64
		for i := range group {
			if prem := b.accountant.InitialPremium(&group[i]); prem > 0 {
				premiums[i] = prem
				premiumSum += prem
			}
		}
		for i := range group {
			if premiums[i] <= 0 || premiumSum <= 0 {
				cache[group[i].ID] = 0
				continue
			}
			cache[group[i].ID] = absTotal * (premiums[i] / premiumSum)
		}
		b.logger.WithFields(logrus.Fields{
			"account_id": accountID,
			"underlying": underlying,
			"positions":  len(group),
			"abs_total":  absTotal,
		}).Debug("allocated shared underlying market value")
	}
	return cache
}
