// Package resolver holds the two matching heuristics the engine keeps
// behind interfaces: inferring a position's underlying from its bot
// name, and mapping a locally stored account id to a broker account
// hash. Both are approximate by construction and isolated here so they
// can be swapped for explicit stored fields later without touching the
// engine.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/looptrader/riskengine/internal/broker"
)

// UnderlyingResolver infers the underlying ticker a position trades.
type UnderlyingResolver interface {
	// Underlying returns the inferred ticker for a bot name. Never
	// fails; unmatched names fall back to the configured default.
	Underlying(botName string) string
}

// NameUnderlyingResolver matches bot names against a known ticker set.
// The bot fleet encodes the traded product in bot names ("SPX Put
// Credit 0DTE", "ic-ndx-weekly"); only partial product metadata is
// stored per instrument, hence the heuristic.
type NameUnderlyingResolver struct {
	known    []string // longest first, so SPXW wins over SPX
	fallback string
}

// Ensure implementations satisfy the interfaces at compile time.
var (
	_ UnderlyingResolver = (*NameUnderlyingResolver)(nil)
	_ AccountResolver    = (*SuffixAccountResolver)(nil)
)

// NewNameUnderlyingResolver creates a resolver over the given ticker
// set with the given fallback (typically SPX).
func NewNameUnderlyingResolver(known []string, fallback string) *NameUnderlyingResolver {
	sorted := make([]string, 0, len(known))
	for _, k := range known {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k != "" {
			sorted = append(sorted, k)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	return &NameUnderlyingResolver{known: sorted, fallback: strings.ToUpper(fallback)}
}

// Underlying returns the first known ticker found in the bot name,
// longest tickers first, else the fallback.
func (r *NameUnderlyingResolver) Underlying(botName string) string {
	name := strings.ToUpper(botName)
	for _, ticker := range r.known {
		if strings.Contains(name, ticker) {
			return ticker
		}
	}
	return r.fallback
}

// AccountResolver maps a locally stored account id to the broker's
// account hash.
type AccountResolver interface {
	Resolve(ctx context.Context, accountID int64) (string, error)
}

// SuffixAccountResolver matches the stored account id against the
// suffix (or any substring) of the broker's full account numbers. Only
// partial account numbers are stored locally, so the match is
// approximate by design.
type SuffixAccountResolver struct {
	gateway broker.Gateway

	mu     sync.Mutex
	loaded bool
	cached []broker.AccountNumber
}

// NewSuffixAccountResolver creates a resolver over the given gateway.
// Account numbers are fetched lazily and cached for the resolver's
// lifetime; build one resolver per valuation pass.
func NewSuffixAccountResolver(gateway broker.Gateway) *SuffixAccountResolver {
	return &SuffixAccountResolver{gateway: gateway}
}

// Resolve returns the account hash whose account number ends with (or
// contains) the stored id.
func (r *SuffixAccountResolver) Resolve(ctx context.Context, accountID int64) (string, error) {
	accounts, err := r.accountNumbers(ctx)
	if err != nil {
		return "", err
	}

	id := strconv.FormatInt(accountID, 10)
	for _, acct := range accounts {
		if strings.HasSuffix(acct.AccountNumber, id) {
			return acct.HashValue, nil
		}
	}
	for _, acct := range accounts {
		if strings.Contains(acct.AccountNumber, id) {
			return acct.HashValue, nil
		}
	}
	return "", fmt.Errorf("no broker account matches stored id %d", accountID)
}

func (r *SuffixAccountResolver) accountNumbers(ctx context.Context) ([]broker.AccountNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.cached, nil
	}
	accounts, err := r.gateway.GetAccountNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving account numbers: %w", err)
	}
	r.cached = accounts
	r.loaded = true
	return r.cached, nil
}
