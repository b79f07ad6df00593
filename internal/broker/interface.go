// Package broker provides the read-only brokerage gateway the valuation
// engine consumes: account discovery, per-account option position
// snapshots, and batched option quotes with Greeks.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// AccountNumber pairs a plain brokerage account number with the hashed
// identifier the positions endpoint requires.
type AccountNumber struct {
	AccountNumber string `json:"accountNumber"`
	HashValue     string `json:"hashValue"`
}

// SnapshotPosition is one holding from an account snapshot. MarketValue
// is signed: negative means net short, positive net long. The sign must
// be preserved so multi-leg spreads net correctly before any magnitude
// is taken.
type SnapshotPosition struct {
	Symbol           string  `json:"symbol"`
	UnderlyingSymbol string  `json:"underlyingSymbol"`
	AssetType        string  `json:"assetType"`
	MarketValue      float64 `json:"marketValue"`
	LongQuantity     float64 `json:"longQuantity"`
	ShortQuantity    float64 `json:"shortQuantity"`
}

// Quote is a single option quote with per-contract Greeks.
type Quote struct {
	Symbol string  `json:"symbol"`
	Delta  float64 `json:"delta"`
	Gamma  float64 `json:"gamma"`
	Theta  float64 `json:"theta"`
	Vega   float64 `json:"vega"`
	Mark   float64 `json:"mark"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Gateway defines the brokerage operations the engine depends on.
// Every call may fail (network/auth); callers treat failures as "no
// data" and degrade, never crash.
type Gateway interface {
	GetAccountNumbers(ctx context.Context) ([]AccountNumber, error)
	GetAccountPositions(ctx context.Context, accountHash string) ([]SnapshotPosition, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// Ensure implementations satisfy Gateway at compile time.
var (
	_ Gateway = (*SchwabAPI)(nil)
	_ Gateway = (*CircuitBreakerGateway)(nil)
)

// CircuitBreakerGateway wraps a Gateway with circuit breaker functionality
// so a flapping broker API stops being hammered mid-pass.
type CircuitBreakerGateway struct {
	gateway Gateway
	breaker *gobreaker.CircuitBreaker
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	gateway Gateway,
	fn func(Gateway) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(gateway) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerGateway creates a CircuitBreakerGateway with sensible defaults.
func NewCircuitBreakerGateway(gateway Gateway) *CircuitBreakerGateway {
	return NewCircuitBreakerGatewayWithSettings(gateway, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerGatewayWithSettings creates a CircuitBreakerGateway with custom settings.
func NewCircuitBreakerGatewayWithSettings(gateway Gateway, settings CircuitBreakerSettings) *CircuitBreakerGateway {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerGateway{
		gateway: gateway,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetAccountNumbers wraps the underlying gateway call with circuit breaker.
func (c *CircuitBreakerGateway) GetAccountNumbers(ctx context.Context) ([]AccountNumber, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) ([]AccountNumber, error) {
		return g.GetAccountNumbers(ctx)
	})
}

// GetAccountPositions wraps the underlying gateway call with circuit breaker.
func (c *CircuitBreakerGateway) GetAccountPositions(ctx context.Context, accountHash string) ([]SnapshotPosition, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) ([]SnapshotPosition, error) {
		return g.GetAccountPositions(ctx, accountHash)
	})
}

// GetQuotes wraps the underlying gateway call with circuit breaker.
func (c *CircuitBreakerGateway) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	return execCircuitBreaker(c.breaker, c.gateway, func(g Gateway) (map[string]Quote, error) {
		return g.GetQuotes(ctx, symbols)
	})
}
