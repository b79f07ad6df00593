package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/looptrader/riskengine/internal/broker"
)

func TestNameUnderlyingResolver(t *testing.T) {
	r := NewNameUnderlyingResolver([]string{"SPX", "SPXW", "NDX", "XSP"}, "SPX")

	tests := []struct {
		name    string
		botName string
		want    string
	}{
		{name: "plain ticker", botName: "NDX Iron Condor", want: "NDX"},
		{name: "longest ticker wins", botName: "SPXW Put Credit 0DTE", want: "SPXW"},
		{name: "case insensitive", botName: "ic-ndx-weekly", want: "NDX"},
		{name: "embedded ticker", botName: "MyXSPBot", want: "XSP"},
		{name: "no match falls back", botName: "Mystery Bot 7", want: "SPX"},
		{name: "empty name falls back", botName: "", want: "SPX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Underlying(tt.botName); got != tt.want {
				t.Fatalf("Underlying(%q) = %q, want %q", tt.botName, got, tt.want)
			}
		})
	}
}

// accountGateway serves canned account numbers and counts fetches.
type accountGateway struct {
	accounts []broker.AccountNumber
	err      error
	calls    int
}

func (g *accountGateway) GetAccountNumbers(_ context.Context) ([]broker.AccountNumber, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.accounts, nil
}

func (g *accountGateway) GetAccountPositions(_ context.Context, _ string) ([]broker.SnapshotPosition, error) {
	return nil, errors.New("not used")
}

func (g *accountGateway) GetQuotes(_ context.Context, _ []string) (map[string]broker.Quote, error) {
	return nil, errors.New("not used")
}

func TestSuffixAccountResolver(t *testing.T) {
	gateway := &accountGateway{accounts: []broker.AccountNumber{
		{AccountNumber: "00012345678", HashValue: "HASH-A"},
		{AccountNumber: "99987654321", HashValue: "HASH-B"},
	}}
	r := NewSuffixAccountResolver(gateway)
	ctx := context.Background()

	t.Run("suffix match", func(t *testing.T) {
		hash, err := r.Resolve(ctx, 12345678)
		if err != nil {
			t.Fatalf("Resolve() unexpected error: %v", err)
		}
		if hash != "HASH-A" {
			t.Fatalf("Resolve() = %q, want HASH-A", hash)
		}
	})

	t.Run("substring fallback", func(t *testing.T) {
		hash, err := r.Resolve(ctx, 9998765)
		if err != nil {
			t.Fatalf("Resolve() unexpected error: %v", err)
		}
		if hash != "HASH-B" {
			t.Fatalf("Resolve() = %q, want HASH-B", hash)
		}
	})

	t.Run("no match", func(t *testing.T) {
		if _, err := r.Resolve(ctx, 5550001); err == nil {
			t.Fatal("Resolve() expected error for unknown account")
		}
	})

	t.Run("account numbers fetched once", func(t *testing.T) {
		if gateway.calls != 1 {
			t.Fatalf("gateway fetched %d times, want 1 (cached)", gateway.calls)
		}
	})
}

func TestSuffixAccountResolverGatewayError(t *testing.T) {
	gateway := &accountGateway{err: errors.New("http 503")}
	r := NewSuffixAccountResolver(gateway)

	if _, err := r.Resolve(context.Background(), 12345678); err == nil {
		t.Fatal("Resolve() expected error when account discovery fails")
	}
}
