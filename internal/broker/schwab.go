package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// assetTypeOption filters account snapshots down to option holdings.
const assetTypeOption = "OPTION"

// defaultTimeout bounds broker HTTP calls when no timeout is configured.
const defaultTimeout = 10 * time.Second

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// SchwabAPI is a read-only client for the Schwab Trader and Market Data
// APIs, covering only the endpoints the valuation engine needs.
type SchwabAPI struct {
	client      *http.Client
	accessToken string
	baseURL     string
	limiter     *rate.Limiter
	timeout     time.Duration
}

// NewSchwabAPI creates a new SchwabAPI client with default settings.
// ratePerMin caps outgoing requests; the broker enforces a
// per-connection limit and rejects bursts above it.
func NewSchwabAPI(accessToken, baseURL string, ratePerMin int) *SchwabAPI {
	if baseURL == "" {
		baseURL = "https://api.schwabapi.com"
	}
	if ratePerMin <= 0 {
		ratePerMin = 120
	}
	return &SchwabAPI{
		client:      &http.Client{Timeout: defaultTimeout},
		accessToken: accessToken,
		baseURL:     strings.TrimRight(baseURL, "/"),
		limiter:     rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), ratePerMin/4+1),
		timeout:     defaultTimeout,
	}
}

// WithTimeout sets the HTTP timeout and returns the client for chaining.
func (s *SchwabAPI) WithTimeout(timeout time.Duration) *SchwabAPI {
	if timeout > 0 {
		s.timeout = timeout
		s.client.Timeout = timeout
	}
	return s
}

// WithHTTPClient replaces the HTTP client, keeping the configured timeout.
func (s *SchwabAPI) WithHTTPClient(c *http.Client) *SchwabAPI {
	if c != nil {
		c.Timeout = s.timeout
		s.client = c
	}
	return s
}

// GetAccountNumbers returns the account number to hash mapping for all
// linked accounts.
func (s *SchwabAPI) GetAccountNumbers(ctx context.Context) ([]AccountNumber, error) {
	var accounts []AccountNumber
	if err := s.makeRequestCtx(ctx, s.baseURL+"/trader/v1/accounts/accountNumbers", nil, &accounts); err != nil {
		return nil, fmt.Errorf("fetching account numbers: %w", err)
	}
	return accounts, nil
}

// securitiesAccountResponse mirrors the accounts endpoint payload,
// reduced to the fields the engine reads.
type securitiesAccountResponse struct {
	SecuritiesAccount struct {
		AccountNumber string `json:"accountNumber"`
		Positions     []struct {
			ShortQuantity float64 `json:"shortQuantity"`
			LongQuantity  float64 `json:"longQuantity"`
			MarketValue   float64 `json:"marketValue"`
			Instrument    struct {
				AssetType        string `json:"assetType"`
				Symbol           string `json:"symbol"`
				UnderlyingSymbol string `json:"underlyingSymbol"`
				PutCall          string `json:"putCall"`
			} `json:"instrument"`
		} `json:"positions"`
	} `json:"securitiesAccount"`
}

// GetAccountPositions returns the option holdings of one account.
// Market values keep their sign; a short holding that the API reports
// with a positive value is normalized to negative.
func (s *SchwabAPI) GetAccountPositions(ctx context.Context, accountHash string) ([]SnapshotPosition, error) {
	params := url.Values{}
	params.Set("fields", "positions")

	var resp securitiesAccountResponse
	endpoint := s.baseURL + "/trader/v1/accounts/" + url.PathEscape(accountHash)
	if err := s.makeRequestCtx(ctx, endpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("fetching positions for account %s: %w", accountHash, err)
	}

	holdings := make([]SnapshotPosition, 0, len(resp.SecuritiesAccount.Positions))
	for _, p := range resp.SecuritiesAccount.Positions {
		if !strings.EqualFold(p.Instrument.AssetType, assetTypeOption) {
			continue
		}
		mv := p.MarketValue
		if p.ShortQuantity > 0 && p.LongQuantity == 0 && mv > 0 {
			mv = -mv
		}
		holdings = append(holdings, SnapshotPosition{
			Symbol:           p.Instrument.Symbol,
			UnderlyingSymbol: p.Instrument.UnderlyingSymbol,
			AssetType:        p.Instrument.AssetType,
			MarketValue:      mv,
			LongQuantity:     p.LongQuantity,
			ShortQuantity:    p.ShortQuantity,
		})
	}
	return holdings, nil
}

// quotePayload mirrors one entry of the quotes endpoint response.
type quotePayload struct {
	Quote struct {
		Delta    float64 `json:"delta"`
		Gamma    float64 `json:"gamma"`
		Theta    float64 `json:"theta"`
		Vega     float64 `json:"vega"`
		Mark     float64 `json:"mark"`
		BidPrice float64 `json:"bidPrice"`
		AskPrice float64 `json:"askPrice"`
	} `json:"quote"`
}

// GetQuotes fetches quotes for all symbols in one batched call.
// Symbols missing from the response simply have no map entry.
func (s *SchwabAPI) GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error) {
	if len(symbols) == 0 {
		return map[string]Quote{}, nil
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	params.Set("fields", "quote")

	var resp map[string]quotePayload
	if err := s.makeRequestCtx(ctx, s.baseURL+"/marketdata/v1/quotes", params, &resp); err != nil {
		return nil, fmt.Errorf("fetching quotes for %d symbols: %w", len(symbols), err)
	}

	quotes := make(map[string]Quote, len(resp))
	for symbol, payload := range resp {
		quotes[symbol] = Quote{
			Symbol: symbol,
			Delta:  payload.Quote.Delta,
			Gamma:  payload.Quote.Gamma,
			Theta:  payload.Quote.Theta,
			Vega:   payload.Quote.Vega,
			Mark:   payload.Quote.Mark,
			Bid:    payload.Quote.BidPrice,
			Ask:    payload.Quote.AskPrice,
		}
	}
	return quotes, nil
}

// makeRequestCtx makes a rate-limited GET request with context support
// for timeout/cancellation.
func (s *SchwabAPI) makeRequestCtx(ctx context.Context, endpoint string, params url.Values, response interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if params != nil {
		endpoint = endpoint + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+s.accessToken)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "looptrader-riskengine/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			// Log error but don't fail the operation
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> failed to read error body", endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s (retry-after: %s)", endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s", endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
