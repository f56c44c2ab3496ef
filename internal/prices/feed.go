package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const pricePath = "/v1/price"

// ErrNoPrice indicates the feed has no observation at or before the requested time.
var ErrNoPrice = errors.New("prices: no price available")

// Source returns the USD price of an asset at or before a timestamp.
type Source interface {
	Price(ctx context.Context, symbol string, atOrBefore time.Time) (decimal.Decimal, error)
}

// Options parameterise the HTTP price feed.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	FallbackTTL time.Duration
	UserAgent   string
}

// Feed queries an HTTP price service and keeps the last known value per
// symbol for use when the service is unreachable.
type Feed struct {
	opts    Options
	logger  zerolog.Logger
	client  *retryablehttp.Client
	baseURL string
	last    *gocache.Cache
}

// NewFeed constructs a price feed client.
func NewFeed(opts Options, logger zerolog.Logger) *Feed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := opts.FallbackTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.MaxRetries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	return &Feed{
		opts:    opts,
		logger:  logger.With().Str("component", "price_feed").Logger(),
		client:  client,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		last:    gocache.New(ttl, ttl),
	}
}

// Price fetches the asset's USD price at or before the given time. On a
// transport or server failure the last known value for the symbol is returned.
func (f *Feed) Price(ctx context.Context, symbol string, atOrBefore time.Time) (decimal.Decimal, error) {
	if f.baseURL == "" {
		return decimal.Decimal{}, errors.New("price feed base url not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Decimal{}, errors.New("price symbol required")
	}

	price, err := f.fetch(ctx, symbol, atOrBefore)
	if err == nil {
		f.last.SetDefault(symbol, price)
		return price, nil
	}
	if errors.Is(err, ErrNoPrice) {
		return decimal.Decimal{}, err
	}

	if cached, ok := f.last.Get(symbol); ok {
		f.logger.Warn().Err(err).Str("symbol", symbol).Msg("price feed unavailable, using last known value")
		return cached.(decimal.Decimal), nil
	}
	return decimal.Decimal{}, fmt.Errorf("fetch %s price: %w", symbol, err)
}

func (f *Feed) fetch(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	if !at.IsZero() {
		query.Set("at", strconv.FormatInt(at.Unix(), 10))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+pricePath+"?"+query.Encode(), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Decimal{}, ErrNoPrice
	case resp.StatusCode != http.StatusOK:
		return decimal.Decimal{}, fmt.Errorf("price api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var body priceResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode price response: %w", err)
	}
	if !body.PriceUSD.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("price api returned non-positive price %s", body.PriceUSD)
	}
	return body.PriceUSD, nil
}

type priceResponse struct {
	Symbol     string          `json:"symbol"`
	PriceUSD   decimal.Decimal `json:"price_usd"`
	ObservedAt int64           `json:"observed_at"`
}

var _ Source = (*Feed)(nil)
