package alphavantage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"quotecache/internal/httpx"
	"quotecache/internal/market"
	"quotecache/internal/provider"
)

const Name = "alphavantage"

const baseURL = "https://www.alphavantage.co"

// Client fetches GLOBAL_QUOTE data from Alpha Vantage.
type Client struct {
	baseURL    string
	httpClient httpx.HTTPClient
	header     http.Header
	apiKey     string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(httpClient httpx.HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func New(key string, options ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		apiKey:     key,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

// symbol converts a qualified ticker to Alpha Vantage's notation, which
// lists B3 listings under ".SAO".
func symbol(ticker string) string {
	if market.FromTicker(ticker) == market.Brazil {
		return market.Bare(ticker) + ".SAO"
	}
	return strings.ToUpper(ticker)
}

func (c *Client) Fetch(ctx context.Context, ticker string) (provider.RawFields, error) {
	if c.apiKey == "" {
		return nil, provider.NewError(Name, provider.KindUnreachable, errors.New("missing api key"))
	}

	query := url.Values{}
	query.Set("function", "GLOBAL_QUOTE")
	query.Set("symbol", symbol(ticker))
	query.Set("apikey", c.apiKey)
	u := fmt.Sprintf("%s/query?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, provider.NewError(Name, provider.KindUnreachable, fmt.Errorf("creating request: %w", err))
	}
	req.Header = c.header.Clone()

	var body map[string]any
	if err := httpx.GetJSON(c.httpClient, Name, req, &body); err != nil {
		return nil, err
	}

	// Throttling is reported in-band with HTTP 200.
	for _, key := range []string{"Note", "Information"} {
		if msg, ok := body[key].(string); ok && msg != "" {
			return nil, provider.NewError(Name, provider.KindRateLimited, errors.New(msg))
		}
	}
	if msg, ok := body["Error Message"].(string); ok {
		return nil, provider.NewError(Name, provider.KindNotFound, errors.New(msg))
	}

	gq, _ := body["Global Quote"].(map[string]any)
	if len(gq) == 0 {
		return nil, provider.NewError(Name, provider.KindNotFound, fmt.Errorf("no quote for %s", ticker))
	}
	return provider.Flatten(gq), nil
}
