package brapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"quotecache/internal/httpx"
	"quotecache/internal/market"
	"quotecache/internal/provider"
)

const Name = "brapi"

const baseURL = "https://brapi.dev"

// Client fetches B3 quotes from brapi.dev. The token is optional; the
// public tier serves a handful of tickers without one.
type Client struct {
	baseURL    string
	httpClient httpx.HTTPClient
	header     http.Header
	token      string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(httpClient httpx.HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func New(token string, options ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		token:      token,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

type response struct {
	Results []map[string]any `json:"results"`
}

// Fetch retrieves /api/quote/{ticker}. Only Brazilian tickers are served;
// anything else is reported as not found without a request.
func (c *Client) Fetch(ctx context.Context, ticker string) (provider.RawFields, error) {
	if market.FromTicker(ticker) != market.Brazil {
		return nil, provider.NewError(Name, provider.KindNotFound, fmt.Errorf("%s is not a B3 ticker", ticker))
	}

	query := url.Values{}
	query.Set("range", "1d")
	query.Set("interval", "1d")
	if c.token != "" {
		query.Set("token", c.token)
	}
	u := fmt.Sprintf("%s/api/quote/%s?%s", c.baseURL, url.PathEscape(market.Bare(ticker)), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, provider.NewError(Name, provider.KindUnreachable, fmt.Errorf("creating request: %w", err))
	}
	req.Header = c.header.Clone()

	var body response
	if err := httpx.GetJSON(c.httpClient, Name, req, &body); err != nil {
		return nil, err
	}
	if len(body.Results) == 0 {
		return nil, provider.NewError(Name, provider.KindNotFound, fmt.Errorf("no results for %s", ticker))
	}
	return provider.Flatten(body.Results[0]), nil
}
