package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"quotecache/internal/httpx"
	"quotecache/internal/provider"
)

const Name = "yahoo"

const baseURL = "https://query1.finance.yahoo.com"

// Client fetches quotes from the Yahoo Finance v7 quote endpoint.
type Client struct {
	baseURL    string
	httpClient httpx.HTTPClient
	header     http.Header
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

func WithHTTPClient(httpClient httpx.HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func New(options ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{"User-Agent": []string{"Mozilla/5.0"}},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

type response struct {
	QuoteResponse struct {
		Result []map[string]any `json:"result"`
		Error  any              `json:"error"`
	} `json:"quoteResponse"`
}

func (c *Client) Fetch(ctx context.Context, ticker string) (provider.RawFields, error) {
	query := url.Values{}
	query.Set("symbols", ticker)
	u := fmt.Sprintf("%s/v7/finance/quote?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, provider.NewError(Name, provider.KindUnreachable, fmt.Errorf("creating request: %w", err))
	}
	req.Header = c.header.Clone()

	var body response
	if err := httpx.GetJSON(c.httpClient, Name, req, &body); err != nil {
		return nil, err
	}
	if body.QuoteResponse.Error != nil {
		return nil, provider.NewError(Name, provider.KindUnreachable, errors.New(fmt.Sprint(body.QuoteResponse.Error)))
	}
	if len(body.QuoteResponse.Result) == 0 {
		return nil, provider.NewError(Name, provider.KindNotFound, fmt.Errorf("no results for %s", ticker))
	}
	return provider.Flatten(body.QuoteResponse.Result[0]), nil
}
