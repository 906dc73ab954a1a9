package twelvedata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"quotecache/internal/httpx"
	"quotecache/internal/provider"
)

// Name is the adapter name used in configuration and in Quote.SourceProvider.
const Name = "twelvedata"

const baseURL = "https://api.twelvedata.com"

// Client fetches quotes from the Twelve Data REST API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient httpx.HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	apiKey string
}

// Option is a configuration option for the Twelve Data client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient httpx.HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// New creates a Twelve Data client authenticated with key.
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

// Fetch retrieves /quote for ticker. Market suffixes such as ".SA" are
// understood by the API and passed through unchanged.
func (c *Client) Fetch(ctx context.Context, ticker string) (provider.RawFields, error) {
	if c.apiKey == "" {
		return nil, provider.NewError(Name, provider.KindUnreachable, errors.New("missing api key"))
	}

	query := url.Values{}
	query.Set("symbol", ticker)
	query.Set("apikey", c.apiKey)
	u := fmt.Sprintf("%s/quote?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, provider.NewError(Name, provider.KindUnreachable, fmt.Errorf("creating request: %w", err))
	}
	req.Header = c.header.Clone()

	var body map[string]any
	if err := httpx.GetJSON(c.httpClient, Name, req, &body); err != nil {
		return nil, err
	}

	// Errors come back with HTTP 200 and a status/code envelope:
	// {"code": 429, "message": "...", "status": "error"}
	if status, _ := body["status"].(string); status == "error" {
		msg, _ := body["message"].(string)
		code := fmt.Sprint(body["code"])
		switch code {
		case "429":
			return nil, provider.NewError(Name, provider.KindRateLimited, errors.New(msg))
		case "400", "404":
			return nil, provider.NewError(Name, provider.KindNotFound, errors.New(msg))
		default:
			return nil, provider.NewError(Name, provider.KindUnreachable, fmt.Errorf("code %s: %s", code, msg))
		}
	}

	_, hasPrice := body["price"]
	_, hasClose := body["close"]
	if !hasPrice && !hasClose {
		return nil, provider.NewError(Name, provider.KindNotFound, fmt.Errorf("no price for %s", ticker))
	}
	return provider.Flatten(body), nil
}
