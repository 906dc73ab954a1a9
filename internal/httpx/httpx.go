package httpx

import (
    "encoding/json"
    "fmt"
    "io"
    "net"
    "net/http"
    "time"

    "quotecache/internal/provider"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=httpxmock -destination=httpxmock/mock_httpx.go -source=httpx.go HTTPClient
type HTTPClient interface {
    Do(req *http.Request) (*http.Response, error)
}

// Client is a small wrapper around http.Client with sane defaults.
type Client struct {
    HTTP      *http.Client
    UserAgent string
    Headers   map[string]string
}

func New(timeout time.Duration) *Client {
    transport := &http.Transport{
        Proxy: http.ProxyFromEnvironment,
        DialContext: (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
        MaxIdleConns:          200,
        MaxIdleConnsPerHost:   100,
        MaxConnsPerHost:       100,
        ForceAttemptHTTP2:     true,
        IdleConnTimeout:       90 * time.Second,
        TLSHandshakeTimeout:   3 * time.Second,
        ExpectContinueTimeout: 1 * time.Second,
        ResponseHeaderTimeout: 5 * time.Second,
    }
    return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, UserAgent: "quotecache/1.0"}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
    if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
        req.Header.Set("User-Agent", c.UserAgent)
    }
    for k, v := range c.Headers {
        if req.Header.Get(k) == "" {
            req.Header.Set(k, v)
        }
    }
    return c.HTTP.Do(req)
}

// GetJSON performs req and decodes a 2xx JSON body into out. Transport and
// status failures come back as *provider.Error attributed to name.
func GetJSON(hc HTTPClient, name string, req *http.Request, out any) error {
    req.Header.Set("Accept", "application/json")
    res, err := hc.Do(req)
    if err != nil {
        return provider.FromTransport(name, fmt.Errorf("performing request: %w", err))
    }
    defer res.Body.Close()

    if res.StatusCode < 200 || res.StatusCode >= 300 {
        _, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 2<<10))
        return provider.FromStatus(name, res.StatusCode)
    }
    dec := json.NewDecoder(res.Body)
    dec.UseNumber()
    if err := dec.Decode(out); err != nil {
        return provider.NewError(name, provider.KindUnreachable, fmt.Errorf("decoding response: %w", err))
    }
    return nil
}
