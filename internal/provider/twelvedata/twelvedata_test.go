package twelvedata_test

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"quotecache/internal/httpx/httpxmock"
	"quotecache/internal/provider"
	"quotecache/internal/provider/twelvedata"
)

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestFetch(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller and HTTP client
	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)

	// Assert: stub the Do method
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, "/quote", req.URL.Path)
			require.Equal(t, "PETR4.SA", req.URL.Query().Get("symbol"))
			require.Equal(t, "test-key", req.URL.Query().Get("apikey"))
			require.Equal(t, "bar", req.Header.Get("foo"))
			return jsonResponse(http.StatusOK, `{"symbol":"PETR4","price":"38.12","change":"0.42","percent_change":"1.11","currency":"BRL","fifty_two_week":{"low":"30.1"}}`), nil
		}).
		Times(1)

	client := twelvedata.New("test-key",
		twelvedata.WithHTTPClient(httpClient),
		twelvedata.WithBaseURL("http://localhost:8080"),
		twelvedata.WithHeader(http.Header{"foo": []string{"bar"}}),
	)

	// Act
	raw, err := client.Fetch(t.Context(), "PETR4.SA")

	// Assert: flat raw fields are returned untouched
	require.NoError(t, err)
	require.Equal(t, "38.12", raw["price"])
	require.Equal(t, "30.1", raw["fifty_two_week.low"])
	require.Equal(t, twelvedata.Name, client.Name())
}

func TestFetch_InBandErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want error
	}{
		{"rate limited", `{"code":429,"message":"run out of API credits","status":"error"}`, provider.ErrRateLimited},
		{"unknown symbol", `{"code":404,"message":"symbol not found","status":"error"}`, provider.ErrNotFound},
		{"server", `{"code":500,"message":"oops","status":"error"}`, provider.ErrUnreachable},
		{"no price", `{"symbol":"XYZ"}`, provider.ErrNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			httpClient := httpxmock.NewMockHTTPClient(ctrl)
			httpClient.EXPECT().Do(gomock.Any()).Return(jsonResponse(http.StatusOK, c.body), nil).Times(1)

			_, err := twelvedata.New("k", twelvedata.WithHTTPClient(httpClient)).Fetch(t.Context(), "XYZ")
			require.ErrorIs(t, err, c.want)
		})
	}
}

func TestFetch_MissingKeySkipsRequest(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)
	httpClient.EXPECT().Do(gomock.Any()).Times(0)

	_, err := twelvedata.New("", twelvedata.WithHTTPClient(httpClient)).Fetch(t.Context(), "AAPL")
	require.ErrorIs(t, err, provider.ErrUnreachable)
}
