package greynoise

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, tier Tier, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg, err := NewTierConfig(tier, server.URL, "test-api-key")
	require.NoError(t, err)

	return NewClient(cfg, server.Client(), "1.2.3", nil)
}

// =============================================================================
// Request Construction Tests
// =============================================================================

// TestCall_Paths verifies every endpoint hits the documented path and query.
func TestCall_Paths(t *testing.T) {
	tests := []struct {
		tier      Tier
		endpoint  Endpoint
		value     string
		wantPath  string
		wantQuery string
	}{
		{TierCommunity, EndpointCommunityLookup, "8.8.8.8", "/v3/community/8.8.8.8", ""},
		{TierUnified, EndpointUnifiedIP, "8.8.8.8", "/v3/ip/8.8.8.8", ""},
		{TierUnified, EndpointUnifiedCVE, "CVE-2023-0001", "/v1/cve/CVE-2023-0001", ""},
		{TierSubscription, EndpointNoiseContext, "1.2.3.4", "/v2/noise/context/1.2.3.4", ""},
		{TierSubscription, EndpointRIOTLookup, "1.2.3.4", "/v2/riot/1.2.3.4", ""},
		{TierSubscription, EndpointGNQLQuery, "CVE-2023-0001", "/v2/experimental/gnql", "query=cve:CVE-2023-0001&size=10"},
		{TierSubscription, EndpointGNQLStats, "CVE-2023-0001", "/v2/experimental/gnql/stats", "query=cve:CVE-2023-0001"},
	}

	for _, tt := range tests {
		t.Run(string(tt.endpoint), func(t *testing.T) {
			client := newTestClient(t, tt.tier, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, tt.wantPath, r.URL.Path)
				assert.Equal(t, tt.wantQuery, r.URL.RawQuery)
				assert.Equal(t, "test-api-key", r.Header.Get("key"))
				assert.Equal(t, "greylookup/1.2.3", r.Header.Get("User-Agent"))
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				w.Write([]byte(`{"ok":true}`))
			})

			resp, err := client.Call(context.Background(), tt.endpoint, tt.value)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
		})
	}
}

// TestCall_UnsupportedEndpoint verifies a tier refuses endpoints it lacks.
func TestCall_UnsupportedEndpoint(t *testing.T) {
	client := newTestClient(t, TierCommunity, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made")
	})

	_, err := client.Call(context.Background(), EndpointRIOTLookup, "8.8.8.8")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTransport))
}

// =============================================================================
// Response Handling Tests
// =============================================================================

// TestCall_HTTPErrorsAreData verifies 4xx/5xx come back as responses.
func TestCall_HTTPErrorsAreData(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusTooManyRequests, http.StatusBadGateway} {
		client := newTestClient(t, TierCommunity, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"message":"nope"}`))
		})

		resp, err := client.Call(context.Background(), EndpointCommunityLookup, "8.8.8.8")
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode)
		assert.JSONEq(t, `{"message":"nope"}`, string(resp.Body))
	}
}

// TestCall_NonJSONBodyWrapped verifies plain text bodies become a message.
func TestCall_NonJSONBodyWrapped(t *testing.T) {
	client := newTestClient(t, TierCommunity, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	})

	resp, err := client.Call(context.Background(), EndpointCommunityLookup, "8.8.8.8")
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"upstream exploded"}`, string(resp.Body))
}

// TestCall_EmptyBody verifies an empty body is nil.
func TestCall_EmptyBody(t *testing.T) {
	client := newTestClient(t, TierCommunity, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	resp, err := client.Call(context.Background(), EndpointCommunityLookup, "8.8.8.8")
	require.NoError(t, err)
	assert.Nil(t, resp.Body)
}

// TestCall_TransportError verifies connection failures wrap ErrTransport.
func TestCall_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	cfg, err := NewTierConfig(TierCommunity, url, "")
	require.NoError(t, err)
	client := NewClient(cfg, &http.Client{Timeout: time.Second}, "", nil)

	_, err = client.Call(context.Background(), EndpointCommunityLookup, "8.8.8.8")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
}

// TestCall_NoKeyHeaderWithoutKey verifies the auth header is omitted when no
// key is configured.
func TestCall_NoKeyHeaderWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["Key"]
		assert.False(t, present)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg, err := NewTierConfig(TierCommunity, server.URL, "")
	require.NoError(t, err)

	_, err = NewClient(cfg, server.Client(), "", nil).Call(context.Background(), EndpointCommunityLookup, "8.8.8.8")
	require.NoError(t, err)
}

// =============================================================================
// Tier and Transport Tests
// =============================================================================

func TestNewTierConfig(t *testing.T) {
	community, err := NewTierConfig(TierCommunity, "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, community.BaseURL)
	assert.False(t, community.SupportsCVE)
	assert.True(t, community.Supports(EndpointCommunityLookup))

	sub, err := NewTierConfig(TierSubscription, "https://example.test", "k")
	require.NoError(t, err)
	assert.True(t, sub.SupportsCVE)
	assert.True(t, sub.Supports(EndpointGNQLStats))
	assert.False(t, sub.Supports(EndpointUnifiedIP))

	_, err = NewTierConfig("enterprise", "", "")
	assert.Error(t, err)
}

func TestNewHTTPClient(t *testing.T) {
	client, err := NewHTTPClient(DefaultRequestConfig())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, client.Timeout)

	transport := client.Transport.(*http.Transport)
	assert.False(t, transport.TLSClientConfig.InsecureSkipVerify)

	_, err = NewHTTPClient(RequestConfig{Proxy: "://bad"})
	assert.Error(t, err)

	badCA := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(badCA, []byte("not a cert"), 0o600))
	_, err = NewHTTPClient(RequestConfig{CA: badCA})
	assert.Error(t, err)

	proxied, err := NewHTTPClient(RequestConfig{Proxy: "http://proxy.local:3128", RejectUnauthorized: false})
	require.NoError(t, err)
	assert.True(t, proxied.Transport.(*http.Transport).TLSClientConfig.InsecureSkipVerify)
}
