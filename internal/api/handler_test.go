package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/greylookup/internal/config"
	"github.com/lvonguyen/greylookup/internal/entity"
	"github.com/lvonguyen/greylookup/internal/greynoise"
	"github.com/lvonguyen/greylookup/internal/observability"
	"github.com/lvonguyen/greylookup/internal/result"
)

// mockEngine is a testify mock of the lookup engine.
type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Lookup(ctx context.Context, entities []entity.Entity, opts config.Options) ([]result.LookupResult, error) {
	args := m.Called(ctx, entities, opts)
	results, _ := args.Get(0).([]result.LookupResult)
	return results, args.Error(1)
}

func benignResult(e entity.Entity) result.LookupResult {
	return result.LookupResult{
		Entity: e,
		Data: &result.Data{
			Summary: []result.Tag{result.Text("Classification: benign"), result.IconTag("robot", "Bot")},
			Details: map[string]any{"hasResult": true},
		},
	}
}

func newTestRouter(engine Lookuper, cfg HandlerConfig) (http.Handler, *observability.Metrics) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewHandler(engine, cfg, metrics, nil).Router(nil, nil), metrics
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/lookup", strings.NewReader(body)))
	return rec
}

// =============================================================================
// Lookup Endpoint Tests
// =============================================================================

func TestHandleLookup(t *testing.T) {
	opts := config.Options{IgnoreRFC1918: true}
	want := []entity.Entity{
		{Value: "8.8.8.8", Kind: entity.KindIPv4},
		{Value: "CVE-2021-44228", Kind: entity.KindCVE},
		{Value: "x", Kind: ""},
	}

	engine := &mockEngine{}
	engine.On("Lookup", mock.Anything, want, opts).
		Return([]result.LookupResult{benignResult(want[0])}, nil).Once()

	router, metrics := newTestRouter(engine, HandlerConfig{Options: opts})

	rec := post(t, router, `{"entities":[{"value":"8.8.8.8","type":"IPv4"},{"value":"CVE-2021-44228","type":"cve"},{"value":"x","type":"domain"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	engine.AssertExpectations(t)

	assert.JSONEq(t, `{"results":[{
		"entity":{"value":"8.8.8.8","type":"IPv4"},
		"data":{"summary":["Classification: benign",{"icon":"robot","text":"Bot"}],"details":{"hasResult":true}}
	}]}`, rec.Body.String())

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("POST", "/api/v1/lookup", "200")))
}

func TestHandleLookup_BadRequests(t *testing.T) {
	engine := &mockEngine{}
	router, _ := newTestRouter(engine, HandlerConfig{MaxEntities: 2})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{"entities":`, http.StatusBadRequest},
		{"empty", `{"entities":[]}`, http.StatusBadRequest},
		{"too many", `{"entities":[{"value":"1.1.1.1","type":"ip"},{"value":"2.2.2.2","type":"ip"},{"value":"3.3.3.3","type":"ip"}]}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, router, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
	engine.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleLookup_EngineErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("resolving: %w", greynoise.ErrTransport), http.StatusBadGateway},
		{config.ErrMissingAPIKey, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			engine := &mockEngine{}
			engine.On("Lookup", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			router, _ := newTestRouter(engine, HandlerConfig{})
			rec := post(t, router, `{"entities":[{"value":"8.8.8.8","type":"IPv4"}]}`)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

// =============================================================================
// Health Endpoint Tests
// =============================================================================

func TestHealthAndReady(t *testing.T) {
	router, _ := newTestRouter(&mockEngine{}, HandlerConfig{Version: "1.0.0"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","version":"1.0.0"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_NotReady(t *testing.T) {
	router, _ := newTestRouter(&mockEngine{}, HandlerConfig{Options: config.Options{SubscriptionAPI: true}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	router, _ = newTestRouter(&mockEngine{}, HandlerConfig{Ready: func(context.Context) error { return errors.New("redis down") }})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis down")
}
