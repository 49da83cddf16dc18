package greynoise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// ErrTransport wraps failures below the HTTP layer (DNS, TCP, TLS, body read).
var ErrTransport = errors.New("greynoise transport error")

// maxBodySize caps how much of a response body is read.
const maxBodySize = 10 << 20

// RawResponse is an unclassified upstream reply.
type RawResponse struct {
	StatusCode int
	Body       json.RawMessage
}

// Client issues requests against one tier.
type Client struct {
	tier       TierConfig
	httpClient *http.Client
	userAgent  string
	logger     *zap.Logger
}

// NewClient creates a gateway for a tier. A nil httpClient uses
// http.DefaultClient; a nil logger disables logging.
func NewClient(tier TierConfig, httpClient *http.Client, version string, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if version == "" {
		version = "dev"
	}

	return &Client{
		tier:       tier,
		httpClient: httpClient,
		userAgent:  "greylookup/" + version,
		logger:     logger.With(zap.String("tier", string(tier.Name))),
	}
}

// Tier returns the tier this client talks to.
func (c *Client) Tier() TierConfig {
	return c.tier
}

// Call performs one GET against an endpoint. Every HTTP status, including
// 4xx and 5xx, is returned as a RawResponse; only transport failures return
// an error.
func (c *Client) Call(ctx context.Context, ep Endpoint, value string) (*RawResponse, error) {
	req, err := c.newRequest(ctx, ep, value)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("upstream request",
		zap.String("endpoint", string(ep)),
		zap.String("url", req.URL.String()),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, ep, value, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s body: %v", ErrTransport, ep, err)
	}

	c.logger.Debug("upstream response",
		zap.String("endpoint", string(ep)),
		zap.String("value", value),
		zap.Int("status", resp.StatusCode),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
	)

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Body:       normalizeBody(data),
	}, nil
}

// newRequest creates an authenticated request for an endpoint.
func (c *Client) newRequest(ctx context.Context, ep Endpoint, value string) (*http.Request, error) {
	if !c.tier.Supports(ep) {
		return nil, fmt.Errorf("endpoint %s not available on %s tier", ep, c.tier.Name)
	}

	path, rawQuery, err := pathFor(ep, value)
	if err != nil {
		return nil, err
	}

	fullURL := strings.TrimSuffix(c.tier.BaseURL, "/") + path
	if rawQuery != "" {
		fullURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.tier.APIKey != "" {
		req.Header.Set(c.tier.AuthHeader, c.tier.APIKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	return req, nil
}

// normalizeBody keeps valid JSON as-is and wraps anything else in a
// {"message": "..."} object so callers always see JSON.
func normalizeBody(data []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}

	wrapped, err := json.Marshal(map[string]string{"message": string(trimmed)})
	if err != nil {
		return nil
	}
	return wrapped
}
