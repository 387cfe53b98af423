// Package opensky fetches state vector snapshots from the OpenSky
// Network REST API.
package opensky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/smukkama/flight-analytics/pkg/config"
)

const rateLimitRemainingHeader = "X-Rate-Limit-Remaining"

// BoundingBox restricts a query to a lat/lon rectangle.
type BoundingBox struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// Snapshot is one verbatim response of the states endpoint.
type Snapshot struct {
	Body               []byte
	CapturedAt         time.Time
	StateCount         int
	RateLimitRemaining string
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client issues bounded-area state vector queries. Requests carry an
// OAuth2 bearer token obtained through the client credentials grant when
// credentials are configured, and are anonymous otherwise.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	statesURL  string
	box        BoundingBox
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a client from configuration.
func NewClient(cfg config.OpenSkyConfig, logger *zap.Logger) *Client {
	base := &http.Client{Timeout: cfg.Timeout}

	httpClient := base
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// The token exchange uses the same bounded client as the query.
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = cc.Client(tokenCtx)
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		statesURL:  cfg.StatesURL,
		box: BoundingBox{
			LatMin: cfg.LatMin, LatMax: cfg.LatMax,
			LonMin: cfg.LonMin, LonMax: cfg.LonMax,
		},
		logger: logger,
		now:    time.Now,
	}
}

// FetchSnapshot performs one states query and returns the raw body.
func (c *Client) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("lamin", formatCoord(c.box.LatMin))
	params.Set("lamax", formatCoord(c.box.LatMax))
	params.Set("lomin", formatCoord(c.box.LonMin))
	params.Set("lomax", formatCoord(c.box.LonMax))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statesURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	capturedAt := c.now().UTC()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	remaining := resp.Header.Get(rateLimitRemainingHeader)
	c.logger.Info("opensky states response",
		zap.Int("status", resp.StatusCode),
		zap.String("rate_limit_remaining", remaining))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var envelope StatesResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &Snapshot{
		Body:               body,
		CapturedAt:         capturedAt,
		StateCount:         len(envelope.States),
		RateLimitRemaining: remaining,
	}, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
