package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"orderflow-lab/internal/domain"
)

// Default snapshot client configuration values.
const (
	DefaultSnapshotTimeout    = 10 * time.Second
	DefaultSnapshotRetries    = 3
	DefaultSnapshotRetryDelay = 500 * time.Millisecond
	DefaultSnapshotMaxDelay   = 5 * time.Second
	DefaultSnapshotDepth      = 100
	DefaultSnapshotRPS        = 2.0
)

// SnapshotClient fetches full order book snapshots from a venue REST API.
// Every request passes through a rate limiter so bootstrap bursts across
// many instruments stay inside the venue's request budget.
type SnapshotClient struct {
	endpoint   string
	client     *http.Client
	limiter    *rate.Limiter
	depth      int
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	now        func() int64
}

// SnapshotOption configures SnapshotClient.
type SnapshotOption func(*SnapshotClient)

// WithSnapshotTimeout sets the HTTP client timeout.
func WithSnapshotTimeout(d time.Duration) SnapshotOption {
	return func(c *SnapshotClient) {
		c.client.Timeout = d
	}
}

// WithSnapshotDepth sets the number of levels requested per side.
func WithSnapshotDepth(n int) SnapshotOption {
	return func(c *SnapshotClient) {
		c.depth = n
	}
}

// WithSnapshotRateLimit sets the request rate limit in requests per second.
func WithSnapshotRateLimit(rps float64) SnapshotOption {
	return func(c *SnapshotClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithSnapshotRetries sets maximum retry attempts.
func WithSnapshotRetries(n int) SnapshotOption {
	return func(c *SnapshotClient) {
		c.maxRetries = n
	}
}

// WithSnapshotRetryDelay sets the initial delay between retries.
func WithSnapshotRetryDelay(d time.Duration) SnapshotOption {
	return func(c *SnapshotClient) {
		c.retryDelay = d
	}
}

// WithSnapshotMaxDelay sets the maximum delay between retries.
func WithSnapshotMaxDelay(d time.Duration) SnapshotOption {
	return func(c *SnapshotClient) {
		c.maxDelay = d
	}
}

// WithSnapshotHTTPClient sets a custom http.Client.
func WithSnapshotHTTPClient(client *http.Client) SnapshotOption {
	return func(c *SnapshotClient) {
		c.client = client
	}
}

// NewSnapshotClient creates a snapshot client. The endpoint is the REST base
// including the API path prefix, e.g. "https://fapi.binance.com/fapi/v1".
func NewSnapshotClient(endpoint string, opts ...SnapshotOption) *SnapshotClient {
	c := &SnapshotClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		client:     &http.Client{Timeout: DefaultSnapshotTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultSnapshotRPS), 1),
		depth:      DefaultSnapshotDepth,
		maxRetries: DefaultSnapshotRetries,
		retryDelay: DefaultSnapshotRetryDelay,
		maxDelay:   DefaultSnapshotMaxDelay,
		now:        func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// depthSnapshotResponse is the raw REST response for a depth snapshot.
type depthSnapshotResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	EventTime    int64      `json:"E"` // milliseconds, absent on some venues
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// Fetch retrieves the current book snapshot for a venue symbol and returns
// it as a verified checkpoint for the given instrument. Retries with
// exponential backoff on transport errors and rate-limit responses.
func (c *SnapshotClient) Fetch(ctx context.Context, symbol, instrument string) (*domain.BookCheckpoint, error) {
	reqURL := fmt.Sprintf("%s/depth?symbol=%s&limit=%d",
		c.endpoint, url.QueryEscape(strings.ToUpper(symbol)), c.depth)

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
			continue
		}

		var snap depthSnapshotResponse
		if err := json.Unmarshal(body, &snap); err != nil {
			lastErr = fmt.Errorf("unmarshal snapshot: %w", err)
			continue
		}

		return c.toCheckpoint(&snap, instrument), nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// toCheckpoint converts a snapshot response into a checkpoint. Sides are
// re-sorted best-first rather than trusting venue order.
func (c *SnapshotClient) toCheckpoint(snap *depthSnapshotResponse, instrument string) *domain.BookCheckpoint {
	ts := msToNs(snap.EventTime)
	if snap.EventTime == 0 {
		// Spot-style snapshots carry no event time; fall back to the
		// local clock at receipt.
		ts = c.now()
	}

	cp := &domain.BookCheckpoint{
		Instrument: instrument,
		Timestamp:  ts,
		UpdateSeq:  snap.LastUpdateID,
		Bids:       parseLevels(snap.Bids),
		Asks:       parseLevels(snap.Asks),
	}

	sort.Slice(cp.Bids, func(i, j int) bool { return cp.Bids[i].Price > cp.Bids[j].Price })
	sort.Slice(cp.Asks, func(i, j int) bool { return cp.Asks[i].Price < cp.Asks[j].Price })

	return cp
}
