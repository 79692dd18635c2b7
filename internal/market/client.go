package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/albionforge/itemgraph/internal/domain"
	"github.com/albionforge/itemgraph/internal/pkg/httpx"
	"github.com/albionforge/itemgraph/internal/platform/logger"
)

const (
	defaultRequestTimeout = 45 * time.Second
	defaultMaxRetries     = 5
	defaultMaxURLLength   = 8000
	baseBackoff           = 1 * time.Second
	maxBackoff            = 30 * time.Second
)

// PriceObservation is one (item, city) tuple from the pricing endpoint.
type PriceObservation struct {
	ItemID           string `json:"item_id"`
	City             string `json:"city"`
	Quality          int    `json:"quality"`
	SellPriceMin     int64  `json:"sell_price_min"`
	SellPriceMinDate string `json:"sell_price_min_date"`
	BuyPriceMax      int64  `json:"buy_price_max"`
	BuyPriceMaxDate  string `json:"buy_price_max_date"`
}

// Client validates item batches against the external pricing endpoint. It
// never fails a batch hard: after retries are exhausted every record is
// downgraded to an invalid ValidationResult so the run keeps moving.
type Client struct {
	baseURL      string
	cities       []string
	httpClient   *http.Client
	log          *logger.Logger
	maxRetries   int
	maxURLLength int

	// sleep is swapped out in tests so backoff is observable without
	// waiting.
	sleep func(time.Duration)
}

func NewClient(baseURL string, cities []string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		cities:       cities,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log.With("component", "ValidationClient"),
		maxRetries:   defaultMaxRetries,
		maxURLLength: defaultMaxURLLength,
		sleep:        time.Sleep,
	}
}

// ValidateBatch returns one ValidationResult per record, in record order.
// Oversized batches are bisected recursively until each request URL fits.
func (c *Client) ValidateBatch(ctx context.Context, records []domain.ItemRecord) []domain.ValidationResult {
	if len(records) == 0 {
		return nil
	}
	if len(c.requestURL(records)) > c.maxURLLength && len(records) > 1 {
		mid := len(records) / 2
		left := c.ValidateBatch(ctx, records[:mid])
		right := c.ValidateBatch(ctx, records[mid:])
		return append(left, right...)
	}

	observations, err := c.fetchPrices(ctx, records)
	if err != nil {
		c.log.Warn("batch validation failed after retries", "size", len(records), "error", err)
		return invalidateAll(records, fmt.Sprintf("%s: %v", domain.ReasonValidationFailedPrefix, err))
	}
	return Evaluate(records, observations)
}

func (c *Client) requestURL(records []domain.ItemRecord) string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.Identifier
	}
	u := c.baseURL + "/api/v2/stats/prices/" + url.PathEscape(strings.Join(ids, ","))
	if len(c.cities) > 0 {
		u += "?locations=" + url.QueryEscape(strings.Join(c.cities, ","))
	}
	return u
}

// fetchPrices issues the request with exponential backoff on rate-limit and
// throttle signals: HTTP 429, HTTP 503, or a nominal response whose body
// carries a throttle indicator.
func (c *Client) fetchPrices(ctx context.Context, records []domain.ItemRecord) ([]PriceObservation, error) {
	target := c.requestURL(records)
	backoff := baseBackoff

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		observations, resp, err := c.fetchOnce(ctx, target)
		if err == nil {
			return observations, nil
		}
		lastErr = err
		if !isThrottle(err) {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, maxBackoff)
		sleepFor = httpx.JitterSleep(sleepFor)
		if sleepFor > maxBackoff {
			sleepFor = maxBackoff
		}
		c.log.Warn("pricing endpoint throttled, retrying",
			"attempt", attempt,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		c.sleep(sleepFor)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, fmt.Errorf("rate limited after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, target string) ([]PriceObservation, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &throttleError{cause: fmt.Sprintf("request: %v", err)}
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, &throttleError{cause: fmt.Sprintf("read body: %v", readErr)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp, &throttleError{cause: "rate limit status 429"}
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, resp, &throttleError{cause: "throttle status 503"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		if httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, resp, &throttleError{cause: fmt.Sprintf("status %d", resp.StatusCode)}
		}
		return nil, resp, fmt.Errorf("pricing endpoint status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	// Some throttles arrive as a 200 with an apology in the body.
	if containsThrottleIndicator(body) {
		return nil, resp, &throttleError{cause: "throttle indicator in response body"}
	}

	var observations []PriceObservation
	if err := json.Unmarshal(body, &observations); err != nil {
		return nil, resp, fmt.Errorf("decode pricing response: %w", err)
	}
	return observations, resp, nil
}

type throttleError struct {
	cause string
}

func (e *throttleError) Error() string { return e.cause }

func isThrottle(err error) bool {
	_, ok := err.(*throttleError)
	return ok
}

func containsThrottleIndicator(body []byte) bool {
	lowered := strings.ToLower(string(body))
	return strings.Contains(lowered, "rate limit") || strings.Contains(lowered, "throttl")
}

func invalidateAll(records []domain.ItemRecord, reason string) []domain.ValidationResult {
	results := make([]domain.ValidationResult, len(records))
	for i, r := range records {
		results[i] = domain.ValidationResult{
			Identifier: r.Identifier,
			IsValid:    false,
			Reason:     reason,
		}
	}
	return results
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
