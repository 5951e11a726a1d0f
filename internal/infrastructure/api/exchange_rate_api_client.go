// Package api contains the HTTP client of the upstream exchange-rate provider
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/logger"
	"github.com/damon-houk/fx-rate-snapshot-store/internal/infrastructure/metrics"
	"github.com/shopspring/decimal"
)

const (
	// DefaultBaseURL is the public open.er-api.com endpoint
	DefaultBaseURL = "https://open.er-api.com/v6"
	latestPath     = "/latest/"

	defaultMaxRetries = 3
	maxErrorBody      = 512
)

// ExchangeRateAPIClient fetches the latest rates for a base currency over HTTP
type ExchangeRateAPIClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     logger.Logger
}

// NewExchangeRateAPIClient creates a client. Empty baseURL uses DefaultBaseURL,
// nil httpClient uses a client with a 10 second timeout.
func NewExchangeRateAPIClient(baseURL string, httpClient *http.Client, log logger.Logger) *ExchangeRateAPIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 10 * time.Second,
		}
	}

	return &ExchangeRateAPIClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: defaultMaxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
		logger: logger.OrDefault(log).WithField("component", "rate_provider"),
	}
}

// LatestRatesResponse is the body of GET /latest/{base}
type LatestRatesResponse struct {
	Result             string                     `json:"result"`
	ErrorType          string                     `json:"error-type"`
	BaseCode           string                     `json:"base_code"`
	TimeLastUpdateUnix int64                      `json:"time_last_update_unix"`
	Rates              map[string]decimal.Decimal `json:"rates"`
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned error status: %d, body: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= http.StatusInternalServerError
}

// FetchLatestRates implements the RateProvider interface
func (c *ExchangeRateAPIClient) FetchLatestRates(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, error) {
	base := entity.NormalizeCode(baseCode)
	if base == "" {
		return nil, fmt.Errorf("base currency code is required")
	}

	snap, err := c.fetch(ctx, base)
	metrics.RecordProviderFetch(base, err)
	return snap, err
}

func (c *ExchangeRateAPIClient) fetch(ctx context.Context, base string) (*entity.ExchangeRateSnapshot, error) {
	reqURL := c.baseURL + latestPath + url.PathEscape(base)

	var (
		body []byte
		err  error
	)
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		body, err = c.get(ctx, reqURL)
		if err == nil {
			break
		}

		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, err
		}
		if ctx.Err() != nil || attempt == c.maxRetries {
			break
		}

		wait := c.backoff(attempt)
		c.logger.Warn("Rate request failed, retrying", map[string]interface{}{
			"base_code": base,
			"attempt":   attempt,
			"retry_in":  wait.String(),
			"error":     err.Error(),
		})

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rate request cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rates for %s after retries: %w", base, err)
	}

	var resp LatestRatesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Result != "success" {
		return nil, fmt.Errorf("provider returned %q for %s: %s", resp.Result, base, resp.ErrorType)
	}

	rates := make(map[string]decimal.Decimal, len(resp.Rates))
	for code, rate := range resp.Rates {
		if !rate.IsPositive() {
			c.logger.Warn("Dropping non-positive rate", map[string]interface{}{
				"base_code": base,
				"target":    code,
				"rate":      rate.String(),
			})
			continue
		}
		rates[code] = rate
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("provider returned no usable rates for %s", base)
	}

	snap := &entity.ExchangeRateSnapshot{
		BaseCode: base,
		Rates:    rates,
	}
	if resp.TimeLastUpdateUnix > 0 {
		snap.CapturedAt = time.Unix(resp.TimeLastUpdateUnix, 0).UTC()
	}

	c.logger.Info("Fetched latest rates", map[string]interface{}{
		"base_code":   base,
		"rates":       len(rates),
		"captured_at": snap.CapturedAt.Format(time.RFC3339),
	})

	return snap, nil
}

func (c *ExchangeRateAPIClient) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Error closing response body", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}
	return body, nil
}
