// Package polymarket fetches market price history from the Polymarket CLOB API
// and stores it in the price file layout the segmentation pipeline reads.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rewired-gh/polysegment/internal/exporter"
)

// Client provides access to the Polymarket CLOB API
type Client struct {
	apiBaseURL     string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
}

// HistoryPoint is one observation of a token's price history.
type HistoryPoint struct {
	T int64   `json:"t"` // Unix seconds
	P float64 `json:"p"`
}

// priceHistoryResponse is the /prices-history response body.
type priceHistoryResponse struct {
	History []HistoryPoint `json:"history"`
}

// PriceHeader is the column layout of a stored price file.
var PriceHeader = []string{"timestamp", "price"}

// NewClient creates a new Polymarket client
func NewClient(apiBaseURL string, timeout time.Duration, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// FetchPriceHistory retrieves the price history of one outcome token.
// interval is a CLOB range such as "max" or "1w"; fidelity is the sample
// resolution in minutes, omitted when not positive.
func (c *Client) FetchPriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]HistoryPoint, error) {
	params := url.Values{}
	params.Set("market", tokenID)
	if interval != "" {
		params.Set("interval", interval)
	}
	if fidelity > 0 {
		params.Set("fidelity", strconv.Itoa(fidelity))
	}
	reqURL := fmt.Sprintf("%s/prices-history?%s", c.apiBaseURL, params.Encode())

	resp, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price history for %s: %w", tokenID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch price history for %s: status %d", tokenID, resp.StatusCode)
	}

	var body priceHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode price history for %s: %w", tokenID, err)
	}
	return body.History, nil
}

// WritePriceHistory stores points as a timestamp,price CSV at path.
func WritePriceHistory(path string, points []HistoryPoint) error {
	records := make([][]string, 0, len(points))
	for _, p := range points {
		records = append(records, []string{
			strconv.FormatInt(p.T, 10),
			exporter.FormatFloat(p.P),
		})
	}
	return exporter.WriteCSV(path, PriceHeader, records)
}

// doRequest performs HTTP request with retry logic. Server errors and rate
// limiting are retried with linear backoff; other responses are returned as is.
func (c *Client) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
