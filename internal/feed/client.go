// Package feed polls the upstream settlement feed and caches the
// normalized snapshot. The upstream only reports settled transfers by
// amount and timestamp; attribution happens downstream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Record is one normalized settlement entry. The feed is assumed
// time-ordered and may contain duplicates.
type Record struct {
	ExternalID string
	Amount     int64
	Time       time.Time
	Method     string
}

const recordTimeLayout = "2006-01-02 15:04:05"

// Client fetches the merchant's mutation feed with bounded retry.
type Client struct {
	http       *http.Client
	baseURL    string
	merchantID string
	apiKey     string
	retries    int
	backoff    time.Duration
	window     int
}

type ClientConfig struct {
	BaseURL    string
	MerchantID string
	APIKey     string
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Window     int
}

func NewClient(cfg ClientConfig) *Client {
	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		merchantID: cfg.MerchantID,
		apiKey:     cfg.APIKey,
		retries:    cfg.Retries,
		backoff:    cfg.Backoff,
		window:     cfg.Window,
	}
}

// Fetch retrieves the latest settlement records, retrying transient
// failures with increasing backoff. A server-provided Retry-After hint
// takes precedence over the computed delay. The error surfaced after
// the final attempt is transient, never fatal to the process.
func (c *Client) Fetch(ctx context.Context) ([]Record, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retries; attempt++ {
		records, retryAfter, err := c.fetch(ctx)
		if err == nil {
			return records, nil
		}

		lastErr = err

		if attempt == c.retries {
			break
		}

		delay := c.backoff * time.Duration(attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("feed fetch failed after %d attempts: %w", c.retries, lastErr)
}

type feedResponse struct {
	Data []struct {
		Date       string `json:"date"`
		Amount     string `json:"amount"`
		IssuerReff string `json:"issuer_reff"`
		BrandName  string `json:"brand_name"`
	} `json:"data"`
}

func (c *Client) fetch(ctx context.Context) ([]Record, time.Duration, error) {
	url := fmt.Sprintf("%s/api/mutasi/qris/%s/%s", c.baseURL, c.merchantID, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, retryAfterHint(resp), fmt.Errorf("feed rate limited")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, 0, fmt.Errorf("decoding response: %w", err)
	}

	return c.normalize(body), 0, nil
}

// normalize converts raw feed entries into Records, dropping entries
// that fail to parse, and bounds the snapshot to the newest window.
func (c *Client) normalize(body feedResponse) []Record {
	records := make([]Record, 0, len(body.Data))

	for _, raw := range body.Data {
		amount, err := strconv.ParseInt(raw.Amount, 10, 64)
		if err != nil {
			continue
		}

		ts, err := time.ParseInLocation(recordTimeLayout, raw.Date, time.UTC)
		if err != nil {
			continue
		}

		records = append(records, Record{
			ExternalID: raw.IssuerReff,
			Amount:     amount,
			Time:       ts,
			Method:     raw.BrandName,
		})

		if len(records) == c.window {
			break
		}
	}

	return records
}

func retryAfterHint(resp *http.Response) time.Duration {
	seconds, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
