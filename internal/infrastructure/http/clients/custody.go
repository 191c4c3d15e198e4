package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/domain"
	"github.com/custodia/cls/internal/domain/interfaces"
	"github.com/custodia/cls/pkg/config"
)

type custodyClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewCustodyClient builds the client for the external burn/mint provider.
// Transient failures (network errors, 5xx, 429) are retried with
// exponential backoff; the idempotency key carried in every request makes
// a retry after an unknown outcome safe.
func NewCustodyClient(cfg config.CustodyConfig, logger zerolog.Logger) interfaces.CustodyClient {
	return &custodyClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

func (c *custodyClient) InitiateBurn(ctx context.Context, req *domain.BurnRequest) (*domain.BurnResult, error) {
	var result domain.BurnResult
	if err := c.makeRequest(ctx, "POST", "/v1/transfers/burn", req, &result); err != nil {
		return nil, fmt.Errorf("failed to initiate burn for %s: %w", req.IdempotencyKey, err)
	}

	return &result, nil
}

func (c *custodyClient) SubmitMint(ctx context.Context, req *domain.MintRequest) (*domain.MintResult, error) {
	var result domain.MintResult
	if err := c.makeRequest(ctx, "POST", "/v1/transfers/mint", req, &result); err != nil {
		return nil, fmt.Errorf("failed to submit mint for %s: %w", req.IdempotencyKey, err)
	}

	return &result, nil
}

// makeRequest makes an HTTP request with retries
func (c *custodyClient) makeRequest(ctx context.Context, method, endpoint string, body interface{}, response interface{}) error {
	fullURL := c.baseURL + endpoint

	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(1<<(attempt-1))): // Exponential backoff
			}
		}

		var reqBody []byte
		var err error

		if body != nil {
			reqBody, err = json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request body: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(reqBody))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Str("url", fullURL).Msg("Custody request failed, retrying")
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if response != nil {
				if err := json.Unmarshal(respBody, response); err != nil {
					lastErr = fmt.Errorf("failed to unmarshal response: %w", err)
					continue
				}
			}
			return nil
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("server error (status %d): %s", resp.StatusCode, string(respBody))
			c.logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Str("url", fullURL).Msg("Custody server error, retrying")
			continue
		}

		// Client errors (4xx) are permanent: insufficient allowance,
		// invalid address and the like. Never retried.
		return &domain.ExternalError{
			Op:        "custody " + endpoint,
			Permanent: true,
			Err:       fmt.Errorf("client error (status %d): %s", resp.StatusCode, string(respBody)),
		}
	}

	c.logger.Error().Err(lastErr).Str("url", fullURL).Int("max_retries", c.maxRetries).Msg("Custody request failed after all retries")
	return &domain.ExternalError{
		Op:  "custody " + endpoint,
		Err: fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr),
	}
}
