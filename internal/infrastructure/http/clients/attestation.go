package clients

import (
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

type attestationClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewAttestationClient builds the client for the attestation service
// that observes source-chain burns and issues mint authorizations.
func NewAttestationClient(cfg config.AttestationConfig, logger zerolog.Logger) interfaces.AttestationClient {
	return &attestationClient{
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

func (c *attestationClient) GetAttestation(ctx context.Context, sourceTxHash string) (*domain.Attestation, error) {
	fullURL := fmt.Sprintf("%s/v1/attestations/%s", c.baseURL, sourceTxHash)

	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(1<<(attempt-1))):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Str("tx_hash", sourceTxHash).Msg("Attestation request failed, retrying")
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var attestation domain.Attestation
			if err := json.Unmarshal(respBody, &attestation); err != nil {
				lastErr = fmt.Errorf("failed to unmarshal attestation: %w", err)
				continue
			}
			return &attestation, nil

		case resp.StatusCode == http.StatusNotFound:
			// The service has not observed the burn yet. Not an error:
			// the poller will ask again on its next tick.
			return &domain.Attestation{Status: domain.AttestationPending}, nil

		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("server error (status %d): %s", resp.StatusCode, string(respBody))
			continue

		default:
			return nil, &domain.ExternalError{
				Op:        "attestation lookup",
				Permanent: true,
				Err:       fmt.Errorf("client error (status %d): %s", resp.StatusCode, string(respBody)),
			}
		}
	}

	c.logger.Error().Err(lastErr).Str("tx_hash", sourceTxHash).Msg("Attestation request failed after all retries")
	return nil, &domain.ExternalError{
		Op:  "attestation lookup",
		Err: fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr),
	}
}
