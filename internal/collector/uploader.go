package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"tank-inventory-relay/config"
	"tank-inventory-relay/internal/logger"
)

// ErrUnexpectedStatus is returned when the aggregator answers anything but 200.
var ErrUnexpectedStatus = errors.New("unexpected upload status")

// Uploader posts batches to the aggregator.
type Uploader struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewUploader builds the HTTP client, honouring the optional proxy.
func NewUploader(cfg *config.CollectorConfig, log logger.Logger) *Uploader {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn().Err(err).Str("proxy", cfg.HTTPProxy).Msg("invalid proxy URL, using the environment proxy settings")
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &Uploader{
		url:     cfg.DestinationURL,
		headers: cfg.Headers,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
	}
}

// Upload sends one batch. Only HTTP 200 counts as delivered.
func (u *Uploader) Upload(ctx context.Context, batch Batch) error {
	jsonBody, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range u.headers {
		req.Header.Set(key, value)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
