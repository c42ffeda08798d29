// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/costwise-ai/costwise"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HTTPDiscoverer implements costwise.PriceDiscoverer against an
// OpenRouter-style model metadata endpoint (GET <baseURL>/models). Per-model
// prices on the wire are USD per single token; entries are normalized to the
// per-1K unit size used everywhere else.
type HTTPDiscoverer struct {
	baseURLs map[string]string // provider -> metadata base URL
	client   *http.Client
	logger   *slog.Logger
}

// HTTPDiscovererOption configures HTTPDiscoverer behavior
type HTTPDiscovererOption func(*HTTPDiscoverer)

// WithDiscovererLogger sets the logger for the discoverer
func WithDiscovererLogger(logger *slog.Logger) HTTPDiscovererOption {
	return func(d *HTTPDiscoverer) {
		d.logger = logger
	}
}

// WithDiscovererHTTPClient sets the HTTP client used for metadata calls
func WithDiscovererHTTPClient(client *http.Client) HTTPDiscovererOption {
	return func(d *HTTPDiscoverer) {
		d.client = client
	}
}

// NewHTTPDiscoverer creates a discoverer for the given provider base URLs
func NewHTTPDiscoverer(baseURLs map[string]string, options ...HTTPDiscovererOption) *HTTPDiscoverer {
	d := &HTTPDiscoverer{
		baseURLs: baseURLs,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// modelMetadata is the subset of the metadata response we consume
type modelMetadata struct {
	Data []struct {
		ID      string `json:"id"`
		Pricing struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// DiscoverPrice fetches current pricing for a model from the provider's own
// metadata API
func (d *HTTPDiscoverer) DiscoverPrice(ctx context.Context, provider, model string) (*costwise.PriceEntry, error) {
	baseURL, ok := d.baseURLs[provider]
	if !ok {
		return nil, fmt.Errorf("no metadata endpoint for provider %s: %w", provider, costwise.ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request for %s failed: %w", provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request for %s returned status %d", provider, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata response: %w", err)
	}

	var meta modelMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata response: %w", err)
	}

	for _, m := range meta.Data {
		if m.ID != model {
			continue
		}

		inputPerToken, err := decimal.NewFromString(m.Pricing.Prompt)
		if err != nil {
			return nil, fmt.Errorf("invalid prompt price %q for %s: %w", m.Pricing.Prompt, model, err)
		}
		outputPerToken, err := decimal.NewFromString(m.Pricing.Completion)
		if err != nil {
			return nil, fmt.Errorf("invalid completion price %q for %s: %w", m.Pricing.Completion, model, err)
		}

		d.logger.Debug("Discovered model pricing",
			"provider", provider,
			"model", model,
			"inputPerToken", m.Pricing.Prompt,
			"outputPerToken", m.Pricing.Completion)

		per1K := decimal.NewFromInt(1000)
		return &costwise.PriceEntry{
			ID:            uuid.New().String(),
			Provider:      provider,
			Model:         model,
			InputPerUnit:  inputPerToken.Mul(per1K),
			OutputPerUnit: outputPerToken.Mul(per1K),
			Currency:      "USD",
			UnitSize:      1000,
			EffectiveAt:   time.Now(),
			Source:        costwise.PriceSourceDiscovered,
			Active:        true,
		}, nil
	}

	return nil, fmt.Errorf("model %s not listed by %s: %w", model, provider, costwise.ErrNotFound)
}
