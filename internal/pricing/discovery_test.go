// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/costwise-ai/costwise"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

const metadataResponse = `{
	"data": [
		{"id": "gpt-4o", "pricing": {"prompt": "0.0000025", "completion": "0.00001"}},
		{"id": "gpt-4o-mini", "pricing": {"prompt": "0.00000015", "completion": "0.0000006"}}
	]
}`

func TestHTTPDiscoverer_DiscoverPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(metadataResponse))
	}))
	defer server.Close()

	discoverer := NewHTTPDiscoverer(map[string]string{"openai": server.URL})

	entry, err := discoverer.DiscoverPrice(context.Background(), "openai", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, costwise.PriceSourceDiscovered, entry.Source)
	assert.Equal(t, int64(1000), entry.UnitSize)
	// 0.0000025 per token -> 0.0025 per 1K
	assert.True(t, entry.InputPerUnit.Equal(mustDecimal(t, "0.0025")), entry.InputPerUnit.String())
	assert.True(t, entry.OutputPerUnit.Equal(mustDecimal(t, "0.01")), entry.OutputPerUnit.String())
	assert.True(t, entry.Active)
	assert.NotEmpty(t, entry.ID)
}

func TestHTTPDiscoverer_ModelNotListed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(metadataResponse))
	}))
	defer server.Close()

	discoverer := NewHTTPDiscoverer(map[string]string{"openai": server.URL})

	_, err := discoverer.DiscoverPrice(context.Background(), "openai", "gpt-unknown")
	assert.True(t, errors.Is(err, costwise.ErrNotFound))
}

func TestHTTPDiscoverer_UnknownProvider(t *testing.T) {
	discoverer := NewHTTPDiscoverer(map[string]string{})

	_, err := discoverer.DiscoverPrice(context.Background(), "nobody", "model")
	assert.True(t, errors.Is(err, costwise.ErrNotFound))
}

func TestHTTPDiscoverer_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	discoverer := NewHTTPDiscoverer(map[string]string{"openai": server.URL})

	_, err := discoverer.DiscoverPrice(context.Background(), "openai", "gpt-4o")
	require.Error(t, err)
	assert.False(t, errors.Is(err, costwise.ErrNotFound))
}
