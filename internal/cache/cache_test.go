// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetAndGet(t *testing.T) {
	c := New[string, int](time.Minute)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_Expiration(t *testing.T) {
	c := New[string, string](10 * time.Millisecond)
	defer c.Close()

	c.Set("k", "v")
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok, "expired entries must not be returned")
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	c := New[string, string](0)
	defer c.Close()

	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCache_Invalidate(t *testing.T) {
	c := New[string, int](time.Minute)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Overwrite(t *testing.T) {
	c := New[string, int](time.Minute)
	defer c.Close()

	c.Set("a", 1)
	c.Set("a", 2)

	v, _ := c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}
