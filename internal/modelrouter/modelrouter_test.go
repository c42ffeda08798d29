// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package modelrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelRouter_Resolve(t *testing.T) {
	mr := New()
	require.NoError(t, mr.RegisterModel("gpt-4o", "openai"))
	require.NoError(t, mr.RegisterModel("claude-sonnet-4", "anthropic"))

	provider, model, err := mr.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "gpt-4o", model)

	_, _, err = mr.Resolve("unknown-model")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestModelRouter_ResolveThroughAlias(t *testing.T) {
	mr := New()
	require.NoError(t, mr.RegisterModel("gpt-4o", "openai"))
	mr.AddModelAlias("default", "gpt-4o")

	provider, model, err := mr.Resolve("default")
	require.NoError(t, err)
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "gpt-4o", model)
}

func TestModelRouter_AliasOnlyMode(t *testing.T) {
	mr := New()
	require.NoError(t, mr.RegisterModel("gpt-4o", "openai"))
	mr.AddModelAlias("default", "gpt-4o")
	mr.SetAliasOnlyMode(true)

	_, _, err := mr.Resolve("gpt-4o")
	assert.Error(t, err, "direct model access is rejected in alias-only mode")

	provider, _, err := mr.Resolve("default")
	require.NoError(t, err)
	assert.Equal(t, "openai", provider)
}

func TestModelRouter_RegisterValidation(t *testing.T) {
	mr := New()

	assert.Error(t, mr.RegisterModel("", "openai"))
	assert.Error(t, mr.RegisterModel("gpt-4o", ""))
}

func TestModelRouter_ListModels(t *testing.T) {
	mr := New()
	require.NoError(t, mr.RegisterModel("gpt-4o", "openai"))
	require.NoError(t, mr.RegisterModel("claude-sonnet-4", "anthropic"))

	assert.Equal(t, []string{"claude-sonnet-4", "gpt-4o"}, mr.ListModels())
}

func TestModelRouter_AliasManagement(t *testing.T) {
	mr := New()
	mr.AddModelAlias("default", "gpt-4o")
	mr.AddModelAlias("", "gpt-4o")
	mr.AddModelAlias("x", "")

	assert.Equal(t, map[string]string{"default": "gpt-4o"}, mr.ListModelAliases())

	mr.RemoveModelAlias("default")
	assert.Empty(t, mr.ListModelAliases())
}
