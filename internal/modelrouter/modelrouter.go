// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package modelrouter maps model identifiers to the provider that serves
// them, so callers may omit the provider on requests for known models.
package modelrouter

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
)

var ErrModelNotFound = errors.New("model not found")

// ModelRouter resolves a model identifier, through optional aliases, to the
// provider registered for it. Safe for concurrent use.
type ModelRouter struct {
	mu              sync.RWMutex
	modelToProvider map[string]string
	modelAliases    map[string]string
	aliasOnlyMode   bool
}

func New() *ModelRouter {
	return &ModelRouter{
		modelToProvider: make(map[string]string),
		modelAliases:    make(map[string]string),
	}
}

// RegisterModel maps a model identifier to the provider serving it. A later
// registration for the same model replaces the earlier one.
func (mr *ModelRouter) RegisterModel(modelID, providerID string) error {
	if modelID == "" {
		return errors.New("model ID cannot be empty")
	}
	if providerID == "" {
		return errors.New("provider ID cannot be empty")
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.modelToProvider[modelID] = providerID
	return nil
}

// Resolve returns the provider and canonical model identifier for a model,
// following one level of alias indirection. In alias-only mode, models
// without an alias are rejected even when registered directly.
func (mr *ModelRouter) Resolve(modelID string) (string, string, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	resolved, aliased := mr.modelAliases[modelID]
	if !aliased {
		resolved = modelID
	}

	if mr.aliasOnlyMode && !aliased {
		return "", "", fmt.Errorf("model %s not allowed in alias-only mode", modelID)
	}

	providerID, exists := mr.modelToProvider[resolved]
	if !exists {
		return "", "", fmt.Errorf("%w: %s", ErrModelNotFound, resolved)
	}

	return providerID, resolved, nil
}

// ListModels returns every registered model identifier in sorted order
func (mr *ModelRouter) ListModels() []string {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	models := make([]string, 0, len(mr.modelToProvider))
	for id := range mr.modelToProvider {
		models = append(models, id)
	}
	sort.Strings(models)
	return models
}

// AddModelAlias maps an alternative name to a registered model identifier
func (mr *ModelRouter) AddModelAlias(alias, actualModelID string) {
	if alias == "" || actualModelID == "" {
		return
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.modelAliases[alias] = actualModelID
}

// RemoveModelAlias deletes an alias
func (mr *ModelRouter) RemoveModelAlias(alias string) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	delete(mr.modelAliases, alias)
}

// ListModelAliases returns a copy of the alias table
func (mr *ModelRouter) ListModelAliases() map[string]string {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	aliases := make(map[string]string)
	maps.Copy(aliases, mr.modelAliases)
	return aliases
}

// SetAliasOnlyMode restricts resolution to aliased models only
func (mr *ModelRouter) SetAliasOnlyMode(enabled bool) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.aliasOnlyMode = enabled
}

// IsAliasOnlyMode reports whether alias-only mode is enabled
func (mr *ModelRouter) IsAliasOnlyMode() bool {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.aliasOnlyMode
}
