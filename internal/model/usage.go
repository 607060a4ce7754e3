// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// MODEL IDENTITY
// =============================================================================

// ModelID identifies a model by its provider and name. The composite is
// stable across sessions and keys the per-model token buckets.
type ModelID struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
}

// Key returns the persisted composite key, e.g. "ollama_llama3".
func (m ModelID) Key() string {
	return m.Provider + "_" + m.Name
}

// =============================================================================
// TOKEN USAGE
// =============================================================================

// Usage holds the token counts for one request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Estimated is true when the counts were derived from character length
	// rather than reported by the provider.
	Estimated bool `json:"estimated,omitempty"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// TokenBucket is a lifetime token counter for one model.
// Invariant: Total == Input + Output at all times.
type TokenBucket struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Add accumulates a usage record into the bucket.
func (b *TokenBucket) Add(u Usage) {
	b.Input += u.InputTokens
	b.Output += u.OutputTokens
	b.Total = b.Input + b.Output
}
