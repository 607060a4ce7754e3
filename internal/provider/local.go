// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/morganforge/cadence/internal/model"
	"github.com/morganforge/cadence/internal/wire"
)

// =============================================================================
// LOCAL PROVIDER (NDJSON WIRE FAMILY)
// =============================================================================

// Local talks to the locally-hosted server over its generate endpoint,
// which streams newline-delimited JSON frames.
type Local struct {
	baseURL string
}

// NewLocal creates a local provider for the given base URL
// (e.g. http://127.0.0.1:11434).
func NewLocal(baseURL string) *Local {
	return &Local{baseURL: baseURL}
}

// ID implements Provider.
func (l *Local) ID() string {
	return "ollama"
}

// generateRequest is the local generate endpoint body.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// StreamCompletion implements Provider over the NDJSON wire family.
func (l *Local) StreamCompletion(ctx context.Context, req Request, fn wire.TokenCallback) (*StreamResult, error) {
	if req.Model == "" {
		return nil, &ConfigurationError{Message: "no local model selected"}
	}

	body, err := json.Marshal(generateRequest{
		Model:  req.Model,
		Prompt: req.PromptText(),
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := sharedStreamingClient.Do(httpReq)
	if err != nil {
		return nil, newTransportError("open", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newTransportError("open", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	return accumulate(ctx, wire.NewNDJSONDecoder(resp.Body), fn)
}

// generateResponse is the non-streaming variant of the generate endpoint.
type generateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

// Complete implements Provider.
func (l *Local) Complete(ctx context.Context, req Request) (*Completion, error) {
	if req.Model == "" {
		return nil, &ConfigurationError{Message: "no local model selected"}
	}

	body, err := json.Marshal(generateRequest{
		Model:  req.Model,
		Prompt: req.PromptText(),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := sharedHTTPClient.Do(httpReq)
	if err != nil {
		return nil, newTransportError("complete", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newTransportError("complete", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, newTransportError("complete", err)
	}

	completion := &Completion{Text: out.Response}
	if out.PromptEvalCount > 0 || out.EvalCount > 0 {
		completion.Usage = model.Usage{
			InputTokens:  out.PromptEvalCount,
			OutputTokens: out.EvalCount,
		}
		completion.UsageKnown = true
	}
	return completion, nil
}
