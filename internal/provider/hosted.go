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

	"golang.org/x/time/rate"

	"github.com/morganforge/cadence/internal/model"
	"github.com/morganforge/cadence/internal/secrets"
	"github.com/morganforge/cadence/internal/wire"
)

// =============================================================================
// HOSTED PROVIDER (SSE WIRE FAMILIES)
// =============================================================================

// Family selects the hosted delta framing.
type Family string

const (
	// FamilyChat is the choices/delta framing terminated by [DONE].
	FamilyChat Family = "chat"

	// FamilyBlock is the content_block_delta framing terminated by
	// message_stop.
	FamilyBlock Family = "block"
)

// Hosted talks to a hosted provider over SSE delta framing. The credential
// store is consulted before every request; an absent key is a configuration
// error, not a crash.
type Hosted struct {
	baseURL    string
	family     Family
	apiKeyName string
	store      secrets.Store
	limiter    *rate.Limiter
}

// NewHosted creates a hosted provider. requestsPerSecond 0 disables pacing.
func NewHosted(baseURL string, family Family, apiKeyName string, store secrets.Store, requestsPerSecond float64) *Hosted {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Hosted{
		baseURL:    baseURL,
		family:     family,
		apiKeyName: apiKeyName,
		store:      store,
		limiter:    limiter,
	}
}

// ID implements Provider.
func (h *Hosted) ID() string {
	return "cloud"
}

// chatRequest is the chat-completions request body.
type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	Stream    bool      `json:"stream"`
}

// StreamCompletion implements Provider over the SSE wire families.
func (h *Hosted) StreamCompletion(ctx context.Context, req Request, fn wire.TokenCallback) (*StreamResult, error) {
	httpReq, err := h.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := sharedStreamingClient.Do(httpReq)
	if err != nil {
		return nil, newTransportError("open", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newTransportError("open", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	return accumulate(ctx, wire.NewSSEDecoder(resp.Body), fn)
}

// chatResponse is the non-streaming chat-completions response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		InputTokens      int `json:"input_tokens"`
		OutputTokens     int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements Provider, used by the grading path.
func (h *Hosted) Complete(ctx context.Context, req Request) (*Completion, error) {
	httpReq, err := h.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := sharedHTTPClient.Do(httpReq)
	if err != nil {
		return nil, newTransportError("complete", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newTransportError("complete", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, newTransportError("complete", err)
	}

	completion := &Completion{}
	switch {
	case len(out.Choices) > 0:
		completion.Text = out.Choices[0].Message.Content
	case len(out.Content) > 0:
		completion.Text = out.Content[0].Text
	}
	if out.Usage != nil {
		u := model.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		}
		if u.InputTokens == 0 && u.OutputTokens == 0 {
			u.InputTokens = out.Usage.InputTokens
			u.OutputTokens = out.Usage.OutputTokens
		}
		if u.InputTokens > 0 || u.OutputTokens > 0 {
			completion.Usage = u
			completion.UsageKnown = true
		}
	}
	return completion, nil
}

// newRequest builds the authenticated HTTP request for either framing.
func (h *Hosted) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	if req.Model == "" {
		return nil, &ConfigurationError{Message: "no hosted model selected"}
	}

	key, ok := h.store.Retrieve(h.apiKeyName)
	if !ok {
		return nil, &ConfigurationError{Message: "missing credential " + h.apiKeyName}
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, newTransportError("open", err)
		}
	}

	maxTokens := req.MaxTokens
	if h.family == FamilyBlock && maxTokens == 0 {
		// The block-delta API rejects requests without an explicit cap.
		maxTokens = 4096
	}

	body, err := json.Marshal(chatRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: maxTokens,
		Stream:    stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	path := "/chat/completions"
	if h.family == FamilyBlock {
		path = "/messages"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	switch h.family {
	case FamilyBlock:
		httpReq.Header.Set("x-api-key", key)
		httpReq.Header.Set("anthropic-version", "2023-06-01")
	default:
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}
	return httpReq, nil
}
