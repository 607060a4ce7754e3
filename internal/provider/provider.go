// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/morganforge/cadence/internal/model"
	"github.com/morganforge/cadence/internal/wire"
)

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// PromptText flattens the request messages into one prompt string, used by
// the generate-style local endpoint and by the token estimator.
func (r Request) PromptText() string {
	var b strings.Builder
	for i, m := range r.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// StreamResult summarizes a completed stream.
type StreamResult struct {
	// Text is the full concatenated response.
	Text string

	// Usage holds provider-reported token counts when UsageKnown is true.
	Usage      model.Usage
	UsageKnown bool
}

// Completion is the result of a non-streaming request.
type Completion struct {
	Text       string
	Usage      model.Usage
	UsageKnown bool
}

// =============================================================================
// PROVIDER INTERFACE
// =============================================================================

// Provider is one model backend. Implementations differ only in transport
// and wire framing; callers see the same capability.
type Provider interface {
	// ID returns the stable provider identifier used in model keys,
	// e.g. "ollama".
	ID() string

	// StreamCompletion opens a streaming request and invokes fn for every
	// canonical token event, in order. Returns the accumulated result once
	// the stream terminates.
	StreamCompletion(ctx context.Context, req Request, fn wire.TokenCallback) (*StreamResult, error)

	// Complete performs a non-streaming request, used by the grading path.
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// =============================================================================
// SHARED HTTP CLIENTS
// =============================================================================

// Connection pooling is shared across providers; streaming requests carry
// no client timeout and are controlled via context.
var (
	sharedHTTPClient = &http.Client{
		Transport: sharedTransport(),
		Timeout:   60 * time.Second,
	}

	sharedStreamingClient = &http.Client{
		Transport: sharedTransport(),
	}
)

func sharedTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// accumulate drains a decoder into a StreamResult, forwarding each token.
func accumulate(ctx context.Context, dec wire.Decoder, fn wire.TokenCallback) (*StreamResult, error) {
	var text strings.Builder

	for {
		select {
		case <-ctx.Done():
			return nil, newTransportError("read", ctx.Err())
		default:
		}

		tok, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, newTransportError("read", err)
		}

		text.WriteString(tok.Delta)
		if fn != nil {
			fn(tok)
		}
		if tok.Done {
			break
		}
	}

	result := &StreamResult{Text: text.String()}
	if usage, ok := dec.Usage(); ok {
		result.Usage = usage
		result.UsageKnown = true
	}
	return result, nil
}
