// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream wraps a provider with the streaming lifecycle policy:
// the one-shot started signal, escalating slow-request advisories, the
// cold-start retry ladder for never-used models, and per-stream timing
// stats.
package stream

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/morganforge/cadence/internal/config"
	"github.com/morganforge/cadence/internal/model"
	"github.com/morganforge/cadence/internal/notify"
	"github.com/morganforge/cadence/internal/provider"
	"github.com/morganforge/cadence/internal/wire"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// UsageTracker records which models have ever produced a successful
// completion on this installation, keyed by bare model name. The flag is
// durable: cold-start retries apply only before the first success, ever.
type UsageTracker interface {
	ModelUsed(modelName string) (bool, error)
	MarkModelUsed(modelName string) error
}

// Options carries the per-call hooks and notification sink.
type Options struct {
	// OnStarted fires exactly once, on the first delta of the first
	// attempt that produces one. Nil is allowed.
	OnStarted func()

	// OnDelta receives every canonical token event, in order.
	OnDelta wire.TokenCallback

	// Notifier receives the escalating advisories. Nil disables them.
	Notifier notify.Notifier

	// Label names the operation in advisory messages, e.g. the model name.
	Label string
}

// =============================================================================
// RESULTS AND ERRORS
// =============================================================================

// Stats summarizes stream timing.
type Stats struct {
	// TimeToFirstToken is the latency of the first delta. Zero when the
	// stream produced none.
	TimeToFirstToken time.Duration

	// Duration is the total stream time across all attempts.
	Duration time.Duration

	// Deltas is the number of non-empty delta events.
	Deltas int

	// TokensPerSecond is the output rate, from provider-reported counts
	// when available and delta counts otherwise.
	TokensPerSecond float64

	// Attempts is how many attempts were made, including the successful one.
	Attempts int
}

// Result is a completed stream plus its timing stats.
type Result struct {
	Text       string
	Usage      model.Usage
	UsageKnown bool
	Stats      Stats
}

// Error is a failed stream that may carry partial content. Deltas already
// forwarded to the caller are preserved here so nothing shown to the user
// is lost on a mid-stream failure.
type Error struct {
	// Partial is the text accumulated before the failure.
	Partial string

	// Attempts is how many attempts were made.
	Attempts int

	Cause error
}

func (e *Error) Error() string {
	return "stream failed: " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// =============================================================================
// NORMALIZER
// =============================================================================

// Normalizer applies the streaming lifecycle policy on top of any provider.
// Tunables are read through the live config handle per call, so reloads
// apply to the next stream without a data race against in-flight ones.
type Normalizer struct {
	cfg     *config.Live
	tracker UsageTracker
}

// New creates a normalizer. tracker may be nil, which disables cold-start
// retries and first-use tracking.
func New(cfg *config.Live, tracker UsageTracker) *Normalizer {
	return &Normalizer{cfg: cfg, tracker: tracker}
}

// Stream runs one streaming completion with the full lifecycle policy.
//
// Cold-start retries apply only when every condition holds: the failure is
// a transport timeout, the model has never completed successfully on this
// installation, no delta was produced by the failed attempt, and the retry
// budget is not exhausted. Any other failure surfaces immediately, with
// partial content attached when the stream died mid-way.
func (n *Normalizer) Stream(ctx context.Context, p provider.Provider, req provider.Request, opts Options) (*Result, error) {
	// Used flags are keyed by bare model name: cold-start latency belongs
	// to the model weights, not to the provider serving them.
	key := req.Model

	used := true
	if n.tracker != nil {
		var err error
		used, err = n.tracker.ModelUsed(key)
		if err != nil {
			log.Printf("stream: model-used lookup failed for %s: %v", key, err)
			used = true
		}
	}

	maxAttempts := 1
	if !used {
		maxAttempts += n.cfg.Load().Stream.ColdStartRetries
	}

	var startedOnce sync.Once
	start := time.Now()

	for attempt := 1; ; attempt++ {
		result, partial, err := n.attempt(ctx, p, req, opts, &startedOnce, start)
		if err == nil {
			result.Stats.Attempts = attempt
			n.markUsed(key)
			return result, nil
		}

		retryable := provider.IsTransportTimeout(err) && partial == "" && attempt < maxAttempts
		if !retryable {
			return nil, &Error{Partial: partial, Attempts: attempt, Cause: err}
		}

		backoff := n.backoff()
		log.Printf("stream: cold-start retry %d/%d for %s in %s: %v",
			attempt, maxAttempts-1, key, backoff.Round(time.Millisecond), err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, &Error{Attempts: attempt, Cause: ctx.Err()}
		}
	}
}

// attempt runs a single streaming attempt, returning any partial text on
// failure.
func (n *Normalizer) attempt(ctx context.Context, p provider.Provider, req provider.Request, opts Options, startedOnce *sync.Once, start time.Time) (*Result, string, error) {
	var advisory *notify.Advisory
	if opts.Notifier != nil {
		label := opts.Label
		if label == "" {
			label = "waiting for " + req.Model
		}
		advisory = notify.StartAdvisories(opts.Notifier, "stream", label, n.cfg.Load().AdvisoryLadder())
		defer advisory.Stop()
	}

	var (
		partial    strings.Builder
		deltas     int
		firstDelta time.Time
	)

	result, err := p.StreamCompletion(ctx, req, func(tok wire.Token) {
		if tok.Delta != "" {
			if firstDelta.IsZero() {
				firstDelta = time.Now()
				if advisory != nil {
					advisory.Stop()
				}
				startedOnce.Do(func() {
					if opts.OnStarted != nil {
						opts.OnStarted()
					}
				})
			}
			deltas++
			partial.WriteString(tok.Delta)
		}
		if opts.OnDelta != nil {
			opts.OnDelta(tok)
		}
	})
	if err != nil {
		return nil, partial.String(), err
	}

	out := &Result{
		Text:       result.Text,
		Usage:      result.Usage,
		UsageKnown: result.UsageKnown,
		Stats: Stats{
			Duration: time.Since(start),
			Deltas:   deltas,
		},
	}
	if !firstDelta.IsZero() {
		out.Stats.TimeToFirstToken = firstDelta.Sub(start)
		elapsed := time.Since(firstDelta).Seconds()
		if elapsed > 0 {
			produced := deltas
			if result.UsageKnown && result.Usage.OutputTokens > 0 {
				produced = result.Usage.OutputTokens
			}
			out.Stats.TokensPerSecond = float64(produced) / elapsed
		}
	}
	return out, "", nil
}

// markUsed durably flips the first-success flag.
func (n *Normalizer) markUsed(key string) {
	if n.tracker == nil {
		return
	}
	if err := n.tracker.MarkModelUsed(key); err != nil {
		log.Printf("stream: failed to mark %s used: %v", key, err)
	}
}

// backoff picks a random delay within the configured cold-start bounds.
func (n *Normalizer) backoff() time.Duration {
	min, max := n.cfg.Load().ColdStartBackoff()
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
