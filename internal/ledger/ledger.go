// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ledger provides token accounting per conversation and per model.
//
// The ledger is an explicit service object constructed once per session; it
// holds all counter state internally and persists through the state-store
// collaborator. Per-model buckets are lifetime counters keyed by the stable
// provider_modelName composite; the conversation total follows the active
// conversation identity.
package ledger

import (
	"fmt"
	"log"
	"sync"
	"unicode/utf8"

	"github.com/morganforge/cadence/internal/model"
)

// =============================================================================
// STORE CONTRACT
// =============================================================================

// Store is the durable key-value collaborator the ledger persists through.
type Store interface {
	SaveModelTokens(modelKey string, b model.TokenBucket) error
	LoadModelTokens(modelKey string) (model.TokenBucket, bool, error)
	AllModelTokens() (map[string]model.TokenBucket, error)
	DeleteModelTokens(modelKey string) error
	DeleteAllModelTokens() error
	SaveConversationTotal(conversationID string, total int) error
	LoadConversationTotal(conversationID string) (int, error)
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger tracks token consumption. All methods are safe for concurrent use;
// the conversation total and the per-model bucket are always updated under
// the same lock so no reader can observe one without the other.
type Ledger struct {
	mu sync.Mutex

	store   Store
	divisor int

	conversationID    string
	conversationTotal int
	perModel          map[string]model.TokenBucket
}

// New creates a ledger backed by store. divisor is the chars-per-token
// estimator constant (default 4). Lifetime per-model buckets are loaded
// eagerly so displays have totals before the first request.
func New(store Store, divisor int) (*Ledger, error) {
	if divisor <= 0 {
		divisor = 4
	}

	buckets, err := store.AllModelTokens()
	if err != nil {
		return nil, fmt.Errorf("failed to load model buckets: %w", err)
	}
	if buckets == nil {
		buckets = make(map[string]model.TokenBucket)
	}

	return &Ledger{
		store:    store,
		divisor:  divisor,
		perModel: buckets,
	}, nil
}

// =============================================================================
// RECORDING
// =============================================================================

// Record accumulates one request/response pair into both counters. The two
// updates are never observably interleaved with a read. Persistence errors
// are logged, not returned: in-memory accounting stays consistent even when
// the disk is unhappy.
func (l *Ledger) Record(usage model.Usage, id model.ModelID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.conversationTotal += usage.Total()

	bucket := l.perModel[id.Key()]
	bucket.Add(usage)
	l.perModel[id.Key()] = bucket

	if err := l.store.SaveModelTokens(id.Key(), bucket); err != nil {
		log.Printf("ledger: failed to persist model bucket %s: %v", id.Key(), err)
	}
	if l.conversationID != "" {
		if err := l.store.SaveConversationTotal(l.conversationID, l.conversationTotal); err != nil {
			log.Printf("ledger: failed to persist conversation total %s: %v", l.conversationID, err)
		}
	}
}

// Estimate derives usage from text lengths when the provider reported no
// counts: ceil(chars/divisor) per direction, marked as estimated.
func (l *Ledger) Estimate(promptText, completionText string) model.Usage {
	return model.Usage{
		InputTokens:  l.estimateTokens(promptText),
		OutputTokens: l.estimateTokens(completionText),
		Estimated:    true,
	}
}

// RecordText estimates usage from the raw texts and records it.
func (l *Ledger) RecordText(promptText, completionText string, id model.ModelID) model.Usage {
	usage := l.Estimate(promptText, completionText)
	l.Record(usage, id)
	return usage
}

func (l *Ledger) estimateTokens(text string) int {
	chars := utf8.RuneCountInString(text)
	if chars == 0 {
		return 0
	}
	return (chars + l.divisor - 1) / l.divisor
}

// =============================================================================
// CONVERSATION IDENTITY
// =============================================================================

// SetActiveConversation switches the conversation the running total follows,
// loading that conversation's persisted counter (0 if absent). Per-model
// lifetime buckets are untouched.
func (l *Ledger) SetActiveConversation(conversationID string) error {
	total, err := l.store.LoadConversationTotal(conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation total: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.conversationID = conversationID
	l.conversationTotal = total
	return nil
}

// =============================================================================
// READS
// =============================================================================

// ConversationTotal returns the active conversation's running total.
func (l *Ledger) ConversationTotal() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conversationTotal
}

// ModelTokens returns the lifetime bucket for one model.
func (l *Ledger) ModelTokens(id model.ModelID) model.TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perModel[id.Key()]
}

// Snapshot returns a copy of every per-model bucket.
func (l *Ledger) Snapshot() map[string]model.TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]model.TokenBucket, len(l.perModel))
	for k, v := range l.perModel {
		out[k] = v
	}
	return out
}

// =============================================================================
// OPERATOR RESETS
// =============================================================================

// Reset clears one model's lifetime bucket.
func (l *Ledger) Reset(id model.ModelID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.perModel, id.Key())
	if err := l.store.DeleteModelTokens(id.Key()); err != nil {
		return fmt.Errorf("failed to reset model bucket: %w", err)
	}
	return nil
}

// ResetAll clears every per-model bucket and the conversation total.
// A reset followed by any sequence of Record calls reproduces exactly the
// totals of those calls alone.
func (l *Ledger) ResetAll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.perModel = make(map[string]model.TokenBucket)
	l.conversationTotal = 0
	if err := l.store.DeleteAllModelTokens(); err != nil {
		return fmt.Errorf("failed to reset model buckets: %w", err)
	}
	if l.conversationID != "" {
		if err := l.store.SaveConversationTotal(l.conversationID, 0); err != nil {
			return fmt.Errorf("failed to reset conversation total: %w", err)
		}
	}
	return nil
}
