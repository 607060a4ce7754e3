// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/cadence/internal/model"
)

// =============================================================================
// CONTEXT PROVIDER
// =============================================================================

// ContextProvider supplies recent conversation context for completeness
// analysis and grading prompts.
type ContextProvider interface {
	// GetContext returns up to maxMessages of recent context, most recent
	// last, formatted one message per line.
	GetContext(maxMessages int) (string, error)
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager holds the state of one interactive session: the active
// conversation, its transcript, and per-session model bookkeeping.
type Manager struct {
	mu sync.Mutex

	sessionID      string
	startTime      time.Time
	lastActivity   time.Time
	conversationID string
	transcript     []*model.Turn

	// invoked records models that have produced at least one turn this
	// session. The quality engine skips model grading for a model's first
	// invocation.
	invoked map[string]bool
}

// NewManager starts a session with a fresh conversation.
func NewManager() *Manager {
	now := time.Now()
	return &Manager{
		sessionID:      "sess_" + uuid.NewString(),
		startTime:      now,
		lastActivity:   now,
		conversationID: uuid.NewString(),
		invoked:        make(map[string]bool),
	}
}

// SessionID returns the session identifier.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// StartTime returns when the session started.
func (m *Manager) StartTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startTime
}

// ConversationID returns the active conversation identifier.
func (m *Manager) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// =============================================================================
// CONVERSATION LIFECYCLE
// =============================================================================

// NewConversation switches to a fresh conversation and clears the
// transcript. Returns the new conversation identifier.
func (m *Manager) NewConversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversationID = uuid.NewString()
	m.transcript = nil
	return m.conversationID
}

// SwitchConversation resumes an existing conversation. The transcript buffer
// restarts empty; persisted token totals for the conversation are the
// ledger's concern.
func (m *Manager) SwitchConversation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == m.conversationID {
		return
	}
	m.conversationID = id
	m.transcript = nil
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Append records a turn in the transcript buffer and counts as activity.
func (m *Manager) Append(t *model.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript = append(m.transcript, t)
	m.lastActivity = time.Now()
}

// RecordActivity updates the last-activity timestamp.
func (m *Manager) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = time.Now()
}

// IdleTime returns how long since the last activity.
func (m *Manager) IdleTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastActivity)
}

// Turns returns a copy of the transcript slice.
func (m *Manager) Turns() []*model.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Turn, len(m.transcript))
	copy(out, m.transcript)
	return out
}

// Len returns the transcript length.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transcript)
}

// GetContext implements ContextProvider from the transcript buffer: the
// most recent maxMessages turns, oldest first, one "role: text" line each.
func (m *Manager) GetContext(maxMessages int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := m.transcript
	if maxMessages > 0 && len(turns) > maxMessages {
		turns = turns[len(turns)-maxMessages:]
	}

	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String(), nil
}

// =============================================================================
// PER-SESSION MODEL TRACKING
// =============================================================================

// RecordInvocation marks a model as having produced a turn this session.
// Returns true if this was the model's first invocation of the session.
func (m *Manager) RecordInvocation(modelKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.invoked[modelKey] {
		return false
	}
	m.invoked[modelKey] = true
	return true
}

// Invoked reports whether the model has produced a turn this session.
func (m *Manager) Invoked(modelKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoked[modelKey]
}
