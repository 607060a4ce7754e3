// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn represents a single message authored by either side of a conversation.
// A turn is immutable once appended; the quality engine holds references,
// never copies.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn with a generated ID and the current timestamp.
func NewTurn(role Role, text string) *Turn {
	return &Turn{
		ID:        generateID(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// IsUser returns true for user-authored turns.
func (t *Turn) IsUser() bool {
	return t.Role == RoleUser
}

// IsAssistant returns true for assistant-authored turns.
func (t *Turn) IsAssistant() bool {
	return t.Role == RoleAssistant
}

// =============================================================================
// ID GENERATION
// =============================================================================

// generateID creates a random 16-character hex identifier.
func generateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Fall back to a timestamp-derived ID if the system RNG is unavailable
		return hex.EncodeToString([]byte(time.Now().Format("150405.000")))[:16]
	}
	return hex.EncodeToString(b)
}
