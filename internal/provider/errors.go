// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"net"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// TransportError reports a network failure on stream open or read. It is
// retried per the cold-start policy where applicable, otherwise surfaced as
// a non-fatal chat error.
type TransportError struct {
	Op      string // "open", "read", "complete"
	Timeout bool
	Cause   error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	msg := "transport error during " + e.Op
	if e.Timeout {
		msg = "transport timeout during " + e.Op
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ConfigurationError reports a missing credential or model selection. It
// blocks only the requesting action, never the whole pipeline.
type ConfigurationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// newTransportError wraps err, detecting timeouts from net errors and
// context deadlines.
func newTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Timeout: isTimeout(err), Cause: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTransportTimeout reports whether err is a transport-level timeout, the
// only class the cold-start retry policy applies to.
func IsTransportTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Timeout
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
