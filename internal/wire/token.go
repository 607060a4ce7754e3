// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package wire

import "github.com/morganforge/cadence/internal/model"

// =============================================================================
// CANONICAL TOKEN EVENT
// =============================================================================

// Token is the canonical incremental event every wire family decodes to.
type Token struct {
	// Delta is the text fragment carried by this event. May be empty on
	// bookkeeping frames (role announcements, stop sentinels).
	Delta string

	// Done is true on the terminal event of the stream.
	Done bool
}

// TokenCallback receives each decoded token in stream order.
type TokenCallback func(Token)

// Decoder turns a provider response body into canonical token events.
type Decoder interface {
	// Next returns the next token event. Returns io.EOF after the stream
	// is exhausted without an explicit done frame.
	Next() (Token, error)

	// Usage returns provider-reported token counts, if the stream carried
	// any. Valid once the stream has completed; ok is false otherwise.
	Usage() (model.Usage, bool)
}
