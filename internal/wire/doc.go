// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package wire decodes provider-specific streaming payloads into one
// canonical incremental-token event sequence.
//
// Two wire families are supported:
//
//   - NDJSON: one JSON object per line with an embedded completion flag,
//     as served by the locally-hosted provider.
//   - SSE: "data: <json>" frames terminated by a literal [DONE] sentinel
//     or a nested message_stop event, as served by hosted providers.
//
// Both families are mapped to the same {delta, done} shape. Malformed
// lines are logged and skipped; one bad line never loses the rest of
// the turn.
package wire
