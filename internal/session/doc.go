// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks the active conversation: its identity, the
// transcript buffer, and which models have already produced a turn in this
// process lifetime. The transcript doubles as the fallback conversation
// context source when no richer provider is wired in.
package session
