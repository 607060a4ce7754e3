// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the model-backend abstraction: one
// implementation per streaming wire family, all exposing the same
// StreamCompletion / Complete capability. Provider selection is a variant
// dispatch on the interface, never string branching at call sites.
package provider
