// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import "sync/atomic"

// =============================================================================
// LIVE CONFIG HANDLE
// =============================================================================

// Live is a hot-swappable configuration handle. The watcher publishes whole
// replacement values through Replace; readers call Load for a consistent
// snapshot and must not mutate it. A reload therefore never writes into a
// Config another goroutine is reading.
type Live struct {
	ptr atomic.Pointer[Config]
}

// NewLive wraps an initial configuration.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.ptr.Store(cfg)
	return l
}

// Load returns the current configuration snapshot.
func (l *Live) Load() *Config {
	return l.ptr.Load()
}

// Replace publishes a new configuration. In-progress readers keep the
// snapshot they loaded; subsequent Load calls see cfg.
func (l *Live) Replace(cfg *Config) {
	l.ptr.Store(cfg)
}
