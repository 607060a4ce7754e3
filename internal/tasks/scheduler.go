// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"log"
	"sync"
	"time"
)

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler runs delayed tasks with two guarantees:
//
//   - at most one task is pending at a time: scheduling a new task cancels
//     the previous pending one;
//   - at most one task is in flight at a time: a timer firing while another
//     task runs waits for it, and stays cancellable until it actually starts.
//
// A panicking task body is contained and recorded as Failed; every task
// reaches a terminal state on every path.
type Scheduler struct {
	mu      sync.Mutex
	pending *Handle

	// execMu serializes task bodies: the single in-flight slot.
	execMu sync.Mutex
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule queues fn to run after delay, replacing (canceling) any pending
// task that has not started yet.
func (s *Scheduler) Schedule(delay time.Duration, fn func(context.Context)) *Handle {
	h := newHandle(fn)

	s.mu.Lock()
	if s.pending != nil {
		s.pending.Cancel()
	}
	s.pending = h
	s.mu.Unlock()

	h.mu.Lock()
	h.timer = time.AfterFunc(delay, func() { s.run(h) })
	h.mu.Unlock()

	return h
}

// Pending returns the currently pending task handle, nil when none.
func (s *Scheduler) Pending() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// run executes the task body once the in-flight slot is free.
func (s *Scheduler) run(h *Handle) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	// Canceled while waiting for the slot.
	if !h.markStarted() {
		return
	}

	s.mu.Lock()
	if s.pending == h {
		s.pending = nil
	}
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("tasks: task %s panicked: %v", h.ID, r)
			h.finish(StatusFailed)
			return
		}
		h.finish(StatusDone)
	}()

	h.fn(context.Background())
}
