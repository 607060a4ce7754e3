// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks provides cancellable delayed execution for the quality
// engine's grading jobs: a scheduled task handle with Cancel, and a
// scheduler that keeps at most one job pending and at most one in flight.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// Status is the state of a scheduled task.
type Status string

const (
	// StatusPending indicates the task's timer has not fired yet
	StatusPending Status = "Pending"

	// StatusRunning indicates the task body is executing
	StatusRunning Status = "Running"

	// StatusDone indicates the task body returned normally
	StatusDone Status = "Done"

	// StatusFailed indicates the task body panicked
	StatusFailed Status = "Failed"

	// StatusCanceled indicates the task was canceled before it started
	StatusCanceled Status = "Canceled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCanceled
}

// =============================================================================
// TASK HANDLE
// =============================================================================

// Handle is one scheduled task. A pending handle can be canceled; a running
// one cannot, it always finishes and applies its result.
type Handle struct {
	// ID is a unique identifier for this task
	ID string

	// ScheduledAt is when the task was created
	ScheduledAt time.Time

	mu     sync.Mutex
	status Status
	timer  *time.Timer
	done   chan struct{}
	fn     func(context.Context)
}

func newHandle(fn func(context.Context)) *Handle {
	return &Handle{
		ID:          uuid.New().String(),
		ScheduledAt: time.Now(),
		status:      StatusPending,
		done:        make(chan struct{}),
		fn:          fn,
	}
}

// Status returns the current task status.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done returns a channel closed when the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel stops a pending task by clearing its timer. Returns false when the
// task already started or finished; a task in flight is never aborted.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status != StatusPending {
		return false
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.status = StatusCanceled
	close(h.done)
	return true
}

// markStarted transitions Pending -> Running. Returns false when the task
// was canceled while waiting for the execution slot.
func (h *Handle) markStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status != StatusPending {
		return false
	}
	h.status = StatusRunning
	return true
}

// finish records the terminal state after execution.
func (h *Handle) finish(status Status) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status.Terminal() {
		return
	}
	h.status = status
	close(h.done)
}
