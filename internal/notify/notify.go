// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify defines the notification-sink collaborator and the
// escalating progress advisories the pipeline surfaces on slow requests.
// Notifications are purely cosmetic; a failing sink never affects scoring.
package notify

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// =============================================================================
// NOTIFIER INTERFACE
// =============================================================================

// Kind classifies a notification.
type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Persistent marks a notification that stays until its zone is cleared.
const Persistent time.Duration = 0

// Notifier is the external notification sink.
type Notifier interface {
	// Show surfaces a notification. duration Persistent keeps it until
	// Clear is called for its zone.
	Show(kind Kind, message string, duration time.Duration)

	// Clear removes any notification in the given zone.
	Clear(zone string)
}

// =============================================================================
// IMPLEMENTATIONS
// =============================================================================

// Nop discards all notifications.
type Nop struct{}

func (Nop) Show(Kind, string, time.Duration) {}
func (Nop) Clear(string)                     {}

// Logger writes notifications to the process log. Used by the demo binary
// and as a development sink.
type Logger struct{}

func (Logger) Show(kind Kind, message string, _ time.Duration) {
	log.Printf("notify[%s]: %s", kind, message)
}

func (Logger) Clear(string) {}

// =============================================================================
// ESCALATING ADVISORIES
// =============================================================================

// Advisory manages the escalating slow-request notifications
// (15 s / 30 s / 60 s / 120 s by default). The moment the first streamed
// delta arrives the caller stops the advisory and all pending rungs are
// suppressed.
type Advisory struct {
	mu        sync.Mutex
	timers    []*time.Timer
	stopped   bool
	clearZone func()
}

// StartAdvisories arms one timer per ladder rung. label names the operation
// in the message ("waiting for llama3"). The returned Advisory is stopped
// on first delta or terminal stream event.
func StartAdvisories(n Notifier, zone, label string, ladder []time.Duration) *Advisory {
	a := &Advisory{}
	start := time.Now()

	for _, delay := range ladder {
		delay := delay
		timer := time.AfterFunc(delay, func() {
			a.mu.Lock()
			stopped := a.stopped
			a.mu.Unlock()
			if stopped {
				return
			}
			// The sink is cosmetic; never let it take down the stream.
			defer func() {
				if r := recover(); r != nil {
					log.Printf("notify: sink panicked: %v", r)
				}
			}()
			elapsed := time.Since(start).Round(time.Second)
			n.Show(KindInfo, fmt.Sprintf("still %s (%s elapsed)", label, elapsed), Persistent)
		})
		a.timers = append(a.timers, timer)
	}

	a.clearZone = func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("notify: sink panicked: %v", r)
			}
		}()
		n.Clear(zone)
	}
	return a
}

// Stop cancels every pending rung and clears the zone. Safe to call more
// than once.
func (a *Advisory) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	timers := a.timers
	clear := a.clearZone
	a.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	if clear != nil {
		clear()
	}
}
