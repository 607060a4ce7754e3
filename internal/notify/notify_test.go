// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"sync"
	"testing"
	"time"
)

// recordingSink captures notifications for assertions.
type recordingSink struct {
	mu      sync.Mutex
	shown   []string
	cleared []string
}

func (r *recordingSink) Show(_ Kind, message string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, message)
}

func (r *recordingSink) Clear(zone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, zone)
}

func (r *recordingSink) shownCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shown)
}

func TestAdvisory_FiresAfterDelay(t *testing.T) {
	sink := &recordingSink{}
	a := StartAdvisories(sink, "stream", "waiting for llama3", []time.Duration{10 * time.Millisecond})
	defer a.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for sink.shownCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.shownCount() != 1 {
		t.Fatalf("shown = %d, want 1", sink.shownCount())
	}
}

func TestAdvisory_StopSuppressesPendingRungs(t *testing.T) {
	sink := &recordingSink{}
	a := StartAdvisories(sink, "stream", "waiting", []time.Duration{50 * time.Millisecond, 100 * time.Millisecond})

	// First delta arrives immediately.
	a.Stop()

	time.Sleep(150 * time.Millisecond)
	if got := sink.shownCount(); got != 0 {
		t.Errorf("shown = %d, want 0 after suppression", got)
	}

	sink.mu.Lock()
	cleared := len(sink.cleared)
	sink.mu.Unlock()
	if cleared != 1 {
		t.Errorf("cleared = %d, want 1", cleared)
	}

	// Stop is idempotent.
	a.Stop()
}

type panickingSink struct{}

func (panickingSink) Show(Kind, string, time.Duration) { panic("sink exploded") }
func (panickingSink) Clear(string)                     { panic("sink exploded") }

func TestAdvisory_SinkPanicIsContained(t *testing.T) {
	a := StartAdvisories(panickingSink{}, "stream", "waiting", []time.Duration{5 * time.Millisecond})
	time.Sleep(30 * time.Millisecond)
	a.Stop() // must not panic through
}
