// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedule_RunsAfterDelay(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Int32

	h := s.Schedule(10*time.Millisecond, func(context.Context) {
		ran.Add(1)
	})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task never finished")
	}

	if ran.Load() != 1 {
		t.Errorf("ran = %d, want 1", ran.Load())
	}
	if h.Status() != StatusDone {
		t.Errorf("status = %s, want Done", h.Status())
	}
}

func TestSchedule_NewTaskCancelsPending(t *testing.T) {
	s := NewScheduler()
	var firstRan, secondRan atomic.Int32

	first := s.Schedule(50*time.Millisecond, func(context.Context) { firstRan.Add(1) })
	second := s.Schedule(10*time.Millisecond, func(context.Context) { secondRan.Add(1) })

	select {
	case <-second.Done():
	case <-time.After(time.Second):
		t.Fatal("second task never finished")
	}
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("first task never reached a terminal state")
	}

	if first.Status() != StatusCanceled {
		t.Errorf("first status = %s, want Canceled", first.Status())
	}
	if firstRan.Load() != 0 {
		t.Error("canceled task must not run")
	}
	if secondRan.Load() != 1 {
		t.Error("replacement task must run exactly once")
	}
}

func TestSchedule_InFlightTaskIsNeverAborted(t *testing.T) {
	s := NewScheduler()
	started := make(chan struct{})
	release := make(chan struct{})
	var firstDone atomic.Bool

	first := s.Schedule(1*time.Millisecond, func(context.Context) {
		close(started)
		<-release
		firstDone.Store(true)
	})

	<-started

	// Scheduling while first is in flight must not abort it.
	second := s.Schedule(1*time.Millisecond, func(context.Context) {})

	if ok := first.Cancel(); ok {
		t.Error("Cancel must refuse a running task")
	}

	close(release)

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("first task never finished")
	}
	if !firstDone.Load() {
		t.Error("in-flight task must complete")
	}
	if first.Status() != StatusDone {
		t.Errorf("first status = %s, want Done", first.Status())
	}

	select {
	case <-second.Done():
	case <-time.After(time.Second):
		t.Fatal("second task never finished")
	}
}

func TestSchedule_SingleInFlight(t *testing.T) {
	s := NewScheduler()
	var concurrent, peak atomic.Int32

	body := func(context.Context) {
		n := concurrent.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		concurrent.Add(-1)
	}

	h1 := s.Schedule(1*time.Millisecond, body)
	time.Sleep(5 * time.Millisecond) // let the first start
	h2 := s.Schedule(1*time.Millisecond, body)

	for _, h := range []*Handle{h1, h2} {
		select {
		case <-h.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("task never finished")
		}
	}

	if peak.Load() > 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}

func TestSchedule_PanicBecomesFailed(t *testing.T) {
	s := NewScheduler()

	h := s.Schedule(1*time.Millisecond, func(context.Context) {
		panic("grading exploded")
	})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("panicked task never reached a terminal state")
	}
	if h.Status() != StatusFailed {
		t.Errorf("status = %s, want Failed", h.Status())
	}

	// The scheduler still works afterwards.
	h2 := s.Schedule(1*time.Millisecond, func(context.Context) {})
	select {
	case <-h2.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler wedged after panic")
	}
}

func TestCancel_Idempotent(t *testing.T) {
	s := NewScheduler()
	h := s.Schedule(time.Hour, func(context.Context) {})

	if !h.Cancel() {
		t.Fatal("first Cancel should succeed")
	}
	if h.Cancel() {
		t.Error("second Cancel should report false")
	}
	if h.Status() != StatusCanceled {
		t.Errorf("status = %s, want Canceled", h.Status())
	}
}
