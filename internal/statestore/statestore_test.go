// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package statestore

import (
	"path/filepath"
	"testing"

	"github.com/morganforge/cadence/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestModelTokens_RoundTrip(t *testing.T) {
	store := openTestStore(t)

	bucket := model.TokenBucket{Input: 100, Output: 50, Total: 150}
	if err := store.SaveModelTokens("ollama_llama3", bucket); err != nil {
		t.Fatalf("SaveModelTokens failed: %v", err)
	}

	got, ok, err := store.LoadModelTokens("ollama_llama3")
	if err != nil {
		t.Fatalf("LoadModelTokens failed: %v", err)
	}
	if !ok {
		t.Fatal("expected bucket to exist")
	}
	if got != bucket {
		t.Errorf("bucket = %+v, want %+v", got, bucket)
	}

	// Upsert replaces in place.
	bucket.Add(model.Usage{InputTokens: 10, OutputTokens: 5})
	if err := store.SaveModelTokens("ollama_llama3", bucket); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, _, _ = store.LoadModelTokens("ollama_llama3")
	if got.Total != 165 {
		t.Errorf("total = %d, want 165", got.Total)
	}
}

func TestModelTokens_AbsentKey(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.LoadModelTokens("never_seen")
	if err != nil {
		t.Fatalf("LoadModelTokens failed: %v", err)
	}
	if ok {
		t.Error("expected absent bucket")
	}
}

func TestModelTokens_DeleteAll(t *testing.T) {
	store := openTestStore(t)

	store.SaveModelTokens("a_x", model.TokenBucket{Input: 1, Output: 1, Total: 2})
	store.SaveModelTokens("b_y", model.TokenBucket{Input: 2, Output: 2, Total: 4})

	if err := store.DeleteAllModelTokens(); err != nil {
		t.Fatalf("DeleteAllModelTokens failed: %v", err)
	}

	all, err := store.AllModelTokens()
	if err != nil {
		t.Fatalf("AllModelTokens failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected empty store, got %d buckets", len(all))
	}
}

func TestConversationTotal(t *testing.T) {
	store := openTestStore(t)

	// Absent conversation reads as zero.
	total, err := store.LoadConversationTotal("conv-1")
	if err != nil {
		t.Fatalf("LoadConversationTotal failed: %v", err)
	}
	if total != 0 {
		t.Errorf("absent total = %d, want 0", total)
	}

	if err := store.SaveConversationTotal("conv-1", 340); err != nil {
		t.Fatalf("SaveConversationTotal failed: %v", err)
	}
	total, _ = store.LoadConversationTotal("conv-1")
	if total != 340 {
		t.Errorf("total = %d, want 340", total)
	}
}

func TestModelUsedFlag(t *testing.T) {
	store := openTestStore(t)

	used, err := store.ModelUsed("llama3")
	if err != nil {
		t.Fatalf("ModelUsed failed: %v", err)
	}
	if used {
		t.Error("fresh model must not be marked used")
	}

	if err := store.MarkModelUsed("llama3"); err != nil {
		t.Fatalf("MarkModelUsed failed: %v", err)
	}
	// Marking twice is idempotent.
	if err := store.MarkModelUsed("llama3"); err != nil {
		t.Fatalf("second MarkModelUsed failed: %v", err)
	}

	used, _ = store.ModelUsed("llama3")
	if !used {
		t.Error("expected model to be marked used")
	}
}
