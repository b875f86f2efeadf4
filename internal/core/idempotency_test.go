package core_test

import (
	"CDPLedger/internal/core"
	"testing"
)

func TestIdempotencyLRUEvictsLeastRecentlyUsed(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.WarmFromKeys([]string{"a", "b"})

	// touching "a" leaves "b" as the oldest entry
	if !lru.Contains("a") {
		t.Fatal("warmed key a missing")
	}
	lru.Add("c")

	if lru.Size() != 2 {
		t.Errorf("size = %d, want 2", lru.Size())
	}
	if lru.Evictions() != 1 {
		t.Errorf("evictions = %d, want 1", lru.Evictions())
	}
	if lru.Contains("b") {
		t.Error("b should have been evicted")
	}
	if !lru.Contains("a") || !lru.Contains("c") {
		t.Error("a and c should remain")
	}

	lru.Add("c")
	if lru.Evictions() != 1 {
		t.Errorf("re-adding a present key evicted: %d", lru.Evictions())
	}
}
