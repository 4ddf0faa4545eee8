package cache

import (
	"testing"
	"time"
)

func TestSelectVictimsOldestFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Key: Key{Scope: "b", Item: 1}, SizeBytes: 10, AccessTime: base.Add(3 * time.Minute)},
		{Key: Key{Scope: "a", Item: 1}, SizeBytes: 10, AccessTime: base.Add(1 * time.Minute)},
		{Key: Key{Scope: "c", Item: 1}, SizeBytes: 10, AccessTime: base.Add(2 * time.Minute)},
	}

	victims := SelectVictims(entries, 15, 30)
	if len(victims) != 2 {
		t.Fatalf("expected 2 victims, got %v", victims)
	}
	if victims[0] != (Key{Scope: "a", Item: 1}) || victims[1] != (Key{Scope: "c", Item: 1}) {
		t.Fatalf("unexpected victim order %v", victims)
	}
}

func TestSelectVictimsBreaksTiesByKey(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Key: Key{Scope: "book", Item: 2}, SizeBytes: 5, AccessTime: at},
		{Key: Key{Scope: "book", Item: 1}, SizeBytes: 5, AccessTime: at},
	}
	victims := SelectVictims(entries, 5, 10)
	if len(victims) != 1 || victims[0] != (Key{Scope: "book", Item: 1}) {
		t.Fatalf("expected deterministic tie break, got %v", victims)
	}
}

func TestSelectVictimsEdgeCases(t *testing.T) {
	if victims := SelectVictims(nil, 10, 100); len(victims) != 0 {
		t.Fatalf("no entries should yield no victims, got %v", victims)
	}

	entries := []Entry{
		{Key: Key{Scope: "a", Item: 0}, SizeBytes: 1},
		{Key: Key{Scope: "a", Item: 1}, SizeBytes: 1},
	}
	if victims := SelectVictims(entries, 0, 2); len(victims) != 2 {
		t.Fatalf("zero budget should select every entry, got %v", victims)
	}
	if victims := SelectVictims(entries, 10, 2); len(victims) != 0 {
		t.Fatalf("under budget should select nothing, got %v", victims)
	}
}
