package store

import (
	"reflect"
	"testing"
)

func TestMemoryDedupUnionsTags(t *testing.T) {
	s := newTestStore(t)

	first, err := s.UpsertMemoryItem(UpsertMemory{
		Content: "user prefers dark mode",
		Scope:   ScopeGlobal,
		Tags:    []string{"ui", "preference"},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Same content and scope hits the existing row.
	second, err := s.UpsertMemoryItem(UpsertMemory{
		Content: "user prefers dark mode",
		Scope:   ScopeGlobal,
		Tags:    []string{"preference", "theme"},
	})
	if err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected dedup to reuse id %s, got %s", first.ID, second.ID)
	}

	want := []string{"preference", "theme", "ui"}
	if !reflect.DeepEqual(second.Tags, want) {
		t.Errorf("Expected tag union %v, got %v", want, second.Tags)
	}

	memories, err := s.GetMemoriesByRoomID(nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(memories) != 1 {
		t.Errorf("Expected a single deduplicated memory, got %d", len(memories))
	}
}

func TestMemoryScopeIsolation(t *testing.T) {
	s := newTestStore(t)
	room := mustCreateRoom(t, s, "Room")
	other := mustCreateRoom(t, s, "Other")

	if _, err := s.UpsertMemoryItem(UpsertMemory{
		Content: "shared fact",
		Scope:   ScopeGlobal,
	}); err != nil {
		t.Fatalf("Global upsert failed: %v", err)
	}
	roomFact, err := s.UpsertMemoryItem(UpsertMemory{
		Content: "room fact",
		Scope:   ScopeRoom,
		RoomID:  &room.ID,
	})
	if err != nil {
		t.Fatalf("Room upsert failed: %v", err)
	}

	// Same content under a different scope is a distinct memory.
	distinct, err := s.UpsertMemoryItem(UpsertMemory{
		Content: "room fact",
		Scope:   ScopeRoom,
		RoomID:  &other.ID,
	})
	if err != nil {
		t.Fatalf("Upsert in other room failed: %v", err)
	}
	if distinct.ID == roomFact.ID {
		t.Error("Expected different rooms to hold separate memories")
	}

	globals, err := s.GetMemoriesByRoomID(nil)
	if err != nil {
		t.Fatalf("Global list failed: %v", err)
	}
	if len(globals) != 1 || globals[0].Content != "shared fact" {
		t.Errorf("Expected only the global fact, got %+v", globals)
	}

	roomMemories, err := s.GetMemoriesByRoomID(&room.ID)
	if err != nil {
		t.Fatalf("Room list failed: %v", err)
	}
	if len(roomMemories) != 1 || roomMemories[0].ID != roomFact.ID {
		t.Errorf("Expected only the room fact, got %+v", roomMemories)
	}
}

func TestGlobalScopeDropsRoomID(t *testing.T) {
	s := newTestStore(t)
	room := mustCreateRoom(t, s, "Room")

	// A global upsert carrying a room id is normalized to no room.
	m, err := s.UpsertMemoryItem(UpsertMemory{
		Content: "global with stray room",
		Scope:   ScopeGlobal,
		RoomID:  &room.ID,
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if m.RoomID != nil {
		t.Errorf("Expected nil room id on global memory, got %v", *m.RoomID)
	}

	// Empty scope defaults to global.
	m2, err := s.UpsertMemoryItem(UpsertMemory{Content: "global with stray room"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if m2.ID != m.ID {
		t.Errorf("Expected default scope to dedup against global, got new id")
	}
}

func TestOrphanedRoomMemoryNeverGlobal(t *testing.T) {
	s := newTestStore(t)

	// Room scope with no room id is tolerated as an orphan.
	if _, err := s.UpsertMemoryItem(UpsertMemory{
		Content: "orphan",
		Scope:   ScopeRoom,
	}); err != nil {
		t.Fatalf("Orphan upsert failed: %v", err)
	}

	globals, err := s.GetMemoriesByRoomID(nil)
	if err != nil {
		t.Fatalf("Global list failed: %v", err)
	}
	if len(globals) != 0 {
		t.Errorf("Orphan leaked into global scope: %+v", globals)
	}
}

func TestDeleteMemory(t *testing.T) {
	s := newTestStore(t)

	m, err := s.UpsertMemoryItem(UpsertMemory{Content: "temporary", Scope: ScopeGlobal})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := s.DeleteMemory(m.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	globals, err := s.GetMemoriesByRoomID(nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(globals) != 0 {
		t.Errorf("Expected memory gone, got %d", len(globals))
	}
}
