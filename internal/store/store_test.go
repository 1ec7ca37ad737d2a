package store

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateRoom(t *testing.T, s *Store, name string) *Room {
	t.Helper()
	room, err := s.CreateRoom(name, nil, "test-model")
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	return room
}

func mustCreateMessage(t *testing.T, s *Store, roomID string, parentID *string, text string) *Message {
	t.Helper()
	msg, err := s.CreateMessage(CreateMessage{
		RoomID:   roomID,
		ParentID: parentID,
		Role:     RoleUser,
		Provider: "test",
		Model:    "test-model",
	})
	if err != nil {
		t.Fatalf("Failed to create message: %v", err)
	}
	if text != "" {
		if err := s.AppendContent(msg.ID, TextPart(text)); err != nil {
			t.Fatalf("Failed to append content: %v", err)
		}
	}
	return msg
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)

	// Running migrations again must be a no-op, not an error.
	if err := s.Migrate(); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("Third migrate failed: %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := s.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := s.ListRooms(); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestExportImport(t *testing.T) {
	s := newTestStore(t)

	tmpl, err := s.CreateTemplate("Helper", "You are a helpful assistant.")
	if err != nil {
		t.Fatalf("Failed to create template: %v", err)
	}
	room, err := s.CreateRoom("Main", &tmpl.ID, "test-model")
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	msg := mustCreateMessage(t, s, room.ID, nil, "hello world")
	if _, err := s.UpsertMemoryItem(UpsertMemory{
		Content: "user likes tea",
		Scope:   ScopeGlobal,
		Tags:    []string{"preference"},
	}); err != nil {
		t.Fatalf("Failed to upsert memory: %v", err)
	}

	data, err := s.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Exported data is empty")
	}

	// Import into a fresh store to simulate a reload.
	s2 := newTestStore(t)
	if err := s2.Import(data); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	restored, err := s2.GetMessagesByRoomID(room.ID)
	if err != nil {
		t.Fatalf("Failed to list restored messages: %v", err)
	}
	if len(restored) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(restored))
	}
	if restored[0].ID != msg.ID {
		t.Errorf("Expected message id %s, got %s", msg.ID, restored[0].ID)
	}
	if restored[0].PlainText() != "hello world" {
		t.Errorf("Expected content %q, got %q", "hello world", restored[0].PlainText())
	}

	memories, err := s2.GetMemoriesByRoomID(nil)
	if err != nil {
		t.Fatalf("Failed to list restored memories: %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("Expected 1 memory, got %d", len(memories))
	}

	templates, err := s2.ListTemplates()
	if err != nil {
		t.Fatalf("Failed to list restored templates: %v", err)
	}
	if len(templates) != 1 || templates[0].Name != "Helper" {
		t.Errorf("Template not restored correctly: %+v", templates)
	}
}

func TestImportReplacesExistingData(t *testing.T) {
	s := newTestStore(t)
	room := mustCreateRoom(t, s, "Old")
	mustCreateMessage(t, s, room.ID, nil, "old data")

	empty := newTestStore(t)
	snapshot, err := empty.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if err := s.Import(snapshot); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	rooms, err := s.ListRooms()
	if err != nil {
		t.Fatalf("ListRooms failed: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("Expected importing an empty snapshot to clear rooms, got %d", len(rooms))
	}
}
