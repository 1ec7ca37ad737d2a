package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// exportData is the portable JSON snapshot of every table. Messages carry
// their assembled content parts; part rows are regenerated on import.
type exportData struct {
	Templates []*Template `json:"templates"`
	Rooms     []*Room     `json:"rooms"`
	Messages  []*Message  `json:"messages"`
	Memories  []*Memory   `json:"memories"`
}

// Export serializes the whole database to JSON for backup tooling.
func (s *Store) Export() ([]byte, error) {
	var data exportData
	var err error

	if data.Templates, err = s.ListTemplates(); err != nil {
		return nil, fmt.Errorf("export templates: %w", err)
	}
	if data.Rooms, err = s.ListRooms(); err != nil {
		return nil, fmt.Errorf("export rooms: %w", err)
	}
	if data.Messages, err = s.queryMessages(""); err != nil {
		return nil, fmt.Errorf("export messages: %w", err)
	}

	globals, err := s.GetMemoriesByRoomID(nil)
	if err != nil {
		return nil, fmt.Errorf("export memories: %w", err)
	}
	data.Memories = globals
	scoped, err := s.allRoomMemories()
	if err != nil {
		return nil, fmt.Errorf("export memories: %w", err)
	}
	data.Memories = append(data.Memories, scoped...)

	return json.Marshal(data)
}

func (s *Store) allRoomMemories() ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT id, content, scope, room_id, tags, created_at, updated_at
		FROM memories WHERE scope = 'room' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// Import restores a snapshot produced by Export. Existing data is
// cleared first; the whole restore runs as one transaction.
func (s *Store) Import(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	var snapshot exportData
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("import unmarshal: %w", err)
	}

	return s.withCheckpoint(func(tx *sql.Tx) error {
		for _, table := range []string{"memories", "message_parts", "messages", "rooms", "templates"} {
			if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for _, tpl := range snapshot.Templates {
			if _, err := tx.Exec(`
				INSERT INTO templates (id, name, content, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, tpl.ID, tpl.Name, tpl.Content, tpl.CreatedAt, tpl.UpdatedAt); err != nil {
				return fmt.Errorf("import template %s: %w", tpl.ID, err)
			}
		}

		for _, room := range snapshot.Rooms {
			var vx, vy, vz any
			if vp := room.ViewState.Viewport; vp != nil {
				vx, vy, vz = vp.X, vp.Y, vp.Zoom
			}
			if _, err := tx.Exec(`
				INSERT INTO rooms (id, name, template_id, default_model,
					focus_node_id, viewport_x, viewport_y, viewport_zoom,
					created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, room.ID, room.Name, room.TemplateID, room.DefaultModel,
				room.ViewState.FocusNodeID, vx, vy, vz,
				room.CreatedAt, room.UpdatedAt); err != nil {
				return fmt.Errorf("import room %s: %w", room.ID, err)
			}
		}

		for _, msg := range snapshot.Messages {
			memoryJSON, err := json.Marshal(msg.Memory)
			if err != nil {
				return fmt.Errorf("import message %s: %w", msg.ID, err)
			}
			var embedding any
			if msg.Embedding != nil {
				encoded, err := json.Marshal(msg.Embedding)
				if err != nil {
					return fmt.Errorf("import message %s: %w", msg.ID, err)
				}
				embedding = string(encoded)
			}
			if _, err := tx.Exec(`
				INSERT INTO messages (id, room_id, parent_id, role, provider, model,
					summary, show_summary, memory, embedding, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, msg.ID, msg.RoomID, msg.ParentID, string(msg.Role), msg.Provider, msg.Model,
				msg.Summary, boolToInt(msg.ShowSummary), string(memoryJSON), embedding,
				msg.CreatedAt, msg.UpdatedAt); err != nil {
				return fmt.Errorf("import message %s: %w", msg.ID, err)
			}

			for i, part := range msg.Content {
				if err := insertPart(tx, msg.ID, part, i, msg.CreatedAt); err != nil {
					return fmt.Errorf("import message %s part %d: %w", msg.ID, i, err)
				}
			}
		}

		for _, m := range snapshot.Memories {
			tagsJSON, err := json.Marshal(m.Tags)
			if err != nil {
				return fmt.Errorf("import memory %s: %w", m.ID, err)
			}
			if _, err := tx.Exec(`
				INSERT INTO memories (id, content, scope, room_id, tags, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, m.ID, m.Content, string(m.Scope), m.RoomID, string(tagsJSON),
				m.CreatedAt, m.UpdatedAt); err != nil {
				return fmt.Errorf("import memory %s: %w", m.ID, err)
			}
		}

		return nil
	})
}
