package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
)

// UpsertMemoryItem inserts a memory fact or merges it into the existing
// row with the same (content, scope, room_id) dedup key. On a merge the
// tag sets are unioned and updated_at is bumped; the existing id is
// returned. The check-then-write runs in one transaction so a racing
// upsert cannot produce a duplicate row.
func (s *Store) UpsertMemoryItem(in UpsertMemory) (*Memory, error) {
	scope := in.Scope
	if scope == "" {
		scope = ScopeGlobal
	}
	roomID := in.RoomID
	if scope == ScopeGlobal {
		roomID = nil
	}

	var result *Memory
	err := s.withCheckpoint(func(tx *sql.Tx) error {
		var (
			existingID   string
			existingTags string
			createdAt    int64
		)
		err := tx.QueryRow(`
			SELECT id, tags, created_at FROM memories
			WHERE content = ? AND scope = ? AND room_id IS ?
		`, in.Content, string(scope), roomID).Scan(&existingID, &existingTags, &createdAt)

		now := nowMilli()

		if err == sql.ErrNoRows {
			tags := normalizeTags(nil, in.Tags)
			tagsJSON, err := json.Marshal(tags)
			if err != nil {
				return fmt.Errorf("marshal tags: %w", err)
			}
			id := newID()
			if _, err := tx.Exec(`
				INSERT INTO memories (id, content, scope, room_id, tags, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, id, in.Content, string(scope), roomID, string(tagsJSON), now, now); err != nil {
				return err
			}
			result = &Memory{
				ID: id, Content: in.Content, Scope: scope, RoomID: roomID,
				Tags: tags, CreatedAt: now, UpdatedAt: now,
			}
			return nil
		}
		if err != nil {
			return err
		}

		var current []string
		if err := json.Unmarshal([]byte(existingTags), &current); err != nil {
			current = nil
		}
		merged := normalizeTags(current, in.Tags)
		tagsJSON, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		if _, err := tx.Exec(`
			UPDATE memories SET tags = ?, updated_at = ? WHERE id = ?
		`, string(tagsJSON), now, existingID); err != nil {
			return err
		}
		result = &Memory{
			ID: existingID, Content: in.Content, Scope: scope, RoomID: roomID,
			Tags: merged, CreatedAt: createdAt, UpdatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// normalizeTags unions two tag sets into a sorted, duplicate-free slice.
func normalizeTags(existing, added []string) []string {
	set := make(map[string]struct{}, len(existing)+len(added))
	for _, t := range existing {
		set[t] = struct{}{}
	}
	for _, t := range added {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// GetMemoriesByRoomID returns a room's memories, or only true global
// memories when roomID is nil. The nil case filters on scope, not just
// room_id, so orphaned scope='room' rows with a NULL room_id never leak
// into the global result.
func (s *Store) GetMemoriesByRoomID(roomID *string) ([]*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	var (
		rows *sql.Rows
		err  error
	)
	if roomID == nil {
		rows, err = s.db.Query(`
			SELECT id, content, scope, room_id, tags, created_at, updated_at
			FROM memories WHERE scope = 'global' ORDER BY created_at ASC
		`)
	} else {
		rows, err = s.db.Query(`
			SELECT id, content, scope, room_id, tags, created_at, updated_at
			FROM memories WHERE scope = 'room' AND room_id = ? ORDER BY created_at ASC
		`, *roomID)
	}
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
	if memories == nil {
		memories = []*Memory{}
	}
	return memories, rows.Err()
}

// DeleteMemory removes a memory by id; missing ids are a no-op.
func (s *Store) DeleteMemory(id string) error {
	return s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM memories WHERE id = ?`, id)
		return err
	})
}

func scanMemory(rows *sql.Rows) (*Memory, error) {
	var (
		m        Memory
		roomID   sql.NullString
		tagsJSON string
	)
	if err := rows.Scan(&m.ID, &m.Content, &m.Scope, &roomID, &tagsJSON, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if roomID.Valid {
		m.RoomID = &roomID.String
	}
	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		m.Tags = []string{}
	}
	return &m, nil
}
