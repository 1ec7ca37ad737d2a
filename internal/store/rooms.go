package store

import (
	"database/sql"
	"strings"
)

// CreateRoom inserts a room with no saved view state.
func (s *Store) CreateRoom(name string, templateID *string, defaultModel string) (*Room, error) {
	now := nowMilli()
	room := &Room{
		ID:           newID(),
		Name:         name,
		TemplateID:   templateID,
		DefaultModel: defaultModel,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO rooms (id, name, template_id, default_model, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, room.ID, room.Name, room.TemplateID, room.DefaultModel, now, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by id.
func (s *Store) GetRoom(id string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	row := s.db.QueryRow(`
		SELECT id, name, template_id, default_model,
			focus_node_id, viewport_x, viewport_y, viewport_zoom,
			created_at, updated_at
		FROM rooms WHERE id = ?
	`, id)
	return scanRoom(row)
}

// ListRooms returns all rooms, most recently updated first.
func (s *Store) ListRooms() ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT id, name, template_id, default_model,
			focus_node_id, viewport_x, viewport_y, viewport_zoom,
			created_at, updated_at
		FROM rooms ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// UpdateRoom renames a room and updates its default model.
func (s *Store) UpdateRoom(id string, name, defaultModel string) error {
	return s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE rooms SET name = ?, default_model = ?, updated_at = ? WHERE id = ?
		`, name, defaultModel, nowMilli(), id)
		return err
	})
}

// DeleteRoom removes a room; its messages and their parts cascade.
func (s *Store) DeleteRoom(id string) error {
	return s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM rooms WHERE id = ?`, id)
		return err
	})
}

// RoomViewState loads the persisted focus/viewport snapshot for a room.
func (s *Store) RoomViewState(id string) (ViewState, error) {
	room, err := s.GetRoom(id)
	if err != nil {
		return ViewState{}, err
	}
	return room.ViewState, nil
}

// UpdateRoomViewState applies a partial view-state patch. Unset patch
// fields leave the stored value untouched; set fields with nil values
// clear it.
func (s *Store) UpdateRoomViewState(id string, patch ViewStatePatch) error {
	if !patch.SetFocus && !patch.SetViewport {
		return nil
	}

	return s.withCheckpoint(func(tx *sql.Tx) error {
		var (
			sets []string
			args []any
		)
		if patch.SetFocus {
			sets = append(sets, "focus_node_id = ?")
			args = append(args, patch.FocusNodeID)
		}
		if patch.SetViewport {
			sets = append(sets, "viewport_x = ?", "viewport_y = ?", "viewport_zoom = ?")
			if patch.Viewport != nil {
				args = append(args, patch.Viewport.X, patch.Viewport.Y, patch.Viewport.Zoom)
			} else {
				args = append(args, nil, nil, nil)
			}
		}
		sets = append(sets, "updated_at = ?")
		args = append(args, nowMilli(), id)

		_, err := tx.Exec(
			`UPDATE rooms SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*Room, error) {
	var (
		room       Room
		templateID sql.NullString
		focusID    sql.NullString
		vx, vy, vz sql.NullFloat64
	)
	err := row.Scan(
		&room.ID, &room.Name, &templateID, &room.DefaultModel,
		&focusID, &vx, &vy, &vz,
		&room.CreatedAt, &room.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if templateID.Valid {
		room.TemplateID = &templateID.String
	}
	if focusID.Valid {
		room.ViewState.FocusNodeID = &focusID.String
	}
	if vx.Valid && vy.Valid && vz.Valid {
		room.ViewState.Viewport = &ViewportState{X: vx.Float64, Y: vy.Float64, Zoom: vz.Float64}
	}
	return &room, nil
}
