package store

import "database/sql"

// CreateTemplate inserts a system prompt template.
func (s *Store) CreateTemplate(name, content string) (*Template, error) {
	now := nowMilli()
	tpl := &Template{
		ID:        newID(),
		Name:      name,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO templates (id, name, content, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, tpl.ID, tpl.Name, tpl.Content, now, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

// GetTemplate retrieves a template by id.
func (s *Store) GetTemplate(id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	var tpl Template
	err := s.db.QueryRow(`
		SELECT id, name, content, created_at, updated_at FROM templates WHERE id = ?
	`, id).Scan(&tpl.ID, &tpl.Name, &tpl.Content, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// ListTemplates returns all templates ordered by name.
func (s *Store) ListTemplates() ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT id, name, content, created_at, updated_at FROM templates ORDER BY name
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		var tpl Template
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Content, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, &tpl)
	}
	return templates, rows.Err()
}

// UpdateTemplate replaces a template's name and content.
func (s *Store) UpdateTemplate(id, name, content string) error {
	return s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE templates SET name = ?, content = ?, updated_at = ? WHERE id = ?
		`, name, content, nowMilli(), id)
		return err
	})
}

// DeleteTemplate removes a template; missing ids are a no-op.
func (s *Store) DeleteTemplate(id string) error {
	return s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM templates WHERE id = ?`, id)
		return err
	})
}
