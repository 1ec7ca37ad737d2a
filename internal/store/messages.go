package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func nowMilli() int64 {
	return time.Now().UnixMilli()
}

func newID() string {
	return uuid.NewString()
}

// CreateMessage inserts a message row with empty content and returns it.
func (s *Store) CreateMessage(msg CreateMessage) (*Message, error) {
	now := nowMilli()
	memory := msg.Memory
	if memory == nil {
		memory = []string{}
	}
	memoryJSON, err := json.Marshal(memory)
	if err != nil {
		return nil, fmt.Errorf("marshal memory ids: %w", err)
	}

	created := &Message{
		ID:        newID(),
		RoomID:    msg.RoomID,
		ParentID:  msg.ParentID,
		Role:      msg.Role,
		Provider:  msg.Provider,
		Model:     msg.Model,
		Content:   []Part{},
		Memory:    memory,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO messages (id, room_id, parent_id, role, provider, model, memory, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, created.ID, created.RoomID, created.ParentID, string(created.Role),
			created.Provider, created.Model, string(memoryJSON), now, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetMessagesByRoomID returns the room's messages with their content parts
// assembled, ordered by creation time. Messages with no parts get empty
// content.
func (s *Store) GetMessagesByRoomID(roomID string) ([]*Message, error) {
	return s.queryMessages(`WHERE m.room_id = ?`, roomID)
}

// DeleteMessagesByIDs bulk-deletes messages; parts cascade. Unknown ids
// are silently skipped.
func (s *Store) DeleteMessagesByIDs(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	return s.withCheckpoint(func(tx *sql.Tx) error {
		placeholders := strings.Repeat("?,", len(ids))
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		_, err := tx.Exec(
			`DELETE FROM messages WHERE id IN (`+placeholders[:len(placeholders)-1]+`)`,
			args...)
		return err
	})
}

// AppendContent appends a single part after the message's current maximum
// order.
func (s *Store) AppendContent(messageID string, part Part) error {
	return s.AppendContentBatch(messageID, []Part{part})
}

// AppendContentBatch appends parts with contiguous orders starting at
// max(order)+1. The read-then-insert runs in one transaction, so two
// concurrent appends to the same message never compute the same order.
func (s *Store) AppendContentBatch(messageID string, parts []Part) error {
	if len(parts) == 0 {
		return nil
	}

	return s.withCheckpoint(func(tx *sql.Tx) error {
		var maxOrder int
		err := tx.QueryRow(
			`SELECT COALESCE(MAX("order"), -1) FROM message_parts WHERE message_id = ?`,
			messageID).Scan(&maxOrder)
		if err != nil {
			return err
		}

		now := nowMilli()
		for i, part := range parts {
			if err := insertPart(tx, messageID, part, maxOrder+1+i, now); err != nil {
				return err
			}
		}

		_, err = tx.Exec(`UPDATE messages SET updated_at = ? WHERE id = ?`, now, messageID)
		return err
	})
}

// UpdateContent replaces all parts of a message. Delete-then-insert runs
// in one transaction; readers never observe the intermediate empty state.
func (s *Store) UpdateContent(messageID string, parts []Part) error {
	return s.withCheckpoint(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM message_parts WHERE message_id = ?`, messageID); err != nil {
			return err
		}

		now := nowMilli()
		for i, part := range parts {
			if err := insertPart(tx, messageID, part, i, now); err != nil {
				return err
			}
		}

		_, err := tx.Exec(`UPDATE messages SET updated_at = ? WHERE id = ?`, now, messageID)
		return err
	})
}

// DeleteContent removes all parts of a message.
func (s *Store) DeleteContent(messageID string) error {
	return s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM message_parts WHERE message_id = ?`, messageID)
		return err
	})
}

func insertPart(tx *sql.Tx, messageID string, part Part, order int, now int64) error {
	content, err := json.Marshal(part)
	if err != nil {
		return fmt.Errorf("marshal part: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO message_parts (id, message_id, part_type, content, "order", created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, newID(), messageID, string(part.Type), string(content), order, now)
	return err
}

// AppendSummary concatenates text onto the message summary, treating a
// NULL summary as empty.
func (s *Store) AppendSummary(id, summary string) error {
	return s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE messages SET summary = COALESCE(summary, '') || ?, updated_at = ? WHERE id = ?`,
			summary, nowMilli(), id)
		return err
	})
}

// UpdateSummary replaces the message summary.
func (s *Store) UpdateSummary(id, summary string) error {
	return s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE messages SET summary = ?, updated_at = ? WHERE id = ?`,
			summary, nowMilli(), id)
		return err
	})
}

// UpdateShowSummary toggles summary visibility.
func (s *Store) UpdateShowSummary(id string, show bool) error {
	return s.withCheckpoint(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE messages SET show_summary = ?, updated_at = ? WHERE id = ?`,
			boolToInt(show), nowMilli(), id)
		return err
	})
}

// SearchByContent finds messages whose content parts contain keyword,
// case-insensitively. roomID scopes the search when non-empty. Each
// matching message appears once even if several parts match.
func (s *Store) SearchByContent(keyword, roomID string) ([]*Message, error) {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, ErrClosed
	}

	query := `
		SELECT DISTINCT m.id
		FROM message_parts p
		INNER JOIN messages m ON m.id = p.message_id
		WHERE lower(p.content) LIKE '%' || lower(?) || '%'`
	args := []any{keyword}
	if roomID != "" {
		query += ` AND m.room_id = ?`
		args = append(args, roomID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.mu.RUnlock()
		return nil, mapError(err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	s.mu.RUnlock()

	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Message{}, nil
	}

	return s.messagesByIDs(ids)
}

// NotEmbeddedMessages is the work queue for the embedding pipeline.
func (s *Store) NotEmbeddedMessages() ([]*Message, error) {
	return s.queryMessages(`WHERE m.embedding IS NULL`)
}

// UpdateEmbedding stores the computed vector and reports affected rows.
func (s *Store) UpdateEmbedding(id string, embedding []float32) (int64, error) {
	if len(embedding) != EmbeddingDim {
		return 0, ErrDimension
	}

	encoded, err := json.Marshal(embedding)
	if err != nil {
		return 0, fmt.Errorf("marshal embedding: %w", err)
	}

	var affected int64
	err = s.withCheckpoint(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE messages SET embedding = ?, updated_at = ? WHERE id = ?`,
			string(encoded), nowMilli(), id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// VectorSimilaritySearch ranks embedded messages by cosine similarity to
// the query vector (descending) and assembles only the top limit hits.
// Returns an empty slice when nothing has an embedding yet.
func (s *Store) VectorSimilaritySearch(embedding []float32, limit int) ([]*ScoredMessage, error) {
	if len(embedding) != EmbeddingDim {
		return nil, ErrDimension
	}
	if limit <= 0 {
		limit = 10
	}

	query, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("marshal query vector: %w", err)
	}

	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT id, vec_distance_cosine(embedding, ?) AS distance
		FROM messages
		WHERE embedding IS NOT NULL
		ORDER BY distance ASC, created_at ASC
		LIMIT ?
	`, string(query), limit)
	if err != nil {
		s.mu.RUnlock()
		return nil, mapError(err)
	}

	var ids []string
	similarity := make(map[string]float64)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		ids = append(ids, id)
		similarity[id] = 1 - distance
	}
	rows.Close()
	s.mu.RUnlock()

	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*ScoredMessage{}, nil
	}

	messages, err := s.messagesByIDs(ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}

	// Preserve the ranking order of the top-N query.
	results := make([]*ScoredMessage, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			results = append(results, &ScoredMessage{Message: *m, Similarity: similarity[id]})
		}
	}
	return results, nil
}

func (s *Store) messagesByIDs(ids []string) ([]*Message, error) {
	placeholders := strings.Repeat("?,", len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryMessages(
		`WHERE m.id IN (`+placeholders[:len(placeholders)-1]+`)`, args...)
}

// queryMessages joins messages with their parts and combines the
// one-to-many rows into assembled Message values.
func (s *Store) queryMessages(where string, args ...any) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT m.id, m.room_id, m.parent_id, m.role, m.provider, m.model,
			m.summary, m.show_summary, m.memory, m.embedding, m.created_at, m.updated_at,
			p.content
		FROM messages m
		LEFT JOIN message_parts p ON p.message_id = m.id
		`+where+`
		ORDER BY m.created_at ASC, m.id ASC, p."order" ASC
	`, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ordered []*Message
	byID := make(map[string]*Message)

	for rows.Next() {
		var (
			m           Message
			parentID    sql.NullString
			summary     sql.NullString
			showSummary int
			memoryJSON  string
			embedding   sql.NullString
			partJSON    sql.NullString
		)
		if err := rows.Scan(
			&m.ID, &m.RoomID, &parentID, &m.Role, &m.Provider, &m.Model,
			&summary, &showSummary, &memoryJSON, &embedding, &m.CreatedAt, &m.UpdatedAt,
			&partJSON,
		); err != nil {
			return nil, err
		}

		msg, seen := byID[m.ID]
		if !seen {
			if parentID.Valid {
				m.ParentID = &parentID.String
			}
			if summary.Valid {
				m.Summary = &summary.String
			}
			m.ShowSummary = showSummary != 0
			m.Content = []Part{}
			if err := json.Unmarshal([]byte(memoryJSON), &m.Memory); err != nil {
				m.Memory = []string{}
			}
			if embedding.Valid {
				if err := json.Unmarshal([]byte(embedding.String), &m.Embedding); err != nil {
					return nil, fmt.Errorf("decode embedding for %s: %w", m.ID, err)
				}
			}
			msg = &m
			byID[m.ID] = msg
			ordered = append(ordered, msg)
		}

		if partJSON.Valid {
			var part Part
			if err := json.Unmarshal([]byte(partJSON.String), &part); err != nil {
				return nil, fmt.Errorf("decode part for %s: %w", msg.ID, err)
			}
			msg.Content = append(msg.Content, part)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	if ordered == nil {
		return []*Message{}, nil
	}
	return ordered, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
