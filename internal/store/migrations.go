package store

import (
	"database/sql"
	"fmt"
)

// Forward-only migrations, applied in order. A __migrations table records
// which entries already ran, so re-running Migrate is a no-op.
var migrations = []string{
	migrationInitial,
	migrationMemories,
}

const migrationInitial = `
CREATE TABLE IF NOT EXISTS templates (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    template_id TEXT REFERENCES templates(id),
    default_model TEXT NOT NULL DEFAULT '',
    focus_node_id TEXT,
    viewport_x REAL,
    viewport_y REAL,
    viewport_zoom REAL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
    parent_id TEXT,
    role TEXT NOT NULL,
    provider TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    summary TEXT,
    show_summary INTEGER NOT NULL DEFAULT 0,
    memory TEXT NOT NULL DEFAULT '[]',
    embedding TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id);
CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id);
-- Work queue for the embedding pipeline
CREATE INDEX IF NOT EXISTS idx_messages_unembedded ON messages(id) WHERE embedding IS NULL;

CREATE TABLE IF NOT EXISTS message_parts (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    part_type TEXT NOT NULL,
    content TEXT NOT NULL,
    "order" INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_parts_message ON message_parts(message_id, "order");
`

const migrationMemories = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    scope TEXT NOT NULL CHECK (scope IN ('global', 'room')),
    room_id TEXT,
    tags TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_room ON memories(room_id);
-- At most one row per dedup key, even if two upserts race
CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_dedup
    ON memories(content, scope, ifnull(room_id, ''));
`

// Migrate applies all pending migrations in order.
func (s *Store) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return ErrClosed
	}

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS __migrations (
		id INTEGER PRIMARY KEY,
		executed_at INTEGER NOT NULL
	);`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	maxID := -1
	err := s.db.QueryRow(`SELECT COALESCE(MAX(id), -1) FROM __migrations`).Scan(&maxID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read migration record: %w", err)
	}

	for i := maxID + 1; i < len(migrations); i++ {
		s.log.Info().Int("migration", i).Msg("running migration")
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
		if _, err := s.db.Exec(`INSERT INTO __migrations (id, executed_at) VALUES (?, unixepoch('subsec') * 1000)`, i); err != nil {
			return fmt.Errorf("record migration %d: %w", i, err)
		}
	}

	s.log.Debug().Msg("database migrations completed")
	return nil
}
