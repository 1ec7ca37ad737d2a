// Package store provides SQLite-backed persistence for flowchat.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface,
// with sqlite-vec loaded for vector distance functions.
package store

import "encoding/json"

// EmbeddingDim is the fixed dimensionality of message embeddings.
const EmbeddingDim = 1024

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType discriminates the content part union.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolResult PartType = "tool-result"
)

// Part is one ordered piece of a message's content.
// Text is set for text parts; Image holds a data URL or path for image
// parts; Payload carries the raw JSON body of tool-result parts.
type Part struct {
	Type    PartType        `json:"type"`
	Text    string          `json:"text,omitempty"`
	Image   string          `json:"image,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// Message is a node in a room's conversation tree.
// ParentID is nil for roots. Content is assembled from message_parts rows
// ordered by their dense "order" column. Embedding is nil until the
// embedding pipeline has processed the message.
type Message struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	ParentID    *string   `json:"parentId"`
	Role        Role      `json:"role"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Content     []Part    `json:"content"`
	Summary     *string   `json:"summary"`
	ShowSummary bool      `json:"showSummary"`
	Memory      []string  `json:"memory"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CreatedAt   int64     `json:"createdAt"`
	UpdatedAt   int64     `json:"updatedAt"`
}

// PlainText concatenates the textual representation of all content parts.
func (m *Message) PlainText() string {
	var out string
	for _, p := range m.Content {
		switch p.Type {
		case PartText:
			out += p.Text
		case PartToolResult:
			out += string(p.Payload)
		}
	}
	return out
}

// CreateMessage holds the caller-supplied fields for a new message row.
// ID, timestamps and embedding are always assigned by the store.
type CreateMessage struct {
	RoomID   string
	ParentID *string
	Role     Role
	Provider string
	Model    string
	Memory   []string
}

// ScoredMessage is a vector search hit.
type ScoredMessage struct {
	Message
	Similarity float64 `json:"similarity"`
}

// MemoryScope qualifies where a memory fact applies.
type MemoryScope string

const (
	ScopeGlobal MemoryScope = "global"
	ScopeRoom   MemoryScope = "room"
)

// Memory is a deduplicated fact attached globally or to one room.
// Invariant: ScopeGlobal implies RoomID == nil. Rows with ScopeRoom and a
// NULL room_id are tolerated as orphans but never surfaced as global.
type Memory struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Scope     MemoryScope `json:"scope"`
	RoomID    *string     `json:"roomId"`
	Tags      []string    `json:"tags"`
	CreatedAt int64       `json:"createdAt"`
	UpdatedAt int64       `json:"updatedAt"`
}

// UpsertMemory are the caller-supplied fields for a memory upsert.
// The dedup key is (Content, Scope, RoomID).
type UpsertMemory struct {
	Content string
	Scope   MemoryScope
	RoomID  *string
	Tags    []string
}

// ViewportState is the persisted camera transform of a room.
type ViewportState struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// ViewState is the persisted view-state snapshot of a room.
// Both fields nil means "no saved view state, use default".
type ViewState struct {
	FocusNodeID *string        `json:"focusNodeId"`
	Viewport    *ViewportState `json:"viewport"`
}

// ViewStatePatch updates part of a room's view state. A Set* flag with a
// nil value clears the corresponding field.
type ViewStatePatch struct {
	SetFocus    bool
	FocusNodeID *string
	SetViewport bool
	Viewport    *ViewportState
}

// Room groups a conversation tree with its persisted view state.
type Room struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	TemplateID   *string `json:"templateId"`
	DefaultModel string  `json:"defaultModel"`
	ViewState    ViewState
	CreatedAt    int64 `json:"createdAt"`
	UpdatedAt    int64 `json:"updatedAt"`
}

// Template is a reusable system prompt a room can be created from.
type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Storer defines the interface for data persistence.
// Store is the sole implementation, backed by SQLite.
type Storer interface {
	// Messages
	CreateMessage(msg CreateMessage) (*Message, error)
	GetMessagesByRoomID(roomID string) ([]*Message, error)
	DeleteMessagesByIDs(ids []string) error
	AppendContent(messageID string, part Part) error
	AppendContentBatch(messageID string, parts []Part) error
	UpdateContent(messageID string, parts []Part) error
	DeleteContent(messageID string) error
	AppendSummary(id, summary string) error
	UpdateSummary(id, summary string) error
	UpdateShowSummary(id string, show bool) error
	SearchByContent(keyword, roomID string) ([]*Message, error)
	NotEmbeddedMessages() ([]*Message, error)
	UpdateEmbedding(id string, embedding []float32) (int64, error)
	VectorSimilaritySearch(embedding []float32, limit int) ([]*ScoredMessage, error)

	// Memories
	UpsertMemoryItem(in UpsertMemory) (*Memory, error)
	GetMemoriesByRoomID(roomID *string) ([]*Memory, error)
	DeleteMemory(id string) error

	// Rooms
	CreateRoom(name string, templateID *string, defaultModel string) (*Room, error)
	GetRoom(id string) (*Room, error)
	ListRooms() ([]*Room, error)
	UpdateRoom(id string, name, defaultModel string) error
	DeleteRoom(id string) error
	RoomViewState(id string) (ViewState, error)
	UpdateRoomViewState(id string, patch ViewStatePatch) error

	// Templates
	CreateTemplate(name, content string) (*Template, error)
	GetTemplate(id string) (*Template, error)
	ListTemplates() ([]*Template, error)
	UpdateTemplate(id, name, content string) error
	DeleteTemplate(id string) error

	// Durability and lifecycle
	Checkpoint() error
	Export() ([]byte, error)
	Import(data []byte) error
	Close() error
}
