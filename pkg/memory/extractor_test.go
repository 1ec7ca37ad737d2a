package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowchat/flowchat/internal/store"
)

// fakeOpenRouter serves a canned chat-completions response whose content
// is the given extraction result.
func fakeOpenRouter(t *testing.T, result ExtractionResult) *httptest.Server {
	t.Helper()
	content, err := json.Marshal(result)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": string(content)}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func newExtractorFixture(t *testing.T, result ExtractionResult) (*Extractor, *store.Store, *store.Room) {
	t.Helper()
	s, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	room, err := s.CreateRoom("Room", nil, "test-model")
	require.NoError(t, err)

	e := NewExtractor(ExtractorConfig{
		Store:  s,
		APIKey: "test-key",
		Model:  "test-model",
		Log:    zerolog.Nop(),
	})
	e.llm.url = fakeOpenRouter(t, result).URL
	return e, s, room
}

func branchOf(texts ...string) []*store.Message {
	var branch []*store.Message
	for _, text := range texts {
		branch = append(branch, &store.Message{
			Role:    store.RoleUser,
			Content: []store.Part{store.TextPart(text)},
		})
	}
	return branch
}

func TestProcessBranchStoresMemories(t *testing.T) {
	e, s, room := newExtractorFixture(t, ExtractionResult{
		Memories: []ExtractedMemory{
			{Content: "the project ships in March", MemoryType: "fact", Confidence: 0.9},
			{Content: "user prefers concise answers", MemoryType: "preference", Confidence: 0.8},
			{Content: "maybe something", MemoryType: "fact", Confidence: 0.1},
		},
	})

	stored, err := e.ProcessBranch(context.Background(), room.ID, branchOf("we ship in March", "keep it short please"))
	require.NoError(t, err)
	require.Len(t, stored, 2, "low-confidence extraction is dropped")

	// Facts land in the room, preferences globally.
	roomMemories, err := s.GetMemoriesByRoomID(&room.ID)
	require.NoError(t, err)
	require.Len(t, roomMemories, 1)
	assert.Equal(t, "the project ships in March", roomMemories[0].Content)
	assert.Equal(t, []string{"fact"}, roomMemories[0].Tags)

	globals, err := s.GetMemoriesByRoomID(nil)
	require.NoError(t, err)
	require.Len(t, globals, 1)
	assert.Equal(t, "user prefers concise answers", globals[0].Content)
}

func TestProcessBranchDedupes(t *testing.T) {
	e, s, room := newExtractorFixture(t, ExtractionResult{
		Memories: []ExtractedMemory{
			{Content: "repeated fact", MemoryType: "fact", Confidence: 0.9},
		},
	})

	branch := branchOf("something")
	_, err := e.ProcessBranch(context.Background(), room.ID, branch)
	require.NoError(t, err)
	_, err = e.ProcessBranch(context.Background(), room.ID, branch)
	require.NoError(t, err)

	roomMemories, err := s.GetMemoriesByRoomID(&room.ID)
	require.NoError(t, err)
	assert.Len(t, roomMemories, 1, "re-extraction merges into the existing row")
}

func TestProcessBranchDisabled(t *testing.T) {
	s, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	e := NewExtractor(ExtractorConfig{Store: s, Log: zerolog.Nop()})
	assert.False(t, e.IsEnabled())

	stored, err := e.ProcessBranch(context.Background(), "room", branchOf("text"))
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestFormatContextForLLM(t *testing.T) {
	assert.Empty(t, FormatContextForLLM(nil))

	out := FormatContextForLLM([]*store.Memory{
		{Content: "fact one"},
		{Content: "fact two"},
	})
	assert.Contains(t, out, "- fact one\n")
	assert.Contains(t, out, "- fact two\n")
}
