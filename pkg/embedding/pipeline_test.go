package embedding

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowchat/flowchat/internal/store"
)

type fakeEmbedder struct {
	batches [][]string
	fail    error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.batches = append(f.batches, texts)
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, store.EmbeddingDim)
		v[0] = float32(i + 1)
		vectors[i] = v
	}
	return vectors, nil
}

func newPipelineStore(t *testing.T) (*store.Store, *store.Room) {
	t.Helper()
	s, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	room, err := s.CreateRoom("Room", nil, "test-model")
	require.NoError(t, err)
	return s, room
}

func addMessage(t *testing.T, s *store.Store, roomID, text string) *store.Message {
	t.Helper()
	msg, err := s.CreateMessage(store.CreateMessage{RoomID: roomID, Role: store.RoleUser})
	require.NoError(t, err)
	if text != "" {
		require.NoError(t, s.AppendContent(msg.ID, store.TextPart(text)))
	}
	return msg
}

func TestPipelineDrainsBacklog(t *testing.T) {
	s, room := newPipelineStore(t)
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		addMessage(t, s, room.ID, text)
	}

	embedder := &fakeEmbedder{}
	pipeline := NewPipeline(s, embedder, 2, zerolog.Nop())

	progress := make(chan float64, 16)
	require.NoError(t, pipeline.Run(context.Background(), progress))
	close(progress)

	// Batch size 2 over 5 messages gives batches of 2, 2, 1.
	require.Len(t, embedder.batches, 3)
	assert.Len(t, embedder.batches[0], 2)
	assert.Len(t, embedder.batches[2], 1)

	pending, err := s.NotEmbeddedMessages()
	require.NoError(t, err)
	assert.Empty(t, pending)

	var last float64 = -1
	for p := range progress {
		assert.GreaterOrEqual(t, p, last, "progress must be monotonic")
		last = p
	}
	assert.Equal(t, 1.0, last)
}

func TestPipelineEmptyBacklog(t *testing.T) {
	s, _ := newPipelineStore(t)
	pipeline := NewPipeline(s, &fakeEmbedder{}, 0, zerolog.Nop())

	progress := make(chan float64, 4)
	require.NoError(t, pipeline.Run(context.Background(), progress))
	close(progress)

	var last float64
	for p := range progress {
		last = p
	}
	assert.Equal(t, 1.0, last)
}

func TestPipelineSkipsEmptyMessages(t *testing.T) {
	s, room := newPipelineStore(t)
	addMessage(t, s, room.ID, "has text")
	empty := addMessage(t, s, room.ID, "")

	embedder := &fakeEmbedder{}
	pipeline := NewPipeline(s, embedder, 10, zerolog.Nop())
	require.NoError(t, pipeline.Run(context.Background(), nil))

	require.Len(t, embedder.batches, 1)
	assert.Equal(t, []string{"has text"}, embedder.batches[0])

	// The empty message stays in the backlog; it has nothing to embed.
	pending, err := s.NotEmbeddedMessages()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, empty.ID, pending[0].ID)
}

func TestPipelinePropagatesEmbedderError(t *testing.T) {
	s, room := newPipelineStore(t)
	addMessage(t, s, room.ID, "text")

	embedder := &fakeEmbedder{fail: assert.AnError}
	pipeline := NewPipeline(s, embedder, 10, zerolog.Nop())

	err := pipeline.Run(context.Background(), nil)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPipelineRespectsCancellation(t *testing.T) {
	s, room := newPipelineStore(t)
	addMessage(t, s, room.ID, "text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pipeline := NewPipeline(s, &fakeEmbedder{}, 10, zerolog.Nop())
	err := pipeline.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
