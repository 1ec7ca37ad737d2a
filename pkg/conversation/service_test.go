package conversation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowchat/flowchat/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Room) {
	t.Helper()
	s, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	room, err := s.CreateRoom("Test", nil, "test-model")
	require.NoError(t, err)

	svc := New(s, zerolog.Nop())
	require.NoError(t, svc.Retrieve(room.ID))
	return svc, room
}

func newText(t *testing.T, svc *Service, roomID string, parentID *string, text string) *store.Message {
	t.Helper()
	msg, err := svc.NewMessage(
		[]store.Part{store.TextPart(text)},
		store.RoleUser, parentID, "test", "test-model", roomID, nil)
	require.NoError(t, err)
	return msg
}

// Builds root -> a -> b with a sibling c under root.
func buildTree(t *testing.T, svc *Service, roomID string) (root, a, b, c *store.Message) {
	t.Helper()
	root = newText(t, svc, roomID, nil, "root")
	a = newText(t, svc, roomID, &root.ID, "a")
	b = newText(t, svc, roomID, &a.ID, "b")
	c = newText(t, svc, roomID, &root.ID, "c")
	return
}

func TestRetrieveRebuildsIndex(t *testing.T) {
	svc, room := newTestService(t)
	root, a, _, _ := buildTree(t, svc, room.ID)

	// A fresh retrieve must reproduce the same structure from storage.
	require.NoError(t, svc.Retrieve(room.ID))
	assert.Equal(t, room.ID, svc.RoomID())
	assert.Len(t, svc.Messages(), 4)

	got, ok := svc.MessageByID(a.ID)
	require.True(t, ok)
	assert.Equal(t, "a", got.PlainText())
	assert.Equal(t, root.ID, *got.ParentID)

	children := svc.ChildrenByID(root.ID)
	assert.Len(t, children, 2)
}

func TestReset(t *testing.T) {
	svc, room := newTestService(t)
	buildTree(t, svc, room.ID)

	svc.Reset()
	assert.Empty(t, svc.RoomID())
	assert.Empty(t, svc.Messages())
}

func TestNewMessageIgnoresForeignRoom(t *testing.T) {
	svc, room := newTestService(t)

	other, err := svc.store.CreateRoom("Other", nil, "test-model")
	require.NoError(t, err)

	// Writing into a room that is not loaded persists but does not
	// pollute the active cache.
	newText(t, svc, other.ID, nil, "elsewhere")
	assert.Empty(t, svc.Messages())

	require.NoError(t, svc.Retrieve(room.ID))
	assert.Empty(t, svc.Messages())
}

func TestBranchByID(t *testing.T) {
	svc, room := newTestService(t)
	root, a, b, c := buildTree(t, svc, room.ID)

	branch := svc.BranchByID(b.ID)
	require.Len(t, branch.Messages, 3)
	assert.Equal(t, root.ID, branch.Messages[0].ID)
	assert.Equal(t, a.ID, branch.Messages[1].ID)
	assert.Equal(t, b.ID, branch.Messages[2].ID)

	_, onBranch := branch.IDs[a.ID]
	assert.True(t, onBranch)
	_, onBranch = branch.IDs[c.ID]
	assert.False(t, onBranch)

	// Unknown leaf gives an empty branch.
	assert.Empty(t, svc.BranchByID("missing").Messages)
}

func TestSubtreeByID(t *testing.T) {
	svc, room := newTestService(t)
	root, a, b, c := buildTree(t, svc, room.ID)

	subtree := svc.SubtreeByID(root.ID)
	assert.ElementsMatch(t, []string{root.ID, a.ID, b.ID, c.ID}, subtree)

	subtree = svc.SubtreeByID(a.ID)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, subtree)

	assert.Nil(t, svc.SubtreeByID("missing"))
}

func TestDeleteSubtree(t *testing.T) {
	svc, room := newTestService(t)
	root, a, b, c := buildTree(t, svc, room.ID)
	svc.StartGenerating(b.ID)

	require.NoError(t, svc.DeleteSubtree(a.ID))

	// a and b gone from cache, c untouched.
	_, ok := svc.MessageByID(a.ID)
	assert.False(t, ok)
	_, ok = svc.MessageByID(b.ID)
	assert.False(t, ok)
	_, ok = svc.MessageByID(c.ID)
	assert.True(t, ok)
	assert.Empty(t, svc.ChildrenByID(a.ID))
	assert.Len(t, svc.ChildrenByID(root.ID), 1)
	assert.False(t, svc.IsGenerating(b.ID))

	// The deletion survives a reload.
	require.NoError(t, svc.Retrieve(room.ID))
	assert.Len(t, svc.Messages(), 2)

	// Deleting an unknown id is a no-op.
	require.NoError(t, svc.DeleteSubtree("missing"))
}

func TestMergeBranchCopies(t *testing.T) {
	svc, room := newTestService(t)
	root := newText(t, svc, room.ID, nil, "root")
	left := newText(t, svc, room.ID, &root.ID, "left")
	right := newText(t, svc, room.ID, &root.ID, "right")
	rightTail := newText(t, svc, room.ID, &right.ID, "right tail")

	before := len(svc.Messages())

	leafID, err := svc.MergeBranch(left.ID, rightTail.ID)
	require.NoError(t, err)
	require.NotEqual(t, left.ID, leafID)

	// Two copies appended: "right" and "right tail". Originals survive.
	assert.Len(t, svc.Messages(), before+2)
	_, ok := svc.MessageByID(right.ID)
	assert.True(t, ok)

	merged := svc.BranchByID(leafID)
	require.Len(t, merged.Messages, 4)
	assert.Equal(t, "root", merged.Messages[0].PlainText())
	assert.Equal(t, "left", merged.Messages[1].PlainText())
	assert.Equal(t, "right", merged.Messages[2].PlainText())
	assert.Equal(t, "right tail", merged.Messages[3].PlainText())

	// The copies are new rows, not reparented originals.
	assert.NotEqual(t, right.ID, merged.Messages[2].ID)
	original, _ := svc.MessageByID(right.ID)
	assert.Equal(t, root.ID, *original.ParentID)
}

func TestMergeBranchAncestorNoOp(t *testing.T) {
	svc, room := newTestService(t)
	root := newText(t, svc, room.ID, nil, "root")
	leaf := newText(t, svc, room.ID, &root.ID, "leaf")

	before := len(svc.Messages())

	// Merging an ancestor (or the target itself) changes nothing.
	leafID, err := svc.MergeBranch(leaf.ID, root.ID)
	require.NoError(t, err)
	assert.Equal(t, leaf.ID, leafID)

	leafID, err = svc.MergeBranch(leaf.ID, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, leaf.ID, leafID)

	assert.Len(t, svc.Messages(), before)
}

func TestMergeBranchUnknownTarget(t *testing.T) {
	svc, room := newTestService(t)
	root := newText(t, svc, room.ID, nil, "root")

	_, err := svc.MergeBranch("missing", root.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGeneratingFlags(t *testing.T) {
	svc, room := newTestService(t)
	msg := newText(t, svc, room.ID, nil, "streaming")

	assert.False(t, svc.IsGenerating(msg.ID))
	svc.StartGenerating(msg.ID)
	svc.StartGenerating(msg.ID)
	assert.True(t, svc.IsGenerating(msg.ID))
	svc.StopGenerating(msg.ID)
	assert.False(t, svc.IsGenerating(msg.ID))
	svc.StopGenerating(msg.ID)
}
