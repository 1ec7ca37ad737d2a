package viewstate

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/flowchat/flowchat/internal/store"
	"github.com/flowchat/flowchat/pkg/conversation"
)

// Tree is the conversation tree the reconciler projects onto the
// surface. Satisfied by *conversation.Service.
type Tree interface {
	Retrieve(roomID string) error
	Reset()
	Messages() []*store.Message
	MessageByID(id string) (*store.Message, bool)
	BranchByID(id string) conversation.Branch
	IsGenerating(id string) bool
}

// RoomStates is the persisted view-state slice of the room repository.
// Satisfied by *store.Store.
type RoomStates interface {
	RoomViewState(id string) (store.ViewState, error)
	UpdateRoomViewState(id string, patch store.ViewStatePatch) error
}

// focusAction is the single pending focus request. Last write wins;
// requests are never queued.
type focusAction struct {
	id     *string
	center bool
}

// viewportAction is a pending viewport restore. The captured room id is
// compared against the active room when the action is finally attempted;
// a mismatch discards it.
type viewportAction struct {
	roomID      string
	snapshot    *store.ViewportState
	preferFocus bool
	scheduled   bool
}

// Config wires a Reconciler together.
type Config struct {
	Tree    Tree
	Rooms   RoomStates
	Surface Surface
	Layout  Layout

	// Frame defers a function to the next rendering-frame boundary so
	// layout has settled before the camera moves. Nil runs immediately.
	Frame func(func())

	// DebounceWindow coalesces view-state writes. Defaults to 200ms.
	DebounceWindow time.Duration

	// StorageReady blocks until the storage engine is initialized.
	// Persistence waits on it before writing. Nil means always ready.
	StorageReady func()

	Log zerolog.Logger
}

// Reconciler keeps renderer readiness, the pending focus target and the
// pending viewport snapshot converging on a stable, persisted view
// state. It is a cooperative state machine: every relevant event
// (HandleInit, SetRoom, NodesChanged) re-evaluates the same two attempt
// functions rather than scattering readiness checks across callbacks.
//
// Not reentrant: Surface implementations must not call back into the
// Reconciler from inside a Surface method.
type Reconciler struct {
	tree    Tree
	rooms   RoomStates
	surface Surface
	layout  Layout
	frame   func(func())
	ready   func()
	log     zerolog.Logger

	flowReady       bool
	roomID          string
	selectedID      *string
	pendingFocus    *focusAction
	pendingViewport *viewportAction
	graph           Graph

	persist *debouncer
}

// New creates a Reconciler. Surface, Tree and Rooms are required.
func New(cfg Config) *Reconciler {
	frame := cfg.Frame
	if frame == nil {
		frame = func(fn func()) { fn() }
	}
	ready := cfg.StorageReady
	if ready == nil {
		ready = func() {}
	}
	window := cfg.DebounceWindow
	if window == 0 {
		window = 200 * time.Millisecond
	}
	layout := cfg.Layout
	if layout == nil {
		layout = func(nodes []Node, _ []Edge) []Node { return nodes }
	}

	return &Reconciler{
		tree:    cfg.Tree,
		rooms:   cfg.Rooms,
		surface: cfg.Surface,
		layout:  layout,
		frame:   frame,
		ready:   ready,
		log:     cfg.Log,
		persist: newDebouncer(window),
	}
}

// Graph returns the last projected node/edge set.
func (r *Reconciler) Graph() Graph {
	return r.graph
}

// SelectedMessageID returns the currently selected message id, if any.
func (r *Reconciler) SelectedMessageID() *string {
	return r.selectedID
}

// HandleInit is the renderer's ready notification; fires once per mount
// of the graph surface.
func (r *Reconciler) HandleInit() {
	r.flowReady = true

	r.attemptPendingFocus()
	r.runViewportAttempt()

	if r.roomID != "" && r.pendingViewport == nil {
		vs, err := r.rooms.RoomViewState(r.roomID)
		if err != nil {
			r.log.Error().Err(err).Str("room", r.roomID).Msg("load view state on init")
			return
		}
		r.queueViewportRestore(&viewportAction{
			roomID:      r.roomID,
			snapshot:    vs.Viewport,
			preferFocus: true,
		})
	}
}

// SetRoom switches the active room. The outgoing room's pending actions
// and tree cache are discarded; the incoming room's messages are loaded
// and its persisted view state restored. An empty id means "no room".
func (r *Reconciler) SetRoom(roomID string) error {
	previous := r.roomID
	if roomID == previous {
		return nil
	}

	r.ready()
	r.roomID = roomID

	if roomID == "" {
		if previous != "" {
			r.tree.Reset()
			r.selectedID = nil
			r.FocusNode(nil, false)
			r.pendingViewport = nil
			r.refreshGraph()
		}
		return nil
	}

	if err := r.tree.Retrieve(roomID); err != nil {
		return err
	}
	r.refreshGraph()
	return r.restoreRoomViewState(roomID)
}

// restoreRoomViewState replays a room's persisted focus and viewport.
// A dangling focus id is cleared in storage best-effort; restore
// proceeds regardless.
func (r *Reconciler) restoreRoomViewState(roomID string) error {
	vs, err := r.rooms.RoomViewState(roomID)
	if err != nil {
		return err
	}

	if vs.FocusNodeID != nil {
		if _, ok := r.tree.MessageByID(*vs.FocusNodeID); ok {
			r.selectedID = vs.FocusNodeID
			r.refreshGraph()
			r.FocusNode(vs.FocusNodeID, vs.Viewport == nil)
		} else {
			r.selectedID = nil
			r.FocusNode(nil, false)
			if err := r.rooms.UpdateRoomViewState(roomID, store.ViewStatePatch{SetFocus: true}); err != nil {
				r.log.Error().Err(err).Str("room", roomID).Msg("reset stale focus node")
			}
		}
	} else {
		r.selectedID = nil
		r.FocusNode(nil, false)
	}

	r.queueViewportRestore(&viewportAction{
		roomID:      roomID,
		snapshot:    vs.Viewport,
		preferFocus: true,
	})
	return nil
}

// FocusNode records a focus request as the single pending focus action
// and attempts it immediately. A nil id clears the selection.
func (r *Reconciler) FocusNode(id *string, center bool) {
	r.pendingFocus = &focusAction{id: id, center: center}
	r.attemptPendingFocus()
}

// SelectMessage is a local user-driven selection change. It focuses the
// node and schedules a debounced view-state write.
func (r *Reconciler) SelectMessage(id *string) {
	if equalID(r.selectedID, id) {
		return
	}
	r.selectedID = id
	r.refreshGraph()
	r.FocusNode(id, false)

	if r.roomID == "" {
		return
	}
	r.persistViewState(r.roomID, store.ViewStatePatch{SetFocus: true, FocusNodeID: id})
}

// ViewportChanged is the surface's reactive camera notification. Rapid
// moves (drag panning) coalesce into one debounced write.
func (r *Reconciler) ViewportChanged(v Viewport) {
	if !r.flowReady || r.roomID == "" {
		return
	}
	snapshot := store.ViewportState{X: v.X, Y: v.Y, Zoom: v.Zoom}
	r.persistViewState(r.roomID, store.ViewStatePatch{SetViewport: true, Viewport: &snapshot})
}

// NodesChanged re-projects the tree and re-evaluates both pending
// actions. Call it after any tree or content mutation that changes the
// rendered node set.
func (r *Reconciler) NodesChanged() {
	r.refreshGraph()
	r.attemptPendingFocus()
	r.runViewportAttempt()
}

// Close cancels any scheduled persistence.
func (r *Reconciler) Close() {
	r.persist.Stop()
}

func (r *Reconciler) persistViewState(roomID string, patch store.ViewStatePatch) {
	r.persist.Trigger(func() {
		r.ready()
		if err := r.rooms.UpdateRoomViewState(roomID, patch); err != nil {
			r.log.Error().Err(err).Str("room", roomID).Msg("persist view state")
		}
	})
}

func (r *Reconciler) refreshGraph() {
	var active map[string]struct{}
	hasSelection := r.selectedID != nil
	if hasSelection {
		active = r.tree.BranchByID(*r.selectedID).IDs
	} else {
		active = map[string]struct{}{}
	}

	g := BuildGraph(r.tree.Messages(), active, hasSelection, r.tree.IsGenerating)
	g.Nodes = r.layout(g.Nodes, g.Edges)
	r.graph = g
}

func (r *Reconciler) attemptPendingFocus() {
	action := r.pendingFocus
	if action == nil || !r.flowReady {
		return
	}

	if action.id == nil {
		r.clearSelection()
		r.pendingFocus = nil
		return
	}

	if r.applySelection(*action.id, action.center) {
		r.pendingFocus = nil
	}
	// Otherwise the node does not exist yet; the action stays pending
	// and is retried on the next ready/node-set event.
}

func (r *Reconciler) clearSelection() {
	selected := r.surface.SelectedNodes()
	if len(selected) == 0 {
		return
	}
	r.surface.RemoveSelectedNodes(selected)
}

func (r *Reconciler) applySelection(nodeID string, center bool) bool {
	node, ok := r.surface.FindNode(nodeID)
	if !ok {
		return false
	}

	selected := r.surface.SelectedNodes()
	alreadySelected := len(selected) == 1 && selected[0] == nodeID
	if !alreadySelected {
		if len(selected) > 0 {
			r.surface.RemoveSelectedNodes(selected)
		}
		r.surface.AddSelectedNodes([]string{node.ID})
	}

	if center {
		r.surface.CenterOnNode(node.ID, true)
	}
	return true
}

// runViewportAttempt evaluates the pending viewport action and, when it
// can fire, defers the camera move to the next frame boundary.
func (r *Reconciler) runViewportAttempt() {
	action := r.pendingViewport
	if action == nil || !r.flowReady {
		return
	}

	if r.roomID == "" || action.roomID != r.roomID {
		// Stale: the room changed after the restore was queued.
		r.pendingViewport = nil
		r.log.Debug().Str("room", action.roomID).Msg("discarded stale viewport restore")
		return
	}

	if action.snapshot == nil && len(r.graph.Nodes) == 0 {
		// Nothing to center on yet; retry when nodes appear.
		return
	}
	if action.scheduled {
		return
	}

	action.scheduled = true
	r.frame(func() { r.completeViewport(action) })
}

// completeViewport applies a viewport action at the frame boundary.
// The room is re-checked because a switch may have happened between
// scheduling and the frame firing.
func (r *Reconciler) completeViewport(action *viewportAction) {
	if r.pendingViewport != action {
		return
	}
	r.pendingViewport = nil

	if action.roomID != r.roomID {
		return
	}

	if action.snapshot != nil {
		target := Viewport{X: action.snapshot.X, Y: action.snapshot.Y, Zoom: action.snapshot.Zoom}
		if !target.Equal(r.surface.Viewport()) {
			r.surface.SetViewport(target, true)
		}
		return
	}

	// No saved snapshot: center on the focused node when it exists,
	// else fall back to the first rendered node.
	var nodeID string
	if action.preferFocus && r.selectedID != nil {
		if _, ok := r.surface.FindNode(*r.selectedID); ok {
			nodeID = *r.selectedID
		}
	}
	if nodeID == "" && len(r.graph.Nodes) > 0 {
		nodeID = r.graph.Nodes[0].ID
	}
	if nodeID != "" {
		r.surface.CenterOnNode(nodeID, true)
	}
}

// queueViewportRestore replaces any pending viewport action and attempts
// it immediately.
func (r *Reconciler) queueViewportRestore(action *viewportAction) {
	r.pendingViewport = action
	r.runViewportAttempt()
}

func equalID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
