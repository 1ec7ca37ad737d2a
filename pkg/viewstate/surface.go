// Package viewstate reconciles the conversation tree with an external
// graph-rendering surface: node/edge projection, pending focus and
// viewport actions, and debounced persistence of the room's view state.
package viewstate

// Viewport is a camera transform on the rendering surface.
type Viewport struct {
	X    float64
	Y    float64
	Zoom float64
}

// Equal compares transforms field by field. Used to skip redundant
// animated camera moves.
func (v Viewport) Equal(o Viewport) bool {
	return v.X == o.X && v.Y == o.Y && v.Zoom == o.Zoom
}

// Node is a rendered graph node. Positions are produced by the layout
// collaborator and treated as opaque.
type Node struct {
	ID         string
	Type       string
	X, Y       float64
	Hidden     bool
	Inactive   bool
	Generating bool
}

// Edge connects a parent node to a child node. Active marks edges on the
// selected branch.
type Edge struct {
	ID     string
	Source string
	Target string
	Active bool
}

// Layout positions nodes given the edge set. Pure function; the output
// order and positions are opaque to this package.
type Layout func(nodes []Node, edges []Edge) []Node

// Surface is the external rendering surface the reconciler drives.
// Implementations must not call back into the Reconciler from inside a
// Surface method.
type Surface interface {
	FindNode(id string) (Node, bool)
	Viewport() Viewport
	SetViewport(v Viewport, animate bool)
	CenterOnNode(id string, animate bool)
	SelectedNodes() []string
	AddSelectedNodes(ids []string)
	RemoveSelectedNodes(ids []string)
}
