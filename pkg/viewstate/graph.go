package viewstate

import "github.com/flowchat/flowchat/internal/store"

// RootNodeID is the synthetic hidden root inserted when a room has
// messages with a nil parent, so the layout always receives one
// connected structure.
const RootNodeID = "root"

// Graph is the node/edge projection of a room's message tree.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// BuildGraph projects messages into nodes and edges. activeIDs marks the
// selected branch: its nodes stay active, everything else is flagged
// inactive while a selection exists. generating marks nodes being
// streamed into.
func BuildGraph(messages []*store.Message, activeIDs map[string]struct{}, hasSelection bool, generating func(id string) bool) Graph {
	var g Graph

	hasRoot := false
	for _, msg := range messages {
		if msg.ParentID == nil {
			hasRoot = true
			break
		}
	}
	if hasRoot {
		g.Nodes = append(g.Nodes, Node{ID: RootNodeID, Type: "system", Hidden: true})
	}

	known := make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		known[msg.ID] = struct{}{}
	}

	for _, msg := range messages {
		_, active := activeIDs[msg.ID]
		g.Nodes = append(g.Nodes, Node{
			ID:         msg.ID,
			Type:       string(msg.Role),
			Inactive:   hasSelection && !active,
			Generating: generating != nil && generating(msg.ID),
		})

		source := RootNodeID
		if msg.ParentID != nil {
			source = *msg.ParentID
		}
		if source != RootNodeID {
			if _, ok := known[source]; !ok {
				// Dangling parent reference; skip the edge rather than
				// hand the layout a broken graph.
				continue
			}
		}
		g.Edges = append(g.Edges, Edge{
			ID:     source + "-" + msg.ID,
			Source: source,
			Target: msg.ID,
			Active: active,
		})
	}

	return g
}
