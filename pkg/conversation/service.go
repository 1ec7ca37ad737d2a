// Package conversation maintains the in-memory tree index over the active
// room's messages: branch and subtree traversal, subtree deletion, branch
// merging, and generation-in-progress tracking.
package conversation

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/flowchat/flowchat/internal/store"
)

// Branch is the root-to-leaf path ending at a message, plus the id set
// for O(1) membership checks.
type Branch struct {
	Messages []*store.Message
	IDs      map[string]struct{}
}

// Service is the conversation tree service for one active room at a time.
// The index never outlives the room's session: Retrieve rebuilds it
// wholesale, Reset clears it.
type Service struct {
	mu    sync.RWMutex
	store store.Storer
	log   zerolog.Logger

	roomID     string
	messages   []*store.Message
	byID       map[string]*store.Message
	children   map[string][]string
	generating map[string]struct{}
}

// New creates a tree service backed by the given store.
func New(s store.Storer, log zerolog.Logger) *Service {
	svc := &Service{store: s, log: log}
	svc.resetLocked()
	return svc
}

// RoomID returns the active room id, or "" when no room is loaded.
func (s *Service) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// Retrieve reloads the cache for roomID from the repository.
func (s *Service) Retrieve(roomID string) error {
	messages, err := s.store.GetMessagesByRoomID(roomID)
	if err != nil {
		return fmt.Errorf("retrieve messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.roomID = roomID
	for _, msg := range messages {
		s.indexLocked(msg)
	}
	return nil
}

// Reset clears the cache and the generating set. Called on room exit.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Service) resetLocked() {
	s.roomID = ""
	s.messages = nil
	s.byID = make(map[string]*store.Message)
	s.children = make(map[string][]string)
	s.generating = make(map[string]struct{})
}

func (s *Service) indexLocked(msg *store.Message) {
	s.messages = append(s.messages, msg)
	s.byID[msg.ID] = msg
	if msg.ParentID != nil {
		s.children[*msg.ParentID] = append(s.children[*msg.ParentID], msg.ID)
	}
}

// NewMessage persists a message, appends its initial content if any, and
// inserts it into the cache.
func (s *Service) NewMessage(content []store.Part, role store.Role, parentID *string, provider, model, roomID string, memoryIDs []string) (*store.Message, error) {
	msg, err := s.store.CreateMessage(store.CreateMessage{
		RoomID:   roomID,
		ParentID: parentID,
		Role:     role,
		Provider: provider,
		Model:    model,
		Memory:   memoryIDs,
	})
	if err != nil {
		return nil, err
	}

	if len(content) > 0 {
		if err := s.store.AppendContentBatch(msg.ID, content); err != nil {
			return nil, err
		}
		msg.Content = append(msg.Content, content...)
	}

	s.mu.Lock()
	if s.roomID == roomID {
		s.indexLocked(msg)
	}
	s.mu.Unlock()

	return msg, nil
}

// Messages returns the cached messages in creation order.
func (s *Service) Messages() []*store.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*store.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageByID looks a message up in the cache.
func (s *Service) MessageByID(id string) (*store.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	return msg, ok
}

// ParentMessage returns the parent of msg, or nil for roots.
func (s *Service) ParentMessage(msg *store.Message) *store.Message {
	if msg == nil || msg.ParentID == nil {
		return nil
	}
	parent, _ := s.MessageByID(*msg.ParentID)
	return parent
}

// ChildrenByID returns the direct children of a message.
func (s *Service) ChildrenByID(id string) []*store.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.children[id]
	out := make([]*store.Message, 0, len(ids))
	for _, childID := range ids {
		if child, ok := s.byID[childID]; ok {
			out = append(out, child)
		}
	}
	return out
}

// BranchByID walks parent pointers from id to the root and returns the
// path in root-to-leaf order. This is the active path sent to the model
// as context.
func (s *Service) BranchByID(id string) Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.branchLocked(id)
}

func (s *Service) branchLocked(id string) Branch {
	branch := Branch{IDs: make(map[string]struct{})}
	for msg := s.byID[id]; msg != nil; {
		branch.Messages = append(branch.Messages, msg)
		branch.IDs[msg.ID] = struct{}{}
		if msg.ParentID == nil {
			break
		}
		msg = s.byID[*msg.ParentID]
	}

	// Walked leaf-to-root; callers want root-to-leaf.
	for i, j := 0, len(branch.Messages)-1; i < j; i, j = i+1, j-1 {
		branch.Messages[i], branch.Messages[j] = branch.Messages[j], branch.Messages[i]
	}
	return branch
}

// SubtreeByID collects id and all transitive children, breadth-first.
// Iterative so deep branches cannot hit recursion limits. Visit order
// carries no meaning, only completeness does.
func (s *Service) SubtreeByID(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subtreeLocked(id)
}

func (s *Service) subtreeLocked(id string) []string {
	if _, ok := s.byID[id]; !ok {
		return nil
	}

	var subtree []string
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		subtree = append(subtree, current)
		queue = append(queue, s.children[current]...)
	}
	return subtree
}

// DeleteSubtree removes a message and all its descendants in one bulk
// delete, so observers never see a partially removed subtree.
func (s *Service) DeleteSubtree(id string) error {
	s.mu.RLock()
	ids := s.subtreeLocked(id)
	s.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}

	if err := s.store.DeleteMessagesByIDs(ids); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]struct{}, len(ids))
	for _, deletedID := range ids {
		removed[deletedID] = struct{}{}
		delete(s.byID, deletedID)
		delete(s.children, deletedID)
		delete(s.generating, deletedID)
	}

	kept := s.messages[:0]
	for _, msg := range s.messages {
		if _, gone := removed[msg.ID]; !gone {
			kept = append(kept, msg)
		}
	}
	s.messages = kept

	for parent, childIDs := range s.children {
		filtered := childIDs[:0]
		for _, childID := range childIDs {
			if _, gone := removed[childID]; !gone {
				filtered = append(filtered, childID)
			}
		}
		s.children[parent] = filtered
	}
	return nil
}

// MergeBranch grafts the source branch onto targetID by copying every
// source message that is not already an ancestor of the target. Existing
// messages are never mutated or reparented; both histories survive.
// Returns the id of the last copy, or targetID unchanged when the source
// branch is already contained in the target's ancestry.
func (s *Service) MergeBranch(targetID, sourceLeafID string) (string, error) {
	s.mu.RLock()
	target, ok := s.byID[targetID]
	if !ok {
		s.mu.RUnlock()
		return "", fmt.Errorf("merge target %s: %w", targetID, store.ErrNotFound)
	}
	targetBranch := s.branchLocked(targetID)
	sourceBranch := s.branchLocked(sourceLeafID)
	s.mu.RUnlock()

	// First source message that is not an ancestor of the target.
	start := -1
	for i, msg := range sourceBranch.Messages {
		if _, shared := targetBranch.IDs[msg.ID]; !shared {
			start = i
			break
		}
	}
	if start == -1 {
		// Source branch is an ancestor of (or equal to) the target.
		return targetID, nil
	}

	parentID := targetID
	newLeafID := targetID
	for _, src := range sourceBranch.Messages[start:] {
		parent := parentID
		copied, err := s.NewMessage(src.Content, src.Role, &parent, src.Provider, src.Model, target.RoomID, src.Memory)
		if err != nil {
			return "", fmt.Errorf("merge copy %s: %w", src.ID, err)
		}
		parentID = copied.ID
		newLeafID = copied.ID
	}

	s.log.Debug().Str("target", targetID).Str("source", sourceLeafID).Str("leaf", newLeafID).Msg("merged branch")
	return newLeafID, nil
}

// StartGenerating marks a message as being streamed into. Idempotent.
func (s *Service) StartGenerating(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generating[id] = struct{}{}
}

// StopGenerating clears the streaming mark.
func (s *Service) StopGenerating(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.generating, id)
}

// IsGenerating reports whether a message is currently being streamed into.
func (s *Service) IsGenerating(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.generating[id]
	return ok
}
