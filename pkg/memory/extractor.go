// Package memory provides observational memory extraction: an LLM reads
// the active conversation branch and distills facts that are worth
// remembering across sessions.
package memory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/flowchat/flowchat/internal/store"
)

// minConfidence filters out extractions the model itself is unsure of.
const minConfidence = 0.4

// Extractor coordinates memory extraction from conversation branches.
type Extractor struct {
	store   store.Storer
	llm     *OpenRouterClient
	log     zerolog.Logger
	enabled bool
}

// ExtractorConfig holds configuration for the extractor. Extraction is
// disabled (and ProcessBranch a no-op) unless both APIKey and Model are
// set.
type ExtractorConfig struct {
	Store  store.Storer
	APIKey string
	Model  string
	Log    zerolog.Logger
}

// NewExtractor creates a memory extractor.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	e := &Extractor{
		store:   cfg.Store,
		log:     cfg.Log,
		enabled: cfg.APIKey != "" && cfg.Model != "",
	}
	if e.enabled {
		e.llm = NewOpenRouterClient(OpenRouterConfig{APIKey: cfg.APIKey, Model: cfg.Model})
	}
	return e
}

// IsEnabled reports whether extraction is configured.
func (e *Extractor) IsEnabled() bool {
	return e.enabled && e.llm != nil
}

// ProcessBranch extracts memories from a root-to-leaf branch and upserts
// them. Preferences apply everywhere and are stored globally; everything
// else is scoped to the branch's room. Repeated extractions of the same
// fact merge into the existing row via the dedup key.
func (e *Extractor) ProcessBranch(ctx context.Context, roomID string, branch []*store.Message) ([]*store.Memory, error) {
	if !e.IsEnabled() || len(branch) == 0 {
		return nil, nil
	}

	inputs := make([]MessageInput, 0, len(branch))
	for _, msg := range branch {
		text := msg.PlainText()
		if text == "" {
			continue
		}
		inputs = append(inputs, MessageInput{Role: string(msg.Role), Content: text})
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	result, err := e.llm.ExtractMemories(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("llm extraction: %w", err)
	}

	var stored []*store.Memory
	for _, extracted := range result.Memories {
		if extracted.Confidence < minConfidence {
			e.log.Debug().Str("content", extracted.Content).Float64("confidence", extracted.Confidence).
				Msg("dropped low-confidence memory")
			continue
		}

		scope := store.ScopeRoom
		scopeRoom := &roomID
		if extracted.MemoryType == "preference" {
			scope = store.ScopeGlobal
			scopeRoom = nil
		}

		m, err := e.store.UpsertMemoryItem(store.UpsertMemory{
			Content: extracted.Content,
			Scope:   scope,
			RoomID:  scopeRoom,
			Tags:    []string{extracted.MemoryType},
		})
		if err != nil {
			return nil, fmt.Errorf("store memory: %w", err)
		}
		stored = append(stored, m)
	}

	if len(stored) > 0 {
		e.log.Info().Int("count", len(stored)).Str("room", roomID).Msg("extracted memories")
	}
	return stored, nil
}

// Context returns the memories visible from a room: its own plus the
// globals.
func (e *Extractor) Context(roomID string) ([]*store.Memory, error) {
	globals, err := e.store.GetMemoriesByRoomID(nil)
	if err != nil {
		return nil, err
	}
	scoped, err := e.store.GetMemoriesByRoomID(&roomID)
	if err != nil {
		return nil, err
	}
	return append(globals, scoped...), nil
}

// FormatContextForLLM renders memories as a context block for prompts.
func FormatContextForLLM(memories []*store.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	out := "Relevant context from previous conversations:\n"
	for _, m := range memories {
		out += fmt.Sprintf("- %s\n", m.Content)
	}
	return out
}
