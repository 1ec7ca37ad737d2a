// Package embedding backfills message embeddings in batches and reports
// progress as the backlog drains.
package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/flowchat/flowchat/internal/store"
)

// DefaultBatchSize bounds how many messages go to the provider per call.
const DefaultBatchSize = 32

// Embedder produces one vector per input text. Implementations wrap a
// model provider; vectors must be store.EmbeddingDim wide.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline drains messages that have no stored embedding.
type Pipeline struct {
	store     store.Storer
	embedder  Embedder
	batchSize int
	log       zerolog.Logger
}

// NewPipeline creates a backfill pipeline. batchSize <= 0 uses
// DefaultBatchSize.
func NewPipeline(s store.Storer, e Embedder, batchSize int, log zerolog.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{store: s, embedder: e, batchSize: batchSize, log: log}
}

// Run embeds every message currently missing an embedding. Progress in
// [0, 1] is sent to progress after each batch when the channel is
// non-nil; sends never block. Messages whose text is empty are skipped
// and still count toward progress.
func (p *Pipeline) Run(ctx context.Context, progress chan<- float64) error {
	pending, err := p.store.NotEmbeddedMessages()
	if err != nil {
		return fmt.Errorf("list pending messages: %w", err)
	}
	total := len(pending)
	report(progress, 0)
	if total == 0 {
		report(progress, 1)
		return nil
	}

	p.log.Info().Int("pending", total).Msg("embedding backfill started")

	done := 0
	for start := 0; start < total; start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + p.batchSize
		if end > total {
			end = total
		}
		batch := pending[start:end]

		if err := p.runBatch(ctx, batch); err != nil {
			return err
		}

		done = end
		report(progress, float64(done)/float64(total))
	}

	p.log.Info().Int("embedded", done).Msg("embedding backfill finished")
	return nil
}

func (p *Pipeline) runBatch(ctx context.Context, batch []*store.Message) error {
	texts := make([]string, 0, len(batch))
	targets := make([]*store.Message, 0, len(batch))
	for _, m := range batch {
		text := m.PlainText()
		if text == "" {
			continue
		}
		texts = append(texts, text)
		targets = append(targets, m)
	}
	if len(texts) == 0 {
		return nil
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	for i, m := range targets {
		n, err := p.store.UpdateEmbedding(m.ID, vectors[i])
		if err != nil {
			return fmt.Errorf("store embedding for %s: %w", m.ID, err)
		}
		if n == 0 {
			// The message was deleted mid-run; nothing to do.
			p.log.Debug().Str("message", m.ID).Msg("skipped embedding for deleted message")
		}
	}
	return nil
}

func report(progress chan<- float64, v float64) {
	if progress == nil {
		return
	}
	select {
	case progress <- v:
	default:
	}
}
