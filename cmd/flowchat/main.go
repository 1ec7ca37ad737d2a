package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowchat/flowchat/internal/config"
	"github.com/flowchat/flowchat/internal/store"
	"github.com/flowchat/flowchat/pkg/embedding"
	"github.com/flowchat/flowchat/pkg/memory"
	"github.com/flowchat/flowchat/pkg/search"
)

const usage = `usage: flowchat <command> [flags]

commands:
  init                 create or migrate the database
  rooms                list rooms
  embed                backfill embeddings for messages missing one
  search <query>       search message content
  memories [room-id]   list global memories, or a room's memories
  export <file>        write a full JSON snapshot
  import <file>        replace all data from a JSON snapshot
`

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:], cfg, logger); err != nil {
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func run(command string, args []string, cfg *config.Config, logger zerolog.Logger) error {
	s, err := store.Open(cfg.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	if err := s.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	switch command {
	case "init":
		logger.Info().Str("dsn", cfg.DatabaseDSN).Msg("database ready")
		return nil
	case "rooms":
		return listRooms(s)
	case "embed":
		return runEmbed(s, cfg, logger)
	case "search":
		return runSearch(s, cfg, logger, args)
	case "memories":
		return listMemories(s, cfg, logger, args)
	case "export":
		return runExport(s, args)
	case "import":
		return runImport(s, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func listRooms(s *store.Store) error {
	rooms, err := s.ListRooms()
	if err != nil {
		return err
	}
	for _, r := range rooms {
		fmt.Printf("%s\t%s\n", r.ID, r.Name)
	}
	return nil
}

func listMemories(s *store.Store, cfg *config.Config, logger zerolog.Logger, args []string) error {
	extractor := memory.NewExtractor(memory.ExtractorConfig{
		Store:  s,
		APIKey: cfg.OpenRouterKey,
		Model:  cfg.MemoryModel,
		Log:    logger,
	})

	var (
		memories []*store.Memory
		err      error
	)
	if len(args) > 0 {
		memories, err = extractor.Context(args[0])
	} else {
		memories, err = s.GetMemoriesByRoomID(nil)
	}
	if err != nil {
		return err
	}

	for _, m := range memories {
		fmt.Printf("%s\t%s\t%s\t%s\n", m.ID, m.Scope, strings.Join(m.Tags, ","), m.Content)
	}
	return nil
}

func runEmbed(s *store.Store, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.EmbedEndpoint == "" {
		return fmt.Errorf("FLOWCHAT_EMBED_ENDPOINT is not set")
	}

	embedder := embedding.NewOllamaEmbedder(cfg.EmbedEndpoint, cfg.EmbedModel)
	pipeline := embedding.NewPipeline(s, embedder, cfg.EmbedBatchSize, logger)

	progress := make(chan float64, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			fmt.Printf("\rembedding %3.0f%%", p*100)
		}
		fmt.Println()
	}()

	err := pipeline.Run(context.Background(), progress)
	close(progress)
	<-done
	return err
}

func runSearch(s *store.Store, cfg *config.Config, logger zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	room := fs.String("room", "", "restrict to one room id")
	semantic := fs.Bool("semantic", false, "rank by embedding similarity instead of substring match")
	limit := fs.Int("limit", 10, "maximum results for semantic search")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("search expects exactly one query argument")
	}
	query := fs.Arg(0)

	var embedder embedding.Embedder
	if cfg.EmbedEndpoint != "" {
		embedder = embedding.NewOllamaEmbedder(cfg.EmbedEndpoint, cfg.EmbedModel)
	}
	svc := search.NewService(s, embedder, logger)

	if *semantic {
		hits, err := svc.Semantic(context.Background(), query, *limit)
		if err != nil {
			return err
		}
		for _, h := range hits {
			fmt.Printf("%.4f\t%s\t%s\n", h.Similarity, h.ID, h.PlainText())
		}
		return nil
	}

	results, err := svc.Text(query, *room)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%s\t%s\n", r.Message.ID, r.Snippet)
	}
	return nil
}

func runExport(s *store.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("export expects a destination file")
	}
	data, err := s.Export()
	if err != nil {
		return err
	}
	return os.WriteFile(args[0], data, 0o644)
}

func runImport(s *store.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("import expects a source file")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return s.Import(data)
}
