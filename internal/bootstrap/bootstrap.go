package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/smart-notes/internal/config"
	"github.com/kirillkom/smart-notes/internal/core/ports"
	"github.com/kirillkom/smart-notes/internal/core/usecase"
	"github.com/kirillkom/smart-notes/internal/infrastructure/chunking"
	"github.com/kirillkom/smart-notes/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/smart-notes/internal/infrastructure/queue/nats"
	"github.com/kirillkom/smart-notes/internal/infrastructure/repository/memory"
	"github.com/kirillkom/smart-notes/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/smart-notes/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/smart-notes/internal/infrastructure/resilience"
	"github.com/kirillkom/smart-notes/internal/infrastructure/vector/qdrant"
	vectormemory "github.com/kirillkom/smart-notes/internal/infrastructure/vector/memory"
)

type App struct {
	Config config.Config

	// Queue is nil when NATS is not configured.
	Queue ports.ReconcileQueue
	Notes ports.NoteReader

	Indexer    ports.NoteIndexer
	Searcher   ports.NoteSearcher
	Tags       ports.TagService
	Extractor  ports.StructureExtractor
	Answerer   ports.QuestionAnswerer
	Reconciler ports.Reconciler
	Status     ports.StatusReporter

	closers []func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app := &App{Config: cfg}

	notes, tags, closeStore, err := openStores(ctx, cfg.StoreDSN)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeStore)

	noteIndex, tagIndex := openVectorIndexes(cfg)

	var queue ports.ReconcileQueue
	if strings.TrimSpace(cfg.NATSURL) != "" {
		q, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilienceConfig(cfg)),
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init reconcile queue: %w", err)
		}
		app.closers = append(app.closers, q.Close)
		queue = q
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		Timeout:     cfg.ExternalCallTimeout(),
		Temperature: cfg.OllamaTemperature,
		MaxTokens:   cfg.OllamaMaxTokens,
		Resilience:  resilienceConfig(cfg),
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)
	chunker := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)

	tagStore := usecase.NewTagVectorStore(tags, tagIndex, embedder, cfg.TagSimilarityThreshold, cfg.TagSimilarTopK)
	warmed, err := tagStore.Warm(ctx)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("warm tag index: %w", err)
	}
	if warmed > 0 {
		slog.Info("tag_index_warmed", "tags", warmed)
	}
	suggester := usecase.NewTagSuggester(generator, tagStore, cfg.MaxTags)
	extractor := usecase.NewStructureExtractor(generator)
	retrieval := usecase.NewRetrievalPipeline(embedder, noteIndex, notes, usecase.RetrievalConfig{
		DefaultTopK:        cfg.RAGTopK,
		MinScore:           cfg.RetrievalMinScore,
		CandidateFactor:    cfg.RetrievalCandidateFactor,
		HydrateConcurrency: cfg.HydrateConcurrency,
	})

	app.Queue = queue
	app.Notes = notes
	indexer := usecase.NewNoteIndexer(notes, extractor, suggester, chunker, embedder, noteIndex, queue, cfg.MaxTags)
	app.Indexer = indexer
	app.Searcher = retrieval
	app.Tags = suggester
	app.Extractor = extractor
	app.Answerer = usecase.NewAnswerPipeline(retrieval, notes, generator, cfg.RAGTopK, cfg.RetryDelay())
	app.Reconciler = usecase.NewReconciler(notes, noteIndex, cfg.ReconcileGrace()).WithRestorer(indexer)
	app.Status = usecase.NewStatusService(notes, noteIndex)
	return app, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openStores picks the note store by DSN: "memory", a postgres URL, or a sqlite path.
func openStores(ctx context.Context, dsn string) (ports.NoteRepository, ports.TagRepository, func(), error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == "memory":
		return memory.NewNoteRepository(), memory.NewTagRepository(), func() {}, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := postgres.OpenDB(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return postgres.NewNoteRepository(db), postgres.NewTagRepository(db), func() { _ = db.Close() }, nil
	default:
		db, err := sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlite.NewNoteRepository(db), sqlite.NewTagRepository(db), func() { _ = db.Close() }, nil
	}
}

func openVectorIndexes(cfg config.Config) (ports.VectorIndex, ports.TagIndex) {
	if cfg.VectorBackend == "memory" {
		return vectormemory.NewNoteIndex(), vectormemory.NewTagIndex()
	}
	client := qdrant.New(cfg.QdrantURL, qdrant.Options{
		Timeout:    cfg.ExternalCallTimeout(),
		Resilience: resilienceConfig(cfg),
	})
	return qdrant.NewNoteIndex(client, cfg.QdrantNotesCollection), qdrant.NewTagIndex(client, cfg.QdrantTagsCollection)
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.SingleRetry(cfg.RetryDelay())
	out.BreakerEnabled = cfg.BreakerEnabled
	return out
}
