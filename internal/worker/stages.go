package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maraichr/docflow/internal/config"
	"github.com/maraichr/docflow/internal/embedding"
	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/stage"
	"github.com/maraichr/docflow/internal/vectorstore"
)

// BuildStages creates the stage clients selected by configuration. Optional
// stages without an endpoint, or switched off, stay nil.
func BuildStages(ctx context.Context, cfg *config.Config, objects ingestion.ObjectGetter, pool *pgxpool.Pool, logger *slog.Logger) (ingestion.Stages, error) {
	sc := cfg.Stages
	opts := stage.Options{
		Timeout:         sc.Timeout,
		BreakerFailures: sc.BreakerFailures,
		BreakerCooldown: sc.BreakerCooldown,
		Logger:          logger,
	}
	st := ingestion.Stages{Objects: objects}

	if sc.HierarchicalExtractor != "" {
		st.Extractor = stage.NewHierarchicalExtractor(stage.NewEndpoint("hierarchical_dataprep", sc.HierarchicalExtractor, opts))
	} else {
		if sc.Extractor == "" {
			return st, fmt.Errorf("TEXT_EXTRACTOR_ENDPOINT is required")
		}
		st.Extractor = stage.NewExtractor(stage.NewEndpoint("text_extractor", sc.Extractor, opts))
	}
	if sc.Compressor != "" {
		st.Compressor = stage.NewCompressor(stage.NewEndpoint("text_compression", sc.Compressor, opts))
	}
	if sc.Splitter != "" {
		st.Splitter = stage.NewSplitter(stage.NewEndpoint("text_splitter", sc.Splitter, opts))
	}

	if sc.GuardEnabled {
		if sc.Guard == "" {
			return st, fmt.Errorf("DPGUARD_ENDPOINT is required when DPGUARD_ENABLED is set")
		}
		var fingerprint *stage.Endpoint
		if sc.Fingerprint != "" {
			fingerprint = stage.NewEndpoint("fingerprint", sc.Fingerprint, opts)
		}
		st.Guard = stage.NewGuard(stage.NewEndpoint("dpguard", sc.Guard, opts), fingerprint)
	}

	if sc.LateChunkingEnabled {
		if sc.LateChunking == "" {
			return st, fmt.Errorf("LATE_CHUNKING_ENDPOINT is required when USE_LATE_CHUNKING is set")
		}
		st.LateChunker = stage.NewLateChunker(stage.NewEndpoint("late_chunking", sc.LateChunking, opts))
	} else {
		embedder, err := embedding.NewEmbedder(ctx, cfg, opts)
		if err != nil {
			return st, err
		}
		st.Embedder = embedder
	}

	switch sc.IngestionBackend {
	case "", "http":
		if sc.Ingestion == "" {
			return st, fmt.Errorf("INGESTION_ENDPOINT is required")
		}
		st.Ingestor = stage.NewHTTPIngestor(stage.NewEndpoint("ingestion", sc.Ingestion, opts))
	case "pgvector":
		vs := vectorstore.New(pool)
		if err := vs.EnsureSchema(ctx); err != nil {
			return st, fmt.Errorf("ensure vector schema: %w", err)
		}
		st.Ingestor = vs
	default:
		return st, fmt.Errorf("unknown INGESTION_BACKEND %q", sc.IngestionBackend)
	}

	logger.Info("stages configured",
		slog.Bool("hierarchical", st.Extractor.Hierarchical()),
		slog.Bool("compression", st.Compressor != nil),
		slog.Bool("splitting", st.Splitter != nil),
		slog.Bool("guard", st.Guard != nil),
		slog.Bool("late_chunking", st.LateChunker != nil),
		slog.String("embedding", sc.EmbeddingProvider),
		slog.String("ingestion", sc.IngestionBackend))
	return st, nil
}
