// Package embedding selects the embedding backend of the pipeline.
package embedding

import (
	"context"
	"fmt"

	"github.com/maraichr/docflow/internal/config"
	"github.com/maraichr/docflow/internal/stage"
)

// NewEmbedder returns the configured backend: the embedding service over HTTP
// (default) or Bedrock when EMBEDDING_PROVIDER=bedrock.
func NewEmbedder(ctx context.Context, cfg *config.Config, opts stage.Options) (stage.Embedder, error) {
	switch cfg.Stages.EmbeddingProvider {
	case "", "http":
		if cfg.Stages.Embedding == "" {
			return nil, fmt.Errorf("EMBEDDING_ENDPOINT is required")
		}
		return stage.NewHTTPEmbedder(stage.NewEndpoint("embedding", cfg.Stages.Embedding, opts)), nil
	case "bedrock":
		client, err := NewBedrockEmbedder(ctx, cfg.Bedrock)
		if err != nil {
			return nil, fmt.Errorf("bedrock client: %w", err)
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", cfg.Stages.EmbeddingProvider)
}
