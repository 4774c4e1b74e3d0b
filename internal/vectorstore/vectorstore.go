// Package vectorstore ingests embedded chunks into PostgreSQL with pgvector,
// as an alternative to the external ingestion service.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/stage"
	"github.com/maraichr/docflow/internal/store/postgres"
)

const stageName = "ingestion"

// Store implements stage.Ingestor on the chunk_embeddings table.
type Store struct {
	q *postgres.Queries
}

func New(db postgres.DBTX) *Store {
	return &Store{q: postgres.New(db)}
}

// EnsureSchema creates the pgvector extension and chunk table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.q.EnsureChunkSchema(ctx)
}

// Ingest stores docs. Each doc must carry its owner in metadata under
// file_id or link_id.
func (s *Store) Ingest(ctx context.Context, docs []stage.EmbeddedDoc) error {
	params := make([]postgres.InsertChunkParams, 0, len(docs))
	for i, d := range docs {
		kind, id, err := owner(d.Metadata)
		if err != nil {
			return &stage.Error{Stage: stageName, Class: stage.ClassFatal, Err: fmt.Errorf("chunk %d: %w", i, err)}
		}
		if len(d.Embedding) == 0 {
			return &stage.Error{Stage: stageName, Class: stage.ClassFatal, Err: fmt.Errorf("chunk %d has no embedding", i)}
		}
		params = append(params, postgres.InsertChunkParams{
			ItemKind:  string(kind),
			ItemID:    id,
			Content:   d.Text,
			Metadata:  d.Metadata,
			Embedding: pgvector.NewVector(d.Embedding),
		})
	}

	if err := s.q.InsertChunksBatch(ctx, params); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &stage.Error{Stage: stageName, Class: stage.ClassTransient, Err: err}
	}
	return nil
}

// Purge removes every chunk of the item.
func (s *Store) Purge(ctx context.Context, kind item.Kind, id uuid.UUID) error {
	if _, err := s.q.DeleteChunksByItem(ctx, string(kind), id); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &stage.Error{Stage: stageName, Class: stage.ClassTransient, Err: fmt.Errorf("purge %s %s: %w", kind, id, err)}
	}
	return nil
}

func owner(meta map[string]any) (item.Kind, uuid.UUID, error) {
	for _, kind := range []item.Kind{item.KindFile, item.KindLink} {
		key, _ := stage.MetadataIDKey(kind)
		raw, ok := meta[key]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return "", uuid.Nil, fmt.Errorf("%s is %T, want string", key, raw)
		}
		// uuid.Parse accepts the hyphen-less form stamped by the pipeline.
		id, err := uuid.Parse(s)
		if err != nil {
			return "", uuid.Nil, fmt.Errorf("parse %s: %w", key, err)
		}
		return kind, id, nil
	}
	return "", uuid.Nil, fmt.Errorf("metadata has neither file_id nor link_id")
}
