package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

//go:embed chunks_schema.sql
var chunksSchemaSQL string

// EnsureChunkSchema creates the pgvector extension and the chunk table.
func (q *Queries) EnsureChunkSchema(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, chunksSchemaSQL); err != nil {
		return fmt.Errorf("apply chunk schema: %w", err)
	}
	return nil
}

type InsertChunkParams struct {
	ItemKind  string
	ItemID    uuid.UUID
	Content   string
	Metadata  map[string]any
	Embedding pgvector.Vector
}

const insertChunk = `INSERT INTO chunk_embeddings (item_kind, item_id, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5)`

// InsertChunksBatch writes all chunks in one pipelined batch.
func (q *Queries) InsertChunksBatch(ctx context.Context, params []InsertChunkParams) error {
	if len(params) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range params {
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		batch.Queue(insertChunk, p.ItemKind, p.ItemID, p.Content, meta, p.Embedding)
	}

	br := q.db.SendBatch(ctx, batch)
	defer br.Close()
	for i := range params {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return br.Close()
}

const deleteChunksByItem = `DELETE FROM chunk_embeddings WHERE item_kind = $1 AND item_id = $2`

func (q *Queries) DeleteChunksByItem(ctx context.Context, itemKind string, itemID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteChunksByItem, itemKind, itemID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const countChunksByItem = `SELECT count(*) FROM chunk_embeddings WHERE item_kind = $1 AND item_id = $2`

func (q *Queries) CountChunksByItem(ctx context.Context, itemKind string, itemID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countChunksByItem, itemKind, itemID).Scan(&n)
	return n, err
}
