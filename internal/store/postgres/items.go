package postgres

// items.go contains the hand-written queries over the files and links tables.
// Both tables share the lifecycle columns; only the source columns differ, so
// every query is assembled from the per-kind table name and source projection.

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maraichr/docflow/internal/item"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the item tables and indexes when missing.
func (q *Queries) EnsureSchema(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply item schema: %w", err)
	}
	return nil
}

func tableFor(kind item.Kind) (string, error) {
	switch kind {
	case item.KindFile:
		return "files", nil
	case item.KindLink:
		return "links", nil
	}
	return "", fmt.Errorf("unknown item kind %q", kind)
}

// sourceProjection yields bucket_name, object_name, uri, etag, content_type, size.
func sourceProjection(kind item.Kind) string {
	if kind == item.KindLink {
		return `''::text, ''::text, uri, ''::text, ''::text, 0::bigint`
	}
	return `bucket_name, object_name, ''::text, etag, content_type, size`
}

func timingColumns() []string {
	cols := make([]string, 0, 2*len(item.Stages))
	for _, s := range item.Stages {
		cols = append(cols, string(s)+"_start", string(s)+"_end")
	}
	return cols
}

func selectColumns(kind item.Kind) string {
	return "id, " + sourceProjection(kind) +
		", status, marked_for_deletion, task_id, job_name, job_message," +
		" chunk_size, chunks_total, chunks_processed, " +
		strings.Join(timingColumns(), ", ") + ", created_at"
}

func scanItem(row pgx.Row, kind item.Kind) (*item.Item, error) {
	it := &item.Item{Kind: kind, Timings: map[item.Stage]item.Window{}}
	var status string
	times := make([]*time.Time, 2*len(item.Stages))

	dest := []any{
		&it.ID, &it.BucketName, &it.ObjectName, &it.URI, &it.Etag, &it.ContentType, &it.Size,
		&status, &it.MarkedForDeletion, &it.TaskID, &it.JobName, &it.JobMessage,
		&it.ChunkSize, &it.ChunksTotal, &it.ChunksProcessed,
	}
	for i := range times {
		dest = append(dest, &times[i])
	}
	dest = append(dest, &it.CreatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	st, err := item.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	it.Status = st

	for i, s := range item.Stages {
		start, end := times[2*i], times[2*i+1]
		if start != nil || end != nil {
			it.Timings[s] = item.Window{Start: start, End: end}
		}
	}
	return it, nil
}

// InsertItemRow inserts a new row. A unique violation on the active-source
// index surfaces as a *pgconn.PgError with code 23505.
func (q *Queries) InsertItemRow(ctx context.Context, it *item.Item) error {
	table, err := tableFor(it.Kind)
	if err != nil {
		return err
	}

	if it.Kind == item.KindLink {
		_, err = q.db.Exec(ctx,
			`INSERT INTO `+table+` (id, uri, status, marked_for_deletion, task_id, job_name, job_message, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			it.ID, it.URI, string(it.Status), it.MarkedForDeletion, it.TaskID, it.JobName, it.JobMessage, it.CreatedAt)
		return err
	}

	_, err = q.db.Exec(ctx,
		`INSERT INTO `+table+` (id, bucket_name, object_name, etag, content_type, size,
		                        status, marked_for_deletion, task_id, job_name, job_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		it.ID, it.BucketName, it.ObjectName, it.Etag, it.ContentType, it.Size,
		string(it.Status), it.MarkedForDeletion, it.TaskID, it.JobName, it.JobMessage, it.CreatedAt)
	return err
}

// GetItemRow returns pgx.ErrNoRows when the row does not exist. With
// forUpdate the row stays locked until the surrounding transaction ends.
func (q *Queries) GetItemRow(ctx context.Context, kind item.Kind, id uuid.UUID, forUpdate bool) (*item.Item, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + selectColumns(kind) + ` FROM ` + table + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanItem(q.db.QueryRow(ctx, query, id), kind)
}

// UpdateItemRow writes every non-nil field of p in one statement and returns
// the updated row. Transition checks are the caller's job.
func (q *Queries) UpdateItemRow(ctx context.Context, kind item.Kind, id uuid.UUID, p *item.Patch) (*item.Item, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if p.Empty() {
		return q.GetItemRow(ctx, kind, id, false)
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Status != nil {
		set("status", string(*p.Status))
	}
	if p.MarkedForDeletion != nil {
		set("marked_for_deletion", *p.MarkedForDeletion)
	}
	if p.TaskID != nil {
		set("task_id", *p.TaskID)
	}
	if p.JobName != nil {
		set("job_name", *p.JobName)
	}
	if p.JobMessage != nil {
		set("job_message", *p.JobMessage)
	}
	if p.ChunkSize != nil {
		set("chunk_size", *p.ChunkSize)
	}
	if p.ChunksTotal != nil {
		set("chunks_total", *p.ChunksTotal)
	}
	if p.ChunksProcessed != nil {
		set("chunks_processed", *p.ChunksProcessed)
	}
	// Iterate the known stages rather than the maps so column names never
	// come from anywhere but the Stage constants.
	for _, s := range item.Stages {
		if t, ok := p.Starts[s]; ok {
			set(string(s)+"_start", t)
		}
		if t, ok := p.Ends[s]; ok {
			set(string(s)+"_end", t)
		}
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d RETURNING %s`,
		table, strings.Join(sets, ", "), len(args), selectColumns(kind))
	return scanItem(q.db.QueryRow(ctx, query, args...), kind)
}

// ListItemRows returns the rows of one kind matching f, oldest first.
func (q *Queries) ListItemRows(ctx context.Context, kind item.Kind, f item.Filter) ([]item.Item, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	where := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.MarkedForDeletion != nil {
		where("marked_for_deletion = $%d", *f.MarkedForDeletion)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where("status = ANY($%d::text[])", statuses)
	}
	if kind == item.KindFile {
		if f.BucketName != "" {
			where("bucket_name = $%d", f.BucketName)
		}
		if f.ObjectName != "" {
			where("object_name = $%d", f.ObjectName)
		}
	}
	if kind == item.KindLink && f.URI != "" {
		where("uri = $%d", f.URI)
	}

	query := `SELECT ` + selectColumns(kind) + ` FROM ` + table
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []item.Item
	for rows.Next() {
		it, err := scanItem(rows, kind)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// DeleteItemRow hard-deletes a row and reports how many rows were removed.
func (q *Queries) DeleteItemRow(ctx context.Context, kind item.Kind, id uuid.UUID) (int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	tag, err := q.db.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ItemStats aggregates one table for the metrics endpoint.
type ItemStats struct {
	ByStatus          map[item.Status]int64
	MarkedForDeletion int64
	ChunksTotal       int64
	ChunksProcessed   int64
}

// GetItemStats counts rows per status and sums chunk progress of rows that
// are still being processed.
func (q *Queries) GetItemStats(ctx context.Context, kind item.Kind) (ItemStats, error) {
	stats := ItemStats{ByStatus: map[item.Status]int64{}}
	table, err := tableFor(kind)
	if err != nil {
		return stats, err
	}

	rows, err := q.db.Query(ctx, `SELECT status, count(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return stats, err
		}
		st, err := item.ParseStatus(status)
		if err != nil {
			return stats, err
		}
		stats.ByStatus[st] = n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	err = q.db.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE marked_for_deletion),
		        COALESCE(sum(chunks_total) FILTER (WHERE status = ANY($1::text[])), 0),
		        COALESCE(sum(chunks_processed) FILTER (WHERE status = ANY($1::text[])), 0)
		 FROM `+table,
		inFlightStatuses()).Scan(&stats.MarkedForDeletion, &stats.ChunksTotal, &stats.ChunksProcessed)
	return stats, err
}

func inFlightStatuses() []string {
	var out []string
	for _, s := range item.AllStatuses {
		if s.InFlight() {
			out = append(out, string(s))
		}
	}
	return out
}
