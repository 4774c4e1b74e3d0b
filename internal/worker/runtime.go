// Package worker binds the task runtime to the pipeline: it owns the
// process-wide resources and hands each task a session scoped to one
// database connection.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/queue"
	"github.com/maraichr/docflow/internal/reconcile"
	"github.com/maraichr/docflow/internal/stage"
	"github.com/maraichr/docflow/internal/store"
)

// Session holds the per-task resources.
type Session struct {
	Items   item.Store
	release func()
}

// Release returns the session's connection to the pool.
func (s *Session) Release() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// Deps are the collaborators shared by every task.
type Deps struct {
	Pipeline *ingestion.Pipeline
	Queue    ingestion.TaskQueue
	Objects  reconcile.Lister
	Bucket   string // sync scope; empty syncs every bucket
}

// Runtime is created once per worker process.
type Runtime struct {
	deps    Deps
	logger  *slog.Logger
	acquire func(ctx context.Context) (*Session, error)
}

func New(pool *pgxpool.Pool, deps Deps, logger *slog.Logger) *Runtime {
	r := &Runtime{deps: deps, logger: logger}
	r.acquire = func(ctx context.Context) (*Session, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire connection: %w", err)
		}
		return &Session{Items: store.NewScoped(conn), release: conn.Release}, nil
	}
	return r
}

// Acquire opens a session for one task execution.
func (r *Runtime) Acquire(ctx context.Context) (*Session, error) {
	return r.acquire(ctx)
}

// Handle is the queue.Handler of the worker. Errors that retrying cannot fix
// are marked permanent.
func (r *Runtime) Handle(ctx context.Context, t queue.Task) error {
	sess, err := r.Acquire(ctx)
	if err != nil {
		return err
	}
	defer sess.Release()

	logger := r.logger.With(slog.String("task_id", t.ID), slog.String("kind", string(t.Kind)))

	switch t.Kind {
	case queue.KindProcess, queue.KindDelete:
		if !t.ItemKind.Valid() {
			return queue.Permanent(fmt.Errorf("task %s has invalid item kind %q", t.ID, t.ItemKind))
		}
		task := ingestion.Task{ID: t.ID, Kind: t.ItemKind, ItemID: t.ItemID}
		if t.Kind == queue.KindProcess {
			err = r.deps.Pipeline.Process(ctx, sess.Items, task)
		} else {
			err = r.deps.Pipeline.Delete(ctx, sess.Items, task)
		}
	case queue.KindSync:
		mgr := ingestion.NewManager(sess.Items, r.deps.Queue, logger)
		_, err = reconcile.New(r.deps.Objects, mgr, r.deps.Bucket, logger).Run(ctx)
	default:
		return queue.Permanent(fmt.Errorf("unknown task kind %q", t.Kind))
	}

	if err != nil && ctx.Err() == nil && !stage.IsTransient(err) {
		return queue.Permanent(err)
	}
	return err
}

// GiveUp finalizes the item of a task that failed for the last time.
func (r *Runtime) GiveUp(ctx context.Context, t queue.Task, cause error) {
	if t.Kind != queue.KindProcess {
		return
	}
	sess, err := r.Acquire(ctx)
	if err != nil {
		r.logger.Error("give up: acquire session", slog.String("task_id", t.ID), slog.String("error", err.Error()))
		return
	}
	defer sess.Release()

	task := ingestion.Task{ID: t.ID, Kind: t.ItemKind, ItemID: t.ItemID}
	if err := r.deps.Pipeline.Abandon(ctx, sess.Items, task, cause); err != nil {
		r.logger.Error("give up: finalize item", slog.String("task_id", t.ID), slog.String("error", err.Error()))
	}
}
