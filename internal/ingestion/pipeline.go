// Package ingestion runs the per-item ingestion pipeline and exposes the
// submission API used by the HTTP layer and the synchronization job.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/stage"
)

// Options tunes the pipeline.
type Options struct {
	BatchSize  int // chunks per embed+ingest batch
	MaxWorkers int // concurrent embed+ingest batches

	// EagerErrorStatus writes status=error for failures the task runtime
	// will retry. When false those failures only update job_message and the
	// item keeps its in-flight status until the retry overwrites it.
	EagerErrorStatus bool
}

// Pipeline sequences the stages of one item and persists progress after
// every stage boundary.
//
// A run is: clean-up, extraction, compression and splitting (unless the
// extractor is hierarchical), metadata stamping, the optional guardrail scan,
// then either late chunking or the batched embed+ingest fan-out. Every write
// carries the run's status, so once a cancel or delete moves the item out of
// the pipeline the next write fails the transition check and the run stops.
type Pipeline struct {
	stages  Stages
	revoked Revocations
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

func NewPipeline(stages Stages, revoked Revocations, opts Options, logger *slog.Logger) *Pipeline {
	if opts.BatchSize < 1 {
		opts.BatchSize = 32
	}
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 8
	}
	return &Pipeline{
		stages:  stages,
		revoked: revoked,
		opts:    opts,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the pipeline for the item of task. A nil return means the
// task is done, including when it was stale or revoked. Errors keep their
// stage classification so the runtime can tell transient from fatal.
func (p *Pipeline) Process(ctx context.Context, items item.Store, task Task) error {
	it, err := items.GetItem(ctx, task.Kind, task.ItemID)
	if errors.Is(err, item.ErrNotFound) {
		p.logger.Info("item gone, dropping task",
			slog.String("task_id", task.ID),
			slog.String("item_id", task.ItemID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", task.Kind, task.ItemID, err)
	}
	if reason := staleReason(it, task); reason != "" {
		p.logger.Info("skipping stale task",
			slog.String("task_id", task.ID),
			slog.String("item_id", it.ID.String()),
			slog.String("reason", reason))
		return nil
	}

	rc := &runContext{task: task, items: items, item: it}

	p.logger.Info("pipeline started",
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.String("item_id", it.ID.String()),
		slog.String("source", it.DisplayName()))

	if err := p.run(ctx, rc); err != nil {
		return p.fail(ctx, rc, err)
	}

	p.logger.Info("pipeline completed",
		slog.String("task_id", task.ID),
		slog.String("item_id", it.ID.String()),
		slog.Int("chunks", rc.item.ChunksTotal))
	return nil
}

// staleReason explains why task no longer owns the item, or returns "".
func staleReason(it *item.Item, task Task) string {
	switch {
	case it.MarkedForDeletion || it.Status == item.StatusDeleting:
		return "item marked for deletion"
	case it.TaskID != task.ID:
		return "item owned by task " + it.TaskID
	case it.Status == item.StatusUploaded, it.Status == item.StatusError, it.Status.InFlight():
		return ""
	}
	return "item is " + string(it.Status)
}

func (p *Pipeline) run(ctx context.Context, rc *runContext) error {
	type step struct {
		name    string
		enabled bool
		fn      func(context.Context, *runContext) error
	}

	hierarchical := p.stages.Extractor.Hierarchical()
	steps := []step{
		{"cleanup", true, p.cleanup},
		{"extract", true, p.extract},
		{"compress", !hierarchical && p.stages.Compressor != nil, p.compress},
		{"split", !hierarchical && p.stages.Splitter != nil, p.split},
		{"stamp", true, func(_ context.Context, rc *runContext) error { stamp(rc); return nil }},
		{"guard", p.stages.Guard != nil, p.guard},
		{"late_chunking", p.stages.LateChunker != nil, p.lateChunk},
		{"embed_ingest", p.stages.LateChunker == nil, p.embedAndIngest},
	}

	for _, s := range steps {
		if !s.enabled {
			continue
		}
		if err := p.checkpoint(ctx, rc); err != nil {
			return err
		}
		p.logger.Debug("stage started",
			slog.String("stage", s.name),
			slog.String("item_id", rc.item.ID.String()))
		if err := s.fn(ctx, rc); err != nil {
			return err
		}
	}

	return p.update(ctx, rc, item.NewPatch().
		SetStatus(item.StatusIngested).
		SetMessage("Data ingestion completed.").
		ClearTask())
}

// checkpoint stops the run when its task was revoked.
func (p *Pipeline) checkpoint(ctx context.Context, rc *runContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.revoked == nil {
		return nil
	}
	revoked, err := p.revoked.IsRevoked(ctx, rc.task.ID)
	if err != nil {
		// An unreadable flag does not stop the run; the next checkpoint retries.
		p.logger.Warn("revocation check failed",
			slog.String("task_id", rc.task.ID),
			slog.String("error", err.Error()))
		return nil
	}
	if revoked {
		return ErrRevoked
	}
	return nil
}

// update applies patch and refreshes rc.item. A rejected transition or a
// vanished row means another actor took the item over.
func (p *Pipeline) update(ctx context.Context, rc *runContext, patch *item.Patch) error {
	it, err := rc.items.UpdateItem(ctx, rc.item.Kind, rc.item.ID, patch)
	if err != nil {
		if errors.Is(err, item.ErrIllegalTransition) || errors.Is(err, item.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrRevoked, err)
		}
		return fmt.Errorf("update %s %s: %w", rc.item.Kind, rc.item.ID, err)
	}
	rc.item = it
	return nil
}

// fail records err on the item and returns it for the runtime.
func (p *Pipeline) fail(ctx context.Context, rc *runContext, err error) error {
	if errors.Is(err, ErrRevoked) {
		p.logger.Info("pipeline stopped",
			slog.String("task_id", rc.task.ID),
			slog.String("item_id", rc.item.ID.String()),
			slog.String("reason", err.Error()))
		return nil
	}
	if ctx.Err() != nil {
		// Shutdown or revocation by the runtime; the runtime decides.
		return err
	}

	var sf *stageFailure
	if !errors.As(err, &sf) {
		p.logger.Error("pipeline failed",
			slog.String("task_id", rc.task.ID),
			slog.String("item_id", rc.item.ID.String()),
			slog.String("error", err.Error()))
		return err
	}

	retryable := stage.IsTransient(err)
	patch := item.NewPatch().SetMessage(sf.message).End(sf.stage, p.now())
	switch {
	case stage.IsRejected(err):
		patch.SetStatus(item.StatusBlocked).ClearTask()
	case !retryable:
		patch.SetStatus(item.StatusError).ClearTask()
	case p.opts.EagerErrorStatus:
		// The runtime retries with the same task id, so it stays recorded.
		patch.SetStatus(item.StatusError)
	default:
		patch.SetStatus(rc.item.Status)
	}

	if werr := p.update(ctx, rc, patch); werr != nil {
		p.logger.Warn("record failure",
			slog.String("item_id", rc.item.ID.String()),
			slog.String("error", werr.Error()))
	}

	p.logger.Warn("pipeline failed",
		slog.String("task_id", rc.task.ID),
		slog.String("item_id", rc.item.ID.String()),
		slog.String("stage", string(sf.stage)),
		slog.Bool("retryable", retryable),
		slog.String("error", sf.message))
	return err
}

// Delete purges the item's vector store entries and removes its row.
// A missing row means an earlier delivery already finished. Vectors written
// by a run after the row is gone are purged by that run itself.
func (p *Pipeline) Delete(ctx context.Context, items item.Store, task Task) error {
	it, err := items.GetItem(ctx, task.Kind, task.ItemID)
	if errors.Is(err, item.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", task.Kind, task.ItemID, err)
	}

	it, err = items.UpdateItem(ctx, it.Kind, it.ID, item.NewPatch().
		SetStatus(item.StatusDeleting).
		SetMarkedForDeletion(true).
		SetMessage("Data deletion in progress."))
	if errors.Is(err, item.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark %s %s deleting: %w", task.Kind, task.ItemID, err)
	}

	purge := func() error {
		err := p.stages.Ingestor.Purge(ctx, it.Kind, it.ID)
		if err == nil {
			return nil
		}
		msg := "Error encountered while removing existing data related to file. " + stage.Message(err)
		if _, werr := items.UpdateItem(ctx, it.Kind, it.ID, item.NewPatch().SetMessage(msg)); werr != nil {
			p.logger.Warn("record purge failure",
				slog.String("item_id", it.ID.String()),
				slog.String("error", werr.Error()))
		}
		return fmt.Errorf("purge %s %s: %w", it.Kind, it.ID, err)
	}
	if err := purge(); err != nil {
		return err
	}
	// A revoked run may have finished a vector write after the first purge.
	if err := purge(); err != nil {
		return err
	}

	if err := items.DeleteItem(ctx, it.Kind, it.ID); err != nil && !errors.Is(err, item.ErrNotFound) {
		return fmt.Errorf("delete %s %s: %w", it.Kind, it.ID, err)
	}

	p.logger.Info("item deleted",
		slog.String("task_id", task.ID),
		slog.String("kind", string(it.Kind)),
		slog.String("item_id", it.ID.String()),
		slog.String("source", it.DisplayName()))
	return nil
}

// Abandon finalizes an item whose task failed for the last time. Only the
// owning task may do so; the item's job message already explains the failure.
func (p *Pipeline) Abandon(ctx context.Context, items item.Store, task Task, cause error) error {
	it, err := items.GetItem(ctx, task.Kind, task.ItemID)
	if errors.Is(err, item.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", task.Kind, task.ItemID, err)
	}
	if it.TaskID != task.ID || it.Status == item.StatusDeleting {
		return nil
	}

	patch := item.NewPatch().SetStatus(item.StatusError).ClearTask()
	if !isFailureMessage(it.JobMessage) {
		patch.SetMessage("Error during processing: " + stage.Message(cause))
	}
	if _, err := items.UpdateItem(ctx, it.Kind, it.ID, patch); err != nil && !errors.Is(err, item.ErrNotFound) {
		return fmt.Errorf("abandon %s %s: %w", it.Kind, it.ID, err)
	}

	p.logger.Warn("task abandoned",
		slog.String("task_id", task.ID),
		slog.String("item_id", it.ID.String()),
		slog.String("error", cause.Error()))
	return nil
}

// isFailureMessage reports whether msg was written by fail rather than by a
// stage announcing its start.
func isFailureMessage(msg string) bool {
	return strings.HasPrefix(msg, "Error") || strings.HasPrefix(msg, "No text")
}
