package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/queue"
)

// Job names recorded on items while a task owns them.
const (
	FileProcessingJob = "file_processing_job"
	LinkProcessingJob = "link_processing_job"
	FileDeletingJob   = "file_deleting_job"
	LinkDeletingJob   = "link_deleting_job"
)

// DeletionDelay postpones every deletion task. A superseded item's vectors
// are then normally purged by the new item's clean-up first, and a revoked
// run has time to observe its revocation before the row goes away.
const DeletionDelay = 3 * time.Second

// createAttempts bounds how often AddFile and AddLink retry when a
// concurrent submission for the same source created its item first.
const createAttempts = 3

// ErrBusy is returned by Retry while a task still owns the item.
var ErrBusy = errors.New("item has an active task")

// TaskQueue is the part of the task runtime the manager submits to.
type TaskQueue interface {
	Enqueue(ctx context.Context, t queue.Task, opts ...queue.EnqueueOption) (string, error)
	Revoke(ctx context.Context, taskID string) error
}

// FileSource describes an object in the blob store.
type FileSource struct {
	Bucket      string
	Object      string
	ETag        string
	ContentType string
	Size        int64
}

// Manager is the submission API shared by the HTTP layer and the
// synchronization job. It creates and supersedes items and records on every
// item the task that currently owns it.
type Manager struct {
	items  item.Store
	tasks  TaskQueue
	logger *slog.Logger
}

func NewManager(items item.Store, tasks TaskQueue, logger *slog.Logger) *Manager {
	return &Manager{items: items, tasks: tasks, logger: logger}
}

func jobName(kind item.Kind, op queue.Kind) string {
	switch {
	case kind == item.KindFile && op == queue.KindDelete:
		return FileDeletingJob
	case kind == item.KindLink && op == queue.KindDelete:
		return LinkDeletingJob
	case kind == item.KindLink:
		return LinkProcessingJob
	}
	return FileProcessingJob
}

// AddFile supersedes any active item of the same object and creates a new
// one with a processing task.
func (m *Manager) AddFile(ctx context.Context, src FileSource) (*item.Item, error) {
	if src.Bucket == "" || src.Object == "" {
		return nil, fmt.Errorf("bucket and object are required")
	}
	f := item.Filter{Kind: item.KindFile, BucketName: src.Bucket, ObjectName: src.Object}
	return m.replace(ctx, f, func() *item.Item {
		return item.NewFile(src.Bucket, src.Object, src.ETag, src.ContentType, src.Size)
	})
}

// AddLink supersedes any active item of the same URI and creates a new one
// with a processing task.
func (m *Manager) AddLink(ctx context.Context, uri string) (*item.Item, error) {
	if uri == "" {
		return nil, fmt.Errorf("uri is required")
	}
	return m.replace(ctx, item.Filter{Kind: item.KindLink, URI: uri}, func() *item.Item {
		return item.NewLink(uri)
	})
}

// replace supersedes the active items matching f and creates a fresh one.
// Listing and creating are not atomic, so when a concurrent submission wins
// the unique active-source index the loser supersedes the winner and tries
// again. The last submission ends up as the active item.
func (m *Manager) replace(ctx context.Context, f item.Filter, build func() *item.Item) (*item.Item, error) {
	var err error
	for attempt := 1; attempt <= createAttempts; attempt++ {
		if _, err = m.supersede(ctx, f); err != nil {
			return nil, err
		}
		var created *item.Item
		created, err = m.create(ctx, build())
		if !errors.Is(err, item.ErrConflict) {
			return created, err
		}
		m.logger.Debug("concurrent submission for source, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	return nil, err
}

func (m *Manager) create(ctx context.Context, it *item.Item) (*item.Item, error) {
	created, err := m.items.CreateItem(ctx, it)
	if err != nil {
		return nil, err
	}
	if _, err := m.SubmitProcessing(ctx, created.Kind, created.ID); err != nil {
		return nil, err
	}
	m.logger.Info("item added",
		slog.String("kind", string(created.Kind)),
		slog.String("item_id", created.ID.String()),
		slog.String("source", created.DisplayName()))
	return m.items.GetItem(ctx, created.Kind, created.ID)
}

// DeleteFile schedules deletion of the active items of an object and
// returns how many were scheduled.
func (m *Manager) DeleteFile(ctx context.Context, bucket, object string) (int, error) {
	return m.supersede(ctx, item.Filter{Kind: item.KindFile, BucketName: bucket, ObjectName: object})
}

// DeleteLink schedules deletion of the active items of a URI.
func (m *Manager) DeleteLink(ctx context.Context, uri string) (int, error) {
	return m.supersede(ctx, item.Filter{Kind: item.KindLink, URI: uri})
}

// DeleteItem schedules deletion of one item.
func (m *Manager) DeleteItem(ctx context.Context, kind item.Kind, id uuid.UUID) error {
	_, err := m.SubmitDeletion(ctx, kind, id, DeletionDelay)
	return err
}

// supersede logically deletes every active item matching f.
func (m *Manager) supersede(ctx context.Context, f item.Filter) (int, error) {
	f.MarkedForDeletion = item.Bool(false)
	active, err := m.items.ListItems(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("list active items: %w", err)
	}
	for _, it := range active {
		if _, err := m.SubmitDeletion(ctx, it.Kind, it.ID, DeletionDelay); err != nil {
			return 0, err
		}
	}
	return len(active), nil
}

// SubmitProcessing records a new processing task on the item and enqueues
// it. The id is written before the task is visible so a worker never sees a
// task its item does not name.
func (m *Manager) SubmitProcessing(ctx context.Context, kind item.Kind, id uuid.UUID) (string, error) {
	taskID := uuid.NewString()
	job := jobName(kind, queue.KindProcess)
	if _, err := m.items.UpdateItem(ctx, kind, id, item.NewPatch().SetTask(taskID, job)); err != nil {
		return "", fmt.Errorf("record task on %s %s: %w", kind, id, err)
	}

	task := queue.Task{ID: taskID, Kind: queue.KindProcess, ItemKind: kind, ItemID: id}
	if _, err := m.tasks.Enqueue(ctx, task); err != nil {
		msg := "Failed to submit processing task."
		if _, werr := m.items.UpdateItem(ctx, kind, id, item.NewPatch().
			SetStatus(item.StatusError).SetMessage(msg).ClearTask()); werr != nil {
			m.logger.Warn("record submit failure",
				slog.String("item_id", id.String()),
				slog.String("error", werr.Error()))
		}
		return "", fmt.Errorf("enqueue processing task: %w", err)
	}
	return taskID, nil
}

// SubmitDeletion marks the item for deletion, stops its running task and
// enqueues a deletion task after delay.
func (m *Manager) SubmitDeletion(ctx context.Context, kind item.Kind, id uuid.UUID, delay time.Duration) (string, error) {
	it, err := m.items.GetItem(ctx, kind, id)
	if err != nil {
		return "", err
	}
	if it.TaskID != "" && it.Status != item.StatusDeleting {
		if err := m.tasks.Revoke(ctx, it.TaskID); err != nil {
			return "", err
		}
	}

	taskID := uuid.NewString()
	if _, err := m.items.UpdateItem(ctx, kind, id, item.NewPatch().
		SetStatus(item.StatusDeleting).
		SetMarkedForDeletion(true).
		SetTask(taskID, jobName(kind, queue.KindDelete))); err != nil {
		return "", fmt.Errorf("mark %s %s for deletion: %w", kind, id, err)
	}

	var opts []queue.EnqueueOption
	if delay > 0 {
		opts = append(opts, queue.WithDelay(delay))
	}
	task := queue.Task{ID: taskID, Kind: queue.KindDelete, ItemKind: kind, ItemID: id}
	if _, err := m.tasks.Enqueue(ctx, task, opts...); err != nil {
		return "", fmt.Errorf("enqueue deletion task: %w", err)
	}

	m.logger.Info("item deletion submitted",
		slog.String("kind", string(kind)),
		slog.String("item_id", id.String()),
		slog.String("task_id", taskID),
		slog.Duration("delay", delay))
	return taskID, nil
}

// SubmitSync enqueues a synchronization pass.
func (m *Manager) SubmitSync(ctx context.Context) (string, error) {
	return m.tasks.Enqueue(ctx, queue.Task{Kind: queue.KindSync})
}

// Retry restarts the pipeline of a terminal item from scratch.
func (m *Manager) Retry(ctx context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error) {
	it, err := m.items.GetItem(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !it.Status.Terminal() || it.MarkedForDeletion {
		return nil, fmt.Errorf("%w: %s is %s", ErrBusy, id, it.Status)
	}
	// A pending automatic retry of a failed task must not run alongside.
	if it.TaskID != "" {
		if err := m.tasks.Revoke(ctx, it.TaskID); err != nil {
			return nil, err
		}
	}

	if _, err := m.items.UpdateItem(ctx, kind, id, item.NewPatch().
		SetStatus(item.StatusUploaded).
		SetChunksTotal(0).
		SetChunksProcessed(0).
		SetMessage("").
		ClearTask()); err != nil {
		return nil, fmt.Errorf("reset %s %s: %w", kind, id, err)
	}
	if _, err := m.SubmitProcessing(ctx, kind, id); err != nil {
		return nil, err
	}
	return m.items.GetItem(ctx, kind, id)
}

// Cancel stops the item's task. It is a no-op when no task is recorded.
func (m *Manager) Cancel(ctx context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error) {
	it, err := m.items.GetItem(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if it.TaskID == "" {
		return it, nil
	}
	if it.Status == item.StatusDeleting {
		return nil, fmt.Errorf("%w: %s is being deleted", ErrBusy, id)
	}

	if err := m.tasks.Revoke(ctx, it.TaskID); err != nil {
		return nil, err
	}
	updated, err := m.items.UpdateItem(ctx, kind, id, item.NewPatch().
		SetStatus(item.StatusCanceled).
		SetMessage("Processing task canceled").
		ClearTask())
	if err != nil {
		return nil, fmt.Errorf("cancel %s %s: %w", kind, id, err)
	}

	m.logger.Info("task canceled",
		slog.String("kind", string(kind)),
		slog.String("item_id", id.String()),
		slog.String("task_id", it.TaskID))
	return updated, nil
}

func (m *Manager) ListItems(ctx context.Context, f item.Filter) ([]item.Item, error) {
	return m.items.ListItems(ctx, f)
}

func (m *Manager) GetItem(ctx context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error) {
	return m.items.GetItem(ctx, kind, id)
}
