package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/maraichr/docflow/internal/queue"
)

// SyncJobName names the periodic synchronization job.
const SyncJobName = "storage_sync"

// Enqueuer is the producer side of the task runtime.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task, opts ...queue.EnqueueOption) (string, error)
}

// ScheduleSync registers a job that enqueues a sync task every interval,
// starting immediately. Runs never overlap; a tick that arrives while the
// previous enqueue is still running is skipped.
func ScheduleSync(ctx context.Context, s gocron.Scheduler, interval time.Duration, tasks Enqueuer, logger *slog.Logger) (gocron.Job, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive, got %s", interval)
	}
	submit := func(ctx context.Context) {
		id, err := tasks.Enqueue(ctx, queue.Task{Kind: queue.KindSync})
		if err != nil {
			logger.Error("enqueue sync task", slog.String("error", err.Error()))
			return
		}
		logger.Info("sync task enqueued", slog.String("task_id", id))
	}
	return s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(submit, ctx),
		gocron.WithName(SyncJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
}
