package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/maraichr/docflow/internal/queue"
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (q *recordingQueue) Enqueue(_ context.Context, t queue.Task, _ ...queue.EnqueueOption) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return "sync-1", nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func TestScheduleSync(t *testing.T) {
	s, err := gocron.NewScheduler()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	q := &recordingQueue{}
	job, err := ScheduleSync(context.Background(), s, time.Hour, q, discard())
	if err != nil {
		t.Fatal(err)
	}
	if job.Name() != SyncJobName {
		t.Errorf("unexpected job name %q", job.Name())
	}
	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for q.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if q.count() != 1 {
		t.Fatalf("expected one immediate sync task, got %d", q.count())
	}
	if q.tasks[0].Kind != queue.KindSync {
		t.Errorf("expected sync task, got %s", q.tasks[0].Kind)
	}
}

func TestScheduleSync_InvalidInterval(t *testing.T) {
	s, err := gocron.NewScheduler()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	if _, err := ScheduleSync(context.Background(), s, 0, &recordingQueue{}, discard()); err == nil {
		t.Error("expected error for zero interval")
	}
}
