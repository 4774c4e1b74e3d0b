package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/valkey-io/valkey-go"
)

// Handler runs one task. Returning an error marked Permanent, or any error
// once retries are exhausted, drops the task.
type Handler func(ctx context.Context, t Task) error

// Observer is notified of every finished delivery.
type Observer interface {
	TaskFinished(kind Kind, outcome string, d time.Duration)
}

// Delivery outcomes reported to the Observer.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeRevoked   = "revoked"
)

type ConsumerOptions struct {
	ConsumerID   string
	Concurrency  int
	Retry        RetryPolicy
	ClaimTimeout time.Duration // idle time after which another consumer's entry is reclaimed

	// GiveUp is called when a task fails for the last time.
	GiveUp   func(ctx context.Context, t Task, err error)
	Observer Observer

	revokePoll   time.Duration
	promotePoll  time.Duration
	reclaimEvery time.Duration
}

// Consumer reads tasks from the stream and runs them on a bounded pool.
type Consumer struct {
	client   valkey.Client
	producer *Producer
	pool     *ants.Pool
	opts     ConsumerOptions
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewConsumer(client valkey.Client, producer *Producer, opts ConsumerOptions, logger *slog.Logger) (*Consumer, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 30 * time.Minute
	}
	if opts.revokePoll <= 0 {
		opts.revokePoll = 2 * time.Second
	}
	if opts.promotePoll <= 0 {
		opts.promotePoll = time.Second
	}
	if opts.reclaimEvery <= 0 {
		opts.reclaimEvery = time.Minute
	}

	pool, err := ants.NewPool(opts.Concurrency, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Consumer{
		client:   client,
		producer: producer,
		pool:     pool,
		opts:     opts,
		logger:   logger,
	}, nil
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	resp := c.client.Do(ctx, c.client.B().XgroupCreate().
		Key(StreamName).Group(GroupName).Id("0").Mkstream().Build())
	if err := resp.Error(); err != nil {
		if err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("xgroup create: %w", err)
		}
	}
	return nil
}

// Consume blocks reading tasks until ctx is done, then waits for the tasks
// already running. Entries of tasks interrupted by shutdown stay pending
// and are recovered on the next start or reclaimed by another consumer.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	defer c.pool.Release()
	defer c.wg.Wait()

	c.drainPending(ctx, handler)

	go c.promoteLoop(ctx)

	lastReclaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Since(lastReclaim) >= c.opts.reclaimEvery {
			c.reclaim(ctx, handler)
			lastReclaim = time.Now()
		}

		resp := c.client.Do(ctx, c.client.B().Xreadgroup().
			Group(GroupName, c.opts.ConsumerID).
			Count(int64(c.opts.Concurrency)).Block(5000).
			Streams().Key(StreamName).Id(">").
			Build())

		if err := resp.Error(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Timeout is normal for BLOCK reads
			if !valkey.IsValkeyNil(err) {
				c.logger.Warn("xreadgroup failed", slog.String("error", err.Error()))
				time.Sleep(time.Second)
			}
			continue
		}

		results, err := resp.AsXRead()
		if err != nil {
			continue
		}

		for _, messages := range results {
			for _, msg := range messages {
				c.dispatch(ctx, msg, handler)
			}
		}
	}
}

// drainPending reads entries previously delivered to this consumer but not acked.
func (c *Consumer) drainPending(ctx context.Context, handler Handler) {
	resp := c.client.Do(ctx, c.client.B().Xreadgroup().
		Group(GroupName, c.opts.ConsumerID).
		Count(100).
		Streams().Key(StreamName).Id("0").
		Build())

	if err := resp.Error(); err != nil {
		c.logger.Warn("drain pending failed", slog.String("error", err.Error()))
		return
	}

	results, err := resp.AsXRead()
	if err != nil {
		return
	}

	for _, messages := range results {
		for _, msg := range messages {
			c.logger.Info("recovering pending task", slog.String("id", msg.ID))
			c.dispatch(ctx, msg, handler)
		}
	}
}

// reclaim takes over entries that another consumer left idle for longer
// than ClaimTimeout, typically because its process died.
func (c *Consumer) reclaim(ctx context.Context, handler Handler) {
	minIdle := strconv.FormatInt(c.opts.ClaimTimeout.Milliseconds(), 10)
	resp := c.client.Do(ctx, c.client.B().Xautoclaim().
		Key(StreamName).Group(GroupName).Consumer(c.opts.ConsumerID).
		MinIdleTime(minIdle).Start("0-0").Count(int64(c.opts.Concurrency)).
		Build())

	arr, err := resp.ToArray()
	if err != nil || len(arr) < 2 {
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("xautoclaim failed", slog.String("error", err.Error()))
		}
		return
	}
	entries, err := arr[1].AsXRange()
	if err != nil {
		return
	}
	for _, msg := range entries {
		c.logger.Info("reclaimed idle task", slog.String("id", msg.ID))
		c.dispatch(ctx, msg, handler)
	}
}

func (c *Consumer) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.promotePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.producer.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("promote delayed tasks failed", slog.String("error", err.Error()))
			}
		}
	}
}

// dispatch hands msg to the pool, blocking while every worker is busy.
func (c *Consumer) dispatch(ctx context.Context, msg valkey.XRangeEntry, handler Handler) {
	c.wg.Add(1)
	err := c.pool.Submit(func() {
		defer c.wg.Done()
		c.process(ctx, msg, handler)
	})
	if err != nil {
		c.wg.Done()
		c.logger.Error("submit task to pool", slog.String("error", err.Error()), slog.String("id", msg.ID))
	}
}

func (c *Consumer) process(ctx context.Context, msg valkey.XRangeEntry, handler Handler) {
	dataStr, ok := msg.FieldValues["data"]
	if !ok {
		c.logger.Warn("message missing data field", slog.String("id", msg.ID))
		c.ack(ctx, msg.ID)
		return
	}

	var task Task
	if err := json.Unmarshal([]byte(dataStr), &task); err != nil {
		c.logger.Error("unmarshal task", slog.String("error", err.Error()), slog.String("id", msg.ID))
		c.ack(ctx, msg.ID)
		return
	}

	start := time.Now()
	if revoked, _ := c.producer.IsRevoked(ctx, task.ID); revoked {
		c.logger.Info("dropping revoked task", slog.String("task_id", task.ID))
		c.ack(ctx, msg.ID)
		c.observe(task.Kind, OutcomeRevoked, start)
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	revokedCh := make(chan struct{})
	go c.watchRevocation(taskCtx, task.ID, cancel, revokedCh)

	err := handler(taskCtx, task)
	cancel()

	select {
	case <-revokedCh:
		c.logger.Info("task revoked while running", slog.String("task_id", task.ID))
		c.ack(ctx, msg.ID)
		c.observe(task.Kind, OutcomeRevoked, start)
		return
	default:
	}

	if ctx.Err() != nil {
		// Shutting down: leave the entry pending for redelivery.
		return
	}

	switch {
	case err == nil:
		c.observe(task.Kind, OutcomeSucceeded, start)
	case c.opts.Retry.ShouldRetry(task, err):
		task.Attempt++
		delay := c.opts.Retry.Backoff(task.Attempt)
		c.logger.Warn("task failed, retrying",
			slog.String("task_id", task.ID),
			slog.String("kind", string(task.Kind)),
			slog.Int("attempt", task.Attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if _, qerr := c.producer.Enqueue(ctx, task, WithDelay(delay)); qerr != nil {
			// Without the retry enqueued the entry must stay pending.
			c.logger.Error("enqueue retry", slog.String("error", qerr.Error()), slog.String("task_id", task.ID))
			return
		}
		c.observe(task.Kind, OutcomeRetried, start)
	default:
		c.logger.Error("task failed",
			slog.String("task_id", task.ID),
			slog.String("kind", string(task.Kind)),
			slog.Int("attempt", task.Attempt),
			slog.Bool("permanent", IsPermanent(err)),
			slog.String("error", err.Error()))
		if c.opts.GiveUp != nil {
			c.opts.GiveUp(ctx, task, err)
		}
		c.observe(task.Kind, OutcomeFailed, start)
	}
	c.ack(ctx, msg.ID)
}

// watchRevocation cancels the task context once the task is revoked.
func (c *Consumer) watchRevocation(ctx context.Context, taskID string, cancel context.CancelFunc, revoked chan<- struct{}) {
	ticker := time.NewTicker(c.opts.revokePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := c.producer.IsRevoked(ctx, taskID)
			if err != nil || !ok {
				continue
			}
			close(revoked)
			cancel()
			return
		}
	}
}

func (c *Consumer) observe(kind Kind, outcome string, start time.Time) {
	if c.opts.Observer != nil {
		c.opts.Observer.TaskFinished(kind, outcome, time.Since(start))
	}
}

func (c *Consumer) ack(ctx context.Context, msgID string) {
	resp := c.client.Do(ctx, c.client.B().Xack().
		Key(StreamName).Group(GroupName).Id(msgID).Build())
	if err := resp.Error(); err != nil {
		c.logger.Error("xack failed", slog.String("error", err.Error()), slog.String("id", msgID))
	}
}
