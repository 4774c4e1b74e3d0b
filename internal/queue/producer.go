package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

type enqueueOptions struct {
	delay time.Duration
}

type EnqueueOption func(*enqueueOptions)

// WithDelay parks the task until d has elapsed.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

// Producer enqueues tasks to the Valkey stream.
type Producer struct {
	client valkey.Client
	now    func() time.Time
}

func NewProducer(client valkey.Client) *Producer {
	return &Producer{client: client, now: time.Now}
}

// Enqueue publishes task and returns its id, assigning one when empty.
// Delayed tasks go to a sorted set scored by due time until PromoteDue
// moves them to the stream.
func (p *Producer) Enqueue(ctx context.Context, task Task, opts ...EnqueueOption) (string, error) {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.EnqueuedAt = p.now().UTC()

	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	if o.delay > 0 {
		due := p.now().Add(o.delay).UnixMilli()
		resp := p.client.Do(ctx, p.client.B().Zadd().
			Key(DelayedKey).ScoreMember().ScoreMember(float64(due), string(data)).
			Build())
		if err := resp.Error(); err != nil {
			return "", fmt.Errorf("zadd delayed task: %w", err)
		}
		return task.ID, nil
	}

	if err := p.xadd(ctx, string(data)); err != nil {
		return "", err
	}
	return task.ID, nil
}

func (p *Producer) xadd(ctx context.Context, data string) error {
	resp := p.client.Do(ctx, p.client.B().Xadd().
		Key(StreamName).Id("*").
		FieldValue().FieldValue("data", data).
		Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// PromoteDue moves delayed tasks whose time has come onto the stream and
// returns how many it moved. Several workers may promote concurrently;
// ZREM decides which one owns a task.
func (p *Producer) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(p.now().UnixMilli(), 10)
	resp := p.client.Do(ctx, p.client.B().Zrangebyscore().
		Key(DelayedKey).Min("-inf").Max(now).Limit(0, 100).
		Build())
	members, err := resp.AsStrSlice()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore delayed: %w", err)
	}

	moved := 0
	for _, m := range members {
		removed, err := p.client.Do(ctx, p.client.B().Zrem().Key(DelayedKey).Member(m).Build()).AsInt64()
		if err != nil {
			return moved, fmt.Errorf("zrem delayed: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := p.xadd(ctx, m); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Revoke flags taskID so running and future deliveries stop.
func (p *Producer) Revoke(ctx context.Context, taskID string) error {
	if taskID == "" {
		return nil
	}
	resp := p.client.Do(ctx, p.client.B().Set().
		Key(RevokedPrefix+taskID).Value("1").Ex(RevocationTTL).
		Build())
	if err := resp.Error(); err != nil {
		return fmt.Errorf("revoke task %s: %w", taskID, err)
	}
	return nil
}

func (p *Producer) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	if taskID == "" {
		return false, nil
	}
	n, err := p.client.Do(ctx, p.client.B().Exists().Key(RevokedPrefix+taskID).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("check revocation %s: %w", taskID, err)
	}
	return n > 0, nil
}

// Depth returns the stream length and the number of delayed tasks.
func (p *Producer) Depth(ctx context.Context) (stream, delayed int64, err error) {
	stream, err = p.client.Do(ctx, p.client.B().Xlen().Key(StreamName).Build()).AsInt64()
	if err != nil {
		return 0, 0, fmt.Errorf("xlen: %w", err)
	}
	delayed, err = p.client.Do(ctx, p.client.B().Zcard().Key(DelayedKey).Build()).AsInt64()
	if err != nil {
		return 0, 0, fmt.Errorf("zcard: %w", err)
	}
	return stream, delayed, nil
}
