//go:build integration

package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/maraichr/docflow/internal/item"
)

func setupValkey(t *testing.T) valkey.Client {
	t.Helper()
	addr := os.Getenv("TEST_VALKEY_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		t.Skipf("valkey not available: %v", err)
	}
	ctx := context.Background()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		t.Skipf("valkey not available: %v", err)
	}
	for _, key := range []string{StreamName, DelayedKey} {
		client.Do(ctx, client.B().Del().Key(key).Build())
	}
	t.Cleanup(func() {
		for _, key := range []string{StreamName, DelayedKey} {
			client.Do(context.Background(), client.B().Del().Key(key).Build())
		}
		client.Close()
	})
	return client
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	client := setupValkey(t)
	producer := NewProducer(client)

	consumer, err := NewConsumer(client, producer, ConsumerOptions{
		ConsumerID:  "test-" + uuid.NewString(),
		Concurrency: 2,
		Retry:       RetryPolicy{MaxRetries: 2, BaseDelay: 10 * time.Millisecond},
		promotePoll: 20 * time.Millisecond,
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := consumer.EnsureGroup(ctx); err != nil {
		t.Fatal(err)
	}

	itemID := uuid.New()
	got := make(chan Task, 4)
	var calls atomic.Int32
	go consumer.Consume(ctx, func(_ context.Context, task Task) error {
		// Fail the first delivery so the retry path runs.
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		got <- task
		return nil
	})

	id, err := producer.Enqueue(ctx, Task{Kind: KindProcess, ItemKind: item.KindFile, ItemID: itemID})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case task := <-got:
		if task.ID != id || task.ItemID != itemID {
			t.Errorf("unexpected task %+v", task)
		}
		if task.Attempt != 1 {
			t.Errorf("expected retried delivery with attempt 1, got %d", task.Attempt)
		}
	case <-ctx.Done():
		t.Fatal("task was not delivered")
	}
}

func TestProducer_DelayedPromotion(t *testing.T) {
	client := setupValkey(t)
	producer := NewProducer(client)
	ctx := context.Background()

	if _, err := producer.Enqueue(ctx, Task{Kind: KindSync}, WithDelay(50*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if n, _ := producer.PromoteDue(ctx); n != 0 {
		t.Fatalf("task promoted before it was due")
	}
	time.Sleep(80 * time.Millisecond)
	n, err := producer.PromoteDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 promoted task, got %d", n)
	}
	stream, delayed, err := producer.Depth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stream != 1 || delayed != 0 {
		t.Errorf("expected depth 1/0, got %d/%d", stream, delayed)
	}
}

func TestProducer_Revocation(t *testing.T) {
	client := setupValkey(t)
	producer := NewProducer(client)
	ctx := context.Background()

	id := uuid.NewString()
	if revoked, _ := producer.IsRevoked(ctx, id); revoked {
		t.Fatal("fresh task reported revoked")
	}
	if err := producer.Revoke(ctx, id); err != nil {
		t.Fatal(err)
	}
	if revoked, _ := producer.IsRevoked(ctx, id); !revoked {
		t.Fatal("expected task to be revoked")
	}
	client.Do(ctx, client.B().Del().Key(RevokedPrefix+id).Build())
}
