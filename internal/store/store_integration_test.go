//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maraichr/docflow/internal/item"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Fatal("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres ping failed: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestStore_FileLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	object := fmt.Sprintf("it/%s-%d.pdf", t.Name(), time.Now().UnixNano())

	created, err := s.CreateItem(ctx, item.NewFile("test-bucket", object, "etag-1", "application/pdf", 42))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteItem(context.Background(), item.KindFile, created.ID) })

	if created.Status != item.StatusUploaded || created.Size != 42 {
		t.Fatalf("unexpected created row: %+v", created)
	}

	_, err = s.CreateItem(ctx, item.NewFile("test-bucket", object, "etag-2", "application/pdf", 42))
	if !errors.Is(err, item.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	updated, err := s.UpdateItem(ctx, item.KindFile, created.ID, item.NewPatch().
		SetStatus(item.StatusProcessing).
		SetMessage("Data clean up in progress.").
		Start(item.StageCleanup, now))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != item.StatusProcessing {
		t.Errorf("expected processing, got %s", updated.Status)
	}
	w := updated.Timings[item.StageCleanup]
	if w.Start == nil || !w.Start.Equal(now) {
		t.Errorf("expected cleanup_start %v, got %+v", now, w)
	}

	_, err = s.UpdateItem(ctx, item.KindFile, created.ID, item.NewPatch().SetStatus(item.StatusUploaded))
	if !errors.Is(err, item.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	active, err := s.ListItems(ctx, item.Filter{Kind: item.KindFile, BucketName: "test-bucket", ObjectName: object})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 row, got %d", len(active))
	}

	if err := s.DeleteItem(ctx, item.KindFile, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetItem(ctx, item.KindFile, created.ID); !errors.Is(err, item.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SupersedeLink(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	uri := fmt.Sprintf("https://example.com/%d", time.Now().UnixNano())

	old, err := s.CreateItem(ctx, item.NewLink(uri))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.DeleteItem(context.Background(), item.KindLink, old.ID) })

	if _, err := s.UpdateItem(ctx, item.KindLink, old.ID,
		item.NewPatch().SetMarkedForDeletion(true).SetStatus(item.StatusDeleting)); err != nil {
		t.Fatal(err)
	}

	fresh, err := s.CreateItem(ctx, item.NewLink(uri))
	if err != nil {
		t.Fatalf("create after supersede: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteItem(context.Background(), item.KindLink, fresh.ID) })

	active, err := s.ListItems(ctx, item.Filter{Kind: item.KindLink, URI: uri, MarkedForDeletion: item.Bool(false)})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != fresh.ID {
		t.Fatalf("expected only the new link active, got %+v", active)
	}

	stats, err := s.GetItemStats(ctx, item.KindLink)
	if err != nil {
		t.Fatal(err)
	}
	if stats.MarkedForDeletion < 1 {
		t.Errorf("expected at least one row marked for deletion, got %d", stats.MarkedForDeletion)
	}
}
