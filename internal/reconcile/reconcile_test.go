package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/objstore"
	"github.com/maraichr/docflow/internal/queue"
	"github.com/maraichr/docflow/internal/store/memstore"
)

type fakeLister struct {
	buckets map[string][]objstore.ObjectInfo
	err     error
}

func (f *fakeLister) ListObjects(_ context.Context, bucket string) ([]objstore.ObjectInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.buckets[bucket], nil
}

func (f *fakeLister) ListBuckets(_ context.Context) ([]string, error) {
	var out []string
	for b := range f.buckets {
		out = append(out, b)
	}
	return out, nil
}

type nopQueue struct{ n int }

func (q *nopQueue) Enqueue(_ context.Context, t queue.Task, _ ...queue.EnqueueOption) (string, error) {
	q.n++
	return t.ID, nil
}

func (q *nopQueue) Revoke(context.Context, string) error { return nil }

func newManager() (*ingestion.Manager, *memstore.Store) {
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ingestion.NewManager(store, &nopQueue{}, logger), store
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	m, store := newManager()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, src := range []ingestion.FileSource{
		{Bucket: "docs", Object: "same.pdf", ETag: "e1", Size: 10},
		{Bucket: "docs", Object: "changed.pdf", ETag: "e1", Size: 10},
		{Bucket: "docs", Object: "gone.pdf", ETag: "e1", Size: 10},
	} {
		if _, err := m.AddFile(ctx, src); err != nil {
			t.Fatal(err)
		}
	}

	lister := &fakeLister{buckets: map[string][]objstore.ObjectInfo{
		"docs": {
			{Bucket: "docs", Key: "same.pdf", ETag: `"e1"`, Size: 10},
			{Bucket: "docs", Key: "changed.pdf", ETag: `"e2"`, Size: 12},
			{Bucket: "docs", Key: "new.pdf", ETag: `"e3"`, Size: 5},
		},
	}}

	rep, err := New(lister, m, "docs", logger).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := Report{Buckets: 1, Added: 1, Updated: 1, Deleted: 1, Unchanged: 1}
	if rep != want {
		t.Errorf("report = %+v, want %+v", rep, want)
	}

	active, err := store.ListItems(ctx, item.Filter{Kind: item.KindFile, MarkedForDeletion: item.Bool(false)})
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]item.Item{}
	for _, it := range active {
		byName[it.ObjectName] = it
	}
	if len(byName) != 3 {
		t.Fatalf("expected 3 active items, got %d", len(byName))
	}
	if _, ok := byName["gone.pdf"]; ok {
		t.Error("vanished object must be deleted")
	}
	if byName["changed.pdf"].Etag != "e2" {
		t.Errorf("expected changed object superseded with new etag, got %q", byName["changed.pdf"].Etag)
	}
	if byName["new.pdf"].Size != 5 {
		t.Errorf("unexpected new item %+v", byName["new.pdf"])
	}

	// A second pass over the same listing changes nothing.
	rep, err = New(lister, m, "docs", logger).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Unchanged != 3 || rep.Added+rep.Updated+rep.Deleted != 0 {
		t.Errorf("expected idempotent pass, got %+v", rep)
	}
}

func TestRun_AllBuckets(t *testing.T) {
	m, _ := newManager()
	lister := &fakeLister{buckets: map[string][]objstore.ObjectInfo{
		"a": {{Key: "one.txt", ETag: "x", Size: 1}},
		"b": {{Key: "two.txt", ETag: "y", Size: 2}},
	}}
	rep, err := New(lister, m, "", slog.New(slog.NewTextHandler(io.Discard, nil))).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Buckets != 2 || rep.Added != 2 {
		t.Errorf("unexpected report %+v", rep)
	}
}

func TestRun_ListingFailure(t *testing.T) {
	m, _ := newManager()
	lister := &fakeLister{err: errors.New("access denied")}
	if _, err := New(lister, m, "docs", slog.New(slog.NewTextHandler(io.Discard, nil))).Run(context.Background()); err == nil {
		t.Fatal("expected listing error")
	}
}
