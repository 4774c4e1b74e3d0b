package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/queue"
	"github.com/maraichr/docflow/internal/stage"
	"github.com/maraichr/docflow/internal/store/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeObjects struct {
	data []byte
	err  error
}

func (f *fakeObjects) GetObject(_ context.Context, _, _ string) ([]byte, error) {
	return f.data, f.err
}

type fakeExtractor struct {
	docs         []stage.Document
	err          error
	hierarchical bool
	onExtract    func()
}

func (f *fakeExtractor) ExtractFile(_ context.Context, filename string, _ []byte) ([]stage.Document, error) {
	if f.onExtract != nil {
		f.onExtract()
	}
	return copyDocs(f.docs), f.err
}

func (f *fakeExtractor) ExtractLink(_ context.Context, _ string) ([]stage.Document, error) {
	if f.onExtract != nil {
		f.onExtract()
	}
	return copyDocs(f.docs), f.err
}

func (f *fakeExtractor) Hierarchical() bool { return f.hierarchical }

type fakeSplitter struct {
	chunks int
	err    error
	calls  int
	opts   stage.SplitOptions
}

func (f *fakeSplitter) Split(_ context.Context, docs []stage.Document, opts stage.SplitOptions) ([]stage.Document, error) {
	f.calls++
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	out := make([]stage.Document, 0, f.chunks)
	for i := 0; i < f.chunks; i++ {
		out = append(out, stage.Document{Text: fmt.Sprintf("chunk-%02d", i), Metadata: map[string]any{"source": "test"}})
	}
	return out, nil
}

type fakeGuard struct{ err error }

func (f *fakeGuard) Scan(_ context.Context, _ []stage.Document) error { return f.err }

// fakeEmbedder fails on the batch whose first chunk has failOn as text.
type fakeEmbedder struct {
	failOn string
	err    error
	delay  func(batch []stage.Document)
}

func (f *fakeEmbedder) Embed(_ context.Context, docs []stage.Document) ([]stage.EmbeddedDoc, error) {
	if f.delay != nil {
		f.delay(docs)
	}
	if f.failOn != "" && len(docs) > 0 && docs[0].Text == f.failOn {
		return nil, f.err
	}
	out := make([]stage.EmbeddedDoc, len(docs))
	for i, d := range docs {
		out[i] = stage.EmbeddedDoc{Text: d.Text, Metadata: d.Metadata, Embedding: []float32{float32(i)}}
	}
	return out, nil
}

type fakeLateChunker struct{ perDoc int }

func (f *fakeLateChunker) LateChunk(_ context.Context, docs []stage.Document) ([]stage.EmbeddedDoc, error) {
	var out []stage.EmbeddedDoc
	for _, d := range docs {
		for i := 0; i < f.perDoc; i++ {
			out = append(out, stage.EmbeddedDoc{Text: fmt.Sprintf("%s/%d", d.Text, i), Metadata: d.Metadata, Embedding: []float32{1}})
		}
	}
	return out, nil
}

// fakeIngestor records writes and purges. live counts the vectors stored
// since the last purge.
type fakeIngestor struct {
	mu        sync.Mutex
	ingested  []stage.EmbeddedDoc
	purged    []uuid.UUID
	live      int
	purgeErr  error
	ingestErr error
	onIngest  func(docs []stage.EmbeddedDoc)
}

func (f *fakeIngestor) Ingest(_ context.Context, docs []stage.EmbeddedDoc) error {
	if f.onIngest != nil {
		f.onIngest(docs)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return f.ingestErr
	}
	f.ingested = append(f.ingested, docs...)
	f.live += len(docs)
	return nil
}

func (f *fakeIngestor) Purge(_ context.Context, _ item.Kind, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.purgeErr != nil {
		return f.purgeErr
	}
	f.purged = append(f.purged, id)
	f.live = 0
	return nil
}

func (f *fakeIngestor) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeIngestor) ingestedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ingested)
}

type fakeRevocations struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (f *fakeRevocations) revoke(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked == nil {
		f.revoked = map[string]bool{}
	}
	f.revoked[taskID] = true
}

func (f *fakeRevocations) IsRevoked(_ context.Context, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[taskID], nil
}

type enqueued struct {
	task    queue.Task
	delayed bool
}

type fakeQueue struct {
	mu         sync.Mutex
	tasks      []enqueued
	revoked    []string
	enqueueErr error
}

func (f *fakeQueue) Enqueue(_ context.Context, t queue.Task, opts ...queue.EnqueueOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	f.tasks = append(f.tasks, enqueued{task: t, delayed: len(opts) > 0})
	return t.ID, nil
}

func (f *fakeQueue) Revoke(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, taskID)
	return nil
}

func (f *fakeQueue) last() enqueued {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[len(f.tasks)-1]
}

func copyDocs(docs []stage.Document) []stage.Document {
	if docs == nil {
		return nil
	}
	out := make([]stage.Document, len(docs))
	for i, d := range docs {
		md := map[string]any{}
		for k, v := range d.Metadata {
			md[k] = v
		}
		out[i] = stage.Document{Text: d.Text, Metadata: md}
	}
	return out
}

// seedFile stores an uploaded file item owned by taskID.
func seedFile(t *testing.T, store *memstore.Store, taskID string) *item.Item {
	t.Helper()
	ctx := context.Background()
	it, err := store.CreateItem(ctx, item.NewFile("docs", "report.pdf", "etag-1", "application/pdf", 1024))
	if err != nil {
		t.Fatal(err)
	}
	it, err = store.UpdateItem(ctx, it.Kind, it.ID, item.NewPatch().SetTask(taskID, FileProcessingJob))
	if err != nil {
		t.Fatal(err)
	}
	return it
}

func mustGet(t *testing.T, store *memstore.Store, it *item.Item) *item.Item {
	t.Helper()
	got, err := store.GetItem(context.Background(), it.Kind, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func isNotFound(err error) bool { return errors.Is(err, item.ErrNotFound) }
