package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/pkg/apierr"
)

type fakeManager struct {
	items map[uuid.UUID]*item.Item

	added     []ingestion.FileSource
	links     []string
	deleted   []string
	deletedID []uuid.UUID
	filters   []item.Filter
	synced    int

	addErr    error
	retryErr  error
	cancelErr error
}

func newFakeManager() *fakeManager {
	return &fakeManager{items: map[uuid.UUID]*item.Item{}}
}

func (f *fakeManager) put(it *item.Item) *item.Item {
	it.ID = uuid.New()
	f.items[it.ID] = it
	return it
}

func (f *fakeManager) AddFile(_ context.Context, src ingestion.FileSource) (*item.Item, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = append(f.added, src)
	return f.put(item.NewFile(src.Bucket, src.Object, src.ETag, src.ContentType, src.Size)), nil
}

func (f *fakeManager) AddLink(_ context.Context, uri string) (*item.Item, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.links = append(f.links, uri)
	return f.put(item.NewLink(uri)), nil
}

func (f *fakeManager) DeleteFile(_ context.Context, bucket, object string) (int, error) {
	f.deleted = append(f.deleted, bucket+"/"+object)
	return 1, nil
}

func (f *fakeManager) DeleteItem(_ context.Context, _ item.Kind, id uuid.UUID) error {
	if _, ok := f.items[id]; !ok {
		return item.ErrNotFound
	}
	f.deletedID = append(f.deletedID, id)
	return nil
}

func (f *fakeManager) Retry(_ context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	it, err := f.GetItem(context.Background(), kind, id)
	if err != nil {
		return nil, err
	}
	it.TaskID = "task-1"
	return it, nil
}

func (f *fakeManager) Cancel(_ context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return f.GetItem(context.Background(), kind, id)
}

func (f *fakeManager) ListItems(_ context.Context, flt item.Filter) ([]item.Item, error) {
	f.filters = append(f.filters, flt)
	var out []item.Item
	for _, it := range f.items {
		if it.Kind == flt.Kind {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeManager) GetItem(_ context.Context, kind item.Kind, id uuid.UUID) (*item.Item, error) {
	it, ok := f.items[id]
	if !ok || it.Kind != kind {
		return nil, item.ErrNotFound
	}
	return it, nil
}

func (f *fakeManager) SubmitSync(context.Context) (string, error) {
	f.synced++
	return "sync-1", nil
}

type fakePresigner struct {
	method string
	expiry time.Duration
	err    error
}

func (p *fakePresigner) PresignURL(_ context.Context, method, bucket, key string, expiry time.Duration) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.method, p.expiry = method, expiry
	return "http://minio/" + bucket + "/" + key + "?sig=x", nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func errorCode(t *testing.T, w *httptest.ResponseRecorder) apierr.Code {
	t.Helper()
	var resp apierr.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.Error.Code
}
