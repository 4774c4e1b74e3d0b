package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/metrics"
	"github.com/maraichr/docflow/internal/queue"
	"github.com/maraichr/docflow/internal/store/memstore"
)

type nopQueue struct{}

func (nopQueue) Enqueue(_ context.Context, t queue.Task, _ ...queue.EnqueueOption) (string, error) {
	return t.ID, nil
}

func (nopQueue) Revoke(context.Context, string) error { return nil }

func TestRouter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	items := memstore.New()
	mgr := ingestion.NewManager(items, nopQueue{}, logger)
	r := NewRouter(logger, RouterDeps{Manager: mgr, Metrics: metrics.New()})

	link, err := mgr.AddLink(context.Background(), "https://example.com")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/api/files", "", http.StatusOK},
		{http.MethodGet, "/api/links", "", http.StatusOK},
		{http.MethodPost, "/api/links", `{"links":["https://example.com/b"]}`, http.StatusOK},
		{http.MethodPost, "/api/file/not-a-uuid/retry", "", http.StatusBadRequest},
		{http.MethodPost, "/api/link/" + link.ID.String() + "/retry", "", http.StatusConflict},
		{http.MethodDelete, "/api/link/" + link.ID.String() + "/task", "", http.StatusOK},
		{http.MethodDelete, "/api/link/" + link.ID.String(), "", http.StatusOK},
		{http.MethodPost, "/minio_event", `{"EventName":"s3:BucketCreated:*"}`, http.StatusNotImplemented},
		{http.MethodGet, "/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, bytes.NewReader([]byte(tt.body))))
		if w.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d: %s", tt.method, tt.path, tt.want, w.Code, w.Body.String())
		}
	}

	got, err := items.GetItem(context.Background(), item.KindLink, link.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.MarkedForDeletion {
		t.Error("expected link marked for deletion")
	}
}
