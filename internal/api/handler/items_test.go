package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/pkg/apierr"
)

func fileRouter(h *FileHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/files", h.List)
	r.Post("/api/files/sync", h.Sync)
	r.Post("/api/file/{id}/retry", h.Retry)
	r.Delete("/api/file/{id}/task", h.Cancel)
	return r
}

func TestFileHandler_List(t *testing.T) {
	mgr := newFakeManager()
	mgr.put(item.NewFile("docs", "a.pdf", "e", "", 1))
	mgr.put(item.NewLink("https://example.com"))
	h := NewFileHandler(discardLogger(), mgr)

	w := httptest.NewRecorder()
	fileRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files?status=ingested,error", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []item.Item
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ObjectName != "a.pdf" {
		t.Errorf("expected the file only, got %+v", got)
	}
	f := mgr.filters[0]
	if f.MarkedForDeletion == nil || *f.MarkedForDeletion {
		t.Error("expected listing restricted to items not marked for deletion")
	}
	if len(f.Statuses) != 2 || f.Statuses[0] != item.StatusIngested || f.Statuses[1] != item.StatusError {
		t.Errorf("unexpected status filter %v", f.Statuses)
	}
}

func TestFileHandler_List_Empty(t *testing.T) {
	h := NewFileHandler(discardLogger(), newFakeManager())
	w := httptest.NewRecorder()
	fileRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files", nil))

	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("expected empty array, got %q", body)
	}
}

func TestFileHandler_List_InvalidStatus(t *testing.T) {
	h := NewFileHandler(discardLogger(), newFakeManager())
	w := httptest.NewRecorder()
	fileRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files?status=done", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if code := errorCode(t, w); code != apierr.CodeInvalidStatusQuery {
		t.Errorf("expected code %s, got %s", apierr.CodeInvalidStatusQuery, code)
	}
}

func TestFileHandler_Retry(t *testing.T) {
	mgr := newFakeManager()
	it := mgr.put(item.NewFile("docs", "a.pdf", "e", "", 1))

	tests := []struct {
		name     string
		path     string
		retryErr error
		wantCode int
		wantErr  apierr.Code
	}{
		{"ok", "/api/file/" + it.ID.String() + "/retry", nil, http.StatusOK, ""},
		{"invalid id", "/api/file/nope/retry", nil, http.StatusBadRequest, apierr.CodeInvalidID},
		{"not found", "/api/file/00000000-0000-0000-0000-000000000001/retry", nil, http.StatusNotFound, apierr.CodeItemNotFound},
		{"busy", "/api/file/" + it.ID.String() + "/retry", ingestion.ErrBusy, http.StatusConflict, apierr.CodeItemBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr.retryErr = tt.retryErr
			h := NewFileHandler(discardLogger(), mgr)
			w := httptest.NewRecorder()
			fileRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, nil))

			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantErr != "" {
				if code := errorCode(t, w); code != tt.wantErr {
					t.Errorf("expected code %s, got %s", tt.wantErr, code)
				}
				return
			}
			var resp map[string]string
			json.NewDecoder(w.Body).Decode(&resp)
			if resp["task_id"] != "task-1" {
				t.Errorf("expected task id in response, got %v", resp)
			}
		})
	}
}

func TestFileHandler_Cancel(t *testing.T) {
	mgr := newFakeManager()
	it := mgr.put(item.NewFile("docs", "a.pdf", "e", "", 1))
	h := NewFileHandler(discardLogger(), mgr)

	w := httptest.NewRecorder()
	fileRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/file/"+it.ID.String()+"/task", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["message"] != "File processing task canceled" {
		t.Errorf("unexpected message %q", resp["message"])
	}

	mgr.cancelErr = ingestion.ErrBusy
	w = httptest.NewRecorder()
	fileRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/file/"+it.ID.String()+"/task", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 while deleting, got %d", w.Code)
	}
}

func TestFileHandler_Sync(t *testing.T) {
	mgr := newFakeManager()
	h := NewFileHandler(discardLogger(), mgr)

	w := httptest.NewRecorder()
	fileRouter(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/files/sync", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", w.Code)
	}
	if mgr.synced != 1 {
		t.Errorf("expected one sync submitted, got %d", mgr.synced)
	}
}

func TestHealthHandler_Readyz(t *testing.T) {
	h := NewHealthHandler(nil, func(ctx context.Context) error { return errors.New("connection refused") })
	w := httptest.NewRecorder()
	h.Readyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if code := errorCode(t, w); code != apierr.CodeQueueNotReady {
		t.Errorf("expected code %s, got %s", apierr.CodeQueueNotReady, code)
	}
}
