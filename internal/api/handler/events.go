package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/objstore"
	miniostore "github.com/maraichr/docflow/internal/objstore/minio"
	"github.com/maraichr/docflow/pkg/apierr"
)

// bucketEvent is the body MinIO posts to a webhook target.
type bucketEvent struct {
	EventName string               `json:"EventName"`
	Key       string               `json:"Key"`
	Records   []notification.Event `json:"Records"`
}

type EventHandler struct {
	logger *slog.Logger
	mgr    ItemManager
}

func NewEventHandler(logger *slog.Logger, mgr ItemManager) *EventHandler {
	return &EventHandler{logger: logger, mgr: mgr}
}

// Webhook receives bucket notifications. Creation events add a file per
// record and removal events delete the matching files; anything else is
// answered with 501.
func (h *EventHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var body bucketEvent
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, h.logger, apierr.InvalidRequestBody())
		return
	}
	name := body.EventName
	if name == "" && len(body.Records) > 0 {
		name = body.Records[0].EventName
	}

	action := objstore.Classify(name)
	if action == objstore.ActionUnsupported {
		writeAPIError(w, h.logger, apierr.UnsupportedEvent(name))
		return
	}

	var failed []string
	var lastErr error
	for _, rec := range body.Records {
		ev := miniostore.EventFromRecord(rec)
		ev.Name = name
		if err := h.Apply(r.Context(), ev); err != nil {
			failed = append(failed, ev.Bucket+"/"+ev.Key)
			lastErr = err
		}
	}
	if len(body.Records) > 0 && len(failed) == len(body.Records) {
		writeAPIError(w, h.logger, apierr.EventFailed(lastErr).WithDetails(failed...))
		return
	}

	msg := "File(s) uploaded successfully"
	if action == objstore.ActionRemove {
		msg = "File(s) deleted successfully"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// Apply carries out one object change. The webhook and the bucket listener
// both go through it. Failures are logged before they are returned.
func (h *EventHandler) Apply(ctx context.Context, ev objstore.Event) error {
	logger := h.logger.With(
		slog.String("event", ev.Name),
		slog.String("bucket", ev.Bucket),
		slog.String("object", ev.Key))

	var err error
	switch objstore.Classify(ev.Name) {
	case objstore.ActionCreate:
		_, err = h.mgr.AddFile(ctx, ingestion.FileSource{
			Bucket:      ev.Bucket,
			Object:      ev.Key,
			ETag:        ev.ETag,
			ContentType: ev.ContentType,
			Size:        ev.Size,
		})
	case objstore.ActionRemove:
		var n int
		n, err = h.mgr.DeleteFile(ctx, ev.Bucket, ev.Key)
		if err == nil && n == 0 {
			logger.Debug("no tracked file for removed object")
		}
	default:
		err = fmt.Errorf("unsupported event %q", ev.Name)
	}
	if err != nil {
		logger.Error("handle bucket event", slog.String("error", err.Error()))
	}
	return err
}
