package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maraichr/docflow/internal/objstore"
	"github.com/maraichr/docflow/pkg/apierr"
)

// Presigner is the part of objstore.Store the handler needs.
type Presigner interface {
	PresignURL(ctx context.Context, method, bucket, key string, expiry time.Duration) (string, error)
}

type PresignHandler struct {
	logger  *slog.Logger
	objects Presigner
}

func NewPresignHandler(logger *slog.Logger, objects Presigner) *PresignHandler {
	return &PresignHandler{logger: logger, objects: objects}
}

type presignRequest struct {
	BucketName string `json:"bucket_name"`
	ObjectName string `json:"object_name"`
	Method     string `json:"method"`
}

func (h *PresignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, h.logger, apierr.InvalidRequestBody())
		return
	}

	var missing []string
	if req.BucketName == "" {
		missing = append(missing, "bucket_name")
	}
	if req.ObjectName == "" {
		missing = append(missing, "object_name")
	}
	if req.Method == "" {
		missing = append(missing, "method")
	}
	if len(missing) > 0 {
		writeAPIError(w, h.logger, apierr.MissingFields(strings.Join(missing, ", ")))
		return
	}

	method := strings.ToUpper(req.Method)
	expiry, err := objstore.PresignExpiry(method)
	if err != nil {
		writeAPIError(w, h.logger, apierr.InvalidMethod())
		return
	}

	u, err := h.objects.PresignURL(r.Context(), method, req.BucketName, req.ObjectName, expiry)
	if err != nil {
		if errors.Is(err, objstore.ErrUnsupportedMethod) {
			writeAPIError(w, h.logger, apierr.InvalidMethod())
			return
		}
		writeAPIError(w, h.logger, apierr.PresignFailed(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}
