// Package objstore is the contract the pipeline and the synchronization job
// use to reach the blob store, plus the change-notification vocabulary shared
// by the webhook handler and the bucket listener.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ObjectInfo is one entry of a bucket listing.
type ObjectInfo struct {
	Bucket      string
	Key         string
	ETag        string
	Size        int64
	ContentType string
}

// Store is implemented by the minio and s3 backends.
type Store interface {
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	ListObjects(ctx context.Context, bucket string) ([]ObjectInfo, error)
	ListBuckets(ctx context.Context) ([]string, error)
	PresignURL(ctx context.Context, method, bucket, key string, expiry time.Duration) (string, error)
}

var ErrUnsupportedMethod = errors.New("presigned url method must be GET, PUT or DELETE")

const (
	TransferURLExpiry = 24 * time.Hour
	DeleteURLExpiry   = 60 * time.Second
)

// PresignExpiry returns the lifetime granted to a presigned URL for method.
// Upload and download URLs are long-lived, delete URLs short-lived.
func PresignExpiry(method string) (time.Duration, error) {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodPut:
		return TransferURLExpiry, nil
	case http.MethodDelete:
		return DeleteURLExpiry, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
}

// NormalizeETag strips the quotes S3 puts around entity tags.
func NormalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}
