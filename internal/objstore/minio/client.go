package minio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/maraichr/docflow/internal/config"
	"github.com/maraichr/docflow/internal/objstore"
)

// Client implements objstore.Store on a MinIO server.
type Client struct {
	mc     *minio.Client
	bucket string
}

func NewClient(cfg config.MinIOConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{mc: mc, bucket: cfg.Bucket}, nil
}

// Bucket is the configured default bucket; empty means every bucket.
func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (c *Client) ListObjects(ctx context.Context, bucket string) ([]objstore.ObjectInfo, error) {
	var out []objstore.ObjectInfo
	for obj := range c.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true, WithMetadata: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", bucket, obj.Err)
		}
		// Skip "directory" markers
		if obj.Key == "" || obj.Key[len(obj.Key)-1] == '/' {
			continue
		}
		out = append(out, objstore.ObjectInfo{
			Bucket:      bucket,
			Key:         obj.Key,
			ETag:        objstore.NormalizeETag(obj.ETag),
			Size:        obj.Size,
			ContentType: obj.ContentType,
		})
	}
	return out, nil
}

func (c *Client) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := c.mc.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	names := make([]string, len(buckets))
	for i, b := range buckets {
		names[i] = b.Name
	}
	return names, nil
}

func (c *Client) PresignURL(ctx context.Context, method, bucket, key string, expiry time.Duration) (string, error) {
	u, err := c.mc.Presign(ctx, method, bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s %s/%s: %w", method, bucket, key, err)
	}
	return u.String(), nil
}

// Listen subscribes to object notifications and forwards each record to
// handle until ctx is canceled. An empty bucket listens on every bucket.
func (c *Client) Listen(ctx context.Context, bucket string, logger *slog.Logger, handle func(context.Context, objstore.Event)) {
	var ch <-chan notification.Info
	if bucket == "" {
		ch = c.mc.ListenNotification(ctx, "", "", objstore.SubscribedEvents())
	} else {
		ch = c.mc.ListenBucketNotification(ctx, bucket, "", "", objstore.SubscribedEvents())
	}

	for info := range ch {
		if info.Err != nil {
			logger.Warn("bucket notification error", slog.String("error", info.Err.Error()))
			continue
		}
		for _, rec := range info.Records {
			handle(ctx, EventFromRecord(rec))
		}
	}
}

// EventFromRecord converts a notification record into an objstore.Event.
func EventFromRecord(rec notification.Event) objstore.Event {
	return objstore.Event{
		Name:        rec.EventName,
		Bucket:      rec.S3.Bucket.Name,
		Key:         objstore.DecodeKey(rec.S3.Object.Key),
		ETag:        objstore.NormalizeETag(rec.S3.Object.ETag),
		Size:        rec.S3.Object.Size,
		ContentType: rec.S3.Object.ContentType,
	}
}
