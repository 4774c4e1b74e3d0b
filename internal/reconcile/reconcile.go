// Package reconcile aligns the item store with the object store listing, to
// recover from missed bucket notifications.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maraichr/docflow/internal/ingestion"
	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/internal/objstore"
)

// Submitter is the part of the ingestion manager the reconciler drives.
type Submitter interface {
	AddFile(ctx context.Context, src ingestion.FileSource) (*item.Item, error)
	DeleteFile(ctx context.Context, bucket, object string) (int, error)
	ListItems(ctx context.Context, f item.Filter) ([]item.Item, error)
}

// Lister lists bucket contents.
type Lister interface {
	ListObjects(ctx context.Context, bucket string) ([]objstore.ObjectInfo, error)
	ListBuckets(ctx context.Context) ([]string, error)
}

// Report counts what one pass did.
type Report struct {
	Buckets   int `json:"buckets"`
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

type Reconciler struct {
	objects Lister
	items   Submitter
	bucket  string // empty means every bucket
	logger  *slog.Logger
}

func New(objects Lister, items Submitter, bucket string, logger *slog.Logger) *Reconciler {
	return &Reconciler{objects: objects, items: items, bucket: bucket, logger: logger}
}

// Run performs one reconciliation pass. A failing object is logged and
// counted; only listing failures abort the pass.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report

	buckets := []string{r.bucket}
	if r.bucket == "" {
		var err error
		buckets, err = r.objects.ListBuckets(ctx)
		if err != nil {
			return rep, fmt.Errorf("list buckets: %w", err)
		}
	}

	for _, b := range buckets {
		if err := r.syncBucket(ctx, b, &rep); err != nil {
			return rep, err
		}
		rep.Buckets++
	}

	r.logger.Info("sync completed",
		slog.Int("buckets", rep.Buckets),
		slog.Int("added", rep.Added),
		slog.Int("updated", rep.Updated),
		slog.Int("deleted", rep.Deleted),
		slog.Int("unchanged", rep.Unchanged),
		slog.Int("failed", rep.Failed))
	return rep, nil
}

func (r *Reconciler) syncBucket(ctx context.Context, bucket string, rep *Report) error {
	objects, err := r.objects.ListObjects(ctx, bucket)
	if err != nil {
		return fmt.Errorf("list objects in %s: %w", bucket, err)
	}
	active, err := r.items.ListItems(ctx, item.Filter{
		Kind:              item.KindFile,
		BucketName:        bucket,
		MarkedForDeletion: item.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("list items of %s: %w", bucket, err)
	}

	tracked := make(map[string]item.Item, len(active))
	for _, it := range active {
		tracked[it.ObjectName] = it
	}

	listed := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		listed[obj.Key] = struct{}{}

		etag := objstore.NormalizeETag(obj.ETag)
		existing, ok := tracked[obj.Key]
		if ok && existing.Etag == etag && existing.Size == obj.Size {
			rep.Unchanged++
			continue
		}

		src := ingestion.FileSource{
			Bucket:      bucket,
			Object:      obj.Key,
			ETag:        etag,
			ContentType: obj.ContentType,
			Size:        obj.Size,
		}
		if _, err := r.items.AddFile(ctx, src); err != nil {
			rep.Failed++
			r.logger.Warn("sync add failed",
				slog.String("bucket", bucket),
				slog.String("object", obj.Key),
				slog.String("error", err.Error()))
			continue
		}
		if ok {
			rep.Updated++
		} else {
			rep.Added++
		}
	}

	for name := range tracked {
		if _, ok := listed[name]; ok {
			continue
		}
		n, err := r.items.DeleteFile(ctx, bucket, name)
		if err != nil {
			rep.Failed++
			r.logger.Warn("sync delete failed",
				slog.String("bucket", bucket),
				slog.String("object", name),
				slog.String("error", err.Error()))
			continue
		}
		rep.Deleted += n
	}
	return nil
}
