package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/maraichr/docflow/internal/config"
	"github.com/maraichr/docflow/internal/objstore"
)

// Client implements objstore.Store on AWS S3 or any S3-compatible endpoint.
type Client struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

func NewClient(cfg appconfig.S3Config) (*Client, error) {
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	return &Client{client: client, presign: s3.NewPresignClient(client), bucket: cfg.Bucket}, nil
}

// Bucket is the configured default bucket; empty means every bucket.
func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// ListObjects pages through the bucket. Content types are not part of a
// listing, so they are left empty.
func (c *Client) ListObjects(ctx context.Context, bucket string) ([]objstore.ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: &bucket,
	})

	var out []objstore.ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", bucket, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Skip "directory" markers
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, objstore.ObjectInfo{
				Bucket: bucket,
				Key:    key,
				ETag:   objstore.NormalizeETag(aws.ToString(obj.ETag)),
				Size:   aws.ToInt64(obj.Size),
			})
		}
	}
	return out, nil
}

func (c *Client) ListBuckets(ctx context.Context) ([]string, error) {
	resp, err := c.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	names := make([]string, 0, len(resp.Buckets))
	for _, b := range resp.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	return names, nil
}

func (c *Client) PresignURL(ctx context.Context, method, bucket, key string, expiry time.Duration) (string, error) {
	withExpiry := s3.WithPresignExpires(expiry)

	var (
		url string
		err error
	)
	switch strings.ToUpper(method) {
	case http.MethodGet:
		req, e := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key}, withExpiry)
		if e == nil {
			url = req.URL
		}
		err = e
	case http.MethodPut:
		req, e := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{Bucket: &bucket, Key: &key}, withExpiry)
		if e == nil {
			url = req.URL
		}
		err = e
	case http.MethodDelete:
		req, e := c.presign.PresignDeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}, withExpiry)
		if e == nil {
			url = req.URL
		}
		err = e
	default:
		return "", fmt.Errorf("%w: %q", objstore.ErrUnsupportedMethod, method)
	}
	if err != nil {
		return "", fmt.Errorf("presign %s %s/%s: %w", method, bucket, key, err)
	}
	return url, nil
}
