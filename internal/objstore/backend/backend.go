// Package backend opens the object store selected by configuration.
package backend

import (
	"fmt"

	"github.com/maraichr/docflow/internal/config"
	"github.com/maraichr/docflow/internal/objstore"
	minioclient "github.com/maraichr/docflow/internal/objstore/minio"
	s3client "github.com/maraichr/docflow/internal/objstore/s3"
)

// Handle is an opened backend. MinIO is set only for the minio backend, which
// is the one able to stream bucket notifications.
type Handle struct {
	Store         objstore.Store
	DefaultBucket string
	MinIO         *minioclient.Client
}

func Open(cfg *config.Config) (*Handle, error) {
	switch cfg.Storage.Backend {
	case "s3":
		c, err := s3client.NewClient(cfg.S3)
		if err != nil {
			return nil, err
		}
		return &Handle{Store: c, DefaultBucket: c.Bucket()}, nil
	case "minio", "":
		c, err := minioclient.NewClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return &Handle{Store: c, DefaultBucket: c.Bucket(), MinIO: c}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
