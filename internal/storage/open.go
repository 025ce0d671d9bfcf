package storage

import (
	"context"

	"github.com/rs/zerolog"

	"gensvc/internal/infra"
)

// Open returns the backend selected by cfg.StorageDriver. For the file
// driver it also returns the directory to serve under /static.
func Open(ctx context.Context, cfg *infra.Config, log zerolog.Logger) (ObjectStore, string, error) {
	if cfg.StorageDriver == "s3" {
		store, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		}, log)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	}
	store, err := NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		return nil, "", err
	}
	return store, store.BasePath(), nil
}
