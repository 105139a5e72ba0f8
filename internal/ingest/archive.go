package ingest

import (
	"bytes"
	"context"
	"fmt"

	"leadpulse_backend/platform/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOArchiver stores the raw payload of every accepted webhook delivery
// in object storage, keyed by idempotency key, as the ingest audit trail.
type MinIOArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinIOArchiver creates the archiver and ensures the bucket exists.
// Returns an error when MinIO is not configured; callers treat archival as
// optional and run without it.
func NewMinIOArchiver(ctx context.Context, cfg config.ArchiveConfig) (*MinIOArchiver, error) {
	if !cfg.IsArchiveEnabled() {
		return nil, fmt.Errorf("archive storage is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	bucket := cfg.GetMinioBucketRawEvents()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	return &MinIOArchiver{client: client, bucket: bucket}, nil
}

// Archive stores one raw payload under {tenant}/{idempotency key}.json.
// Re-archiving the same key overwrites with identical content, so replays
// are harmless.
func (a *MinIOArchiver) Archive(ctx context.Context, tenantID uuid.UUID, key string, payload []byte) error {
	objectName := tenantID.String() + "/" + key + ".json"
	_, err := a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}
