package files

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/apperrors"
	"github.com/docqa/backend/pkg/logger"
)

type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
	WorkDir   string
}

// MinIOStore keeps files as objects in one bucket and downloads them on demand.
type MinIOStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	workDir   string
}

func NewMinIOStore(ctx context.Context, opts MinIOOptions) (*MinIOStore, error) {
	c, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create minio client: %w", apperrors.ErrFileStore, err)
	}

	exists, err := c.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to check bucket: %w", apperrors.ErrFileStore, err)
	}
	if !exists {
		if err := c.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("%w: failed to create bucket: %w", apperrors.ErrFileStore, err)
		}
	}

	publicURL := opts.PublicURL
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, opts.Endpoint)
	}

	logger.Info("MinIO file store initialized",
		zap.String("endpoint", opts.Endpoint),
		zap.String("bucket", opts.Bucket),
	)

	return &MinIOStore{
		client:    c,
		bucket:    opts.Bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		workDir:   opts.WorkDir,
	}, nil
}

func (s *MinIOStore) Save(ctx context.Context, originalName string, r io.Reader, size int64) (string, string, error) {
	ref := newRef(originalName)

	_, err := s.client.PutObject(ctx, s.bucket, ref, r, size, minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: failed to upload object: %w", apperrors.ErrFileStore, err)
	}

	return ref, fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, ref), nil
}

func (s *MinIOStore) LocalPath(ctx context.Context, ref string) (string, func(), error) {
	f, err := os.CreateTemp(s.workDir, "docqa-src-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to create temp file: %w", apperrors.ErrFileStore, err)
	}
	f.Close()

	if err := s.client.FGetObject(ctx, s.bucket, ref, f.Name(), minio.GetObjectOptions{}); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("%w: failed to download object: %w", apperrors.ErrFileStore, err)
	}

	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

func (s *MinIOStore) Remove(ctx context.Context, ref string) error {
	err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: failed to remove object: %w", apperrors.ErrFileStore, err)
	}
	return nil
}

func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
