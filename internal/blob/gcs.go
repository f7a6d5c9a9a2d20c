package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/avast/retry-go/v4"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig configures a GCS store.
type GCSConfig struct {
	Bucket string
	// Endpoint points at an emulator or private endpoint and disables auth.
	Endpoint        string
	CredentialsFile string
	// UploadAttempts bounds upload retries. Zero means 4.
	UploadAttempts uint
	Logger         *slog.Logger
}

// GCS stores blobs as objects in one Cloud Storage bucket.
type GCS struct {
	client   *storage.Client
	bucket   *storage.BucketHandle
	attempts uint
	logger   *slog.Logger
}

var _ Store = (*GCS)(nil)

// NewGCS creates a storage client for cfg.Bucket.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.UploadAttempts
	if attempts == 0 {
		attempts = 4
	}
	return &GCS{
		client:   client,
		bucket:   client.Bucket(cfg.Bucket),
		attempts: attempts,
		logger:   logger.With("bucket", cfg.Bucket),
	}, nil
}

// Close releases the storage client.
func (g *GCS) Close() error { return g.client.Close() }

// transient reports whether a GCS error is worth retrying.
func transient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code >= 500
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func (g *GCS) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return retry.Do(
		func() error {
			w := g.bucket.Object(key).NewWriter(ctx)
			w.ContentType = contentType
			if _, err := w.Write(data); err != nil {
				_ = w.Close()
				return err
			}
			return w.Close()
		},
		retry.Context(ctx),
		retry.Attempts(g.attempts),
		retry.Delay(time.Second),
		retry.RetryIf(transient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("retrying upload", "key", key, "attempt", n+1, "error", err)
		}),
	)
}

func (g *GCS) Download(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	r, err := g.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open gs object %s: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs object %s: %w", key, err)
	}
	return data, nil
}

func (g *GCS) Copy(ctx context.Context, src, dst string) error {
	if err := ValidateKey(src); err != nil {
		return err
	}
	if err := ValidateKey(dst); err != nil {
		return err
	}
	_, err := g.bucket.Object(dst).CopierFrom(g.bucket.Object(src)).Run(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", src, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to copy gs object: %w", err)
	}
	return nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := g.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs object %s: %w", key, err)
	}
	return nil
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	_, err := g.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat gs object %s: %w", key, err)
	}
	return true, nil
}

func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs objects: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
