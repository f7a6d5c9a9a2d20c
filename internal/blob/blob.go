// Package blob stores uploaded files and split parts by key. Keys are
// slash-separated relative paths such as "smart-upload/<id>/original.pdf".
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotFound is returned when a key has no object.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidKey is returned for empty, absolute or escaping keys.
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store is a flat key/value object store.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	// Copy overwrites dst with the contents of src.
	Copy(ctx context.Context, src, dst string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ValidateKey rejects keys that could escape the store root.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// Key joins segments into a key.
func Key(segments ...string) string {
	return strings.Join(segments, "/")
}

// CopyPair is one src to dst copy.
type CopyPair struct {
	Src string
	Dst string
}

// maxParallel bounds concurrent blob operations per batch.
const maxParallel = 10

// CopyAll copies every pair concurrently and returns the first error.
func CopyAll(ctx context.Context, s Store, pairs []CopyPair) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallel)
	for _, p := range pairs {
		eg.Go(func() error {
			if err := s.Copy(gctx, p.Src, p.Dst); err != nil {
				return fmt.Errorf("copy %s to %s: %w", p.Src, p.Dst, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Object is one upload in a batch.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
}

// UploadAll uploads objects concurrently and returns the first error.
func UploadAll(ctx context.Context, s Store, objects []Object) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallel)
	for _, o := range objects {
		eg.Go(func() error {
			if err := s.Upload(gctx, o.Key, o.Data, o.ContentType); err != nil {
				return fmt.Errorf("upload %s: %w", o.Key, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// DeletePrefix removes every key under prefix and returns how many were
// deleted.
func DeletePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallel)
	for _, k := range keys {
		eg.Go(func() error { return s.Delete(gctx, k) })
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "local" or "gcs".
	Backend   string
	LocalRoot string
	GCS       GCSConfig
}

// Open returns the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.LocalRoot)
	case "gcs":
		return NewGCS(ctx, cfg.GCS)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
