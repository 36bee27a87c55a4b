// Package objectstore keeps original source files, addressed by document
// id, revision and filename.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("object key requires document id, revision and filename")
)

type Key struct {
	DocumentID string
	Revision   string
	Filename   string
}

// Path is {document}/v{revision}/{basename}. Only the basename of the
// filename is used, so client-supplied paths cannot escape the prefix.
func (k Key) Path() (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(k.Filename), "\\", "/"))
	if strings.TrimSpace(k.DocumentID) == "" || strings.TrimSpace(k.Revision) == "" || base == "." || base == "/" || base == ".." {
		return "", ErrInvalidKey
	}
	return fmt.Sprintf("%s/v%s/%s", k.DocumentID, k.Revision, base), nil
}

type Store interface {
	Put(ctx context.Context, key Key, r io.Reader, contentType string) (string, error)
	Get(ctx context.Context, key Key) (io.ReadCloser, error)
}

type GCS struct {
	client *storage.Client
	bucket string
}

func NewGCS(client *storage.Client, bucket string) *GCS {
	return &GCS{client: client, bucket: bucket}
}

func (g *GCS) Put(ctx context.Context, key Key, r io.Reader, contentType string) (string, error) {
	p, err := key.Path()
	if err != nil {
		return "", err
	}
	w := g.client.Bucket(g.bucket).Object(p).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s failed: %w", g.bucket, p, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer for %s failed: %w", p, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, p), nil
}

func (g *GCS) Get(ctx context.Context, key Key) (io.ReadCloser, error) {
	p, err := key.Path()
	if err != nil {
		return nil, err
	}
	rc, err := g.client.Bucket(g.bucket).Object(p).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s failed: %w", g.bucket, p, err)
	}
	return rc, nil
}

// Local stores objects under a directory. Used when no bucket is configured.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) Put(_ context.Context, key Key, r io.Reader, _ string) (string, error) {
	p, err := key.Path()
	if err != nil {
		return "", err
	}
	full := filepath.Join(l.root, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create object dir failed: %w", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create object file failed: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write object file failed: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close object file failed: %w", err)
	}
	return full, nil
}

func (l *Local) Get(_ context.Context, key Key) (io.ReadCloser, error) {
	p, err := key.Path()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.root, filepath.FromSlash(p)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object file failed: %w", err)
	}
	return f, nil
}
