// Package store implements the Artifact Store and its Content-Addressed
// Store collaborator (spec.md §4.8): dual-layer persistence where the CAS
// maps SHA-256(content) to raw bytes, and the ArtifactStore holds metadata,
// per-file references, and the idempotency-key index.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/specforge/specforge/internal/errs"
)

// ContentAddressableStore maps SHA-256(content) to raw bytes. Put is
// idempotent: storing the same bytes twice returns the same hash and does
// not duplicate storage.
type ContentAddressableStore interface {
	Put(ctx context.Context, content []byte) (hash string, err error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Has(ctx context.Context, hash string) (bool, error)
}

// HashContent returns the hex SHA-256 digest of content, the CAS key.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// memoryCAS is an in-memory ContentAddressableStore, grounded on
// virtengine's MemoryArtifactStore content map.
type memoryCAS struct {
	mu      sync.RWMutex
	content map[string][]byte
}

// NewMemoryCAS returns an empty in-memory CAS.
func NewMemoryCAS() ContentAddressableStore {
	return &memoryCAS{content: map[string][]byte{}}
}

func (c *memoryCAS) Put(_ context.Context, content []byte) (string, error) {
	hash := HashContent(content)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.content[hash]; !ok {
		stored := make([]byte, len(content))
		copy(stored, content)
		c.content[hash] = stored
	}
	return hash, nil
}

func (c *memoryCAS) Get(_ context.Context, hash string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.content[hash]
	if !ok {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("content %s not found", hash))
	}
	return content, nil
}

func (c *memoryCAS) Has(_ context.Context, hash string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.content[hash]
	return ok, nil
}

// fsCAS is a filesystem-backed CAS, laid out as content/<sha256> per
// spec.md §6's object-store layout.
type fsCAS struct {
	root string
	mu   sync.Mutex
}

// NewFsCAS returns a CAS rooted at root; root/content is created lazily.
func NewFsCAS(root string) ContentAddressableStore {
	return &fsCAS{root: root}
}

func (c *fsCAS) path(hash string) string {
	return filepath.Join(c.root, "content", hash)
}

func (c *fsCAS) Put(_ context.Context, content []byte) (string, error) {
	hash := HashContent(content)
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.path(hash)
	if _, err := os.Stat(p); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errs.Wrap(errs.KindStoreBackendError, "creating CAS directory", err)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return "", errs.Wrap(errs.KindStoreBackendError, "writing CAS blob", err)
	}
	return hash, nil
}

func (c *fsCAS) Get(_ context.Context, hash string) ([]byte, error) {
	content, err := os.ReadFile(c.path(hash))
	if os.IsNotExist(err) {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("content %s not found", hash))
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "reading CAS blob", err)
	}
	return content, nil
}

func (c *fsCAS) Has(_ context.Context, hash string) (bool, error) {
	_, err := os.Stat(c.path(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errs.Wrap(errs.KindStoreBackendError, "statting CAS blob", err)
}

// gcsCAS is a Google Cloud Storage-backed CAS, for production deployments
// that select store.cas_backend = "gcs".
type gcsCAS struct {
	bucket *storage.BucketHandle
}

// NewGCSCAS returns a CAS backed by the given bucket.
func NewGCSCAS(client *storage.Client, bucketName string) ContentAddressableStore {
	return &gcsCAS{bucket: client.Bucket(bucketName)}
}

func (c *gcsCAS) objectName(hash string) string { return "content/" + hash }

func (c *gcsCAS) Put(ctx context.Context, content []byte) (string, error) {
	hash := HashContent(content)
	obj := c.bucket.Object(c.objectName(hash))

	if _, err := obj.Attrs(ctx); err == nil {
		return hash, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", errs.Wrap(errs.KindStoreBackendError, "writing GCS object", err)
	}
	if err := w.Close(); err != nil {
		return "", errs.Wrap(errs.KindStoreBackendError, "closing GCS writer", err)
	}
	return hash, nil
}

func (c *gcsCAS) Get(ctx context.Context, hash string) ([]byte, error) {
	r, err := c.bucket.Object(c.objectName(hash)).NewReader(ctx)
	if err == storage.ErrObjectNotExist {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("content %s not found", hash))
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "opening GCS reader", err)
	}
	defer r.Close()

	buf := make([]byte, 0, r.Attrs.Size)
	tmp := make([]byte, 32*1024)
	for {
		n, readErr := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if readErr != nil {
			break
		}
	}
	return buf, nil
}

func (c *gcsCAS) Has(ctx context.Context, hash string) (bool, error) {
	_, err := c.bucket.Object(c.objectName(hash)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if err == storage.ErrObjectNotExist {
		return false, nil
	}
	return false, errs.Wrap(errs.KindStoreBackendError, "statting GCS object", err)
}
