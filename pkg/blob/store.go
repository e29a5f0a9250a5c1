// Package blob provides content-addressed object storage for raw source
// documents. Keys follow {source}/{external_id}/{sha256[:16]}{.ext} and
// URIs are {scheme}://{key}, so a stored document can always be re-hashed
// and compared against its recorded digest.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the contract every blob backend implements.
type Store interface {
	// Put persists data under key and returns the backend URI.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get retrieves the bytes referenced by a URI produced by Put.
	Get(ctx context.Context, uri string) ([]byte, error)
	// Delete removes the object. Returns false when it did not exist.
	Delete(ctx context.Context, uri string) (bool, error)
	// Exists reports whether the object is present.
	Exists(ctx context.Context, uri string) (bool, error)
}

// Key builds the canonical storage key for a document.
func Key(source, externalID string, raw []byte, ext string) string {
	sum := sha256.Sum256(raw)
	short := hex.EncodeToString(sum[:])[:16]
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s/%s/%s", source, externalID, short+ext)
}

// splitURI separates "scheme://key" and validates the expected scheme.
func splitURI(uri, scheme string) (string, error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(uri, prefix) {
		return "", fmt.Errorf("blob: uri %q does not use scheme %q", uri, scheme)
	}
	key := strings.TrimPrefix(uri, prefix)
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("blob: invalid key in uri %q", uri)
	}
	return key, nil
}

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a local store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: ensure base dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("blob: ensure dir: %w", err)
	}

	// Idempotent: content-addressed keys never change meaning.
	if _, err := os.Stat(path); err == nil {
		return "local://" + key, nil
	}

	// Write to temp, then rename.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("blob: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("blob: commit: %w", err)
	}
	return "local://" + key, nil
}

func (s *FileStore) Get(ctx context.Context, uri string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, err := splitURI(uri, "local")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob: not found: %s", uri)
		}
		return nil, fmt.Errorf("blob: read: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, uri string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, err := splitURI(uri, "local")
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("blob: stat: %w", err)
}

func (s *FileStore) Delete(ctx context.Context, uri string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := splitURI(uri, "local")
	if err != nil {
		return false, err
	}
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("blob: delete: %w", err)
	}
	s.pruneEmptyDirs(filepath.Dir(path))
	return true, nil
}

// pruneEmptyDirs removes now-empty parents up to (not including) baseDir.
func (s *FileStore) pruneEmptyDirs(dir string) {
	for dir != s.baseDir && strings.HasPrefix(dir, s.baseDir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
