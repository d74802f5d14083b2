package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps blobs under a local directory.
type FileStore struct {
	root string
}

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	//nolint:gosec // G301: artifact tree is shared with operators
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("artifacts: create %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the store's base directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) path(digest string) string {
	return filepath.Join(s.root, filepath.FromSlash(objectKey("", digest)))
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	ref := Ref(data)
	digest, _ := parseRef(ref)
	p := s.path(digest)
	if _, err := os.Stat(p); err == nil {
		return ref, nil
	}
	//nolint:gosec // G301: see NewFileStore
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("artifacts: shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), digest+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("artifacts: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("artifacts: write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("artifacts: close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("artifacts: commit blob: %w", err)
	}
	return ref, nil
}

// Get reads a blob and checks it still matches its digest.
func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(digest)) //nolint:gosec // digest validated as hex
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: read %s: %w", ref, err)
	}
	if Ref(data) != ref {
		return nil, fmt.Errorf("artifacts: blob %s is corrupt", ref)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.path(digest))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("artifacts: stat %s: %w", ref, err)
	}
}
