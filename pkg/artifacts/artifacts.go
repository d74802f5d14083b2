// Package artifacts stores immutable blobs by content digest: archived
// document bodies and exported audit bundles.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned when no blob has the requested digest.
var ErrNotFound = errors.New("artifacts: not found")

const refPrefix = "sha256:"

// Store is a content-addressed blob store. Put is idempotent: storing the
// same bytes twice returns the same reference.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
}

// Ref returns the reference under which data is stored, "sha256:<hex>".
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return refPrefix + hex.EncodeToString(sum[:])
}

// parseRef validates ref and returns its hex digest.
func parseRef(ref string) (string, error) {
	digest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok {
		return "", fmt.Errorf("artifacts: unsupported reference %q", ref)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != sha256.Size {
		return "", fmt.Errorf("artifacts: malformed digest in %q", ref)
	}
	return digest, nil
}

// objectKey lays blobs out as <prefix>sha256/<2-char shard>/<digest>.
func objectKey(prefix, digest string) string {
	return prefix + "sha256/" + digest[:2] + "/" + digest
}

// MemoryStore keeps blobs in process.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	ref := Ref(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[ref]; !ok {
		m.blobs[ref] = append([]byte(nil), data...)
	}
	return ref, nil
}

func (m *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	if _, err := parseRef(ref); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) Exists(_ context.Context, ref string) (bool, error) {
	if _, err := parseRef(ref); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[ref]
	return ok, nil
}
