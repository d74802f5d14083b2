package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for name, s := range map[string]Store{"fs": fs, "memory": NewMemoryStore()} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("organizations must retain audit logs")

			ref, err := s.Put(ctx, data)
			require.NoError(t, err)
			assert.Equal(t, Ref(data), ref)
			assert.Len(t, ref, len("sha256:")+64)

			again, err := s.Put(ctx, data)
			require.NoError(t, err)
			assert.Equal(t, ref, again)

			got, err := s.Get(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			ok, err := s.Exists(ctx, ref)
			require.NoError(t, err)
			assert.True(t, ok)

			missing := Ref([]byte("nothing stored"))
			ok, err = s.Exists(ctx, missing)
			require.NoError(t, err)
			assert.False(t, ok)
			_, err = s.Get(ctx, missing)
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.Get(ctx, "md5:abc")
			assert.Error(t, err)
			_, err = s.Exists(ctx, "sha256:zz")
			assert.Error(t, err)
		})
	}
}

func TestFileStoreDetectsCorruption(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)

	ref, err := s.Put(context.Background(), []byte("bundle"))
	require.NoError(t, err)
	digest, err := parseRef(ref)
	require.NoError(t, err)

	p := filepath.Join(root, "sha256", digest[:2], digest)
	require.NoError(t, os.WriteFile(p, []byte("tampered"), 0600))

	_, err = s.Get(context.Background(), ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, Config{DataDir: dir})
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "artifacts"), fs.Root())

	s, err = Open(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, Config{Backend: BackendS3})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Backend: "tape"})
	assert.Error(t, err)
}
