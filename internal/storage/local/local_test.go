package local

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresRoot(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{RootPath: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	b, err := New(Config{RootPath: filepath.Join(t.TempDir(), "created"), CreateDirs: true})
	require.NoError(t, err)
	assert.Equal(t, "local", b.Type())
}

func TestPutListDelete(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	b, err := NewFromJSON([]byte(`{"root_path":"` + root + `","create_dirs":true}`))
	require.NoError(t, err)

	objects := map[string]string{
		"a.txt":       "alpha",
		"dir/b.txt":   "bravo",
		"dir/sub/c":   "",
		"other/d.bin": "delta",
	}
	for k, v := range objects {
		require.NoError(t, b.PutObject(ctx, k, strings.NewReader(v), int64(len(v))))
	}

	data, err := os.ReadFile(filepath.Join(root, "dir", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bravo", string(data))

	keys, err := b.ListObjects(ctx, "")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"a.txt", "dir/b.txt", "dir/sub/c", "other/d.bin"}, keys)

	keys, err = b.ListObjects(ctx, "dir/")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"dir/b.txt", "dir/sub/c"}, keys)

	ok, err := b.ObjectExists(ctx, "dir/sub/c")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.DeleteObject(ctx, "dir/sub/c"))
	require.NoError(t, b.DeleteObject(ctx, "dir/sub/c"))
	ok, err = b.ObjectExists(ctx, "dir/sub/c")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = os.Stat(filepath.Join(root, "dir", "sub"))
	assert.True(t, os.IsNotExist(err), "empty parent directory is pruned")
	_, err = os.Stat(filepath.Join(root, "dir"))
	assert.NoError(t, err)
}

func TestPutObjectSizeMismatch(t *testing.T) {
	b, err := New(Config{RootPath: t.TempDir(), CreateDirs: true})
	require.NoError(t, err)

	err = b.PutObject(context.Background(), "f", strings.NewReader("abc"), 5)
	assert.Error(t, err)

	ok, err := b.ObjectExists(context.Background(), "f")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeysStayUnderRoot(t *testing.T) {
	root := t.TempDir()
	b, err := New(Config{RootPath: root, CreateDirs: true})
	require.NoError(t, err)

	require.NoError(t, b.PutObject(context.Background(), "../../escape", strings.NewReader("x"), 1))
	_, err = os.Stat(filepath.Join(root, "escape"))
	assert.NoError(t, err)

	assert.Error(t, b.PutObject(context.Background(), "/", strings.NewReader("x"), 1))
}
