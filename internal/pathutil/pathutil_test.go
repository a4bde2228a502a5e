package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanIdempotentAndRootPreserving(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/", "/"},
		{"//", "/"},
		{"/a//b///c/", "/a/b/c"},
		{"a/b/", "a/b"},
		{"", ""},
	}
	for _, c := range cases {
		got := Clean(c.in)
		require.Equal(t, c.want, got, "Clean(%q)", c.in)
		require.Equal(t, Clean(got), got, "Clean not idempotent for %q", c.in)
		require.NotContains(t, got, "//")
	}
}

func TestCreateRecursive(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "b", "c")

	require.NoError(t, Create(target))
	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// already-exists is not an error.
	require.NoError(t, Create(target))
}

func TestSyncReplicatesTree(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "file.txt"), []byte("hello"), 0640))
	require.NoError(t, os.Symlink("file.txt", filepath.Join(src, "sub", "link")))

	require.NoError(t, Sync(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "sub", "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	linkTarget, err := os.Readlink(filepath.Join(dst, "sub", "link"))
	require.NoError(t, err)
	require.Equal(t, "file.txt", linkTarget)
}

func TestWriteFileRequiresExistingTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	require.NoError(t, WriteFile(path, "%d\n", 42))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "42\n", string(data))

	// WriteFile never creates: a missing target is an error.
	require.Error(t, WriteFile(filepath.Join(dir, "missing"), "%d\n", 42))
}
