package rootfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"boxer/internal/userinfo"
)

func TestMountTableHasNoDuplicateTargets(t *testing.T) {
	seen := make(map[string]bool)
	for _, m := range mounts {
		require.False(t, seen[m.target], "duplicate target %s", m.target)
		seen[m.target] = true
	}
}

func TestEnsureOwnedDirCreatesAndChowns(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "home", "alice")

	user := userinfo.Spec{UID: os.Getuid(), GID: os.Getgid()}
	require.NoError(t, ensureOwnedDir(path, user))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// idempotent: an existing directory is left alone.
	require.NoError(t, ensureOwnedDir(path, user))
}

func TestMountDefaultSkipsPathsSuppliedByImage(t *testing.T) {
	image := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(image, "etc"), 0755))

	err := mountDefault(t.TempDir(), image, mountSpec{
		source: "/etc",
		target: "etc",
		flags:  0x1000, // MS_BIND-ish placeholder, never reached since this returns early
	}, nil)
	require.NoError(t, err)
}

func TestMountDefaultSkipsMissingHostSource(t *testing.T) {
	err := mountDefault(t.TempDir(), "", mountSpec{
		source: "/no/such/host/path",
		target: "wherever",
		flags:  0x1000,
	}, nil)
	require.NoError(t, err)
}
