package cgrouprules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"boxer/internal/options"
)

// TestApplyWritesParameterAndEnrollsPid exercises the write half of Apply
// directly against a fake already-mounted hierarchy: mounting real cgroup
// filesystems isn't available in a test sandbox, so the subsystem
// directory is pre-created to take the "already mounted" branch.
func TestApplyWritesParameterAndEnrollsPid(t *testing.T) {
	root := t.TempDir()
	subsystem := filepath.Join(root, "memory")
	hierarchy := filepath.Join(subsystem, "boxer", "run1")
	require.NoError(t, os.MkdirAll(hierarchy, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(hierarchy, "memory.limit_in_bytes"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(hierarchy, "tasks"), nil, 0644))

	applyAt(t, root, "run1", 123, []options.CgroupRule{
		{Subsystem: "memory", Parameter: "limit_in_bytes", Value: "1048576"},
	})

	data, err := os.ReadFile(filepath.Join(hierarchy, "memory.limit_in_bytes"))
	require.NoError(t, err)
	require.Equal(t, "1048576\n", string(data))

	tasks, err := os.ReadFile(filepath.Join(hierarchy, "tasks"))
	require.NoError(t, err)
	require.Equal(t, "123\n", string(tasks))
}

// applyAt is Apply with an injectable cgroup root, so the already-mounted
// path can be exercised without touching the real /sys/fs/cgroup tree.
func applyAt(t *testing.T, root, runID string, pid int, rules []options.CgroupRule) {
	t.Helper()
	orig := cgroupRoot
	cgroupRoot = root
	defer func() { cgroupRoot = orig }()
	require.NoError(t, Apply(runID, pid, rules))
}
