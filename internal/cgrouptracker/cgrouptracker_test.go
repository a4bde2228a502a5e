package cgrouptracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"boxer/internal/boxlog"
)

func TestPidsParsesTasksFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks"), []byte("1\n2\n\n3\n"), 0644))

	tr := &Tracker{Path: dir, log: boxlog.New(os.Stderr, "testtest", false)}
	pids, err := tr.pids()
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, pids)
}

func TestEnrollAppendsPid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks"), nil, 0644))

	tr := &Tracker{Path: dir, log: boxlog.New(os.Stderr, "testtest", false)}
	require.NoError(t, tr.Enroll(99))

	pids, err := tr.pids()
	require.NoError(t, err)
	require.Contains(t, pids, 99)
}

func TestTeardownRemovesEmptyDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "run1")
	require.NoError(t, os.Mkdir(sub, 0755))

	tr := &Tracker{Path: sub, log: boxlog.New(os.Stderr, "testtest", false)}
	require.NoError(t, tr.Teardown())
	require.NoDirExists(t, sub)
}

func TestKillAllStopsWhenTasksEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks"), nil, 0644))

	tr := &Tracker{Path: dir, log: boxlog.New(os.Stderr, "testtest", false)}
	// No pids to kill: must return on the first pass without blocking.
	tr.KillAll(os.Getpid())
}
