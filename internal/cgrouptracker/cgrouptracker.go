// Package cgrouptracker manages the private "boxer" cgroup hierarchy used
// to enumerate and tear down every process a run spawns, even ones the
// supervisor never directly reaped (the CgroupTracker entity of spec §3).
//
// Grounded on boxer.c's boxer_setup/container_kill, and on minimega's
// CGROUP_PATH/containerPopulateCgroups/containerNuke (container.go), which
// walks a cgroup's "tasks" file and SIGKILLs everything it finds.
package cgrouptracker

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"boxer/internal/boxlog"
	"boxer/internal/pathutil"
)

// Root is the mountpoint of the private cgroup hierarchy, mirroring
// minimega's CGROUP_PATH but scoped to this runtime's own name.
const Root = "/sys/fs/cgroup/boxer"

// Tracker owns one run's cgroup directory: Root/<RunId>.
type Tracker struct {
	Path string
	log  *boxlog.Logger
}

// Setup mounts the private hierarchy if it is not already present, then
// creates Root/runID and enrolls pid into its tasks file. It is the
// "boxer" equivalent of boxer.c's boxer_setup: cgroup creation is the
// supervisor's job, done once before the worker is spawned.
func Setup(runID string, pid int, log *boxlog.Logger) (*Tracker, error) {
	if !pathutil.Exists(Root) {
		if err := pathutil.Create(Root); err != nil {
			return nil, fmt.Errorf("create %s: %w", Root, err)
		}
		flags := uintptr(unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV)
		if err := unix.Mount("cgroup", Root, "cgroup", flags, "name=boxer,xattr"); err != nil {
			return nil, fmt.Errorf("mount cgroup at %s: %w", Root, err)
		}
	}

	path := filepath.Join(Root, runID)
	if err := pathutil.Create(path); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	tasks := filepath.Join(path, "tasks")
	if err := pathutil.WriteFile(tasks, "%d\n", pid); err != nil {
		return nil, fmt.Errorf("enroll pid %d: %w", pid, err)
	}

	return &Tracker{Path: path, log: log}, nil
}

// Enroll adds an additional pid (the worker, after re-exec) to the run's
// cgroup. Cgroup membership is inherited by children, so this is only
// needed for processes the kernel doesn't already place there for us.
func (t *Tracker) Enroll(pid int) error {
	return pathutil.WriteFile(filepath.Join(t.Path, "tasks"), "%d\n", pid)
}

// pids returns the set of pids currently enrolled in the run's cgroup.
func (t *Tracker) pids() ([]int, error) {
	f, err := os.Open(filepath.Join(t.Path, "tasks"))
	if err != nil {
		return nil, fmt.Errorf("open tasks: %w", err)
	}
	defer f.Close()

	var pids []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		field := strings.TrimSpace(scanner.Text())
		if field == "" {
			continue
		}
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, scanner.Err()
}

// KillAll repeatedly scans the run's tasks file, SIGKILLs every pid other
// than self, and reaps whatever is already a zombie, until a full pass
// finds nothing left to kill. This is container_kill's loop: a single
// SIGKILL pass is not enough because new pids can appear in tasks between
// the read and the kill (a process forking faster than it dies).
func (t *Tracker) KillAll(self int) {
	for {
		pids, err := t.pids()
		if err != nil {
			t.log.WarnErr(err, "reading tasks for %s", t.Path)
			return
		}

		killed := 0
		for _, pid := range pids {
			if pid == self {
				continue
			}
			if err := unix.Kill(pid, unix.SIGKILL); err != nil {
				continue
			}
			killed++
		}

		t.reapAvailable()

		if killed == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// reapAvailable drains already-exited children without blocking, matching
// container_kill's WNOHANG waitpid loop.
func (t *Tracker) reapAvailable() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
	}
}

// Teardown removes the run's cgroup directory. The kernel refuses rmdir
// while tasks is non-empty, so this must follow a successful KillAll.
func (t *Tracker) Teardown() error {
	if err := os.Remove(t.Path); err != nil {
		return fmt.Errorf("remove %s: %w", t.Path, err)
	}
	return nil
}
