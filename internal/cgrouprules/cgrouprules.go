// Package cgrouprules applies the per-subsystem CgroupRule values of
// spec §3/§4 (driven by --cgroup.SUBSYSTEM.PARAMETER=VALUE options): one
// hierarchy per subsystem, named after the run, with the calling process
// enrolled and one parameter file written.
//
// Grounded on boxer.c's container_setup_cgroup.
package cgrouprules

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"

	"boxer/internal/options"
	"boxer/internal/pathutil"
)

// cgroupRoot is a var, not a const, so tests can redirect it at a
// temporary directory instead of the real /sys/fs/cgroup tree.
var cgroupRoot = "/sys/fs/cgroup"

// Apply mounts each subsystem's hierarchy (if not already mounted),
// creates Root/boxer/<runID> within it, writes the rule's value to
// SUBSYSTEM.PARAMETER, and enrolls pid into the hierarchy's tasks file.
func Apply(runID string, pid int, rules []options.CgroupRule) error {
	for _, rule := range rules {
		subsystemPath := filepath.Join(cgroupRoot, rule.Subsystem)
		hierarchyPath := filepath.Join(subsystemPath, "boxer", runID)
		parameterPath := filepath.Join(hierarchyPath, fmt.Sprintf("%s.%s", rule.Subsystem, rule.Parameter))
		tasksPath := filepath.Join(hierarchyPath, "tasks")

		if !pathutil.Exists(subsystemPath) {
			if err := pathutil.Create(subsystemPath); err != nil {
				return fmt.Errorf("create %s: %w", subsystemPath, err)
			}
			if err := unix.Mount("cgroup", subsystemPath, "cgroup", 0, rule.Subsystem); err != nil {
				return fmt.Errorf("mount cgroup subsystem %s: %w", rule.Subsystem, err)
			}
		}

		if err := pathutil.Create(hierarchyPath); err != nil {
			return fmt.Errorf("create %s: %w", hierarchyPath, err)
		}
		if err := pathutil.WriteFile(parameterPath, "%s\n", rule.Value); err != nil {
			return fmt.Errorf("write %s: %w", parameterPath, err)
		}
		if err := pathutil.WriteFile(tasksPath, "%d\n", pid); err != nil {
			return fmt.Errorf("enroll pid in %s: %w", tasksPath, err)
		}
	}
	return nil
}
