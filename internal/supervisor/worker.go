package supervisor

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"boxer/internal/boxlog"
	"boxer/internal/cgrouprules"
	"boxer/internal/rlimit"
	"boxer/internal/rootfs"
	"boxer/internal/userinfo"
)

// workerConfigFD and workerSlaveFD are the ExtraFiles slots Run wires up
// before cmd.Start: fd 3 carries the JSON config, fd 4 the pty slave.
const (
	workerConfigFD = 3
	workerSlaveFD  = 4
)

// RunWorker is the worker half of boxer_run's fork branch: it runs
// inside the freshly cloned namespaces, becomes session leader, attaches
// the inherited pty slave as its controlling terminal, builds and enters
// the container root, applies resource rules, drops privilege, and execs
// the target command. It does not return on success.
func RunWorker() error {
	configFile := os.NewFile(uintptr(workerConfigFD), "config")
	cfg, err := readConfig(configFile)
	configFile.Close()
	if err != nil {
		return err
	}

	slave := os.NewFile(uintptr(workerSlaveFD), cfg.Console)
	log := boxlog.NewStderr(cfg.RunID)

	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("setsid: %w", err)
	}

	if err := attachConsole(slave, cfg.User); err != nil {
		return err
	}

	if err := rootfs.Build(rootfs.Config{
		Root:    cfg.Root,
		Image:   cfg.Image,
		Host:    cfg.Host,
		Domain:  cfg.Domain,
		Home:    cfg.Home,
		Work:    cfg.Work,
		User:    cfg.User,
		Binds:   cfg.Binds,
		Console: cfg.Console,
		Log:     log,
	}); err != nil {
		return fmt.Errorf("build root: %w", err)
	}

	// Cgroup/rlimit rules apply after entering the container, or the
	// user would see an empty /sys/fs/cgroup (boxer.c's own comment on
	// container_setup_cgroup's placement).
	if err := cgrouprules.Apply(cfg.RunID, os.Getpid(), cfg.Cgroups); err != nil {
		return fmt.Errorf("apply cgroup rules: %w", err)
	}
	if err := rlimit.Apply(cfg.Rlimits); err != nil {
		return fmt.Errorf("apply rlimits: %w", err)
	}

	return execCommand(cfg.User.UID, cfg.User.GID, cfg.Command)
}

func attachConsole(slave *os.File, user userinfo.Spec) error {
	fd := int(slave.Fd())
	if err := unix.IoctlSetInt(fd, unix.TIOCSCTTY, 0); err != nil {
		return fmt.Errorf("ioctl TIOCSCTTY: %w", err)
	}

	for _, dst := range []int{0, 1, 2} {
		if err := unix.Dup2(fd, dst); err != nil {
			return fmt.Errorf("dup2 console slave -> %d: %w", dst, err)
		}
	}
	slave.Close()

	for _, dst := range []int{0, 1, 2} {
		if err := unix.Fchown(dst, user.UID, user.GID); err != nil {
			return fmt.Errorf("fchown console fd %d: %w", dst, err)
		}
	}
	return nil
}

// execCommand drops root privilege the way container_run does: setgid,
// setuid, then a setuid(0) that must fail, proving privilege can't be
// regained before execve replaces this process image.
func execCommand(uid, gid int, command []string) error {
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid: %w", err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("setuid: %w", err)
	}
	if err := unix.Setuid(0); err == nil {
		return fmt.Errorf("permissions restorable after setuid(%d)", uid)
	}

	if len(command) == 0 {
		return fmt.Errorf("no command to run")
	}
	path := command[0]
	if resolved, err := exec.LookPath(path); err == nil {
		path = resolved
	}
	return unix.Exec(path, command, os.Environ())
}
