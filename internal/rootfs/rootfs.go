// Package rootfs builds and enters a run's filesystem: the private mount
// namespace, the canonical mount table, device nodes, user bind mounts,
// chroot, and the post-chroot symlinks and home/work directories of
// spec §4.2-§4.4.
//
// Grounded on boxer.c's container_setup/mount_setup/device_setup, with
// the private-namespace isolation step itself grounded on minimega's
// containerSetupRoot (container.go) for the Go unshare/bind-mount idiom.
package rootfs

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"boxer/internal/boxlog"
	"boxer/internal/options"
	"boxer/internal/pathutil"
	"boxer/internal/userinfo"
)

// mountSpec is the Mount entity of spec §3: a canonical table entry
// describing one of the filesystems every run gets regardless of
// configuration.
type mountSpec struct {
	source string
	target string
	fstype string
	data   string
	flags  uintptr
}

// mounts is the canonical mount table, grounded on boxer.c's "mounts[]".
var mounts = []mountSpec{
	{source: "/bin", target: "bin", flags: unix.MS_BIND | unix.MS_RDONLY | unix.MS_NOSUID},
	{source: "/dev", target: "dev", fstype: "tmpfs", data: "mode=755", flags: unix.MS_NOSUID},
	{source: "/dev/pts", target: "dev/pts", fstype: "devpts", data: "newinstance,ptmxmode=0666,mode=0620,gid=5", flags: unix.MS_NOEXEC | unix.MS_NOSUID},
	{source: "/dev/shm", target: "dev/shm", fstype: "tmpfs", data: "mode=1777,size=65536k", flags: unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV},
	{source: "/etc", target: "etc", flags: unix.MS_BIND | unix.MS_RDONLY | unix.MS_NOEXEC | unix.MS_NOSUID},
	{source: "/lib", target: "lib", flags: unix.MS_BIND | unix.MS_RDONLY | unix.MS_NOSUID},
	{source: "/lib64", target: "lib64", flags: unix.MS_BIND | unix.MS_RDONLY | unix.MS_NOSUID},
	{source: "/proc", target: "proc", fstype: "proc", flags: unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV},
	{source: "/run", target: "run", fstype: "tmpfs", data: "mode=755", flags: unix.MS_NOSUID | unix.MS_NODEV},
	{source: "/sys", target: "sys", fstype: "sysfs", flags: unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV | unix.MS_RDONLY},
	{source: "/sys/fs/cgroup", target: "sys/fs/cgroup", fstype: "tmpfs", data: "mode=755", flags: unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV},
	{source: "/tmp", target: "tmp", fstype: "tmpfs", data: "mode=1777", flags: unix.MS_NOSUID | unix.MS_NODEV},
	{source: "/usr/bin", target: "usr/bin", flags: unix.MS_BIND | unix.MS_RDONLY | unix.MS_NOSUID},
	{source: "/usr/lib", target: "usr/lib", flags: unix.MS_BIND | unix.MS_RDONLY | unix.MS_NOSUID},
	{source: "/usr/share", target: "usr/share", flags: unix.MS_BIND | unix.MS_RDONLY | unix.MS_NOSUID},
}

// deviceSpec is the Device entity of spec §3: a fixed major/minor/mode
// table, grounded on boxer.c's device table and minimega's
// containerMknodDevices. mode 0 means "mirror the host node's mode";
// ownership always mirrors the host node regardless of mode, including
// for /dev/console (spec §9 Open Questions: preserved as-is).
type deviceSpec struct {
	name         string
	major, minor uint32
	mode         uint32
}

var devices = []deviceSpec{
	{name: "/dev/null", major: 1, minor: 3},
	{name: "/dev/console", major: 1, minor: 3, mode: 0666},
	{name: "/dev/zero", major: 1, minor: 5},
	{name: "/dev/full", major: 1, minor: 7},
	{name: "/dev/tty", major: 5, minor: 0},
	{name: "/dev/random", major: 1, minor: 8},
	{name: "/dev/urandom", major: 1, minor: 9},
}

// Config is what the supervisor has resolved before entering the
// container: the filesystem root, optional source image, optional
// hostname/domain, the resolved user, and user-provided bind mounts.
type Config struct {
	Root    string
	Image   string
	Host    string
	Domain  string
	Home    string
	Work    string
	User    userinfo.Spec
	Binds   []options.BindMount
	Console string // host-side console device to bind at dev/console, if any
	Log     *boxlog.Logger
}

// Build assembles the container root, enters it via chroot, and leaves
// the caller with its current directory set to Work. It must run after
// the process has already unshared its own mount namespace (the
// supervisor's job, mirroring minimega's containerSetupRoot step, done
// before this package's Build is ever called).
func Build(cfg Config) error {
	root := pathutil.Clean(cfg.Root)

	if err := pathutil.Create(root); err != nil {
		return fmt.Errorf("create root %s: %w", root, err)
	}

	// Do not propagate mounts to or from the real root.
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("make / private: %w", err)
	}

	if err := unix.Mount("tmpfs", root, "tmpfs", unix.MS_NOSUID, "size=512"); err != nil {
		return fmt.Errorf("mount tmpfs at %s: %w", root, err)
	}

	if cfg.Image != "" {
		if err := pathutil.Sync(cfg.Image, root); err != nil {
			return fmt.Errorf("sync image %s -> %s: %w", cfg.Image, root, err)
		}
	}

	if cfg.Host != "" {
		if err := unix.Sethostname([]byte(cfg.Host)); err != nil {
			return fmt.Errorf("sethostname: %w", err)
		}
	}
	if cfg.Domain != "" {
		if err := unix.Setdomainname([]byte(cfg.Domain)); err != nil {
			return fmt.Errorf("setdomainname: %w", err)
		}
	}

	for _, m := range mounts {
		if err := mountDefault(root, cfg.Image, m, cfg.Log); err != nil {
			return err
		}
	}

	prevUmask := unix.Umask(0)
	for _, d := range devices {
		if err := mknodDevice(root, d); err != nil {
			unix.Umask(prevUmask)
			return err
		}
	}
	unix.Umask(prevUmask)

	for _, b := range cfg.Binds {
		target := b.Target
		if target == "" {
			target = b.Source
		}
		flags := uintptr(unix.MS_BIND)
		if b.ReadOnly {
			flags |= unix.MS_RDONLY
		}
		if err := mountRaw(mountSpec{
			source: b.Source,
			target: filepath.Join(root, target),
			flags:  flags,
		}); err != nil {
			return err
		}
	}

	ptmx := filepath.Join(root, "dev", "ptmx")
	os.Remove(ptmx)
	if err := os.Symlink("pts/ptmx", ptmx); err != nil {
		return fmt.Errorf("symlink pts/ptmx: %w", err)
	}
	if err := os.Chmod(filepath.Join(root, "dev", "pts", "ptmx"), 0666); err != nil {
		return fmt.Errorf("chmod dev/pts/ptmx: %w", err)
	}

	if cfg.Console != "" {
		if err := unix.Mount(cfg.Console, filepath.Join(root, "dev", "console"), "", unix.MS_BIND, ""); err != nil {
			return fmt.Errorf("bind console: %w", err)
		}
	}

	if err := unix.Chroot(root); err != nil {
		return fmt.Errorf("chroot %s: %w", root, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}

	for _, l := range [][2]string{
		{"/proc/self/fd", "/dev/fd"},
		{"/proc/self/fd/0", "/dev/stdin"},
		{"/proc/self/fd/1", "/dev/stdout"},
		{"/proc/self/fd/2", "/dev/stderr"},
	} {
		os.Remove(l[1])
		if err := os.Symlink(l[0], l[1]); err != nil {
			return fmt.Errorf("symlink %s: %w", l[1], err)
		}
	}

	if err := ensureOwnedDir(cfg.Home, cfg.User); err != nil {
		return err
	}
	if err := ensureOwnedDir(cfg.Work, cfg.User); err != nil {
		return err
	}

	if err := unix.Chdir(cfg.Work); err != nil {
		return fmt.Errorf("chdir %s: %w", cfg.Work, err)
	}

	return nil
}

func ensureOwnedDir(path string, user userinfo.Spec) error {
	if pathutil.Exists(path) {
		return nil
	}
	if err := pathutil.Create(path); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := os.Chown(path, user.UID, user.GID); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}
	return nil
}

// mountDefault mounts one canonical table entry under root, skipping it
// (with a warning, per spec §4.3/§7) when the image already supplies
// that path (mirrors container_image_contains: letting the image own
// e.g. /etc or /bin) or when the host lacks the entry's source.
func mountDefault(root, image string, m mountSpec, log *boxlog.Logger) error {
	if image != "" && pathutil.Exists(filepath.Join(image, m.target)) {
		warnf(log, "skipping mount of %s: already provided by image", m.target)
		return nil
	}

	if m.source != "" && !pathutil.Exists(m.source) {
		warnf(log, "skipping mount of %s: host source missing", m.source)
		return nil
	}

	spec := m
	spec.target = filepath.Join(root, m.target)
	return mountRaw(spec)
}

func warnf(log *boxlog.Logger, format string, args ...interface{}) {
	if log != nil {
		log.Warn(format, args...)
	}
}

// mountRaw performs the mount, and, for bind mounts carrying extra flags
// beyond MS_BIND itself, the follow-up MS_REMOUNT the kernel requires to
// apply those flags (the first mount only ever inherits the source's own
// flags; see spec §9 on this being a preserved kernel quirk, not a bug).
func mountRaw(m mountSpec) error {
	if err := pathutil.Create(m.target); err != nil {
		return fmt.Errorf("create mount target %s: %w", m.target, err)
	}

	if err := unix.Mount(m.source, m.target, m.fstype, m.flags, m.data); err != nil {
		return fmt.Errorf("mount %s %s: %w", m.source, m.target, err)
	}

	if m.flags&unix.MS_BIND != 0 && m.flags != unix.MS_BIND {
		if err := unix.Mount("", m.target, m.fstype, m.flags|unix.MS_REMOUNT, m.data); err != nil {
			return fmt.Errorf("remount %s %s: %w", m.source, m.target, err)
		}
	}
	return nil
}

// mknodDevice recreates name under root using the table's major/minor
// and mode (falling back to the host node's mode when the table says 0,
// e.g. /dev/null), chowning to the host node's owner regardless of mode
// (ownership mirrors the host stat even for /dev/console: preserved,
// see spec §9 Open Questions).
func mknodDevice(root string, d deviceSpec) error {
	var st unix.Stat_t
	if err := unix.Stat(d.name, &st); err != nil {
		return fmt.Errorf("stat %s: %w", d.name, err)
	}

	mode := d.mode
	if mode == 0 {
		mode = st.Mode & 0777
	}

	path := filepath.Join(root, d.name)
	dev := int(unix.Mkdev(d.major, d.minor))
	if err := unix.Mknod(path, unix.S_IFCHR|mode, dev); err != nil {
		return fmt.Errorf("mknod %s: %w", d.name, err)
	}
	if err := os.Chown(path, int(st.Uid), int(st.Gid)); err != nil {
		return fmt.Errorf("chown %s: %w", d.name, err)
	}
	return nil
}
