// Package supervisor is the orchestrator: it resolves the run's
// configuration, builds the private cgroup and pty, re-execs itself into
// new namespaces to run the worker, and then drives the signal/console
// event loop for the life of the run, implementing the Supervisor and
// Worker entities of spec §3/§5.
//
// Grounded on boxer.c's main/boxer_run/boxer_setup/boxer_signal. Since
// the Go runtime cannot safely call fork() on its own once goroutines and
// background threads exist, the fork+unshare step is replaced by the
// re-exec shim pattern minimega uses for exactly this problem
// (containerShim/launch in container.go): the child is spawned with
// os/exec and SysProcAttr.Cloneflags, which asks the kernel to clone a
// process straight into new namespaces instead of unshare()-ing an
// existing one, and ccrun's SpawnChild (ns.go) for passing configuration
// across ExtraFiles rather than globals a forked child would inherit for
// free.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"boxer/internal/boxlog"
	"boxer/internal/cgrouptracker"
	"boxer/internal/console"
	"boxer/internal/options"
	"boxer/internal/pathutil"
	"boxer/internal/runid"
	"boxer/internal/userinfo"
)

// workerMagic is argv[1] for a re-exec'd worker process; it never
// appears in --help and is not a documented option.
const workerMagic = "__boxer_worker__"

// containerFlags is the namespace set every worker is cloned into. No
// CLONE_NEWNET: spec's Non-goals exclude network namespace setup.
const containerFlags = unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWIPC | unix.CLONE_NEWUTS

// IsWorker reports whether argv (excluding argv[0]) marks this process as
// a re-exec'd worker rather than a freshly invoked supervisor.
func IsWorker(argv []string) bool {
	return len(argv) > 0 && argv[0] == workerMagic
}

// Run resolves p into a worker configuration, sets up the private cgroup
// and pty, spawns the worker, and drives the event loop until the run
// ends.
func Run(p *options.Parsed) error {
	id, err := runid.New()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}

	log := boxlog.NewStderr(id)
	for _, w := range p.Warnings {
		log.Warn("%s", w)
	}

	user, err := userinfo.Resolve(p.User)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}

	cfg := workerConfig{
		RunID:   id,
		Root:    pathutil.Clean(defaultString(p.Root, fmt.Sprintf("/var/boxer/%s/", id))),
		Image:   p.Image,
		Host:    p.Host,
		Domain:  p.Domain,
		Home:    defaultString(p.Home, user.Home),
		User:    user,
		Binds:   rebaseBindTargets(p.Binds),
		Cgroups: p.Cgroups,
		Rlimits: p.Rlimits,
		Command: defaultCommand(p.Command, user.Shell),
	}
	cfg.Work = defaultString(p.Work, cfg.Home)

	log.Info("Boxer ID: %s", id)
	log.Info("User: %s (uid=%d, gid=%d)", user.Name, user.UID, user.GID)
	log.Info("Root: %s", cfg.Root)
	log.Info("Home: %s", cfg.Home)

	tracker, err := cgrouptracker.Setup(id, os.Getpid(), log)
	if err != nil {
		return fmt.Errorf("cgroup setup: %w", err)
	}

	con, err := console.Open()
	if err != nil {
		return fmt.Errorf("console setup: %w", err)
	}
	cfg.Console = con.Path

	configR, configW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("config pipe: %w", err)
	}

	cmd := &exec.Cmd{
		Path:       mustExecutable(),
		Args:       []string{mustExecutable(), workerMagic},
		Stdin:      nil,
		ExtraFiles: []*os.File{configR, con.Slave},
		SysProcAttr: &syscall.SysProcAttr{
			Cloneflags: containerFlags,
		},
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	configR.Close()
	con.Slave.Close()

	if err := writeConfig(configW, cfg); err != nil {
		configW.Close()
		return err
	}
	configW.Close()

	if err := tracker.Enroll(cmd.Process.Pid); err != nil {
		log.WarnErr(err, "enroll worker pid")
	}

	return runMaster(log, tracker, con, cmd)
}

func defaultString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func defaultCommand(cmd []string, shell string) []string {
	if len(cmd) > 0 {
		return cmd
	}
	return []string{shell}
}

// rebaseBindTargets fills an empty bind target from its source; the
// worker does the actual root-prefixing once it knows its final root,
// matching container_init's two-stage default-then-rebase.
func rebaseBindTargets(binds []options.BindMount) []options.BindMount {
	out := make([]options.BindMount, len(binds))
	for i, b := range binds {
		if b.Target == "" {
			b.Target = b.Source
		}
		out[i] = b
	}
	return out
}

func mustExecutable() string {
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}

// runMaster is boxer_run: blocks SIGCHLD/SIGINT/SIGTERM/SIGWINCH, wires
// a signalfd and an epoll set over the signal fd, stdin, and the pty
// master, and pumps console bytes until a terminating signal arrives.
func runMaster(log *boxlog.Logger, tracker *cgrouptracker.Tracker, con *console.Console, cmd *exec.Cmd) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var set unix.Sigset_t
	addSignal(&set, unix.SIGCHLD)
	addSignal(&set, unix.SIGINT)
	addSignal(&set, unix.SIGTERM)
	addSignal(&set, unix.SIGWINCH)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
		return fmt.Errorf("sigprocmask: %w", err)
	}

	signalFD, err := unix.Signalfd(-1, &set, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("signalfd: %w", err)
	}
	defer unix.Close(signalFD)

	epollFD, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epollFD)

	for _, f := range []*os.File{os.Stdin, os.Stdout, con.Master} {
		if err := console.SetNonblocking(f, true); err != nil {
			return fmt.Errorf("set nonblocking on fd %d: %w", f.Fd(), err)
		}
	}

	if err := con.MakeRaw(os.Stdin, os.Stdout); err != nil {
		log.WarnErr(err, "raw mode")
	}
	console.ForwardSize(os.Stdout, con.Master)

	for _, fd := range []int{signalFD, int(os.Stdin.Fd()), int(con.Master.Fd())} {
		if err := epollAdd(epollFD, fd); err != nil {
			return fmt.Errorf("epoll_ctl add %d: %w", fd, err)
		}
	}

	var in, out console.Buffer
	events := make([]unix.EpollEvent, 16)
	for {
		n, err := unix.EpollWait(epollFD, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			teardown(tracker, con)
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case signalFD:
				if status, done := handleSignal(signalFD, log, tracker, con); done {
					return exitWith(status)
				}
			case int(os.Stdin.Fd()):
				if ok, err := in.Pump(os.Stdin, con.Master); !ok {
					if err != nil {
						log.WarnErr(err, "pump stdin")
					}
					unix.EpollCtl(epollFD, unix.EPOLL_CTL_DEL, fd, nil)
				}
			case int(con.Master.Fd()):
				if ok, err := out.Pump(con.Master, os.Stdout); !ok {
					if err != nil {
						log.WarnErr(err, "pump master")
					}
					unix.EpollCtl(epollFD, unix.EPOLL_CTL_DEL, fd, nil)
				}
			}
		}
	}
}

func epollAdd(epollFD, fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	return unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, fd, &ev)
}

// addSignal sets sig's bit in set. golang.org/x/sys/unix exposes
// Sigset_t as a raw bitmask with no portable sigaddset helper, so this
// mirrors the bit math glibc's own sigaddset does.
func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	set.Val[(sig-1)/64] |= 1 << (uint(sig-1) % 64)
}

// handleSignal is boxer_signal: SIGWINCH just forwards the window size;
// SIGCHLD/SIGINT/SIGTERM tear the run down and report whether the loop
// should exit, plus the status to exit with.
func handleSignal(fd int, log *boxlog.Logger, tracker *cgrouptracker.Tracker, con *console.Console) (int, bool) {
	var info unix.SignalfdSiginfo
	if err := readSiginfo(fd, &info); err != nil {
		log.WarnErr(err, "read signalfd")
		teardown(tracker, con)
		return 1, true
	}

	switch unix.Signal(info.Signo) {
	case unix.SIGWINCH:
		console.ForwardSize(os.Stdout, con.Master)
		return 0, false
	case unix.SIGCHLD:
		status := int(info.Status)
		teardown(tracker, con)
		return status, true
	case unix.SIGINT, unix.SIGTERM:
		teardown(tracker, con)
		return 1, true
	}
	return 0, false
}

// teardown kills every process the run spawned. It deliberately does not
// remove the run's cgroup directory: spec §6 documents
// /sys/fs/cgroup/boxer/<RunId> as leaked on exit, not cleaned up once its
// children are dead.
func teardown(tracker *cgrouptracker.Tracker, con *console.Console) {
	tracker.KillAll(os.Getpid())

	var out console.Buffer
	out.Pump(con.Master, os.Stdout)
	con.Restore(os.Stdin, os.Stdout)
}

func readSiginfo(fd int, info *unix.SignalfdSiginfo) error {
	buf := (*[unix.SizeofSignalfdSiginfo]byte)(unsafe.Pointer(info))[:]
	n, err := unix.Read(fd, buf)
	if err != nil {
		return err
	}
	if n != unix.SizeofSignalfdSiginfo {
		return fmt.Errorf("short signalfd read: %d bytes", n)
	}
	return nil
}

func exitWith(status int) error {
	os.Exit(status)
	return nil
}
