// Package console bridges the supervisor's stdin/stdout to a pty slave
// given to the worker process, implementing the Console entity of
// spec §3/§4.6: raw-mode terminal handling with asymmetric flag
// preservation, bounded byte pumping, and window-size forwarding.
//
// Grounded on boxer.c's console_setup/console_setup_master/
// console_make_raw/console_buffer_pipe/console_forward_size/
// console_restore. Master allocation uses github.com/kr/pty (the
// teacher's own pty dependency, used for its web console in
// src/miniweb/handlers.go) in place of posix_openpt/ptsname/unlockpt;
// the raw-mode transform itself is hand-rolled over golang.org/x/sys/unix
// termios ioctls because no pack library exposes console_make_raw's
// asymmetric per-fd flag preservation (see SPEC_FULL §4.6).
package console

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/kr/pty"
	"golang.org/x/sys/unix"
)

// lineMax bounds each buffered read/write, mirroring boxer.c's LINE_MAX
// console_buffer sizing.
const lineMax = 4096

// Console owns the pty master/slave pair and the saved terminal state
// needed to restore stdin/stdout when the run ends.
type Console struct {
	Master *os.File
	Slave  *os.File
	Path   string

	savedStdin  unix.Termios
	savedStdout unix.Termios
	haveStdin   bool
	haveStdout  bool
}

// Open allocates a pty pair, matching console_setup, and sets the slave's
// mode to 0600. It does not change the slave's owner: the worker fchowns
// its stdin/stdout/stderr to the container user after attaching the slave
// to them (attachConsole in internal/supervisor).
func Open() (*Console, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty: %w", err)
	}
	if err := slave.Chmod(0600); err != nil {
		master.Close()
		slave.Close()
		return nil, fmt.Errorf("chmod pty slave: %w", err)
	}
	return &Console{Master: master, Slave: slave, Path: slave.Name()}, nil
}

// Chown transfers slave ownership to uid/gid (boxer.c does this with
// chown 0,0 up front since it runs as root already). The supervisor does
// not call it; the worker's fchown of its stdio descriptors sets the
// slave's owner instead.
func (c *Console) Chown(uid, gid int) error {
	return c.Slave.Chown(uid, gid)
}

// MakeRaw puts stdin and stdout into raw mode, preserving the opposite
// direction's flags the way console_make_raw does: stdin keeps its
// output flags, stdout keeps its input and local flags. Symmetric
// "make everything raw" helpers (x/term.MakeRaw, kr/pty's own helpers)
// can't express this split, hence the direct ioctl calls.
func (c *Console) MakeRaw(stdin, stdout *os.File) error {
	saved, err := unix.IoctlGetTermios(int(stdin.Fd()), unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgetattr stdin: %w", err)
	}
	c.savedStdin = *saved
	c.haveStdin = true

	raw := *saved
	cfmakeraw(&raw)
	raw.Oflag = saved.Oflag
	if err := unix.IoctlSetTermios(int(stdin.Fd()), unix.TCSETS, &raw); err != nil {
		return fmt.Errorf("tcsetattr stdin: %w", err)
	}

	saved, err = unix.IoctlGetTermios(int(stdout.Fd()), unix.TCGETS)
	if err != nil {
		return fmt.Errorf("tcgetattr stdout: %w", err)
	}
	c.savedStdout = *saved
	c.haveStdout = true

	raw = *saved
	cfmakeraw(&raw)
	raw.Iflag = saved.Iflag
	raw.Lflag = saved.Lflag
	if err := unix.IoctlSetTermios(int(stdout.Fd()), unix.TCSETS, &raw); err != nil {
		return fmt.Errorf("tcsetattr stdout: %w", err)
	}

	return nil
}

// cfmakeraw replicates glibc's cfmakeraw, which golang.org/x/sys/unix
// does not expose directly.
func cfmakeraw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

// SetNonblocking puts f into (or out of) non-blocking mode, matching
// console_setup's O_NONBLOCK on host stdin/stdout and the pty master: the
// epoll-driven byte pump in internal/supervisor requires every fd it
// polls to be non-blocking so a partial read never stalls the loop.
func SetNonblocking(f *os.File, nonblocking bool) error {
	return unix.SetNonblock(int(f.Fd()), nonblocking)
}

// Restore restores whichever terminal attributes MakeRaw saved and puts
// stdin/stdout back into blocking mode, matching console_restore. It does
// not pump remaining output; the caller does that final pump first
// (teardown in internal/supervisor).
func (c *Console) Restore(stdin, stdout *os.File) {
	if c.haveStdout {
		unix.IoctlSetTermios(int(stdout.Fd()), unix.TCSETS, &c.savedStdout)
	}
	if c.haveStdin {
		unix.IoctlSetTermios(int(stdin.Fd()), unix.TCSETS, &c.savedStdin)
	}
	unix.SetNonblock(int(stdin.Fd()), false)
	unix.SetNonblock(int(stdout.Fd()), false)
}

// ForwardSize copies the window size of source onto target, matching
// console_forward_size.
func ForwardSize(source, target *os.File) {
	ws, err := unix.IoctlGetWinsize(int(source.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return
	}
	unix.IoctlSetWinsize(int(target.Fd()), unix.TIOCSWINSZ, ws)
}

// Buffer is the bounded byte-shuttle state of console_buffer_pipe: a
// partially-drained read that may need more than one write to flush,
// held across epoll wakeups rather than reallocated per call so a slow
// writer doesn't drop bytes that were already read off the source.
type Buffer struct {
	data [lineMax]byte
	len  int
}

// Pump copies everything immediately available from source to target
// without blocking past what's already buffered, matching
// console_buffer_pipe's single read-then-write-what-fits step. EAGAIN
// and EINTR on a read are transient: the descriptor stays live and the
// caller will be woken again. Pump returns false once source reports EOF
// or any other non-transient read error, signaling the caller to stop
// polling this descriptor. A failed write is ignored outright, exactly
// as boxer.c's console_buffer_pipe ignores a negative write() return:
// whatever didn't get written stays buffered for the next wakeup, and
// the source side is never torn down because the destination stalled.
func (b *Buffer) Pump(source, target *os.File) (ok bool, err error) {
	n, rerr := source.Read(b.data[b.len:])
	if n > 0 {
		b.len += n
	}

	alive := true
	if rerr != nil && !isTransient(rerr) {
		alive = false
		if !errors.Is(rerr, io.EOF) {
			err = fmt.Errorf("read: %w", rerr)
		}
	}

	if b.len > 0 {
		written, _ := target.Write(b.data[:b.len])
		if written > 0 {
			copy(b.data[:b.len-written], b.data[written:b.len])
			b.len -= written
		}
	}

	return alive, err
}

// isTransient reports whether err is the kind of non-blocking-I/O error
// that means "nothing to do this wakeup", not "this descriptor is dead".
func isTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR)
}
