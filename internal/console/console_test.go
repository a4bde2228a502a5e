package console

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCfmakerawClearsCanonicalMode(t *testing.T) {
	var termios unix.Termios
	termios.Lflag = unix.ICANON | unix.ECHO | unix.ISIG
	termios.Iflag = unix.ICRNL | unix.IXON
	termios.Oflag = unix.OPOST
	termios.Cflag = unix.CSIZE | unix.PARENB

	cfmakeraw(&termios)

	require.Zero(t, termios.Lflag&unix.ICANON)
	require.Zero(t, termios.Lflag&unix.ECHO)
	require.Zero(t, termios.Oflag&unix.OPOST)
	require.NotZero(t, termios.Cflag&unix.CS8)
	require.EqualValues(t, 1, termios.Cc[unix.VMIN])
}

func TestBufferPumpCopiesAvailableBytes(t *testing.T) {
	srcR, srcW, err := os.Pipe()
	require.NoError(t, err)
	defer srcR.Close()
	defer srcW.Close()

	dstR, dstW, err := os.Pipe()
	require.NoError(t, err)
	defer dstR.Close()
	defer dstW.Close()

	_, err = srcW.Write([]byte("hello"))
	require.NoError(t, err)

	var b Buffer
	ok, err := b.Pump(srcR, dstW)
	require.NoError(t, err)
	require.True(t, ok)

	out := make([]byte, 5)
	n, err := dstR.Read(out)
	require.NoError(t, err)
	require.Equal(t, "hello", string(out[:n]))
}

func TestBufferPumpReportsEOF(t *testing.T) {
	srcR, srcW, err := os.Pipe()
	require.NoError(t, err)
	defer srcR.Close()
	srcW.Close()

	dstR, dstW, err := os.Pipe()
	require.NoError(t, err)
	defer dstR.Close()
	defer dstW.Close()

	var b Buffer
	ok, err := b.Pump(srcR, dstW)
	require.NoError(t, err)
	require.False(t, ok)
}
