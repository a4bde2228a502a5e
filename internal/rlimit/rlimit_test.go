package rlimit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"boxer/internal/options"
)

func TestApplyRejectsUnknownResource(t *testing.T) {
	err := Apply([]options.RlimitRule{{Name: "BOGUS", Soft: "1", Hard: "1"}})
	require.Error(t, err)
}

func TestApplyAcceptsKnownResourceCaseInsensitively(t *testing.T) {
	// NOFILE soft/hard set to the process's current limits is a no-op
	// setrlimit, safe to exercise in a test without a privileged sandbox.
	var cur unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &cur))

	err := Apply([]options.RlimitRule{{
		Name: "nofile",
		Soft: fmt.Sprintf("%d", cur.Cur),
		Hard: fmt.Sprintf("%d", cur.Max),
	}})
	require.NoError(t, err)
}

func TestApplyRejectsMalformedValue(t *testing.T) {
	err := Apply([]options.RlimitRule{{Name: "NOFILE", Soft: "not-a-number", Hard: "512"}})
	require.Error(t, err)
}
