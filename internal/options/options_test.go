package options

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLongAndShortForms(t *testing.T) {
	p, err := Parse([]string{"--user=alice", "-r", "/srv/root", "--bind", "/data:/mnt:"})
	require.NoError(t, err)
	require.Equal(t, "alice", p.User)
	require.Equal(t, "/srv/root", p.Root)
	require.Len(t, p.Binds, 1)
	require.Equal(t, "/data", p.Binds[0].Source)
}

func TestParseHelpAloneNeedsNoArgument(t *testing.T) {
	p, err := Parse([]string{"--help"})
	require.NoError(t, err)
	require.True(t, p.Help)

	p, err = Parse([]string{"-h"})
	require.NoError(t, err)
	require.True(t, p.Help)
}

func TestParseVersionAloneNeedsNoArgument(t *testing.T) {
	p, err := Parse([]string{"-v"})
	require.NoError(t, err)
	require.True(t, p.Version)
}

func TestParseDoubleDashStopsOptions(t *testing.T) {
	p, err := Parse([]string{"--user=alice", "--", "-x", "positional"})
	require.NoError(t, err)
	require.Equal(t, "alice", p.User)
	require.Equal(t, []string{"-x", "positional"}, p.Command)
}

func TestParseUnknownOptionWarns(t *testing.T) {
	p, err := Parse([]string{"--bogus=1", "echo", "hi"})
	require.NoError(t, err)
	require.Len(t, p.Warnings, 1)
	require.Equal(t, []string{"echo", "hi"}, p.Command)
}

func TestParseCgroupDynamicFamily(t *testing.T) {
	p, err := Parse([]string{"--cgroup.memory.limit_in_bytes=1048576"})
	require.NoError(t, err)
	require.Len(t, p.Cgroups, 1)
	require.Equal(t, "memory", p.Cgroups[0].Subsystem)
	require.Equal(t, "limit_in_bytes", p.Cgroups[0].Parameter)
	require.Equal(t, "1048576", p.Cgroups[0].Value)
}

func TestParseCgroupLastWriteWins(t *testing.T) {
	p, err := Parse([]string{
		"--cgroup.memory.limit_in_bytes=1",
		"--cgroup.memory.limit_in_bytes=2",
	})
	require.NoError(t, err)
	require.Len(t, p.Cgroups, 1)
	require.Equal(t, "2", p.Cgroups[0].Value)
}

func TestParseRlimitFamily(t *testing.T) {
	p, err := Parse([]string{"--rlimit.nofile=256/512"})
	require.NoError(t, err)
	require.Len(t, p.Rlimits, 1)
	require.Equal(t, "nofile", p.Rlimits[0].Name)
	require.Equal(t, "256", p.Rlimits[0].Soft)
	require.Equal(t, "512", p.Rlimits[0].Hard)
}

func TestParseRlimitSingleValueAppliesToBoth(t *testing.T) {
	p, err := Parse([]string{"--rlimit.nproc=64"})
	require.NoError(t, err)
	require.Equal(t, "64", p.Rlimits[0].Soft)
	require.Equal(t, "64", p.Rlimits[0].Hard)
}

func TestParseSizeSuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1k", 1024},
		{"1K", 1024},
		{"2M", 2097152},
		{"3G", 3221225472},
		{"42", 42},
	}
	for _, c := range cases {
		got, err := ParseSize(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	_, err := ParseSize("abc")
	require.Error(t, err)
}
