// Package rlimit applies the closed RlimitRule set of spec §4.5 to the
// calling process via setrlimit.
//
// Grounded on boxer.c's container_setup_rlimit, which validates resource
// names against a fixed RLIMIT_* table before calling setrlimit, and
// str_to_long, which resolves the K/M/G suffixes (replicated here as
// options.ParseSize; cgroup rule values are not parsed by it and are
// written verbatim).
package rlimit

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"boxer/internal/options"
)

// names mirrors container_setup_rlimit's RLIMIT_* lookup table: the
// closed set of resource names boxer accepts, each mapped to its unix
// RLIMIT_* constant.
var names = map[string]int{
	"CPU":        unix.RLIMIT_CPU,
	"FSIZE":      unix.RLIMIT_FSIZE,
	"DATA":       unix.RLIMIT_DATA,
	"STACK":      unix.RLIMIT_STACK,
	"CORE":       unix.RLIMIT_CORE,
	"RSS":        unix.RLIMIT_RSS,
	"NOFILE":     unix.RLIMIT_NOFILE,
	"AS":         unix.RLIMIT_AS,
	"NPROC":      unix.RLIMIT_NPROC,
	"MEMLOCK":    unix.RLIMIT_MEMLOCK,
	"LOCKS":      unix.RLIMIT_LOCKS,
	"SIGPENDING": unix.RLIMIT_SIGPENDING,
	"MSGQUEUE":   unix.RLIMIT_MSGQUEUE,
	"NICE":       unix.RLIMIT_NICE,
	"RTPRIO":     unix.RLIMIT_RTPRIO,
	"RTTIME":     unix.RLIMIT_RTTIME,
}

// Apply sets every rule in rules via setrlimit, rejecting any resource
// name outside the closed set. An unknown name is fatal to the caller,
// matching container_setup_rlimit's fatal("Unknown rlimit %s", ...).
func Apply(rules []options.RlimitRule) error {
	for _, rule := range rules {
		resource, ok := names[strings.ToUpper(rule.Name)]
		if !ok {
			return fmt.Errorf("unknown rlimit %s", rule.Name)
		}

		soft, err := options.ParseSize(rule.Soft)
		if err != nil {
			return fmt.Errorf("rlimit %s soft value: %w", rule.Name, err)
		}
		hard, err := options.ParseSize(rule.Hard)
		if err != nil {
			return fmt.Errorf("rlimit %s hard value: %w", rule.Name, err)
		}

		lim := unix.Rlimit{Cur: uint64(soft), Max: uint64(hard)}
		if err := unix.Setrlimit(resource, &lim); err != nil {
			return fmt.Errorf("setrlimit %s: %w", rule.Name, err)
		}
	}
	return nil
}
