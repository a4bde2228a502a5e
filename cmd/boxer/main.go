// Command boxer is the entrypoint described in spec §6: it parses argv,
// dispatches into worker mode when re-exec'd by its own supervisor, and
// otherwise hands the parsed configuration to internal/supervisor.Run.
//
// Grounded on boxer.c's main(), which is itself a thin options_parse ->
// boxer_run wrapper; the re-exec dispatch is the Go-specific addition
// DESIGN.md explains (minimega's containerShim idiom).
package main

import (
	"fmt"
	"io"
	"os"

	"boxer/internal/boxlog"
	"boxer/internal/options"
	"boxer/internal/supervisor"
)

// version is reported by --version; boxer has no release process of its
// own to pull a real value from, so this is a fixed placeholder like the
// teacher's own ad-hoc version strings.
const version = "boxer 0.1.0"

const usage = `Usage: boxer [OPTION]... [--] [COMMAND...]

Launch COMMAND inside a fresh set of Linux namespaces with an isolated
root filesystem, optional cgroup constraints, and a private pty.

Options:
  -h, --help                  print this help and exit
  -v, --version               print version and exit
  -b, --bind=SRC[:DST]        bind mount SRC at DST (defaults to SRC)
  -B, --bind-ro=SRC[:DST]     read-only bind mount
  -d, --domain=NAME           set the container's NIS domain name
  -H, --home=DIR              container HOME (defaults from the user record)
      --host=NAME             set the container's hostname
  -i, --image=DIR             root filesystem image to seed root from
  -r, --root=DIR              root filesystem target (default /var/boxer/<id>/)
  -u, --user=NAME             container user (defaults to the caller)
  -w, --work=DIR              working directory (defaults to home)
      --cgroup.SUBSYS.PARAM=VALUE   write VALUE to a cgroup controller parameter
      --rlimit.RESOURCE=HARD or SOFT/HARD   apply a resource limit

COMMAND defaults to the container user's login shell.
`

func main() {
	argv := os.Args[1:]

	if supervisor.IsWorker(argv) {
		if err := supervisor.RunWorker(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	parsed, err := options.Parse(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if parsed.Help {
		printUsage(os.Stdout)
		os.Exit(0)
	}
	if parsed.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := supervisor.Run(parsed); err != nil {
		boxlog.NewStderr("--------------------").Error("%s", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, usage)
}
