package userinfo

import (
	"bufio"
	"os"
	"strings"
)

const defaultShell = "/bin/sh"

// loginShell reads /etc/passwd directly for the pw_shell field: os/user
// only exposes uid/gid/home/username, not the shell, so this fills the
// gap getpwnam/getpwuid otherwise cover in boxer.c.
func loginShell(username string) string {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return defaultShell
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 || fields[0] != username {
			continue
		}
		if fields[6] == "" {
			return defaultShell
		}
		return fields[6]
	}
	return defaultShell
}
