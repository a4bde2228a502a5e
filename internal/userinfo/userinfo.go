// Package userinfo resolves the UserSpec of spec §3 from the host password
// database, by configured name or by effective uid.
//
// Grounded on boxer.c's container_init, which calls getpwnam/getpwuid.
package userinfo

import (
	"fmt"
	"os/user"
	"strconv"
)

// Spec is the UserSpec entity of spec §3.
type Spec struct {
	Name  string
	UID   int
	GID   int
	Home  string
	Shell string
}

// Resolve looks up name in the password database, or the current
// effective user when name is empty.
func Resolve(name string) (Spec, error) {
	var u *user.User
	var err error

	if name != "" {
		u, err = user.Lookup(name)
	} else {
		u, err = user.Current()
	}
	if err != nil {
		return Spec{}, fmt.Errorf("getpw failed: %w", err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Spec{}, fmt.Errorf("malformed uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Spec{}, fmt.Errorf("malformed gid %q: %w", u.Gid, err)
	}

	shell := loginShell(u.Username)

	return Spec{
		Name:  u.Username,
		UID:   uid,
		GID:   gid,
		Home:  u.HomeDir,
		Shell: shell,
	}, nil
}
