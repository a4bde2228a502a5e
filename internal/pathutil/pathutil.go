// Package pathutil implements the path primitives of spec §4.1: a pure
// string normalizer, a left-to-right recursive mkdir, a physical-mode
// recursive tree copy that preserves mode/ownership and replicates
// symlinks verbatim, and a write-once formatted file writer.
//
// Grounded on boxer.c's path_clean/path_create/path_iterate/path_sync*/
// path_write.
package pathutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Clean collapses runs of '/' and strips a trailing '/' unless the path is
// exactly "/". It is a pure string operation: it does not require path to
// exist, unlike filepath.Abs/EvalSymlinks.
func Clean(path string) string {
	if path == "" {
		return path
	}

	var b strings.Builder
	b.Grow(len(path))

	i := 0
	for i < len(path) {
		c := path[i]
		b.WriteByte(c)
		if c == '/' {
			for i < len(path) && path[i] == '/' {
				i++
			}
		} else {
			i++
		}
	}

	out := b.String()
	if len(out) > 1 && out[len(out)-1] == '/' {
		out = out[:len(out)-1]
	}
	return out
}

// Create recursively creates path's directories, prefix by prefix, like
// `mkdir -p`. "already exists" is not an error; any other mkdir failure
// is fatal to the caller.
func Create(path string) error {
	clean := Clean(path)
	if clean == "" {
		return nil
	}

	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	prefix := ""
	if strings.HasPrefix(clean, "/") {
		prefix = "/"
	}

	for _, part := range parts {
		if part == "" {
			continue
		}
		prefix = filepath.Join(prefix, part)
		if prefix == "" {
			prefix = "/" + part
		}
		if err := os.Mkdir(prefix, 0755); err != nil && !os.IsExist(err) {
			return fmt.Errorf("mkdir %s: %w", prefix, err)
		}
	}
	return nil
}

// Exists reports whether path can be lstat'd (a dangling symlink counts
// as existing).
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Sync walks source in physical (non-symlink-following) mode and replicates
// every entry under target, preserving mode and ownership. Device files and
// sockets are out of scope, matching boxer.c's path_sync.
func Sync(source, target string) error {
	source = Clean(source)
	target = Clean(target)

	return filepath.Walk(source, func(src string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(src, source)
		if rel == "" {
			return nil
		}
		dst := Clean(target + "/" + rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			if err := syncSymlink(src, dst); err != nil {
				return err
			}
		case info.IsDir():
			if err := os.Mkdir(dst, info.Mode().Perm()); err != nil && !os.IsExist(err) {
				return fmt.Errorf("mkdir %s: %w", dst, err)
			}
		case info.Mode().IsRegular():
			if err := syncRegular(src, dst); err != nil {
				return err
			}
		default:
			// devices/sockets: out of scope for sync.
			return nil
		}

		return syncOwnership(dst, info)
	})
}

func syncRegular(src, dst string) error {
	in, err := os.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	// An explicit restrictive mode here closes the undefined-permissions
	// window boxer.c leaves open between O_CREAT and the later chmod
	// (spec §9 Open Questions).
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

func syncSymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("readlink %s: %w", src, err)
	}
	if err := os.Symlink(target, dst); err != nil {
		return fmt.Errorf("symlink %s %s: %w", target, dst, err)
	}
	return nil
}

func syncOwnership(dst string, info os.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return os.Lchown(dst, int(stat.Uid), int(stat.Gid))
	}
	if err := os.Chown(dst, int(stat.Uid), int(stat.Gid)); err != nil {
		return fmt.Errorf("chown %s: %w", dst, err)
	}
	if err := os.Chmod(dst, info.Mode()); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	return nil
}

// WriteFile opens path write-only (creating if absent would be a caller
// bug: boxer.c's path_write never creates), writes the formatted content
// once, and closes. Any failure is fatal to the caller.
func WriteFile(path, format string, args ...interface{}) error {
	f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, format, args...); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
