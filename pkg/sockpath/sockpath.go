// Package sockpath implements the non-root socket-path discovery rules
// of spec §6: where the master creates the local sender/listener
// Unix-domain sockets when no remote drone URI is given.
package sockpath

import (
	"fmt"
	"os"
)

// Paths holds the send and listen socket paths for one master instance,
// plus the directory mode it should be created with.
type Paths struct {
	Dir     string
	Send    string
	Listen  string
	DirMode os.FileMode
}

// Discover implements spec §6's three-tier fallback:
//  1. root -> /var/unicornscan
//  2. $XDG_RUNTIME_DIR set and a directory -> $XDG_RUNTIME_DIR/unicornscan
//  3. otherwise -> /tmp/unicornscan-$UID
func Discover() Paths {
	uid := os.Getuid()
	if uid == 0 {
		return newPaths("/var/unicornscan", 0755)
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return newPaths(dir+"/unicornscan", 0700)
		}
	}
	return newPaths(fmt.Sprintf("/tmp/unicornscan-%d", uid), 0700)
}

func newPaths(dir string, mode os.FileMode) Paths {
	return Paths{
		Dir:     dir,
		Send:    dir + "/send",
		Listen:  dir + "/listen",
		DirMode: mode,
	}
}

// EnsureDir creates p.Dir with p.DirMode if it does not already exist.
func (p Paths) EnsureDir() error {
	if err := os.MkdirAll(p.Dir, p.DirMode); err != nil {
		return fmt.Errorf("sockpath: create %s: %w", p.Dir, err)
	}
	return os.Chmod(p.Dir, p.DirMode)
}
