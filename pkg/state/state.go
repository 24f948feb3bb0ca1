// Package state owns the on-disk runtime layout kept next to the
// database: retention artifacts, crash dumps and scratch space.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds the resolved runtime directories under the DB path.
type Paths struct {
	Store     string
	State     string
	Retention string
	Crash     string
	Tmp       string
}

// PathsVar is the canonical layout, populated by EnsureStateDirs.
var PathsVar Paths

// EnsureStateDirs creates the runtime folder layout under the provided
// DB path. Existing paths must be plain directories without group or
// other write bits; symlinks are rejected.
func EnsureStateDirs(dbPath string) error {
	p := Paths{
		Store:     filepath.Join(dbPath, "store"),
		State:     filepath.Join(dbPath, "state"),
		Retention: filepath.Join(dbPath, "state", "retention"),
		Crash:     filepath.Join(dbPath, "state", "crash"),
		Tmp:       filepath.Join(dbPath, "state", "tmp"),
	}

	for _, dir := range []string{p.Store, p.Retention, p.Crash, p.Tmp} {
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", dir)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", dir)
			}
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", dir, err)
		}
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	PathsVar = p
	return nil
}
