package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrOutsideJail = errors.New("io operation is not allowed. not in io directory")
	ErrDirNotExist = errors.New("directory does not exist")
)

// Jail confines file paths to a single root directory.
type Jail struct {
	root string
}

// NewJail resolves root to an absolute, symlink-free path. The directory
// does not have to exist yet; until it does every path is rejected.
func NewJail(root string) (*Jail, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve jail root: %w", err)
	}
	return &Jail{root: canonical(abs)}, nil
}

// canonical resolves symlinks in the longest existing prefix of an absolute
// path and appends the rest unchanged.
func canonical(abs string) string {
	abs = filepath.Clean(abs)
	var rest []string
	for dir := abs; ; {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			for i := len(rest) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, rest[i])
			}
			return resolved
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		rest = append(rest, filepath.Base(dir))
		dir = parent
	}
}

// Root returns the canonical jail root.
func (j *Jail) Root() string {
	return j.root
}

// Resolve maps path to an absolute host path under the root. Relative paths
// are taken relative to the root, not the working directory. The directory
// containing the target must exist.
func (j *Jail) Resolve(path string) (string, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(j.root, full)
	}
	full = filepath.Clean(full)

	// Existing files are judged by where they really live. A link that
	// cannot be resolved would be followed on create, so it is refused.
	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		full = resolved
	} else if info, lerr := os.Lstat(full); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: %s", ErrOutsideJail, path)
	}

	dir, err := filepath.EvalSymlinks(filepath.Dir(full))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDirNotExist, path)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrDirNotExist, path)
	}

	for d := dir; ; {
		if d == j.root {
			return filepath.Join(dir, filepath.Base(full)), nil
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideJail, path)
}

// Check reports whether path resolves under the root.
func (j *Jail) Check(path string) error {
	_, err := j.Resolve(path)
	return err
}
