// Package files has small file-system helpers shared by the other packages.
package files

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Exists returns whether the path exists. Errors other than "not exist" are reported as existing.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}

// ReplaceTildeInDir replaces a leading "~" by the user's home directory.
func ReplaceTildeInDir(dir string) (string, error) {
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrapf(err, "resolving ~ in %q", dir)
	}
	return filepath.Join(home, strings.TrimPrefix(dir, "~")), nil
}

// WriteAtomic writes data to a temporary file next to path and renames it into place.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "creating directory for %q", path)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return errors.Wrapf(err, "writing %q", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "moving %q to %q", tmpPath, path)
	}
	return nil
}
