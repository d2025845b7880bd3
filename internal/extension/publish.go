package extension

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const stagingPrefix = ".staging-"

// publish copies runtimeRoot into a hidden staging directory under
// installRoot and renames it onto installRoot/version. It returns the
// absolute path of the executable at relExe inside the published tree.
func publish(runtimeRoot, installRoot, version, relExe string) (string, error) {
	if err := os.MkdirAll(installRoot, 0o755); err != nil {
		return "", fmt.Errorf("create install root: %w", err)
	}

	staging := filepath.Join(installRoot, stagingPrefix+uuid.NewString())
	if err := copyTree(runtimeRoot, staging); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("stage runtime: %w", err)
	}

	final := filepath.Join(installRoot, version)
	if err := os.RemoveAll(final); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("remove previous %s: %w", version, err)
	}
	if err := os.Rename(staging, final); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("publish %s: %w", version, err)
	}

	exe, err := filepath.Abs(filepath.Join(final, relExe))
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	return exe, nil
}

// sweepStaging removes staging directories left behind by a crashed install.
// Callers hold the extension's install lock.
func sweepStaging(installRoot string) ([]string, error) {
	entries, err := os.ReadDir(installRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read install root: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		path := filepath.Join(installRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("remove stale staging %s: %w", entry.Name(), err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// pruneVersions removes every version directory under installRoot except keep.
func pruneVersions(installRoot, keep string) ([]string, error) {
	entries, err := os.ReadDir(installRoot)
	if err != nil {
		return nil, fmt.Errorf("read install root: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if name == keep || strings.HasPrefix(name, ".") || !entry.IsDir() {
			continue
		}
		path := filepath.Join(installRoot, name)
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("remove version %s: %w", name, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// copyTree copies src into dst, preserving permissions and symlinks.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}
