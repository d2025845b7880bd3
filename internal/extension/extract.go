package extension

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxEntryBytes caps a single extracted file.
const DefaultMaxEntryBytes = 1 << 30

// Extractor unpacks gzip-compressed tar archives, refusing any entry that
// would land outside the destination directory.
type Extractor struct {
	maxEntryBytes int64
}

// NewExtractor creates a new extractor
func NewExtractor() *Extractor {
	return &Extractor{maxEntryBytes: DefaultMaxEntryBytes}
}

// ExtractTarGz extracts archivePath into destDir. Entries with absolute
// names, ".." components, or links resolving outside destDir fail with
// ErrPathEscape. Setuid, setgid and sticky bits are dropped.
func (e *Extractor) ExtractTarGz(archivePath, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}
	root, err := filepath.EvalSymlinks(destDir)
	if err != nil {
		return fmt.Errorf("resolve dest dir: %w", err)
	}

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return NewError(ErrPathEscape, "entry "+header.Name, nil)
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		target, err := entryPath(root, header.Name)
		if err != nil {
			return err
		}
		if target == root {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := e.ensureParent(root, target); err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", header.Name, err)
			}

		case tar.TypeReg:
			if err := e.ensureParent(root, target); err != nil {
				return err
			}
			if err := e.writeFile(target, header, tarReader); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) || !within(root, filepath.Join(filepath.Dir(target), header.Linkname)) {
				return NewError(ErrPathEscape, fmt.Sprintf("symlink %s -> %s", header.Name, header.Linkname), nil)
			}
			if err := e.ensureParent(root, target); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("create symlink %s: %w", header.Name, err)
			}

		case tar.TypeLink:
			linkTarget, err := entryPath(root, header.Linkname)
			if err != nil {
				return NewError(ErrPathEscape, fmt.Sprintf("hard link %s -> %s", header.Name, header.Linkname), nil)
			}
			if err := e.ensureParent(root, target); err != nil {
				return err
			}
			if err := os.Link(linkTarget, target); err != nil {
				return fmt.Errorf("create hard link %s: %w", header.Name, err)
			}

		default:
			// Skip other types (char devices, block devices, etc.)
			continue
		}
	}

	return nil
}

// entryPath maps an archive entry name to a path under root.
func entryPath(root, name string) (string, error) {
	if name == "" {
		return "", NewError(ErrPathEscape, "empty entry name", nil)
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", NewError(ErrPathEscape, "absolute entry "+name, nil)
	}
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", NewError(ErrPathEscape, "entry "+name, nil)
		}
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	if !within(root, target) {
		return "", NewError(ErrPathEscape, "entry "+name, nil)
	}
	return target, nil
}

// ensureParent creates target's parent and checks that, after resolving
// symlinks extracted earlier, it is still inside root.
func (e *Extractor) ensureParent(root, target string) error {
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", target, err)
	}
	resolved, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return fmt.Errorf("resolve parent dir for %s: %w", target, err)
	}
	if !within(root, resolved) {
		return NewError(ErrPathEscape, "entry parent "+parent+" resolves outside", nil)
	}
	return nil
}

var errEntryTooLarge = errors.New("archive entry too large")

func (e *Extractor) writeFile(target string, header *tar.Header, r io.Reader) error {
	if header.Size > e.maxEntryBytes {
		return fmt.Errorf("extract %s: %w (%d bytes)", header.Name, errEntryTooLarge, header.Size)
	}

	mode := os.FileMode(header.Mode).Perm()
	// Refuse to follow a symlink planted at target by an earlier entry.
	outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_EXCL, mode)
	if err != nil {
		if os.IsExist(err) {
			if rmErr := os.Remove(target); rmErr != nil {
				return fmt.Errorf("replace file %s: %w", header.Name, rmErr)
			}
			outFile, err = os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_EXCL, mode)
		}
		if err != nil {
			return fmt.Errorf("create file %s: %w", header.Name, err)
		}
	}

	n, err := io.Copy(outFile, io.LimitReader(r, e.maxEntryBytes+1))
	if err != nil {
		outFile.Close()
		return fmt.Errorf("write file %s: %w", header.Name, err)
	}
	if n > e.maxEntryBytes {
		outFile.Close()
		return fmt.Errorf("extract %s: %w", header.Name, errEntryTooLarge)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", header.Name, err)
	}
	// OpenFile applies the umask; restore the archived bits minus setuid/setgid.
	if err := os.Chmod(target, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", header.Name, err)
	}
	return nil
}
