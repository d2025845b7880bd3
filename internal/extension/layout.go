package extension

import (
	"path/filepath"
	"strings"
)

// Layout resolves on-disk locations under <data-root>/<product>/Extensions.
type Layout struct {
	Root string
}

// NewLayout returns the layout for product under dataRoot.
func NewLayout(dataRoot, product string) Layout {
	return Layout{Root: filepath.Join(dataRoot, product, "Extensions")}
}

// ExtensionDir is the directory owning everything installed for id.
func (l Layout) ExtensionDir(id string) string {
	return filepath.Join(l.Root, id)
}

// InstallRoot holds one directory per installed version of id.
func (l Layout) InstallRoot(id string) string {
	return filepath.Join(l.ExtensionDir(id), "runtime")
}

// VersionDir is the published runtime root for id at version.
func (l Layout) VersionDir(id, version string) string {
	return filepath.Join(l.InstallRoot(id), version)
}

// LocksDir holds the per-extension cross-process lock files.
func (l Layout) LocksDir() string {
	return filepath.Join(l.Root, ".locks")
}

// within reports whether path lies inside dir (or is dir itself).
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
