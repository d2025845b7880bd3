// Package platform detects the host operating system and CPU architecture
// used to select a runtime artifact, and exposes them to Lua configuration
// as a read-only table.
package platform

import "context"

// Info contains platform detection information.
type Info struct {
	OS      string // "linux", "darwin", "windows"
	Arch    string // "amd64", "arm64" (normalized)
	ArchRaw string // architecture as reported by the kernel (e.g., "x86_64", "aarch64")
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// IsAppleSilicon returns true if running on Apple Silicon (macOS + arm64).
func (i *Info) IsAppleSilicon() bool {
	return i.OS == "darwin" && i.Arch == "arm64"
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. Useful when the target platform is
// pinned by configuration or in tests.
type StaticDetector struct {
	Info Info
}

// Detect returns a copy of the configured Info.
func (d StaticDetector) Detect(context.Context) (*Info, error) {
	info := d.Info
	return &info, nil
}
