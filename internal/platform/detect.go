package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using actual platform detection.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect reports the host OS and the kernel's native architecture.
//
// The kernel architecture is preferred over runtime.GOARCH so that a
// translated process (for example an amd64 build under Rosetta) still
// selects the native artifact. If gopsutil cannot report the kernel
// architecture, GOARCH is used instead.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      runtime.GOOS,
		ArchRaw: runtime.GOARCH,
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("platform detection cancelled: %w", err)
	}
	if kernelArch, err := host.KernelArch(); err == nil && kernelArch != "" {
		info.ArchRaw = kernelArch
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("platform detection cancelled: %w", err)
	}

	arch, err := NormalizeArch(info.ArchRaw)
	if err != nil {
		// Kernel spelling unknown (e.g. "armv8l"); fall back to the build target.
		arch, err = NormalizeArch(runtime.GOARCH)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
	}
	info.Arch = arch

	return info, nil
}
