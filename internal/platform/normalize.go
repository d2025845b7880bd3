package platform

import (
	"fmt"
	"strings"
)

// archAliases maps the spellings used by kernels, toolchains and release
// pipelines onto the two supported canonical names.
var archAliases = map[string]string{
	"amd64":   "amd64",
	"x86_64":  "amd64",
	"x64":     "amd64",
	"arm64":   "arm64",
	"aarch64": "arm64",
}

// NormalizeArch converts an architecture name to its canonical form.
// Only amd64 and arm64 are supported.
func NormalizeArch(arch string) (string, error) {
	if canonical, ok := archAliases[strings.ToLower(strings.TrimSpace(arch))]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("unsupported architecture: %q (supported: amd64, arm64)", arch)
}

// MatchArch reports whether two architecture names refer to the same
// supported architecture.
func MatchArch(a, b string) bool {
	na, err := NormalizeArch(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeArch(b)
	if err != nil {
		return false
	}
	return na == nb
}
