package extension

import (
	"regexp"
	"strings"
)

var versionPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// ValidVersion reports whether v is a dotted-numeric version such as "1.10.2".
func ValidVersion(v string) bool {
	return versionPattern.MatchString(v)
}

// CompareVersions compares two dotted-numeric versions segment by segment.
// Missing trailing segments count as zero, so "1.2" equals "1.2.0".
// It returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := max(len(as), len(bs))
	for i := 0; i < n; i++ {
		if c := compareSegment(segment(as, i), segment(bs, i)); c != 0 {
			return c
		}
	}
	return 0
}

func segment(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return "0"
}

// compareSegment compares decimal digit strings of any length.
func compareSegment(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
