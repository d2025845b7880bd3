package extension

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ZebulonRouseFrantzich/rtm/internal/platform"
)

// SelectArtifact returns the artifact built for arch.
func SelectArtifact(m *Manifest, arch string) (*Artifact, error) {
	var available []string
	for i := range m.Artifacts {
		a := &m.Artifacts[i]
		if !platform.MatchArch(a.Arch, arch) {
			available = append(available, a.Arch)
			continue
		}
		if a.URL == "" {
			return nil, NewError(ErrManifestInvalid, fmt.Sprintf("artifact for %s has no url", a.Arch), nil)
		}
		if !validSHA256(a.SHA256) {
			return nil, NewError(ErrManifestInvalid, fmt.Sprintf("artifact for %s has malformed sha256 %q", a.Arch, a.SHA256), nil)
		}
		if a.SizeBytes < 0 {
			return nil, NewError(ErrManifestInvalid, fmt.Sprintf("artifact for %s has negative sizeBytes", a.Arch), nil)
		}
		return a, nil
	}
	return nil, NewError(ErrUnsupportedArchitecture,
		fmt.Sprintf("no artifact for %s (available: %s)", arch, strings.Join(available, ", ")), nil)
}

func validSHA256(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// VerifyChecksum hashes all of r and compares it with expectedHex.
func VerifyChecksum(r io.Reader, expectedHex string) error {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return fmt.Errorf("calculate checksum: %w", err)
	}
	actual := hex.EncodeToString(hasher.Sum(nil))

	// Compare checksums (case-insensitive)
	if !strings.EqualFold(actual, expectedHex) {
		return &ChecksumError{Expected: strings.ToLower(expectedHex), Actual: actual}
	}
	return nil
}

// VerifyFileChecksum verifies the SHA-256 digest of the file at path.
func VerifyFileChecksum(path, expectedHex string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return VerifyChecksum(file, expectedHex)
}

// VerifyFileSize fails with a ChecksumError when the file at path is not
// exactly expected bytes long. A non-positive expected size is not checked.
func VerifyFileSize(path string, expected int64) error {
	if expected <= 0 {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if info.Size() != expected {
		return &ChecksumError{
			Expected: strconv.FormatInt(expected, 10) + " bytes",
			Actual:   strconv.FormatInt(info.Size(), 10) + " bytes",
		}
	}
	return nil
}
