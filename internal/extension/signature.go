package extension

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/go-cmd/cmd"
)

// SignatureVerifier validates the publisher identity of an extracted
// executable. The checksum proves transport integrity; the signature proves
// who built the binary.
type SignatureVerifier interface {
	Verify(ctx context.Context, executablePath, expectedTeamID string) error
}

// DefaultCodesignTool is the macOS code-signing inspection tool.
const DefaultCodesignTool = "/usr/bin/codesign"

// CodesignVerifier checks an executable's code signature with codesign and
// compares its TeamIdentifier with the expected team id.
type CodesignVerifier struct {
	tool string
}

// NewCodesignVerifier creates a verifier that runs tool; empty means
// DefaultCodesignTool.
func NewCodesignVerifier(tool string) *CodesignVerifier {
	if tool == "" {
		tool = DefaultCodesignTool
	}
	return &CodesignVerifier{tool: tool}
}

func (v *CodesignVerifier) Verify(ctx context.Context, executablePath, expectedTeamID string) error {
	if expectedTeamID == "" {
		return NewError(ErrSignatureInvalid, "artifact has no teamID", nil)
	}

	status, err := runTool(ctx, v.tool, "--verify", "--strict", executablePath)
	if err != nil {
		return err
	}
	if status.Error != nil || status.Exit != 0 {
		return NewError(ErrSignatureInvalid, "codesign rejected "+executablePath+": "+toolOutput(status), status.Error)
	}

	status, err = runTool(ctx, v.tool, "-dv", "--verbose=4", executablePath)
	if err != nil {
		return err
	}
	if status.Error != nil || status.Exit != 0 {
		return NewError(ErrSignatureInvalid, "codesign could not describe "+executablePath+": "+toolOutput(status), status.Error)
	}

	teamID := parseTeamIdentifier(append(status.Stderr, status.Stdout...))
	if teamID == "" {
		return NewError(ErrSignatureInvalid, "executable has no team identifier", nil)
	}
	if !strings.EqualFold(teamID, expectedTeamID) {
		return NewError(ErrSignatureInvalid, fmt.Sprintf("team identifier %s does not match %s", teamID, expectedTeamID), nil)
	}
	return nil
}

// parseTeamIdentifier extracts the TeamIdentifier= value from codesign's
// diagnostic output. Ad-hoc signatures report "not set".
func parseTeamIdentifier(lines []string) string {
	for _, line := range lines {
		value, found := strings.CutPrefix(strings.TrimSpace(line), "TeamIdentifier=")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" || strings.EqualFold(value, "not set") {
			return ""
		}
		return value
	}
	return ""
}

// runTool runs name to completion and returns its buffered status.
// The process is stopped if ctx is done first.
func runTool(ctx context.Context, name string, args ...string) (cmd.Status, error) {
	c := cmd.NewCmdOptions(cmd.Options{Buffered: true}, name, args...)
	statusChan := c.Start()

	select {
	case status := <-statusChan:
		return status, nil
	case <-ctx.Done():
		_ = c.Stop()
		return cmd.Status{}, contextError(ctx.Err())
	}
}

func toolOutput(status cmd.Status) string {
	out := strings.TrimSpace(strings.Join(status.Stderr, "\n"))
	if out == "" {
		out = strings.TrimSpace(strings.Join(status.Stdout, "\n"))
	}
	if out == "" {
		out = fmt.Sprintf("exit code %d", status.Exit)
	}
	return out
}

// SignatureSuffix is appended to the executable path to locate its
// detached OpenPGP signature.
const SignatureSuffix = ".sig"

// OpenPGPVerifier checks a detached OpenPGP signature shipped next to the
// executable and compares the signer's key identity with the team id.
// The team id may be the signer's fingerprint or its 16-hex-digit key id.
type OpenPGPVerifier struct {
	keyring openpgp.EntityList
}

// NewOpenPGPVerifier creates a verifier that trusts the keys in keyring.
func NewOpenPGPVerifier(keyring openpgp.EntityList) *OpenPGPVerifier {
	return &OpenPGPVerifier{keyring: keyring}
}

func (v *OpenPGPVerifier) Verify(ctx context.Context, executablePath, expectedTeamID string) error {
	if err := checkpoint(ctx); err != nil {
		return err
	}
	if expectedTeamID == "" {
		return NewError(ErrSignatureInvalid, "artifact has no teamID", nil)
	}
	if len(v.keyring) == 0 {
		return NewError(ErrSignatureInvalid, "keyring is empty", nil)
	}

	binaryFile, err := os.Open(executablePath)
	if err != nil {
		return fmt.Errorf("open executable: %w", err)
	}
	defer binaryFile.Close()

	sigPath := executablePath + SignatureSuffix
	sigFile, err := os.Open(sigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewError(ErrSignatureInvalid, "missing detached signature "+sigPath, nil)
		}
		return fmt.Errorf("open signature: %w", err)
	}
	defer sigFile.Close()

	// Verify signature (try armored first)
	signer, err := openpgp.CheckArmoredDetachedSignature(v.keyring, binaryFile, sigFile, nil)
	if err != nil {
		if _, seekErr := binaryFile.Seek(0, io.SeekStart); seekErr != nil {
			return fmt.Errorf("rewind executable: %w", seekErr)
		}
		if _, seekErr := sigFile.Seek(0, io.SeekStart); seekErr != nil {
			return fmt.Errorf("rewind signature: %w", seekErr)
		}
		signer, err = openpgp.CheckDetachedSignature(v.keyring, binaryFile, sigFile, nil)
	}
	if err != nil {
		return NewError(ErrSignatureInvalid, "verify signature", err)
	}

	if !entityMatches(signer, expectedTeamID) {
		return NewError(ErrSignatureInvalid,
			fmt.Sprintf("signer %s does not match %s", entityFingerprint(signer), expectedTeamID), nil)
	}
	return nil
}

// entityMatches compares id with the primary key and every subkey of e.
func entityMatches(e *openpgp.Entity, id string) bool {
	if e == nil || e.PrimaryKey == nil {
		return false
	}
	id = strings.ReplaceAll(strings.TrimSpace(id), " ", "")
	id = strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X")

	matches := func(fingerprint []byte, keyID uint64) bool {
		return strings.EqualFold(id, hex.EncodeToString(fingerprint)) ||
			strings.EqualFold(id, fmt.Sprintf("%016X", keyID))
	}

	if matches(e.PrimaryKey.Fingerprint, e.PrimaryKey.KeyId) {
		return true
	}
	for _, sub := range e.Subkeys {
		if sub.PublicKey != nil && matches(sub.PublicKey.Fingerprint, sub.PublicKey.KeyId) {
			return true
		}
	}
	return false
}

func entityFingerprint(e *openpgp.Entity) string {
	if e == nil || e.PrimaryKey == nil {
		return "unknown"
	}
	return strings.ToUpper(hex.EncodeToString(e.PrimaryKey.Fingerprint))
}
