package extension

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/rtm/internal/logging"
)

// InstallResult describes a published runtime.
type InstallResult struct {
	Version        string
	ExecutablePath string
}

// Installer runs the download, verify, extract and publish steps for one
// artifact. It does not touch persisted state.
type Installer struct {
	layout     Layout
	downloader *Downloader
	extractor  *Extractor
	verifier   SignatureVerifier
	logger     logging.Logger
}

// NewInstaller creates an installer publishing under layout.
func NewInstaller(layout Layout, downloader *Downloader, verifier SignatureVerifier, logger logging.Logger) *Installer {
	if downloader == nil {
		downloader = NewDownloader(nil)
	}
	return &Installer{
		layout:     layout,
		downloader: downloader,
		extractor:  NewExtractor(),
		verifier:   verifier,
		logger:     logging.OrNop(logger),
	}
}

// Install installs artifact of manifest m for extension id. progress, if
// non-nil, receives milestone fractions. The temporary working directory is
// removed on every exit path; nothing is written under the install root
// until every verification step has passed.
func (in *Installer) Install(ctx context.Context, id string, m *Manifest, artifact *Artifact, progress func(float64)) (*InstallResult, error) {
	report := func(p float64) {
		if progress != nil {
			progress(p)
		}
	}
	log := in.logger

	if in.verifier == nil {
		return nil, NewError(ErrSignatureInvalid, "no signature verifier configured", nil)
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp("", "rtm-"+id+"-")
	if err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	report(progressDownloadStarted)
	archivePath := filepath.Join(workDir, "artifact.tar.gz")
	log.Info("downloading runtime", logging.KeyExtension, id, logging.KeyVersion, m.Version, logging.KeyURL, artifact.URL)
	if err := in.downloader.DownloadToFile(ctx, artifact.URL, archivePath); err != nil {
		return nil, err
	}

	// Checksum
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	if err := VerifyFileSize(archivePath, artifact.SizeBytes); err != nil {
		return nil, err
	}
	if err := VerifyFileChecksum(archivePath, artifact.SHA256); err != nil {
		return nil, err
	}
	report(progressChecksumVerified)

	// Extract
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	extractDir := filepath.Join(workDir, "extract")
	if err := in.extractor.ExtractTarGz(archivePath, extractDir); err != nil {
		return nil, err
	}
	report(progressExtracted)

	// Resolve runtime root and executable
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	runtimeRoot, err := resolveRuntimeRoot(extractDir)
	if err != nil {
		return nil, err
	}
	exePath, err := findExecutable(runtimeRoot, m.ExecutableName)
	if err != nil {
		return nil, err
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	relExe, realExe, err := relativeExecutable(runtimeRoot, exePath)
	if err != nil {
		return nil, err
	}
	if err := makeExecutable(realExe); err != nil {
		return nil, err
	}
	report(progressExecutableFound)

	// Signature
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	if err := in.verifier.Verify(ctx, realExe, artifact.TeamID); err != nil {
		return nil, err
	}
	report(progressSignatureVerified)

	// Publish
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	installRoot := in.layout.InstallRoot(id)
	swept, err := sweepStaging(installRoot)
	if err != nil {
		log.Warn("failed to sweep staging directories", logging.KeyExtension, id, logging.KeyError, err)
	}
	for _, path := range swept {
		log.Debug("removed stale staging directory", logging.KeyExtension, id, logging.KeyPath, path)
	}

	executable, err := publish(runtimeRoot, installRoot, m.Version, relExe)
	if err != nil {
		return nil, err
	}
	log.Info("runtime published", logging.KeyExtension, id, logging.KeyVersion, m.Version, logging.KeyPath, executable)

	return &InstallResult{Version: m.Version, ExecutablePath: executable}, nil
}

// resolveRuntimeRoot descends into the archive's single top-level directory,
// if there is exactly one, else returns extractDir.
func resolveRuntimeRoot(extractDir string) (string, error) {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return "", fmt.Errorf("read extraction directory: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(extractDir, entries[0].Name()), nil
	}
	return extractDir, nil
}

// findExecutable looks for name at the runtime root, then anywhere below it
// in lexical walk order.
func findExecutable(root, name string) (string, error) {
	direct := filepath.Join(root, name)
	if info, err := os.Stat(direct); err == nil && !info.IsDir() {
		return direct, nil
	}

	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == name {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search for executable: %w", err)
	}
	if found == "" {
		return "", NewError(ErrExecutableMissing, fmt.Sprintf("%s not found in archive", name), nil)
	}
	return found, nil
}

// relativeExecutable resolves symlinks and returns the executable's path
// relative to root together with its real path.
func relativeExecutable(root, exePath string) (string, string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", "", fmt.Errorf("resolve runtime root: %w", err)
	}
	realExe, err := filepath.EvalSymlinks(exePath)
	if err != nil {
		return "", "", NewError(ErrExecutableMissing, "resolve "+filepath.Base(exePath), err)
	}
	if !within(realRoot, realExe) || realExe == realRoot {
		return "", "", NewError(ErrPathEscape, fmt.Sprintf("executable %s resolves outside the runtime root", filepath.Base(exePath)), nil)
	}

	info, err := os.Stat(realExe)
	if err != nil {
		return "", "", NewError(ErrExecutableMissing, "stat "+filepath.Base(exePath), err)
	}
	if !info.Mode().IsRegular() {
		return "", "", NewError(ErrExecutableMissing, filepath.Base(exePath)+" is not a regular file", nil)
	}

	rel, err := filepath.Rel(realRoot, realExe)
	if err != nil {
		return "", "", fmt.Errorf("relative executable path: %w", err)
	}
	return rel, realExe, nil
}

func makeExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat executable: %w", err)
	}
	if err := os.Chmod(path, info.Mode().Perm()|0o111); err != nil {
		return fmt.Errorf("set executable: %w", err)
	}
	return nil
}
