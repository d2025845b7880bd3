package extension

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ZebulonRouseFrantzich/rtm/internal/testutil"
)

func TestResolveRuntimeRoot(t *testing.T) {
	t.Run("single top-level directory", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"pkg/bin/tool": "x"})
		root, err := resolveRuntimeRoot(dir)
		if err != nil {
			t.Fatal(err)
		}
		if root != filepath.Join(dir, "pkg") {
			t.Errorf("root = %s", root)
		}
	})

	t.Run("flat archive", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"tool": "x", "lib/a": "y"})
		root, err := resolveRuntimeRoot(dir)
		if err != nil {
			t.Fatal(err)
		}
		if root != dir {
			t.Errorf("root = %s, want %s", root, dir)
		}
	})
}

func TestFindExecutable(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a/tool":      "first",
		"b/tool":      "second",
		"Contents/x":  "y",
		"other/thing": "z",
	})

	got, err := findExecutable(dir, "tool")
	if err != nil {
		t.Fatalf("findExecutable() error = %v", err)
	}
	if got != filepath.Join(dir, "a", "tool") {
		t.Errorf("expected lexical first match, got %s", got)
	}

	writeTree(t, dir, map[string]string{"tool": "root"})
	got, err = findExecutable(dir, "tool")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(dir, "tool") {
		t.Errorf("exact root match must win, got %s", got)
	}

	_, err = findExecutable(dir, "missing")
	requireKind(t, err, ErrExecutableMissing)
}

func TestRelativeExecutableRejectsEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks")
	}
	outside := filepath.Join(t.TempDir(), "real-tool")
	if err := os.WriteFile(outside, []byte("x"), 0o755); err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	link := filepath.Join(root, "tool")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	_, _, err := relativeExecutable(root, link)
	requireKind(t, err, ErrPathEscape)
}

func TestInstallerInstall(t *testing.T) {
	rs := newRuntimeServer(t)
	rs.publish("1.2.0", nil)

	layout := NewLayout(t.TempDir(), "RTMTest")
	verifier := &stubVerifier{}
	in := NewInstaller(layout, NewDownloader(rs.server.Client(), WithRetries(0)), verifier, nil)

	f := NewManifestFetcher(rs.server.Client(), testExtensionID, testProtocol)
	m, err := f.Fetch(context.Background(), rs.manifestURL())
	if err != nil {
		t.Fatal(err)
	}
	art, err := SelectArtifact(m, "amd64")
	if err != nil {
		t.Fatal(err)
	}

	var milestones []float64
	res, err := in.Install(context.Background(), testExtensionID, m, art, func(p float64) {
		milestones = append(milestones, p)
	})
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	want := filepath.Join(layout.VersionDir(testExtensionID, "1.2.0"), "bin", testExecutable)
	if res.ExecutablePath != want {
		t.Errorf("ExecutablePath = %s, want %s", res.ExecutablePath, want)
	}
	info, err := os.Stat(res.ExecutablePath)
	if err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 != 0o111 {
		t.Errorf("executable bits not set: %v", info.Mode())
	}
	if _, err := os.Stat(filepath.Join(layout.VersionDir(testExtensionID, "1.2.0"), "share", "model.txt")); err != nil {
		t.Errorf("runtime support files must be published: %v", err)
	}

	wantMilestones := []float64{progressDownloadStarted, progressChecksumVerified, progressExtracted, progressExecutableFound, progressSignatureVerified}
	if len(milestones) != len(wantMilestones) {
		t.Fatalf("milestones = %v, want %v", milestones, wantMilestones)
	}
	for i := range wantMilestones {
		if milestones[i] != wantMilestones[i] {
			t.Errorf("milestone[%d] = %v, want %v", i, milestones[i], wantMilestones[i])
		}
	}
	if len(verifier.calls) != 1 {
		t.Errorf("verifier called %d times, want 1", len(verifier.calls))
	}
}

func TestInstallerPathEscapeArchive(t *testing.T) {
	rs := newRuntimeServer(t)
	rs.publish("1.0.0", nil)
	archive := testutil.TarGz(t,
		testutil.TarEntry{Name: "rt/", Type: tar.TypeDir},
		testutil.TarEntry{Name: "rt/" + testExecutable, Body: "x"},
		testutil.TarEntry{Name: "rt/../../escape", Body: "x"},
	)
	rs.setArchive(archive)

	layout := NewLayout(t.TempDir(), "RTMTest")
	in := NewInstaller(layout, NewDownloader(rs.server.Client(), WithRetries(0)), &stubVerifier{}, nil)

	m := &Manifest{ID: testExtensionID, Version: "1.0.0", ProtocolVersion: testProtocol, ExecutableName: testExecutable}
	art := &Artifact{Arch: "amd64", URL: rs.server.URL + "/artifact/x.tar.gz", SHA256: testutil.SHA256Hex(archive), TeamID: testTeamID}

	_, err := in.Install(context.Background(), testExtensionID, m, art, nil)
	requireKind(t, err, ErrPathEscape)
	if _, statErr := os.Stat(layout.InstallRoot(testExtensionID)); !os.IsNotExist(statErr) {
		t.Error("install root must not be created when extraction fails")
	}
}

func TestInstallerRequiresVerifier(t *testing.T) {
	in := NewInstaller(NewLayout(t.TempDir(), "RTMTest"), nil, nil, nil)
	_, err := in.Install(context.Background(), testExtensionID, &Manifest{}, &Artifact{}, nil)
	requireKind(t, err, ErrSignatureInvalid)
}
