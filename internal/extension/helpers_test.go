package extension

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/rtm/internal/platform"
	"github.com/ZebulonRouseFrantzich/rtm/internal/store"
	"github.com/ZebulonRouseFrantzich/rtm/internal/testutil"
)

const (
	testExtensionID = "imagegen"
	testProtocol    = 2
	testExecutable  = "imagegen-helper"
	testTeamID      = "ABCDE12345"
)

// stubVerifier records calls and returns err.
type stubVerifier struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (v *stubVerifier) Verify(_ context.Context, executablePath, expectedTeamID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, executablePath)
	if v.err != nil {
		return v.err
	}
	if expectedTeamID != testTeamID {
		return NewError(ErrSignatureInvalid, "unexpected team "+expectedTeamID, nil)
	}
	return nil
}

// runtimeServer serves one manifest and one artifact and counts requests.
type runtimeServer struct {
	t      *testing.T
	server *httptest.Server

	mu             sync.Mutex
	manifest       []byte
	manifestStatus int
	archive        []byte
	lastQuery      string
	lastHeaders    http.Header

	manifestHits atomic.Int32
	artifactHits atomic.Int32

	// When gate is non-nil the artifact handler signals started and waits.
	gate    chan struct{}
	started chan struct{}
}

func newRuntimeServer(t *testing.T) *runtimeServer {
	t.Helper()
	rs := &runtimeServer{t: t, manifestStatus: http.StatusOK}
	rs.server = httptest.NewServer(http.HandlerFunc(rs.serve))
	t.Cleanup(rs.server.Close)
	return rs
}

func (rs *runtimeServer) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/manifest.json":
		rs.manifestHits.Add(1)
		rs.mu.Lock()
		status, body := rs.manifestStatus, rs.manifest
		rs.lastQuery = r.URL.RawQuery
		rs.lastHeaders = r.Header.Clone()
		rs.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write(body)

	case strings.HasPrefix(r.URL.Path, "/artifact/"):
		rs.artifactHits.Add(1)
		rs.mu.Lock()
		gate, started, body := rs.gate, rs.started, rs.archive
		rs.mu.Unlock()
		if gate != nil {
			close(started)
			<-gate
		}
		_, _ = w.Write(body)

	default:
		http.NotFound(w, r)
	}
}

func (rs *runtimeServer) manifestURL() string {
	return rs.server.URL + "/manifest.json"
}

// publish builds a runtime archive for version and a manifest describing it.
// mutate may adjust the manifest before it is served.
func (rs *runtimeServer) publish(version string, mutate func(*Manifest)) {
	rs.t.Helper()

	archive := testutil.TarGz(rs.t,
		testutil.TarEntry{Name: "imagegen-runtime/", Type: tar.TypeDir},
		testutil.TarEntry{Name: "imagegen-runtime/bin/", Type: tar.TypeDir},
		testutil.TarEntry{Name: "imagegen-runtime/bin/" + testExecutable, Body: "#!/bin/sh\necho " + version + "\n", Mode: 0o644},
		testutil.TarEntry{Name: "imagegen-runtime/share/model.txt", Body: "weights " + version},
	)

	m := Manifest{
		ID:              testExtensionID,
		Version:         version,
		ProtocolVersion: testProtocol,
		ExecutableName:  testExecutable,
		Artifacts: []Artifact{{
			Arch:      "x86_64",
			URL:       rs.server.URL + "/artifact/" + version + ".tar.gz",
			SHA256:    testutil.SHA256Hex(archive),
			SizeBytes: int64(len(archive)),
			TeamID:    testTeamID,
		}},
	}
	if mutate != nil {
		mutate(&m)
	}

	data, err := json.Marshal(m)
	if err != nil {
		rs.t.Fatalf("marshal manifest: %v", err)
	}

	rs.mu.Lock()
	rs.manifest = data
	rs.archive = archive
	rs.manifestStatus = http.StatusOK
	rs.mu.Unlock()
}

func (rs *runtimeServer) setArchive(archive []byte) {
	rs.mu.Lock()
	rs.archive = archive
	rs.mu.Unlock()
}

func (rs *runtimeServer) setManifestStatus(status int) {
	rs.mu.Lock()
	rs.manifestStatus = status
	rs.mu.Unlock()
}

func (rs *runtimeServer) holdArtifact() (started <-chan struct{}, release func()) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.gate = make(chan struct{})
	rs.started = make(chan struct{})
	gate := rs.gate
	var once sync.Once
	return rs.started, func() { once.Do(func() { close(gate) }) }
}

type managerEnv struct {
	layout   Layout
	store    store.Store
	verifier *stubVerifier
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()
	return &managerEnv{
		layout:   NewLayout(t.TempDir(), "RTMTest"),
		store:    store.NewMemoryStore(),
		verifier: &stubVerifier{},
	}
}

func (env *managerEnv) config(rs *runtimeServer) Config {
	return Config{
		ExtensionID:     testExtensionID,
		ManifestURL:     rs.manifestURL(),
		ProtocolVersion: testProtocol,
		AppVersion:      "4.9",
		Layout:          env.layout,
		Store:           env.store,
		Verifier:        env.verifier,
		Platform:        platform.StaticDetector{Info: platform.Info{OS: "linux", Arch: "amd64", ArchRaw: "x86_64"}},
		HTTPClient:      rs.server.Client(),
		Downloader:      NewDownloader(rs.server.Client(), WithRetries(0)),
	}
}

func (env *managerEnv) manager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func requireKind(t *testing.T, err, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
	}
}
