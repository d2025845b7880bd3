package service

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/rtm/internal/config"
	"github.com/ZebulonRouseFrantzich/rtm/internal/extension"
	"github.com/ZebulonRouseFrantzich/rtm/internal/platform"
	"github.com/ZebulonRouseFrantzich/rtm/internal/store"
	"github.com/ZebulonRouseFrantzich/rtm/internal/testutil"
)

type acceptVerifier struct{}

func (acceptVerifier) Verify(context.Context, string, string) error { return nil }

// newRuntimeHost serves a manifest and a runtime archive whose executable
// answers every RPC with a fixed payload.
func newRuntimeHost(t *testing.T, id, version string) *httptest.Server {
	t.Helper()

	archive := testutil.TarGz(t,
		testutil.TarEntry{Name: "runtime/", Type: tar.TypeDir},
		testutil.TarEntry{
			Name: "runtime/helper",
			Body: "#!/bin/sh\ncat >/dev/null\necho '{\"ok\":true,\"payload\":{\"runtime\":\"" + id + "\",\"version\":\"" + version + "\"}}'\n",
			Mode: 0o755,
		},
	)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/"+id+"/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(extension.Manifest{
			ID:              id,
			Version:         version,
			ProtocolVersion: 1,
			ExecutableName:  "helper",
			Artifacts: []extension.Artifact{{
				Arch:   "amd64",
				URL:    srv.URL + "/" + id + "/runtime.tar.gz",
				SHA256: testutil.SHA256Hex(archive),
			}},
		})
	})
	mux.HandleFunc("/"+id+"/runtime.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	})
	return srv
}

func parseConfig(t *testing.T, code string) *config.Config {
	t.Helper()
	cfg, err := config.NewParser(nil).ParseString(context.Background(), code)
	require.NoError(t, err)
	return cfg
}

func openRuntimes(t *testing.T, cfg *config.Config, opts Options) *Runtimes {
	t.Helper()
	opts.Config = cfg
	if opts.Detector == nil {
		opts.Detector = platform.StaticDetector{Info: platform.Info{OS: "linux", Arch: "amd64", ArchRaw: "x86_64"}}
	}
	if opts.Verifier == nil {
		opts.Verifier = acceptVerifier{}
	}
	rt, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestOpenInstallAndRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell-script runtimes are not supported on windows")
	}
	_, dataDir := testutil.SetupTestEnv(t)
	srv := newRuntimeHost(t, "imagegen", "1.4.0")

	cfg := parseConfig(t, fmt.Sprintf(`
		rtm = {
			app = { version = "4.9", product = "Studio" },
			extensions = {
				{ id = "imagegen", manifest_url = %q, protocol_version = 1 },
			},
		}
	`, srv.URL+"/imagegen/manifest.json"))

	rt := openRuntimes(t, cfg, Options{HTTPClient: srv.Client()})
	assert.Equal(t, []string{"imagegen"}, rt.IDs())
	assert.Equal(t, filepath.Join(dataDir, "Studio", "Extensions"), rt.Layout().Root)

	mgr, err := rt.Manager("imagegen")
	require.NoError(t, err)
	assert.Equal(t, extension.NotInstalled(), mgr.State())

	states := rt.RefreshAll(context.Background())
	assert.Equal(t, extension.NotInstalled(), states["imagegen"])
	assert.Equal(t, "1.4.0", mgr.LatestVersion())

	br, err := rt.Bridge("imagegen")
	require.NoError(t, err)
	_, err = br.RunCommand(context.Background(), "generate", nil)
	require.ErrorIs(t, err, extension.ErrRuntimeNotInstalled)

	require.NoError(t, mgr.InstallOrUpdate(context.Background()))
	assert.Equal(t, extension.Installed("1.4.0"), mgr.State())

	payload, err := br.RunCommand(context.Background(), "generate", map[string]any{"prompt": "a cat"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"runtime": "imagegen", "version": "1.4.0"}, payload)

	// The default file store persists the record for the next process.
	_, err = os.Stat(filepath.Join(dataDir, "Studio", "preferences.json"))
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	reopened := openRuntimes(t, cfg, Options{HTTPClient: srv.Client()})
	again, err := reopened.Manager("imagegen")
	require.NoError(t, err)
	assert.Equal(t, extension.Installed("1.4.0"), again.State())

	require.NoError(t, again.Uninstall(context.Background()))
	assert.Equal(t, extension.NotInstalled(), again.State())
}

func TestOpenSQLiteBackend(t *testing.T) {
	_, dataDir := testutil.SetupTestEnv(t)
	cfg := parseConfig(t, `
		rtm = {
			store = { backend = "sqlite" },
			extensions = {
				{ id = "imagegen", manifest_url = "https://example.invalid/m.json", protocol_version = 1 },
			},
		}
	`)

	openRuntimes(t, cfg, Options{})
	_, err := os.Stat(filepath.Join(dataDir, config.DefaultProduct, "preferences.db"))
	assert.NoError(t, err)
}

func TestOpenUnknownExtension(t *testing.T) {
	testutil.SetupTestEnv(t)
	cfg := parseConfig(t, `rtm = {}`)
	rt := openRuntimes(t, cfg, Options{Store: store.NewMemoryStore()})

	_, err := rt.Manager("imagegen")
	require.ErrorIs(t, err, ErrUnknownExtension)
	_, err = rt.Bridge("imagegen")
	require.ErrorIs(t, err, ErrUnknownExtension)
	assert.Empty(t, rt.RefreshAll(context.Background()))
}

func TestOpenVerifierSelection(t *testing.T) {
	testutil.SetupTestEnv(t)

	t.Run("openpgp keyring missing", func(t *testing.T) {
		cfg := parseConfig(t, `
			rtm = { extensions = {
				{ id = "speech", manifest_url = "https://example.invalid/m.json", protocol_version = 1,
				  signature = "openpgp", keyring = "/nonexistent/speech.asc" },
			} }
		`)
		_, err := Open(context.Background(), Options{Config: cfg, Store: store.NewMemoryStore()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "speech")
	})

	t.Run("codesign default", func(t *testing.T) {
		v, err := newVerifier(config.Extension{Signature: config.SignatureCodesign})
		require.NoError(t, err)
		assert.IsType(t, &extension.CodesignVerifier{}, v)
	})

	t.Run("unknown scheme", func(t *testing.T) {
		_, err := newVerifier(config.Extension{Signature: "none"})
		require.Error(t, err)
	})
}

func TestOpenRequiresConfig(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	require.Error(t, err)
}
