package main

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/rtm/internal/extension"
	"github.com/ZebulonRouseFrantzich/rtm/internal/platform"
	"github.com/ZebulonRouseFrantzich/rtm/internal/testutil"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "rtm.lua")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const offlineConfig = `
rtm = {
	extensions = {
		{ id = "imagegen", manifest_url = "https://example.invalid/imagegen.json", protocol_version = 2 },
		{ id = "speech", manifest_url = "https://example.invalid/speech.json", protocol_version = 1 },
	},
}
`

func TestStatusOutputs(t *testing.T) {
	configDir, _ := testutil.SetupTestEnv(t)
	writeConfig(t, configDir, offlineConfig)

	t.Run("text", func(t *testing.T) {
		out, _, err := execute(t, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "EXTENSION")
		assert.Contains(t, out, "imagegen")
		assert.Contains(t, out, "not-installed")
	})

	t.Run("json", func(t *testing.T) {
		out, _, err := execute(t, "status", "-o", "json")
		require.NoError(t, err)
		var rows []statusRow
		require.NoError(t, json.Unmarshal([]byte(out), &rows))
		require.Len(t, rows, 2)
		assert.Equal(t, "imagegen", rows[0].ID)
		assert.Equal(t, "not-installed", rows[0].Phase)
	})

	t.Run("yaml single extension", func(t *testing.T) {
		out, _, err := execute(t, "status", "speech", "--output", "yaml")
		require.NoError(t, err)
		var rows []statusRow
		require.NoError(t, yaml.Unmarshal([]byte(out), &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, "speech", rows[0].ID)
	})
}

func TestCommandErrors(t *testing.T) {
	configDir, _ := testutil.SetupTestEnv(t)
	writeConfig(t, configDir, offlineConfig)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown extension", []string{"status", "video"}, "unknown extension"},
		{"bad output format", []string{"status", "-o", "xml"}, "unknown output format"},
		{"bad log level", []string{"status", "--log-level", "loud"}, "invalid log level"},
		{"run args not an object", []string{"run", "imagegen", "generate", "--args", "[1,2]"}, "--args must be a JSON object"},
		{"run before install", []string{"run", "imagegen", "generate"}, "runtime not installed"},
		{"install needs an id", []string{"install"}, "accepts 1 arg"},
		{"missing config", []string{"status", "--config", filepath.Join(configDir, "nope.lua")}, "read config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInvalidConfigIsReported(t *testing.T) {
	configDir, _ := testutil.SetupTestEnv(t)
	writeConfig(t, configDir, `rtm = { store = { backend = "redis" } }`)

	_, _, err := execute(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestVersionFlag(t *testing.T) {
	out, _, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

// signedRuntimeHost serves a manifest and an archive holding an executable
// with a detached OpenPGP signature from signer.
func signedRuntimeHost(t *testing.T, signer *openpgp.Entity, arch string) *httptest.Server {
	t.Helper()

	script := []byte("#!/bin/sh\ncat >/dev/null\necho '{\"ok\":true,\"payload\":{\"image\":\"out.png\"}}'\n")
	var sig bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(script), nil))

	archive := testutil.TarGz(t,
		testutil.TarEntry{Name: "imagegen/", Type: tar.TypeDir},
		testutil.TarEntry{Name: "imagegen/imagegen-helper", Body: string(script), Mode: 0o755},
		testutil.TarEntry{Name: "imagegen/imagegen-helper.sig", Body: sig.String()},
	)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(extension.Manifest{
			ID:              "imagegen",
			Version:         "2.1.0",
			ProtocolVersion: 2,
			ExecutableName:  "imagegen-helper",
			Artifacts: []extension.Artifact{{
				Arch:      arch,
				URL:       srv.URL + "/imagegen.tar.gz",
				SHA256:    testutil.SHA256Hex(archive),
				SizeBytes: int64(len(archive)),
				TeamID:    strings.ToUpper(hex.EncodeToString(signer.PrimaryKey.Fingerprint)),
			}},
		})
	})
	mux.HandleFunc("/imagegen.tar.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	})
	return srv
}

func TestInstallRunUninstall(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell-script runtimes are not supported on windows")
	}
	arch, err := platform.NormalizeArch(runtime.GOARCH)
	if err != nil {
		t.Skipf("no artifact architecture for %s", runtime.GOARCH)
	}

	configDir, _ := testutil.SetupTestEnv(t)

	signer, err := openpgp.NewEntity("Publisher", "test", "publisher@example.com",
		&packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)

	var keyring bytes.Buffer
	w, err := armor.Encode(&keyring, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, signer.Serialize(w))
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "publisher.asc"), keyring.Bytes(), 0o644))

	srv := signedRuntimeHost(t, signer, arch)
	writeConfig(t, configDir, fmt.Sprintf(`
		rtm = {
			extensions = {
				{ id = "imagegen", manifest_url = %q, protocol_version = 2,
				  signature = "openpgp", keyring = "publisher.asc" },
			},
		}
	`, srv.URL+"/manifest.json"))

	metricsFile := filepath.Join(t.TempDir(), "rtm.prom")

	out, errOut, err := execute(t, "install", "imagegen", "--metrics-file", metricsFile)
	require.NoError(t, err, errOut)
	assert.Contains(t, out, "installed")
	assert.Contains(t, out, "2.1.0")
	assert.Contains(t, errOut, "imagegen: installing 100%")

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "rtm_installs_total")

	out, _, err = execute(t, "run", "imagegen", "generate", "--args", `{"prompt":"a lighthouse"}`)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "out.png", payload["image"])

	out, _, err = execute(t, "refresh", "imagegen", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"phase": "installed"`)

	out, _, err = execute(t, "uninstall", "imagegen")
	require.NoError(t, err)
	assert.Contains(t, out, "not-installed")

	out, _, err = execute(t, "status", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"latest": "2.1.0"`)
}
