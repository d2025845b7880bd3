package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// maxManifestBytes bounds the manifest body read into memory.
	maxManifestBytes = 10 << 20
	// cacheBustParam is appended to the manifest URL on every fetch.
	cacheBustParam = "_rtm"
)

// ManifestFetcher retrieves and validates an extension's manifest.
type ManifestFetcher struct {
	client          *http.Client
	extensionID     string
	protocolVersion int
	clock           Clock
	userAgent       string
}

// NewManifestFetcher creates a fetcher that accepts only manifests for
// extensionID speaking protocolVersion.
func NewManifestFetcher(client *http.Client, extensionID string, protocolVersion int) *ManifestFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &ManifestFetcher{
		client:          client,
		extensionID:     extensionID,
		protocolVersion: protocolVersion,
		clock:           RealClock{},
		userAgent:       DefaultUserAgent,
	}
}

// Fetch downloads the manifest at rawURL, bypassing intermediate caches.
func (f *ManifestFetcher) Fetch(ctx context.Context, rawURL string) (*Manifest, error) {
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, NewError(ErrNetwork, fmt.Sprintf("invalid manifest URL %q", rawURL), err)
	}
	q := u.Query()
	q.Set(cacheBustParam, strconv.FormatInt(f.clock.Now().UnixNano(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, NewError(ErrNetwork, "create request", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx.Err())
		}
		return nil, NewError(ErrNetwork, "fetch manifest", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewError(ErrNetwork, fmt.Sprintf("fetch manifest: unexpected status code: %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx.Err())
		}
		return nil, NewError(ErrNetwork, "read manifest", err)
	}
	if len(body) > maxManifestBytes {
		return nil, NewError(ErrManifestInvalid, fmt.Sprintf("manifest exceeds %d bytes", maxManifestBytes), nil)
	}

	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, NewError(ErrManifestInvalid, "decode manifest", err)
	}
	if err := ValidateManifest(&m, f.extensionID, f.protocolVersion); err != nil {
		return nil, err
	}
	return &m, nil
}

// ValidateManifest checks m against the expected extension id and the
// supported protocol version.
func ValidateManifest(m *Manifest, extensionID string, protocolVersion int) error {
	invalid := func(format string, args ...any) error {
		return NewError(ErrManifestInvalid, fmt.Sprintf(format, args...), nil)
	}

	if m.ID != extensionID {
		return invalid("id %q does not match extension %q", m.ID, extensionID)
	}
	if m.ProtocolVersion != protocolVersion {
		return invalid("protocol version %d is not supported (want %d)", m.ProtocolVersion, protocolVersion)
	}
	if !ValidVersion(m.Version) {
		return invalid("version %q is not dotted-numeric", m.Version)
	}
	if m.MinAppVersion != "" && !ValidVersion(m.MinAppVersion) {
		return invalid("minAppVersion %q is not dotted-numeric", m.MinAppVersion)
	}
	if !validFileName(m.ExecutableName) {
		return invalid("executableName %q is not a bare file name", m.ExecutableName)
	}
	if len(m.Artifacts) == 0 {
		return invalid("no artifacts")
	}
	return nil
}

func validFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}
