package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ZebulonRouseFrantzich/rtm/internal/lockfile"
	"github.com/ZebulonRouseFrantzich/rtm/internal/logging"
	"github.com/ZebulonRouseFrantzich/rtm/internal/metrics"
	"github.com/ZebulonRouseFrantzich/rtm/internal/platform"
	"github.com/ZebulonRouseFrantzich/rtm/internal/store"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidID reports whether id can name an extension. IDs become directory
// names and store key segments.
func ValidID(id string) bool {
	return idPattern.MatchString(id) && id != "." && id != ".."
}

// Config holds configuration for a Manager.
type Config struct {
	// ExtensionID identifies the extension (required).
	ExtensionID string
	// ManifestURL is where the manifest is fetched from (required).
	ManifestURL string
	// ProtocolVersion is the single supported manifest protocol version.
	ProtocolVersion int
	// AppVersion is compared with a manifest's minAppVersion. Empty skips the check.
	AppVersion string

	Layout   Layout
	Store    store.Store
	Verifier SignatureVerifier

	// Optional collaborators.
	Platform   platform.Detector
	HTTPClient *http.Client
	Downloader *Downloader
	Logger     logging.Logger
	Metrics    metrics.Recorder
	Clock      Clock
}

// Manager owns the install state of one extension.
type Manager struct {
	id          string
	manifestURL string
	appVersion  string
	layout      Layout

	records   records
	fetcher   *ManifestFetcher
	installer *Installer
	detector  platform.Detector
	logger    logging.Logger
	metrics   metrics.Recorder
	clock     Clock

	refreshGroup singleflight.Group

	mu        sync.Mutex
	state     State
	busy      bool
	record    *InstallRecord
	latest    string
	listeners map[int]func(State)
	nextID    int
}

// NewManager loads the persisted install record and derives the initial
// state from it and the filesystem. It makes no network requests.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if !ValidID(cfg.ExtensionID) {
		return nil, fmt.Errorf("invalid extension id %q", cfg.ExtensionID)
	}
	if cfg.ManifestURL == "" {
		return nil, fmt.Errorf("extension %s: manifest URL is required", cfg.ExtensionID)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("extension %s: store is required", cfg.ExtensionID)
	}
	if cfg.Layout.Root == "" {
		return nil, fmt.Errorf("extension %s: layout root is required", cfg.ExtensionID)
	}
	if cfg.AppVersion != "" && !ValidVersion(cfg.AppVersion) {
		return nil, fmt.Errorf("app version %q is not dotted-numeric", cfg.AppVersion)
	}

	logger := logging.OrNop(cfg.Logger)
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}
	detector := cfg.Platform
	if detector == nil {
		detector = platform.NewDetector()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = NewHTTPClient()
	}
	downloader := cfg.Downloader
	if downloader == nil {
		downloader = NewDownloader(client)
	}

	fetcher := NewManifestFetcher(client, cfg.ExtensionID, cfg.ProtocolVersion)
	fetcher.clock = clock

	m := &Manager{
		id:          cfg.ExtensionID,
		manifestURL: cfg.ManifestURL,
		appVersion:  cfg.AppVersion,
		layout:      cfg.Layout,
		records:     records{store: cfg.Store, id: cfg.ExtensionID},
		fetcher:     fetcher,
		installer:   NewInstaller(cfg.Layout, downloader, cfg.Verifier, logger),
		detector:    detector,
		logger:      logger,
		metrics:     metrics.OrNoop(cfg.Metrics),
		clock:       clock,
		listeners:   make(map[int]func(State)),
	}

	rec, ok, err := m.records.load(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := m.records.latest(ctx)
	if err != nil {
		return nil, err
	}
	m.latest = latest

	switch {
	case ok && validRecord(m.layout, m.id, rec):
		m.record = &rec
		m.state = Installed(rec.InstalledVersion)
	case ok:
		logger.Warn("install record references a missing executable",
			logging.KeyExtension, m.id, logging.KeyPath, rec.ExecutablePath)
		m.state = NotInstalled()
	default:
		m.state = NotInstalled()
	}

	return m, nil
}

// ID returns the extension id.
func (m *Manager) ID() string { return m.id }

// State returns a snapshot of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LatestVersion returns the most recently fetched manifest version. It is
// for display only and may be stale.
func (m *Manager) LatestVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

// Subscribe registers fn to receive every state transition. fn is called
// outside the Manager's lock. The returned func unregisters it.
func (m *Manager) Subscribe(fn func(State)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Executable returns the absolute path of the installed executable.
func (m *Manager) Executable() (string, error) {
	m.mu.Lock()
	rec := m.record
	m.mu.Unlock()

	if rec == nil {
		return "", NewError(ErrRuntimeNotInstalled, m.id, nil)
	}
	info, err := os.Stat(rec.ExecutablePath)
	if err != nil || !info.Mode().IsRegular() {
		return "", NewError(ErrRuntimeNotInstalled, fmt.Sprintf("%s: executable %s is missing", m.id, rec.ExecutablePath), err)
	}
	return rec.ExecutablePath, nil
}

// Refresh fetches the manifest and reconciles it with the installed
// version. While an install or uninstall is in flight it returns the
// current state unchanged. Concurrent refreshes share one fetch.
func (m *Manager) Refresh(ctx context.Context) State {
	if m.isBusy() {
		return m.State()
	}
	v, _, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.refresh(ctx), nil
	})
	return v.(State)
}

func (m *Manager) refresh(ctx context.Context) State {
	m.setUnlessBusy(Checking())

	manifest, err := m.fetcher.Fetch(ctx, m.manifestURL)
	if err != nil {
		if rec := m.liveRecord(); rec != nil {
			m.logger.Warn("manifest unavailable, keeping installed runtime",
				logging.KeyExtension, m.id, logging.KeyVersion, rec.InstalledVersion, logging.KeyError, err)
			m.metrics.IncRefresh(m.id, metrics.OutcomeDegraded)
			return m.setUnlessBusy(Installed(rec.InstalledVersion))
		}
		m.logger.Error("refresh failed", logging.KeyExtension, m.id, logging.KeyError, err)
		m.metrics.IncRefresh(m.id, metrics.OutcomeFailed)
		return m.setUnlessBusy(Failed(err.Error()))
	}

	m.cacheLatest(ctx, manifest.Version)
	m.metrics.IncRefresh(m.id, metrics.OutcomeSuccess)

	rec := m.liveRecord()
	switch {
	case rec == nil:
		return m.setUnlessBusy(NotInstalled())
	case CompareVersions(manifest.Version, rec.InstalledVersion) > 0:
		m.logger.Info("update available", logging.KeyExtension, m.id,
			logging.KeyVersion, rec.InstalledVersion, logging.KeyLatest, manifest.Version)
		return m.setUnlessBusy(UpdateAvailable(rec.InstalledVersion, manifest.Version))
	default:
		return m.setUnlessBusy(Installed(rec.InstalledVersion))
	}
}

// InstallOrUpdate installs the latest runtime, replacing any installed
// version. A call made while another install or uninstall is in flight in
// this process is a no-op returning nil. Failures also move the state to
// Failed.
func (m *Manager) InstallOrUpdate(ctx context.Context) error {
	previous, ok := m.begin()
	if !ok {
		m.logger.Debug("install already in progress", logging.KeyExtension, m.id)
		return nil
	}

	start := m.clock.Now()
	err := m.install(ctx)
	elapsed := m.clock.Now().Sub(start)

	switch {
	case err == nil:
		m.metrics.ObserveInstall(m.id, metrics.OutcomeSuccess, elapsed)
	case errors.Is(err, ErrBusy):
		m.metrics.ObserveInstall(m.id, metrics.OutcomeSkipped, elapsed)
		m.end(previous)
		return err
	case errors.Is(err, ErrCancelled):
		m.metrics.ObserveInstall(m.id, metrics.OutcomeCancelled, elapsed)
	default:
		m.metrics.ObserveInstall(m.id, metrics.OutcomeFailed, elapsed)
	}

	if err != nil {
		m.logger.Error("install failed", logging.KeyExtension, m.id, logging.KeyError, err)
		m.end(Failed(err.Error()))
		return err
	}
	m.end(Installed(m.installedRecord().InstalledVersion))
	return nil
}

func (m *Manager) install(ctx context.Context) error {
	m.set(Installing(0))

	lock, err := lockfile.Acquire(ctx, m.layout.LocksDir(), m.id)
	if err != nil {
		if errors.Is(err, lockfile.ErrLockExists) {
			return NewError(ErrBusy, m.id, err)
		}
		if ctx.Err() != nil {
			return NewError(ErrCancelled, "", ctx.Err())
		}
		return fmt.Errorf("acquire install lock: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.logger.Warn("failed to release install lock", logging.KeyExtension, m.id, logging.KeyError, err)
		}
	}()

	manifest, err := m.fetcher.Fetch(ctx, m.manifestURL)
	if err != nil {
		return err
	}
	m.cacheLatest(ctx, manifest.Version)
	m.set(Installing(progressManifestFetched))

	if manifest.MinAppVersion != "" && m.appVersion != "" &&
		CompareVersions(m.appVersion, manifest.MinAppVersion) < 0 {
		return NewError(ErrAppVersionTooOld,
			fmt.Sprintf("%s %s requires app %s, running %s", m.id, manifest.Version, manifest.MinAppVersion, m.appVersion), nil)
	}

	if rec := m.installedRecord(); rec != nil && validRecord(m.layout, m.id, *rec) &&
		CompareVersions(rec.InstalledVersion, manifest.Version) >= 0 {
		m.logger.Info("runtime already up to date", logging.KeyExtension, m.id, logging.KeyVersion, rec.InstalledVersion)
		m.set(Installing(progressDone))
		return nil
	}

	info, err := m.detector.Detect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return NewError(ErrCancelled, "", ctx.Err())
		}
		return fmt.Errorf("detect platform: %w", err)
	}
	artifact, err := SelectArtifact(manifest, info.Arch)
	if err != nil {
		return err
	}

	result, err := m.installer.Install(ctx, m.id, manifest, artifact, func(p float64) {
		m.set(Installing(p))
	})
	if err != nil {
		return err
	}

	rec := InstallRecord{InstalledVersion: result.Version, ExecutablePath: result.ExecutablePath}
	// Persisting must not be abandoned once the runtime is published.
	if err := m.records.save(context.WithoutCancel(ctx), rec); err != nil {
		return err
	}
	m.mu.Lock()
	m.record = &rec
	m.mu.Unlock()

	removed, err := pruneVersions(m.layout.InstallRoot(m.id), result.Version)
	if err != nil {
		m.logger.Warn("failed to prune old versions", logging.KeyExtension, m.id, logging.KeyError, err)
	}
	for _, path := range removed {
		m.logger.Debug("pruned old version", logging.KeyExtension, m.id, logging.KeyPath, path)
	}

	m.logger.Info("runtime installed", logging.KeyExtension, m.id,
		logging.KeyVersion, result.Version, logging.KeyPath, result.ExecutablePath)
	m.set(Installing(progressDone))
	return nil
}

// Uninstall removes the extension's files and install record. The cached
// latest version is kept. Uninstalling when nothing is installed succeeds.
func (m *Manager) Uninstall(ctx context.Context) error {
	previous, ok := m.begin()
	if !ok {
		return nil
	}

	lock, err := lockfile.Acquire(ctx, m.layout.LocksDir(), m.id)
	if err != nil {
		m.end(previous)
		if errors.Is(err, lockfile.ErrLockExists) {
			return NewError(ErrBusy, m.id, err)
		}
		return fmt.Errorf("acquire install lock: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.logger.Warn("failed to release install lock", logging.KeyExtension, m.id, logging.KeyError, err)
		}
	}()

	if err := os.RemoveAll(m.layout.ExtensionDir(m.id)); err != nil {
		m.end(previous)
		return fmt.Errorf("remove extension directory: %w", err)
	}
	if err := m.records.clear(ctx); err != nil {
		m.end(previous)
		return err
	}

	m.mu.Lock()
	m.record = nil
	m.mu.Unlock()

	m.metrics.IncUninstall(m.id)
	m.logger.Info("runtime uninstalled", logging.KeyExtension, m.id)
	m.end(NotInstalled())
	return nil
}

func (m *Manager) installedRecord() *InstallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record
}

// liveRecord returns the install record only while its executable is still
// on disk under the versioned install root.
func (m *Manager) liveRecord() *InstallRecord {
	rec := m.installedRecord()
	if rec == nil {
		return nil
	}
	if !validRecord(m.layout, m.id, *rec) {
		m.logger.Warn("installed executable is missing", logging.KeyExtension, m.id,
			logging.KeyPath, rec.ExecutablePath)
		return nil
	}
	return rec
}

func (m *Manager) cacheLatest(ctx context.Context, version string) {
	m.mu.Lock()
	m.latest = version
	m.mu.Unlock()
	if err := m.records.setLatest(ctx, version); err != nil {
		m.logger.Warn("failed to cache latest version", logging.KeyExtension, m.id, logging.KeyError, err)
	}
}

func (m *Manager) isBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// begin marks the manager busy, returning the prior state, or false if it
// already was.
func (m *Manager) begin() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return State{}, false
	}
	m.busy = true
	return m.state, true
}

// end publishes the final state of a busy operation and clears the guard.
func (m *Manager) end(s State) {
	m.mu.Lock()
	m.busy = false
	m.mu.Unlock()
	m.set(s)
}

func (m *Manager) set(s State) {
	m.mu.Lock()
	m.state = s
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// setUnlessBusy publishes s unless an install or uninstall took over, and
// returns the state in effect afterwards.
func (m *Manager) setUnlessBusy(s State) State {
	m.mu.Lock()
	if m.busy {
		current := m.state
		m.mu.Unlock()
		return current
	}
	m.state = s
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
	return s
}

// snapshotListeners copies the listener set. Caller holds m.mu.
func (m *Manager) snapshotListeners() []func(State) {
	listeners := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}
