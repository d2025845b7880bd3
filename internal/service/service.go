// Package service wires configuration into one extension manager and one
// command bridge per configured extension.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ZebulonRouseFrantzich/rtm/internal/bridge"
	"github.com/ZebulonRouseFrantzich/rtm/internal/config"
	"github.com/ZebulonRouseFrantzich/rtm/internal/extension"
	"github.com/ZebulonRouseFrantzich/rtm/internal/logging"
	"github.com/ZebulonRouseFrantzich/rtm/internal/metrics"
	"github.com/ZebulonRouseFrantzich/rtm/internal/platform"
	"github.com/ZebulonRouseFrantzich/rtm/internal/store"
)

// ErrUnknownExtension is returned for ids not present in the configuration.
var ErrUnknownExtension = errors.New("unknown extension")

// Options configures Open.
type Options struct {
	Config *config.Config

	// Optional collaborators.
	Logger     logging.Logger
	Metrics    metrics.Recorder
	HTTPClient *http.Client
	Detector   platform.Detector
	Clock      extension.Clock

	// Store replaces the configured backend when set. Open does not close it.
	Store store.Store
	// Verifier replaces every extension's configured signature scheme.
	Verifier extension.SignatureVerifier
}

// Runtimes holds the managers and bridges built from one configuration.
type Runtimes struct {
	store     store.Store
	ownsStore bool
	layout    extension.Layout
	logger    logging.Logger

	ids      []string
	managers map[string]*extension.Manager
	bridges  map[string]*bridge.Bridge
}

// Open resolves the data root, opens the preference store and constructs a
// Manager and Bridge for every configured extension. Managers load their
// state from disk only; call Refresh or RefreshAll to consult manifests.
func Open(ctx context.Context, opts Options) (*Runtimes, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("service: config is required")
	}
	logger := logging.OrNop(opts.Logger)

	dataRoot, err := cfg.DataRoot()
	if err != nil {
		return nil, err
	}
	productDir := filepath.Join(dataRoot, cfg.App.Product)

	r := &Runtimes{
		store:    opts.Store,
		layout:   extension.NewLayout(dataRoot, cfg.App.Product),
		logger:   logger,
		managers: make(map[string]*extension.Manager, len(cfg.Extensions)),
		bridges:  make(map[string]*bridge.Bridge, len(cfg.Extensions)),
	}
	if r.store == nil {
		st, err := store.Open(cfg.Store.Backend, productDir)
		if err != nil {
			return nil, fmt.Errorf("open preference store: %w", err)
		}
		r.store = st
		r.ownsStore = true
	}

	client := opts.HTTPClient
	if client == nil {
		client = extension.NewHTTPClient()
	}
	detector := opts.Detector
	if detector == nil {
		detector = platform.NewDetector()
	}

	for _, ext := range cfg.Extensions {
		verifier := opts.Verifier
		if verifier == nil {
			verifier, err = newVerifier(ext)
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("extension %s: %w", ext.ID, err)
			}
		}

		mgr, err := extension.NewManager(ctx, extension.Config{
			ExtensionID:     ext.ID,
			ManifestURL:     ext.ManifestURL,
			ProtocolVersion: ext.ProtocolVersion,
			AppVersion:      cfg.App.Version,
			Layout:          r.layout,
			Store:           r.store,
			Verifier:        verifier,
			Platform:        detector,
			HTTPClient:      client,
			Logger:          logger,
			Metrics:         opts.Metrics,
			Clock:           opts.Clock,
		})
		if err != nil {
			r.Close()
			return nil, err
		}

		r.ids = append(r.ids, ext.ID)
		r.managers[ext.ID] = mgr
		r.bridges[ext.ID] = bridge.New(mgr, bridge.Config{
			RPCArg:  cfg.Bridge.RPCArg,
			Timeout: cfg.Bridge.Timeout(),
			Logger:  logger,
			Metrics: opts.Metrics,
		})
		logger.Debug("extension loaded", logging.KeyExtension, ext.ID, "state", mgr.State().String())
	}

	return r, nil
}

// newVerifier builds the signature verifier selected by ext.Signature.
func newVerifier(ext config.Extension) (extension.SignatureVerifier, error) {
	switch ext.Signature {
	case config.SignatureOpenPGP:
		keyring, err := extension.LoadKeyring(ext.Keyring)
		if err != nil {
			return nil, err
		}
		return extension.NewOpenPGPVerifier(keyring), nil
	case config.SignatureCodesign, "":
		return extension.NewCodesignVerifier(ext.CodesignTool), nil
	default:
		return nil, fmt.Errorf("unknown signature scheme %q", ext.Signature)
	}
}

// IDs returns the configured extension ids in configuration order.
func (r *Runtimes) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Layout returns the on-disk layout shared by all extensions.
func (r *Runtimes) Layout() extension.Layout {
	return r.layout
}

// Manager returns the manager for id.
func (r *Runtimes) Manager(id string) (*extension.Manager, error) {
	m, ok := r.managers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s (configured: %v)", ErrUnknownExtension, id, r.sortedIDs())
	}
	return m, nil
}

// Bridge returns the command bridge for id.
func (r *Runtimes) Bridge(id string) (*bridge.Bridge, error) {
	b, ok := r.bridges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s (configured: %v)", ErrUnknownExtension, id, r.sortedIDs())
	}
	return b, nil
}

// RefreshAll refreshes every extension concurrently and returns the
// resulting states keyed by id.
func (r *Runtimes) RefreshAll(ctx context.Context) map[string]extension.State {
	states := make([]extension.State, len(r.ids))

	var g errgroup.Group
	for i, id := range r.ids {
		mgr := r.managers[id]
		g.Go(func() error {
			states[i] = mgr.Refresh(ctx)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]extension.State, len(r.ids))
	for i, id := range r.ids {
		out[id] = states[i]
	}
	return out
}

// Close releases the preference store if Open created it.
func (r *Runtimes) Close() error {
	if r.ownsStore && r.store != nil {
		if err := r.store.Close(); err != nil {
			return fmt.Errorf("close preference store: %w", err)
		}
	}
	return nil
}

func (r *Runtimes) sortedIDs() []string {
	ids := r.IDs()
	sort.Strings(ids)
	return ids
}
