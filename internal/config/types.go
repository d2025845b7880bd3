package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// Config is the parsed rtm table.
type Config struct {
	App        App         `json:"app" yaml:"app"`
	Store      Store       `json:"store" yaml:"store"`
	Bridge     Bridge      `json:"bridge" yaml:"bridge"`
	Extensions []Extension `json:"extensions" yaml:"extensions"`
}

// App describes the host application.
type App struct {
	// Version is compared with a manifest's minAppVersion. Optional.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// Product names the directory under the data root.
	Product string `json:"product" yaml:"product"`
	// DataDir overrides the platform data root.
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
}

// Store selects the preference store backend.
type Store struct {
	Backend string `json:"backend" yaml:"backend"`
}

// Bridge configures runtime command calls.
type Bridge struct {
	RPCArg         string `json:"rpc_arg" yaml:"rpc_arg"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout returns the bridge timeout as a duration.
func (b Bridge) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// Extension declares one managed runtime.
type Extension struct {
	ID              string `json:"id" yaml:"id"`
	ManifestURL     string `json:"manifest_url" yaml:"manifest_url"`
	ProtocolVersion int    `json:"protocol_version" yaml:"protocol_version"`
	// Signature is "codesign" or "openpgp".
	Signature string `json:"signature" yaml:"signature"`
	// Keyring is the OpenPGP public keyring path, required for "openpgp".
	Keyring string `json:"keyring,omitempty" yaml:"keyring,omitempty"`
	// CodesignTool overrides the codesign binary path.
	CodesignTool string `json:"codesign_tool,omitempty" yaml:"codesign_tool,omitempty"`
}

// Extension returns the extension with the given id.
func (c *Config) Extension(id string) (Extension, bool) {
	for _, ext := range c.Extensions {
		if ext.ID == id {
			return ext, true
		}
	}
	return Extension{}, false
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.App.Product == "" {
		c.App.Product = DefaultProduct
	}
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultBackend
	}
	if c.Bridge.RPCArg == "" {
		c.Bridge.RPCArg = DefaultRPCArg
	}
	if c.Bridge.TimeoutSeconds == 0 {
		c.Bridge.TimeoutSeconds = DefaultTimeoutSeconds
	}
	for i := range c.Extensions {
		if c.Extensions[i].Signature == "" {
			c.Extensions[i].Signature = SignatureCodesign
		}
	}
}

var (
	extensionIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	versionPattern     = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)
	productPattern     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]*$`)
)

// Validate performs basic validation on a Config.
func (c *Config) Validate() error {
	if c.App.Version != "" && !versionPattern.MatchString(c.App.Version) {
		return &ValidationError{Field: "app.version", Message: fmt.Sprintf("%q is not a dotted numeric version", c.App.Version)}
	}
	if !productPattern.MatchString(c.App.Product) {
		return &ValidationError{Field: "app.product", Message: fmt.Sprintf("%q is not a valid directory name", c.App.Product)}
	}

	switch c.Store.Backend {
	case "file", "sqlite":
	default:
		return &ValidationError{Field: "store.backend", Message: fmt.Sprintf("unknown backend %q (want file or sqlite)", c.Store.Backend)}
	}

	if c.Bridge.TimeoutSeconds < 0 {
		return &ValidationError{Field: "bridge.timeout_seconds", Message: "must be positive"}
	}

	if len(c.Extensions) > MaxExtensions {
		return &ValidationError{
			Field:   "extensions",
			Message: fmt.Sprintf("too many extensions (%d), maximum is %d", len(c.Extensions), MaxExtensions),
		}
	}

	seen := make(map[string]bool, len(c.Extensions))
	for i, ext := range c.Extensions {
		field := fmt.Sprintf("extensions[%d]", i+1)
		if err := ext.validate(); err != nil {
			err.Field = field + "." + err.Field
			return err
		}
		if seen[ext.ID] {
			return &ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate extension id %q", ext.ID)}
		}
		seen[ext.ID] = true
	}

	return nil
}

func (e Extension) validate() *ValidationError {
	if !extensionIDPattern.MatchString(e.ID) {
		return &ValidationError{Field: "id", Message: fmt.Sprintf("%q must match %s", e.ID, extensionIDPattern)}
	}
	if err := validateManifestURL(e.ManifestURL); err != nil {
		return &ValidationError{Field: "manifest_url", Message: err.Error()}
	}
	if e.ProtocolVersion <= 0 {
		return &ValidationError{Field: "protocol_version", Message: "must be a positive integer"}
	}
	switch e.Signature {
	case SignatureCodesign:
	case SignatureOpenPGP:
		if e.Keyring == "" {
			return &ValidationError{Field: "keyring", Message: "required for openpgp signatures"}
		}
	default:
		return &ValidationError{Field: "signature", Message: fmt.Sprintf("unknown scheme %q (want codesign or openpgp)", e.Signature)}
	}
	return nil
}

func validateManifestURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("must use https:// or http://")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}
