package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/ZebulonRouseFrantzich/rtm/internal/logging"
	"github.com/ZebulonRouseFrantzich/rtm/internal/platform"
)

// Parser represents a Lua config parser with platform detection.
type Parser struct {
	detector platform.Detector
	logger   logging.Logger
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector leaves the platform table undefined.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector, logger: logging.Nop()}
}

// WithLogger sets the parser's logger.
func (p *Parser) WithLogger(logger logging.Logger) *Parser {
	p.logger = logging.OrNop(logger)
	return p
}

// ParseFile reads and parses the config at path. Relative keyring paths
// are resolved against the file's directory.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return nil, &ParseError{
			Message: "config file too large",
			Detail:  fmt.Sprintf("%d bytes, maximum is %d", info.Size(), MaxConfigSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := p.ParseString(ctx, string(data))
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range cfg.Extensions {
		if k := cfg.Extensions[i].Keyring; k != "" && !filepath.IsAbs(k) {
			cfg.Extensions[i].Keyring = filepath.Join(base, k)
		}
	}

	p.logger.Debug("config loaded", logging.KeyPath, path, "extensions", len(cfg.Extensions))
	return cfg, nil
}

// ParseString parses a Lua config from a string.
// This is useful for testing and in-memory configs.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	if len(luaCode) > MaxConfigSize {
		return nil, &ParseError{
			Message: "config too large",
			Detail:  fmt.Sprintf("%d bytes, maximum is %d", len(luaCode), MaxConfigSize),
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultParseTimeout)
		defer cancel()
	}

	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	// Detect platform and inject platform table
	if p.detector != nil {
		platformInfo, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, platformInfo); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	// Execute Lua code
	if err := L.DoString(luaCode); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ParseError{Message: "config evaluation aborted", Detail: ctxErr.Error()}
		}
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	cfg, err := extractConfig(L)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("config parsed", "extensions", len(cfg.Extensions), "backend", cfg.Store.Backend)
	return cfg, nil
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

// extractConfig extracts the config from a Lua state.
// It expects a global "rtm" table with the config structure.
func extractConfig(L *lua.LState) (*Config, error) {
	rtmTable := L.GetGlobal(luaGlobalRTM)
	if rtmTable.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'rtm' table",
			Detail:  fmt.Sprintf("expected table, got %s", rtmTable.Type()),
		}
	}
	table := rtmTable.(*lua.LTable)

	cfg := &Config{}
	var err error

	if t, ok, e := optionalTable(table, luaFieldApp); e != nil {
		return nil, e
	} else if ok {
		if cfg.App, err = extractApp(t); err != nil {
			return nil, err
		}
	}

	if t, ok, e := optionalTable(table, luaFieldStore); e != nil {
		return nil, e
	} else if ok {
		if cfg.Store.Backend, err = stringField(t, luaFieldStore, luaFieldBackend); err != nil {
			return nil, err
		}
	}

	if t, ok, e := optionalTable(table, luaFieldBridge); e != nil {
		return nil, e
	} else if ok {
		if cfg.Bridge, err = extractBridge(t); err != nil {
			return nil, err
		}
	}

	if t, ok, e := optionalTable(table, luaFieldExtensions); e != nil {
		return nil, e
	} else if ok {
		if cfg.Extensions, err = extractExtensions(t); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()

	// Validate the extracted config
	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
			Err:     err,
		}
	}

	return cfg, nil
}

func extractApp(table *lua.LTable) (App, error) {
	var app App
	var err error
	if app.Version, err = stringField(table, luaFieldApp, luaFieldVersion); err != nil {
		return app, err
	}
	if app.Product, err = stringField(table, luaFieldApp, luaFieldProduct); err != nil {
		return app, err
	}
	if app.DataDir, err = stringField(table, luaFieldApp, luaFieldDataDir); err != nil {
		return app, err
	}
	return app, nil
}

func extractBridge(table *lua.LTable) (Bridge, error) {
	var b Bridge
	var err error
	if b.RPCArg, err = stringField(table, luaFieldBridge, luaFieldRPCArg); err != nil {
		return b, err
	}
	if b.TimeoutSeconds, err = intField(table, luaFieldBridge, luaFieldTimeout); err != nil {
		return b, err
	}
	return b, nil
}

// extractExtensions reads the extensions array. nil entries from platform
// conditionals are skipped.
func extractExtensions(table *lua.LTable) ([]Extension, error) {
	var exts []Extension
	for i := 1; i <= table.MaxN(); i++ {
		value := table.RawGetInt(i)
		if value.Type() == lua.LTNil {
			continue
		}
		scope := fmt.Sprintf("%s[%d]", luaFieldExtensions, i)
		t, ok := value.(*lua.LTable)
		if !ok {
			return nil, typeError(scope, "table", value)
		}
		ext, err := extractExtension(t, scope)
		if err != nil {
			return nil, err
		}
		exts = append(exts, ext)
	}
	return exts, nil
}

func extractExtension(t *lua.LTable, scope string) (Extension, error) {
	var ext Extension
	var err error
	if ext.ID, err = stringField(t, scope, luaFieldID); err != nil {
		return ext, err
	}
	if ext.ManifestURL, err = stringField(t, scope, luaFieldManifest); err != nil {
		return ext, err
	}
	if ext.ProtocolVersion, err = intField(t, scope, luaFieldProtocol); err != nil {
		return ext, err
	}
	if ext.Signature, err = stringField(t, scope, luaFieldSignature); err != nil {
		return ext, err
	}
	if ext.Keyring, err = stringField(t, scope, luaFieldKeyring); err != nil {
		return ext, err
	}
	if ext.CodesignTool, err = stringField(t, scope, luaFieldCodesign); err != nil {
		return ext, err
	}
	return ext, nil
}

func optionalTable(parent *lua.LTable, name string) (*lua.LTable, bool, error) {
	value := parent.RawGetString(name)
	switch v := value.(type) {
	case *lua.LNilType:
		return nil, false, nil
	case *lua.LTable:
		return v, true, nil
	default:
		return nil, false, typeError(name, "table", value)
	}
}

func stringField(table *lua.LTable, scope, name string) (string, error) {
	value := table.RawGetString(name)
	switch v := value.(type) {
	case *lua.LNilType:
		return "", nil
	case lua.LString:
		return strings.TrimSpace(string(v)), nil
	default:
		return "", typeError(scope+"."+name, "string", value)
	}
}

func intField(table *lua.LTable, scope, name string) (int, error) {
	value := table.RawGetString(name)
	switch v := value.(type) {
	case *lua.LNilType:
		return 0, nil
	case lua.LNumber:
		n := float64(v)
		if n != float64(int(n)) {
			return 0, &ParseError{Message: "invalid field type", Detail: fmt.Sprintf("%s.%s must be an integer, got %v", scope, name, n)}
		}
		return int(n), nil
	default:
		return 0, typeError(scope+"."+name, "number", value)
	}
}

func typeError(field, want string, got lua.LValue) error {
	return &ParseError{
		Message: "invalid field type",
		Detail:  fmt.Sprintf("%s: expected %s, got %s", field, want, got.Type()),
	}
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		// Extract the most relevant part of the error
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
