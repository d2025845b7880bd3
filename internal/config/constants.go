package config

import "time"

// Lua schema field names and globals
const (
	luaGlobalRTM = "rtm"

	luaFieldApp        = "app"
	luaFieldVersion    = "version"
	luaFieldProduct    = "product"
	luaFieldDataDir    = "data_dir"
	luaFieldStore      = "store"
	luaFieldBackend    = "backend"
	luaFieldBridge     = "bridge"
	luaFieldRPCArg     = "rpc_arg"
	luaFieldTimeout    = "timeout_seconds"
	luaFieldExtensions = "extensions"
	luaFieldID         = "id"
	luaFieldManifest   = "manifest_url"
	luaFieldProtocol   = "protocol_version"
	luaFieldSignature  = "signature"
	luaFieldKeyring    = "keyring"
	luaFieldCodesign   = "codesign_tool"
)

// Limits
const (
	// MaxConfigSize is the largest config file accepted.
	MaxConfigSize = 1 << 20
	// MaxExtensions bounds the extensions list.
	MaxExtensions = 64
	// DefaultParseTimeout applies when the caller's context has no deadline.
	DefaultParseTimeout = 5 * time.Second
)

// Defaults
const (
	DefaultProduct        = "RTM"
	DefaultBackend        = "file"
	DefaultRPCArg         = "--rpc"
	DefaultTimeoutSeconds = 120
	DefaultConfigFile     = "rtm.lua"
)

// Signature schemes
const (
	SignatureCodesign = "codesign"
	SignatureOpenPGP  = "openpgp"
)

// Environment overrides
const (
	EnvConfigDir = "RTM_CONFIG_DIR"
	EnvDataDir   = "RTM_DATA_DIR"
)
