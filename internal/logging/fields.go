package logging

// Canonical log field names to avoid drift across packages.
const (
	KeyExtension  = "extension"
	KeyVersion    = "version"
	KeyLatest     = "latest"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyArch       = "arch"
	KeyAction     = "action"
	KeyExitCode   = "exit_code"
	KeyProgress   = "progress"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)
