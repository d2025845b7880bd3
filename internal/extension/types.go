package extension

import "fmt"

// Manifest describes the latest published runtime for one extension.
type Manifest struct {
	ID              string     `json:"id"`
	Version         string     `json:"version"`
	ProtocolVersion int        `json:"protocolVersion"`
	MinAppVersion   string     `json:"minAppVersion,omitempty"`
	ExecutableName  string     `json:"executableName"`
	Artifacts       []Artifact `json:"artifacts"`
}

// Artifact is one downloadable archive of a runtime build.
type Artifact struct {
	Arch      string `json:"arch"`
	URL       string `json:"url"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"sizeBytes"`
	TeamID    string `json:"teamID"`
}

// InstallRecord is the persisted result of a successful install.
type InstallRecord struct {
	InstalledVersion string
	ExecutablePath   string
}

// Phase is the coarse install state of an extension.
type Phase int

const (
	PhaseChecking Phase = iota
	PhaseNotInstalled
	PhaseInstalling
	PhaseInstalled
	PhaseUpdateAvailable
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseChecking:
		return "checking"
	case PhaseNotInstalled:
		return "not-installed"
	case PhaseInstalling:
		return "installing"
	case PhaseInstalled:
		return "installed"
	case PhaseUpdateAvailable:
		return "update-available"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a snapshot of an extension's install state. Which fields are
// meaningful depends on Phase.
type State struct {
	Phase    Phase
	Progress float64 // Installing
	Version  string  // Installed, UpdateAvailable (current)
	Latest   string  // UpdateAvailable
	Message  string  // Failed
}

func Checking() State { return State{Phase: PhaseChecking} }
func NotInstalled() State { return State{Phase: PhaseNotInstalled} }
func Installing(progress float64) State { return State{Phase: PhaseInstalling, Progress: progress} }
func Installed(version string) State { return State{Phase: PhaseInstalled, Version: version} }
func Failed(message string) State { return State{Phase: PhaseFailed, Message: message} }

func UpdateAvailable(current, latest string) State {
	return State{Phase: PhaseUpdateAvailable, Version: current, Latest: latest}
}

func (s State) String() string {
	switch s.Phase {
	case PhaseInstalling:
		return fmt.Sprintf("installing (%.0f%%)", s.Progress*100)
	case PhaseInstalled:
		return "installed " + s.Version
	case PhaseUpdateAvailable:
		return fmt.Sprintf("update available (%s -> %s)", s.Version, s.Latest)
	case PhaseFailed:
		return "failed: " + s.Message
	default:
		return s.Phase.String()
	}
}

// Install progress milestones.
const (
	progressManifestFetched   = 0.08
	progressDownloadStarted   = 0.12
	progressChecksumVerified  = 0.45
	progressExtracted         = 0.58
	progressExecutableFound   = 0.70
	progressSignatureVerified = 0.86
	progressDone              = 1.0
)
