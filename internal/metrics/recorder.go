// Package metrics records install and bridge outcomes. Implementations may
// forward to Prometheus; NoopRecorder is the default when metrics are not
// configured.
package metrics

import "time"

// Outcome labels shared by all counters.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeDegraded  = "degraded"
	OutcomeCancelled = "cancelled"
)

// Recorder defines observability hooks for runtime management.
type Recorder interface {
	ObserveInstall(extension, outcome string, d time.Duration)
	IncRefresh(extension, outcome string)
	IncUninstall(extension string)
	ObserveBridgeCall(extension, outcome string, d time.Duration)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveInstall(string, string, time.Duration)    {}
func (NoopRecorder) IncRefresh(string, string)                       {}
func (NoopRecorder) IncUninstall(string)                             {}
func (NoopRecorder) ObserveBridgeCall(string, string, time.Duration) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
