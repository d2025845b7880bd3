package metrics

import (
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtm"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	installDuration *prom.HistogramVec
	installs        *prom.CounterVec
	refreshes       *prom.CounterVec
	uninstalls      *prom.CounterVec
	bridgeDuration  *prom.HistogramVec
	bridgeCalls     *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the rtm metrics on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		installDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "install_duration_seconds",
			Help:      "Duration of runtime install attempts",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"extension", "outcome"}),
		installs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Runtime install attempts by outcome",
		}, []string{"extension", "outcome"}),
		refreshes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Manifest refreshes by outcome",
		}, []string{"extension", "outcome"}),
		uninstalls: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "uninstalls_total",
			Help:      "Runtime uninstalls",
		}, []string{"extension"}),
		bridgeDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_call_duration_seconds",
			Help:      "Duration of bridge command calls",
			Buckets:   prom.DefBuckets,
		}, []string{"extension", "outcome"}),
		bridgeCalls: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_calls_total",
			Help:      "Bridge command calls by outcome",
		}, []string{"extension", "outcome"}),
	}
	reg.MustRegister(pr.installDuration, pr.installs, pr.refreshes, pr.uninstalls, pr.bridgeDuration, pr.bridgeCalls)
	return pr
}

func (p *PrometheusRecorder) ObserveInstall(extension, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.installDuration.WithLabelValues(extension, outcome).Observe(d.Seconds())
	p.installs.WithLabelValues(extension, outcome).Inc()
}

func (p *PrometheusRecorder) IncRefresh(extension, outcome string) {
	if p == nil {
		return
	}
	p.refreshes.WithLabelValues(extension, outcome).Inc()
}

func (p *PrometheusRecorder) IncUninstall(extension string) {
	if p == nil {
		return
	}
	p.uninstalls.WithLabelValues(extension).Inc()
}

func (p *PrometheusRecorder) ObserveBridgeCall(extension, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.bridgeDuration.WithLabelValues(extension, outcome).Observe(d.Seconds())
	p.bridgeCalls.WithLabelValues(extension, outcome).Inc()
}

// WriteTextfile writes the registry's metrics in the node_exporter textfile
// format to path.
func WriteTextfile(reg *prom.Registry, path string) error {
	if err := prom.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
