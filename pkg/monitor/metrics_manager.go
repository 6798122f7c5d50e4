package monitor

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	monkit "github.com/spacemonkeygo/monkit/v3"
)

// Mon is the package-level monkit scope used to annotate every remote call
// and engine phase: `defer monitor.Mon.Task()(&ctx)(&err)`.
var Mon = monkit.Package()

var (
	registryOnce sync.Once
	promRegistry *prometheus.Registry
)

// Registry returns the process-wide Prometheus registry, wired with the Go
// runtime collectors and the monkit bridge.
func Registry() *prometheus.Registry {
	registryOnce.Do(func() {
		promRegistry = prometheus.NewRegistry()
		promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			NewMonkitAdapter(monkit.Default),
		)
	})
	return promRegistry
}

// MustRegister registers application collectors on the shared registry.
func MustRegister(cs ...prometheus.Collector) {
	Registry().MustRegister(cs...)
}

// CreateMetricsHandler creates an HTTP handler for metrics exposure
func CreateMetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}
