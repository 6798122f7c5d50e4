package monitor

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	monkit "github.com/spacemonkeygo/monkit/v3"
)

// MonkitAdapter exposes monkit task stats through a Prometheus collector so
// the per-call annotations show up on /metrics without double bookkeeping.
type MonkitAdapter struct {
	registry *monkit.Registry
}

func NewMonkitAdapter(registry *monkit.Registry) *MonkitAdapter {
	return &MonkitAdapter{registry: registry}
}

// Describe implements prometheus.Collector (no-op for dynamic metrics)
func (a *MonkitAdapter) Describe(ch chan<- *prometheus.Desc) {}

// Collect converts monkit stats to Prometheus gauges
func (a *MonkitAdapter) Collect(ch chan<- prometheus.Metric) {
	collected := make(map[string]prometheus.Metric)

	a.registry.Stats(func(key monkit.SeriesKey, field string, value float64) {
		if skipField(field) {
			return
		}

		labelNames := make([]string, 0, 4)
		labelValues := make([]string, 0, 4)

		if key.Tags != nil {
			tags := key.Tags.All()
			tagKeys := make([]string, 0, len(tags))
			for k := range tags {
				tagKeys = append(tagKeys, k)
			}
			sort.Strings(tagKeys)
			for _, k := range tagKeys {
				labelNames = append(labelNames, k)
				labelValues = append(labelValues, tags[k])
			}
		}

		if field != "" && essentialField(field) {
			labelNames = append(labelNames, "field")
			labelValues = append(labelValues, field)
		}

		desc := prometheus.NewDesc(key.Measurement, key.Measurement, labelNames, nil)
		metric := prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, labelValues...)
		collected[metricID(key.Measurement, labelNames, labelValues)] = metric
	})

	for _, metric := range collected {
		ch <- metric
	}
}

// skipField drops detailed percentile fields that explode cardinality.
func skipField(field string) bool {
	switch field {
	case "r10", "r50", "r90", "r99", "ravg", "rmin", "rmax", "recent", "high", "low":
		return true
	}
	return false
}

func essentialField(field string) bool {
	switch field {
	case "count", "sum", "value", "current", "errors", "successes", "failures", "total":
		return true
	}
	return false
}

func metricID(measurement string, names, values []string) string {
	var id strings.Builder
	id.WriteString(measurement)
	for i, name := range names {
		if i < len(values) {
			id.WriteString("_")
			id.WriteString(name)
			id.WriteString("=")
			id.WriteString(values[i])
		}
	}
	return id.String()
}
