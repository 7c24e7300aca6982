// Package metrics records run summaries as Prometheus gauges and writes them
// in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "degplot"

// Summary is what a finished run reports.
type Summary struct {
	Genes            int
	SignificantGenes int
	UndefinedPValues int
	OmittedFromPlot  int
	ControlSamples   int
	LesionSamples    int
	ExcludedSamples  int
	Duration         time.Duration
}

// Recorder holds the gauges of a single run in a private registry.
type Recorder struct {
	registry *prometheus.Registry

	genes       prometheus.Gauge
	significant prometheus.Gauge
	undefined   prometheus.Gauge
	omitted     prometheus.Gauge
	samples     *prometheus.GaugeVec
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		genes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "genes_analysed",
			Help:      "Genes in the count matrix.",
		}),
		significant: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "genes_significant",
			Help:      "Genes passing both the fold-change and p-value cutoffs.",
		}),
		undefined: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "genes_undefined_pvalue",
			Help:      "Genes whose t-test p-value is undefined.",
		}),
		omitted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "genes_omitted_from_plot",
			Help:      "Genes left off the volcano plot for non-finite coordinates.",
		}),
		samples: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "samples",
			Help:      "Samples per condition group.",
		}, []string{"group"}),
		duration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the analysis run.",
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}
}

// Observe sets every gauge from s.
func (r *Recorder) Observe(s Summary, now time.Time) {
	r.genes.Set(float64(s.Genes))
	r.significant.Set(float64(s.SignificantGenes))
	r.undefined.Set(float64(s.UndefinedPValues))
	r.omitted.Set(float64(s.OmittedFromPlot))
	r.samples.WithLabelValues("control").Set(float64(s.ControlSamples))
	r.samples.WithLabelValues("lesion").Set(float64(s.LesionSamples))
	r.samples.WithLabelValues("excluded").Set(float64(s.ExcludedSamples))
	r.duration.Set(s.Duration.Seconds())
	r.lastSuccess.Set(float64(now.Unix()))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the gauges atomically to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
