// Package metrics records run statistics in a prometheus registry that can
// be written out as a node-exporter textfile.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChrisMcGann/psmrank/pkg/train"
)

const namespace = "psmrank"

// Run holds the metrics of one rescoring run. It implements train.Observer.
type Run struct {
	registry *prometheus.Registry

	psms              *prometheus.GaugeVec
	features          prometheus.Gauge
	iterations        prometheus.Counter
	iterationDuration prometheus.Histogram
	estimated         *prometheus.GaugeVec
	heldOut           *prometheus.GaugeVec
	trainSize         *prometheus.GaugeVec
	fallbacks         prometheus.Counter
	initial           prometheus.Gauge
	preMerge          prometheus.Gauge
	identified        prometheus.Gauge
}

// NewRun creates the metrics of a run on a fresh registry.
func NewRun() *Run {
	r := &Run{
		registry: prometheus.NewRegistry(),
		psms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "psms",
			Help:      "PSMs kept after deduplication, by label",
		}, []string{"label"}),
		features: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "features",
			Help:      "Feature columns used for training",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Training iterations completed",
		}),
		iterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Wall time of one training iteration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		estimated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iteration_estimated_targets",
			Help:      "Targets estimated at the threshold on the training rows, by iteration",
		}, []string{"iteration"}),
		heldOut: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iteration_held_out_targets",
			Help:      "Targets accepted at the threshold on the held-out folds, by iteration",
		}, []string{"iteration"}),
		trainSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fold_training_rows",
			Help:      "Rows in the training set of the last iteration, by fold",
		}, []string{"fold"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fold_fallbacks_total",
			Help:      "Fold training steps that used all targets for lack of confident ones",
		}),
		initial: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "initial_targets",
			Help:      "Targets separated by the initial directions",
		}),
		preMerge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pre_merge_targets",
			Help:      "Targets accepted per fold before score merging",
		}),
		identified: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "identified_targets",
			Help:      "Targets at or below the q-value threshold after rescoring",
		}),
	}
	r.registry.MustRegister(
		r.psms, r.features, r.iterations, r.iterationDuration, r.estimated,
		r.heldOut, r.trainSize, r.fallbacks, r.initial, r.preMerge, r.identified,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveDataset records the size of the loaded dataset.
func (r *Run) ObserveDataset(targets, decoys, features int) {
	r.psms.WithLabelValues("target").Set(float64(targets))
	r.psms.WithLabelValues("decoy").Set(float64(decoys))
	r.features.Set(float64(features))
}

// ObserveIteration records one training iteration.
func (r *Run) ObserveIteration(it train.Iteration) {
	label := strconv.Itoa(it.Index)
	r.iterations.Inc()
	r.iterationDuration.Observe(it.Duration.Seconds())
	r.estimated.WithLabelValues(label).Set(float64(it.Estimated))
	r.heldOut.WithLabelValues(label).Set(float64(it.HeldOut))
	for _, fs := range it.Folds {
		r.trainSize.WithLabelValues(strconv.Itoa(fs.Fold)).Set(float64(fs.TrainSize))
		if fs.FellBack {
			r.fallbacks.Inc()
		}
	}
}

// ObserveResult records the outcome of a run.
func (r *Run) ObserveResult(res *train.Result) {
	r.initial.Set(float64(res.Initial))
	r.preMerge.Set(float64(res.PreMerge))
	r.identified.Set(float64(res.Identified))
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (r *Run) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

var _ train.Observer = (*Run)(nil)
