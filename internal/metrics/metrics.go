// Package metrics holds the engine's prometheus collectors.
//
// All recording methods are safe on a nil *Metrics, so components can be
// built without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recalc"

// Metrics is the set of collectors shared by the reactor and feed consumer.
type Metrics struct {
	EventsConsumed prometheus.Counter
	Dispatches     *prometheus.CounterVec
	Writes         *prometheus.CounterVec
	EvalFailures   prometheus.Counter
	CascadeBlocks  prometheus.Counter
	Quarantined    prometheus.Counter
	FanOut         prometheus.Histogram
	BatchDuration  prometheus.Histogram
	FeedLag        prometheus.Gauge
	FeedCursor     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		EventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Change events read from the feed.",
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Trigger entry dispatches by outcome.",
		}, []string{"outcome"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Formula results written back to the store, by path.",
		}, []string{"path"}),
		EvalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_failures_total",
			Help:      "Formula evaluations that returned an error.",
		}),
		CascadeBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_blocks_total",
			Help:      "Recomputes suppressed by the cascade guard.",
		}),
		Quarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quarantined_total",
			Help:      "(formula, record) pairs put into quarantine.",
		}),
		FanOut: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolver_fanout_records",
			Help:      "Records affected by one remote dispatch.",
			Buckets:   []float64{0, 1, 2, 5, 10, 50, 100, 500, 1000},
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_batch_duration_seconds",
			Help:      "Time to dispatch one feed batch to completion.",
			Buckets:   prometheus.DefBuckets,
		}),
		FeedLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_lag_events",
			Help:      "Changes committed but not yet checkpointed.",
		}),
		FeedCursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_cursor",
			Help:      "Last checkpointed feed position.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.EventsConsumed, m.Dispatches, m.Writes, m.EvalFailures, m.CascadeBlocks,
		m.Quarantined, m.FanOut, m.BatchDuration, m.FeedLag, m.FeedCursor,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveDispatch(outcome string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveWrite(path string) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(path).Inc()
}

func (m *Metrics) ObserveEvalFailure() {
	if m == nil {
		return
	}
	m.EvalFailures.Inc()
}

func (m *Metrics) ObserveCascadeBlock() {
	if m == nil {
		return
	}
	m.CascadeBlocks.Inc()
}

func (m *Metrics) ObserveQuarantine() {
	if m == nil {
		return
	}
	m.Quarantined.Inc()
}

func (m *Metrics) ObserveFanOut(n int) {
	if m == nil {
		return
	}
	m.FanOut.Observe(float64(n))
}

// ObserveBatch records one dispatched feed batch.
func (m *Metrics) ObserveBatch(events int, seconds float64) {
	if m == nil {
		return
	}
	m.EventsConsumed.Add(float64(events))
	m.BatchDuration.Observe(seconds)
}

// SetFeedPosition records the checkpoint and the distance to the feed head.
func (m *Metrics) SetFeedPosition(cursor, head int64) {
	if m == nil {
		return
	}
	m.FeedCursor.Set(float64(cursor))
	lag := head - cursor
	if lag < 0 {
		lag = 0
	}
	m.FeedLag.Set(float64(lag))
}
