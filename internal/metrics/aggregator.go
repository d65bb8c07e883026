package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/poulsbopete/mc-mcp/internal/export"
)

// Sample is one ad hoc counter increment with optional tags. The tag keyset
// for a given name is fixed on first use.
type Sample struct {
	Name  string
	Value float64
	Tags  map[string]string
}

// Aggregator accumulates fraud-domain metrics on a private Prometheus
// registry. All methods are safe for concurrent use, and Snapshot returns a
// single consistent view of every series.
type Aggregator struct {
	registry *prometheus.Registry

	checksTotal     *prometheus.CounterVec
	riskScore       prometheus.Histogram
	checkDuration   prometheus.Histogram
	apiCallsTotal   *prometheus.CounterVec
	apiCallDuration *prometheus.HistogramVec

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
}

// NewAggregator creates an aggregator with the fraud-check instruments
// pre-registered.
func NewAggregator() *Aggregator {
	a := &Aggregator{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]*prometheus.CounterVec),
	}

	a.checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mastercard",
		Name:      "fraud_checks_total",
		Help:      "Total fraud checks by final status.",
	}, []string{"status"})

	a.riskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mastercard",
		Name:      "fraud_risk_score",
		Help:      "Distribution of computed risk scores.",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	a.checkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mastercard",
		Name:      "fraud_check_duration_seconds",
		Help:      "End-to-end fraud check duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	a.apiCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mastercard",
		Name:      "api_calls_total",
		Help:      "Total upstream API calls by API and operation.",
	}, []string{"api", "operation"})

	a.apiCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mastercard",
		Name:      "api_call_duration_seconds",
		Help:      "Upstream API call duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"api", "operation"})

	a.registry.MustRegister(
		a.checksTotal,
		a.riskScore,
		a.checkDuration,
		a.apiCallsTotal,
		a.apiCallDuration,
	)
	return a
}

// RecordCheck records the outcome of one completed fraud check.
func (a *Aggregator) RecordCheck(status string, score float64, dur time.Duration) {
	a.checksTotal.WithLabelValues(status).Inc()
	a.riskScore.Observe(score)
	a.checkDuration.Observe(dur.Seconds())
}

// RecordAPICall records one upstream API call.
func (a *Aggregator) RecordAPICall(api, operation string, dur time.Duration) {
	a.apiCallsTotal.WithLabelValues(api, operation).Inc()
	a.apiCallDuration.WithLabelValues(api, operation).Observe(dur.Seconds())
}

// Count increments an ad hoc counter, creating the series on first use. A
// zero Value counts as one. Samples whose tag keyset disagrees with the
// first sample for the same name are dropped.
func (a *Aggregator) Count(s Sample) {
	if s.Name == "" {
		return
	}
	a.mu.Lock()
	vec, ok := a.counters[s.Name]
	if !ok {
		keys := make([]string, 0, len(s.Tags))
		for k := range s.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mastercard",
			Name:      s.Name,
			Help:      "Ad hoc demo counter.",
		}, keys)
		if err := a.registry.Register(vec); err != nil {
			a.mu.Unlock()
			return
		}
		a.counters[s.Name] = vec
	}
	a.mu.Unlock()

	m, err := vec.GetMetricWith(prometheus.Labels(s.Tags))
	if err != nil {
		return
	}
	v := s.Value
	if v == 0 {
		v = 1
	}
	m.Add(v)
}

// Snapshot gathers every series into wire records, all stamped at the same
// instant. Histograms contribute a _count and _sum pair.
func (a *Aggregator) Snapshot() []export.MetricRecord {
	families, err := a.registry.Gather()
	if err != nil {
		return nil
	}

	ts := time.Now().UnixMilli()
	var records []export.MetricRecord
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			tags := labelTags(m)
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				records = append(records, export.MetricRecord{
					Name: fam.GetName(), Value: m.GetCounter().GetValue(), Tags: tags, Timestamp: ts,
				})
			case dto.MetricType_GAUGE:
				records = append(records, export.MetricRecord{
					Name: fam.GetName(), Value: m.GetGauge().GetValue(), Tags: tags, Timestamp: ts,
				})
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				records = append(records,
					export.MetricRecord{Name: fam.GetName() + "_count", Value: float64(h.GetSampleCount()), Tags: tags, Timestamp: ts},
					export.MetricRecord{Name: fam.GetName() + "_sum", Value: h.GetSampleSum(), Tags: tags, Timestamp: ts},
				)
			}
		}
	}
	return records
}

func labelTags(m *dto.Metric) map[string]string {
	pairs := m.GetLabel()
	if len(pairs) == 0 {
		return nil
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		tags[p.GetName()] = p.GetValue()
	}
	return tags
}
