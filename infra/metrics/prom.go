package metrics

import (
	coremetrics "github.com/enermesh/telemetrix/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records ingestion pipeline events in Prometheus metrics.
type PromSink struct {
	messages   *prometheus.CounterVec
	parseErrs  *prometheus.CounterVec
	validErrs  *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	deltaOOB   *prometheus.CounterVec
	durViol    *prometheus.CounterVec
	incomplete *prometheus.CounterVec
	queueDrops prometheus.Counter
	queueDepth prometheus.Gauge
	connected  prometheus.Gauge
	dispatch   prometheus.Histogram
}

// NewPromSink registers ingestion metrics on the default Prometheus
// registerer. The metrics server is started separately.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Total number of inbound broker messages",
		}, []string{"topic"}),
		parseErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_parse_errors_total",
			Help: "Messages dropped because the payload could not be parsed",
		}, []string{"topic"}),
		validErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_validation_errors_total",
			Help: "Measurements dropped by physical range validation",
		}, []string{"device_id"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_duplicates_total",
			Help: "Messages suppressed by the deduplication cache",
		}, []string{"device_id"}),
		deltaOOB: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delta_out_of_bounds_total",
			Help: "Energy deltas rejected for elapsed time or magnitude",
		}, []string{"device_id", "reason"}),
		durViol: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "interval_duration_violations_total",
			Help: "Quarter-hour intervals not spanning exactly fifteen minutes",
		}, []string{"device_id"}),
		incomplete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregate_incomplete_total",
			Help: "Rollups computed over fewer child intervals than expected",
		}, []string{"device_id", "interval_type"}),
		queueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queue_dropped_total",
			Help: "Messages discarded on worker queue overflow",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current number of messages waiting in the worker queue",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqtt_connected",
			Help: "1 while the broker session is established",
		}),
		dispatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Wall time spent processing one inbound message",
			Buckets: prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		s.messages, s.parseErrs, s.validErrs, s.duplicates, s.deltaOOB,
		s.durViol, s.incomplete, s.queueDrops, s.queueDepth, s.connected,
		s.dispatch,
	}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				collectors[i] = are.ExistingCollector
				continue
			}
			return nil, err
		}
	}
	s.messages = collectors[0].(*prometheus.CounterVec)
	s.parseErrs = collectors[1].(*prometheus.CounterVec)
	s.validErrs = collectors[2].(*prometheus.CounterVec)
	s.duplicates = collectors[3].(*prometheus.CounterVec)
	s.deltaOOB = collectors[4].(*prometheus.CounterVec)
	s.durViol = collectors[5].(*prometheus.CounterVec)
	s.incomplete = collectors[6].(*prometheus.CounterVec)
	s.queueDrops = collectors[7].(prometheus.Counter)
	s.queueDepth = collectors[8].(prometheus.Gauge)
	s.connected = collectors[9].(prometheus.Gauge)
	s.dispatch = collectors[10].(prometheus.Histogram)
	return s, nil
}

var _ coremetrics.Sink = (*PromSink)(nil)

func (s *PromSink) RecordMessage(topic string) { s.messages.WithLabelValues(topic).Inc() }

func (s *PromSink) RecordParseError(topic string) { s.parseErrs.WithLabelValues(topic).Inc() }

func (s *PromSink) RecordValidationError(deviceID string) {
	s.validErrs.WithLabelValues(deviceID).Inc()
}

func (s *PromSink) RecordDuplicate(deviceID string) {
	s.duplicates.WithLabelValues(deviceID).Inc()
}

func (s *PromSink) RecordOutOfBoundsDelta(deviceID, reason string) {
	s.deltaOOB.WithLabelValues(deviceID, reason).Inc()
}

func (s *PromSink) RecordDurationViolation(deviceID string) {
	s.durViol.WithLabelValues(deviceID).Inc()
}

func (s *PromSink) RecordIncompleteBucket(deviceID, intervalType string) {
	s.incomplete.WithLabelValues(deviceID, intervalType).Inc()
}

func (s *PromSink) RecordQueueDrop() { s.queueDrops.Inc() }

func (s *PromSink) SetQueueDepth(n int) { s.queueDepth.Set(float64(n)) }

func (s *PromSink) SetConnected(up bool) {
	if up {
		s.connected.Set(1)
	} else {
		s.connected.Set(0)
	}
}

func (s *PromSink) ObserveDispatch(seconds float64) { s.dispatch.Observe(seconds) }
