package tail

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the tail loop.
type Metrics struct {
	LinesRead       prometheus.Counter
	BytesRead       prometheus.Counter
	RecordsParsed   prometheus.Counter
	ParseFailures   *prometheus.CounterVec
	AlertsFired     *prometheus.CounterVec
	CallbackErrors  prometheus.Counter
	WebhooksDropped prometheus.Counter
	PollDuration    prometheus.Histogram
}

// NewMetrics creates and registers all tail metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_tail_lines_total",
			Help: "Total complete lines read from the tailed file",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_tail_bytes_total",
			Help: "Total bytes read from the tailed file",
		}),
		RecordsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_tail_records_total",
			Help: "Total lines parsed into records",
		}),
		ParseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_tail_parse_failures_total",
			Help: "Total lines skipped by parse failure reason",
		}, []string{"reason"}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_tail_alerts_total",
			Help: "Total alerts fired by rule",
		}, []string{"rule"}),
		CallbackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_tail_callback_errors_total",
			Help: "Total alert callbacks that returned an error or panicked",
		}),
		WebhooksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loglens_tail_webhooks_dropped_total",
			Help: "Total webhook deliveries dropped because the send queue was full",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loglens_tail_poll_duration_seconds",
			Help:    "Duration of one poll of the tailed file",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.LinesRead,
		m.BytesRead,
		m.RecordsParsed,
		m.ParseFailures,
		m.AlertsFired,
		m.CallbackErrors,
		m.WebhooksDropped,
		m.PollDuration,
	)
	return m
}
