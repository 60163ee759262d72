package incident

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the incident subsystem.
type Metrics struct {
	OperationsTotal     *prometheus.CounterVec
	SummarizerCalls     *prometheus.CounterVec
	SummarizerDuration  prometheus.Histogram
	SummarizerTokensIn  prometheus.Counter
	SummarizerTokensOut prometheus.Counter
	SummaryLength       prometheus.Histogram
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medlog_incident_operations_total",
			Help: "Incident service operations by operation and result.",
		}, []string{"op", "result"}),
		SummarizerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medlog_summarizer_calls_total",
			Help: "Summarizer calls by status.",
		}, []string{"status"}),
		SummarizerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medlog_summarizer_call_duration_seconds",
			Help:    "Duration of individual summarizer calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. 32s
		}),
		SummarizerTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medlog_summarizer_tokens_input_total",
			Help: "Total summarizer input tokens consumed.",
		}),
		SummarizerTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medlog_summarizer_tokens_output_total",
			Help: "Total summarizer output tokens consumed.",
		}),
		SummaryLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medlog_summary_length_bytes",
			Help:    "Length of generated summaries in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8), // 64B .. 8KB
		}),
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.SummarizerCalls,
		m.SummarizerDuration,
		m.SummarizerTokensIn,
		m.SummarizerTokensOut,
		m.SummaryLength,
	)

	return m
}

func (m *Metrics) observeOp(op, result string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) observeSummarizer(c *Completion, duration float64, err error) {
	if m == nil {
		return
	}
	m.SummarizerDuration.Observe(duration)
	if err != nil {
		m.SummarizerCalls.WithLabelValues("error").Inc()
		return
	}
	m.SummarizerCalls.WithLabelValues("success").Inc()
	m.SummarizerTokensIn.Add(float64(c.Usage.InputTokens))
	m.SummarizerTokensOut.Add(float64(c.Usage.OutputTokens))
	m.SummaryLength.Observe(float64(len(c.Text)))
}
