package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the import counters. A nil *Metrics records nothing.
type Metrics struct {
	files        *prometheus.CounterVec
	transactions *prometheus.CounterVec
	rowErrors    prometheus.Counter
	duration     prometheus.Histogram
}

// NewMetrics registers the import collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "import_files_total",
			Help: "Files processed by outcome.",
		}, []string{"outcome"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "import_transactions_total",
			Help: "Parsed transactions by dedup result.",
		}, []string{"result"}),
		rowErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "import_row_errors_total",
			Help: "Rows that failed to parse.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "import_file_duration_seconds",
			Help:    "Time to read, detect and parse one file.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	reg.MustRegister(m.files, m.transactions, m.rowErrors, m.duration)
	return m
}

func (m *Metrics) observeFile(p *FilePreview, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	if p.Error != nil {
		m.files.WithLabelValues(string(p.Error.Kind)).Inc()
		return
	}
	m.files.WithLabelValues("parsed").Inc()
	m.rowErrors.Add(float64(len(p.Errors)))
}

func (m *Metrics) observeDedup(p *FilePreview) {
	if m == nil || p.Error != nil {
		return
	}
	m.transactions.WithLabelValues("new").Add(float64(p.NewCount))
	m.transactions.WithLabelValues("duplicate").Add(float64(p.DuplicateCount))
	m.transactions.WithLabelValues("cross_file_duplicate").Add(float64(p.CrossFileDuplicateCount))
}

func (m *Metrics) observePersisted(n int) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues("persisted").Add(float64(n))
}
