// Package metrics holds the Prometheus instruments of the signing workflow.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every instrument the services report to
type Metrics struct {
	TokensIssuedTotal    prometheus.Counter
	IssueReplaysTotal    prometheus.Counter
	SignaturesTotal      *prometheus.CounterVec // result: signed, already_signed, expired, not_found, invalid, error
	StoreFallbacksTotal  *prometheus.CounterVec // op
	StoreErrorsTotal     *prometheus.CounterVec // route, kind
	PollReadsTotal       prometheus.Counter
	PollFailuresTotal    prometheus.Counter
	ActivePollers        prometheus.Gauge
	ExpiredSweptTotal    prometheus.Counter
	ArchiveFailuresTotal prometheus.Counter
	HTTPRequestsTotal    *prometheus.CounterVec   // handler, code
	HTTPRequestDuration  *prometheus.HistogramVec // handler
}

// New creates the instruments and registers them with reg.
// A nil reg leaves them unregistered, which tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokensIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repairdesk_tokens_issued_total",
			Help: "Total number of signing tokens issued",
		}),
		IssueReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repairdesk_issue_replays_total",
			Help: "Total number of issuance retries answered with an existing grant",
		}),
		SignaturesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairdesk_signature_submissions_total",
			Help: "Total number of signature submissions by result",
		}, []string{"result"}),
		StoreFallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairdesk_store_fallbacks_total",
			Help: "Total number of operations retried on the privileged route",
		}, []string{"op"}),
		StoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairdesk_store_errors_total",
			Help: "Total number of store failures by route and kind",
		}, []string{"route", "kind"}),
		PollReadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repairdesk_poll_reads_total",
			Help: "Total number of signature status reads made by pollers",
		}),
		PollFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repairdesk_poll_failures_total",
			Help: "Total number of failed poller reads",
		}),
		ActivePollers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repairdesk_active_pollers",
			Help: "Number of status pollers currently running",
		}),
		ExpiredSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repairdesk_expired_swept_total",
			Help: "Total number of records persisted as expired by the sweep",
		}),
		ArchiveFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repairdesk_archive_failures_total",
			Help: "Total number of failed signed-report archive writes",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repairdesk_http_requests_total",
			Help: "Total number of HTTP requests by handler and status code",
		}, []string{"handler", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repairdesk_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TokensIssuedTotal,
			m.IssueReplaysTotal,
			m.SignaturesTotal,
			m.StoreFallbacksTotal,
			m.StoreErrorsTotal,
			m.PollReadsTotal,
			m.PollFailuresTotal,
			m.ActivePollers,
			m.ExpiredSweptTotal,
			m.ArchiveFailuresTotal,
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
		)
	}
	return m
}

func (m *Metrics) TokenIssued() {
	if m != nil {
		m.TokensIssuedTotal.Inc()
	}
}

func (m *Metrics) IssueReplayed() {
	if m != nil {
		m.IssueReplaysTotal.Inc()
	}
}

func (m *Metrics) SignatureResult(result string) {
	if m != nil {
		m.SignaturesTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) StoreFallback(op string) {
	if m != nil {
		m.StoreFallbacksTotal.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) StoreError(route, kind string) {
	if m != nil {
		m.StoreErrorsTotal.WithLabelValues(route, kind).Inc()
	}
}

func (m *Metrics) PollRead(failed bool) {
	if m == nil {
		return
	}
	m.PollReadsTotal.Inc()
	if failed {
		m.PollFailuresTotal.Inc()
	}
}

func (m *Metrics) PollerStarted() {
	if m != nil {
		m.ActivePollers.Inc()
	}
}

func (m *Metrics) PollerStopped() {
	if m != nil {
		m.ActivePollers.Dec()
	}
}

func (m *Metrics) ExpiredSwept(n int) {
	if m != nil {
		m.ExpiredSweptTotal.Add(float64(n))
	}
}

func (m *Metrics) ArchiveFailed() {
	if m != nil {
		m.ArchiveFailuresTotal.Inc()
	}
}

func (m *Metrics) HTTPRequest(handler string, code string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(handler, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(handler).Observe(seconds)
}
