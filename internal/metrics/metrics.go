package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is implemented by Metrics (Prometheus) and NoopMetrics.
type Recorder interface {
	// Device authorization flow
	RecordAuthorizationCreated(success bool)
	RecordExchange(result string)
	RecordVerify(result string)
	RecordApprove(approved bool)

	// Agent heartbeats
	RecordHeartbeat(status string)

	// Token management
	RecordTokenIssued(source string)
	RecordTokenRevoked()

	// Sweeper
	RecordSweep(expired int64)

	// Gauges (updated periodically)
	SetPendingAuthorizations(count int64)
	SetActiveAgentTokens(count int64)

	// HTTP
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncHTTPInFlight()
	DecHTTPInFlight()
}

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	AuthorizationsTotal    *prometheus.CounterVec
	ExchangeTotal          *prometheus.CounterVec
	VerifyTotal            *prometheus.CounterVec
	ApproveTotal           *prometheus.CounterVec
	HeartbeatTotal         *prometheus.CounterVec
	TokensIssuedTotal      *prometheus.CounterVec
	TokensRevokedTotal     prometheus.Counter
	SweepRunsTotal         prometheus.Counter
	SweepExpiredTotal      prometheus.Counter
	PendingAuthorizations  prometheus.Gauge
	ActiveAgentTokens      prometheus.Gauge
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init returns a Prometheus-backed Recorder when enabled, otherwise a
// no-op one. sync.Once guards against double registration.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}
	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

func initMetrics() *Metrics {
	return &Metrics{
		AuthorizationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "device_authorizations_total",
				Help: "Total number of device authorization requests",
			},
			[]string{"result"}, // success, error
		),
		ExchangeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "device_exchange_total",
				Help: "Total number of device code exchange attempts",
			},
			[]string{"result"}, // success, pending, denied, expired, invalid
		),
		VerifyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "device_verify_total",
				Help: "Total number of user code verifications",
			},
			[]string{"result"}, // success, invalid, expired, used
		),
		ApproveTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "device_approve_total",
				Help: "Total number of device approval decisions",
			},
			[]string{"decision"}, // approved, denied
		),
		HeartbeatTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_heartbeats_total",
				Help: "Total number of agent heartbeats by outcome",
			},
			[]string{"status"}, // ok, pending_approval, pending_reauthorization
		),
		TokensIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tokens_issued_total",
				Help: "Total number of agent tokens issued",
			},
			[]string{"source"}, // device_flow, manual
		),
		TokensRevokedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_tokens_revoked_total",
				Help: "Total number of agent tokens revoked",
			},
		),
		SweepRunsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "authorization_sweep_runs_total",
				Help: "Total number of expiry sweeper runs",
			},
		),
		SweepExpiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "authorization_sweep_expired_total",
				Help: "Total number of authorizations marked expired by the sweeper",
			},
		),
		PendingAuthorizations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "device_authorizations_pending",
				Help: "Current number of pending device authorizations",
			},
		),
		ActiveAgentTokens: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_tokens_active",
				Help: "Current number of unrevoked agent tokens",
			},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of in-flight HTTP requests",
			},
		),
	}
}

func (m *Metrics) RecordAuthorizationCreated(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	m.AuthorizationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordExchange(result string) {
	m.ExchangeTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordVerify(result string) {
	m.VerifyTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordApprove(approved bool) {
	decision := "approved"
	if !approved {
		decision = "denied"
	}
	m.ApproveTotal.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordHeartbeat(status string) {
	m.HeartbeatTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordTokenIssued(source string) {
	m.TokensIssuedTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordTokenRevoked() {
	m.TokensRevokedTotal.Inc()
}

func (m *Metrics) RecordSweep(expired int64) {
	m.SweepRunsTotal.Inc()
	m.SweepExpiredTotal.Add(float64(expired))
}

func (m *Metrics) SetPendingAuthorizations(count int64) {
	m.PendingAuthorizations.Set(float64(count))
}

func (m *Metrics) SetActiveAgentTokens(count int64) {
	m.ActiveAgentTokens.Set(float64(count))
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) IncHTTPInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

func (m *Metrics) DecHTTPInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
