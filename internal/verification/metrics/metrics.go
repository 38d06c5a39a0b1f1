package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outbound call labels.
const (
	CallTokenExchange = "token_exchange"
	CallProfileFetch  = "profile_fetch"
)

// Metrics provides observability for the verification pipeline.
// All methods are nil-safe so components can run without metrics.
type Metrics struct {
	PipelineResults  *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	OutboundDuration *prometheus.HistogramVec
	OutboundTimeouts *prometheus.CounterVec
	StateRejections  *prometheus.CounterVec
	StatesIssued     prometheus.Counter
}

// New registers the verification metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PipelineResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_pipeline_results_total",
			Help: "Verification pipeline outcomes by operation, final stage and result",
		}, []string{"operation", "stage", "result"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyc_pipeline_duration_seconds",
			Help:    "Duration of full verification pipeline runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		OutboundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_provider_call_duration_seconds",
			Help:    "Latency of identity provider calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"call", "outcome"}),
		OutboundTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_provider_call_timeouts_total",
			Help: "Identity provider calls that ran past their deadline",
		}, []string{"call"}),
		StateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_state_rejections_total",
			Help: "State validation failures by reason",
		}, []string{"reason"}),
		StatesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "kyc_states_issued_total",
			Help: "State tokens issued by initiate",
		}),
	}
}

// ObservePipeline records a finished pipeline operation.
func (m *Metrics) ObservePipeline(operation, stage string, success bool) {
	if m == nil {
		return
	}
	m.PipelineResults.WithLabelValues(operation, stage, resultLabel(success)).Inc()
}

// ObservePipelineDuration records the duration of a full pipeline run.
// Call with time.Now() at the start of the run.
func (m *Metrics) ObservePipelineDuration(start time.Time) {
	if m == nil {
		return
	}
	m.PipelineDuration.Observe(time.Since(start).Seconds())
}

// ObserveCall records a provider call. Call with time.Now() at the start of the call.
func (m *Metrics) ObserveCall(call string, start time.Time, err error, timedOut bool) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case timedOut:
		outcome = "timeout"
		m.OutboundTimeouts.WithLabelValues(call).Inc()
	case err != nil:
		outcome = "error"
	}
	m.OutboundDuration.WithLabelValues(call, outcome).Observe(time.Since(start).Seconds())
}

// IncStateRejected counts a rejected state by reason.
func (m *Metrics) IncStateRejected(reason string) {
	if m == nil {
		return
	}
	m.StateRejections.WithLabelValues(reason).Inc()
}

// IncStatesIssued counts a state handed out by initiate.
func (m *Metrics) IncStatesIssued() {
	if m == nil {
		return
	}
	m.StatesIssued.Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
