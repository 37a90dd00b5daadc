package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"hydropulse/internal/model"
)

const namespace = "hydropulse"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	samplesTotal        *prometheus.CounterVec
	verdictsTotal       *prometheus.CounterVec
	diagnosesTotal      *prometheus.CounterVec
	diagnosisDuration   prometheus.Histogram
	healingTotal        *prometheus.CounterVec
	healingEffect       prometheus.Histogram
	recommendationTotal *prometheus.CounterVec
	linkTransitions     *prometheus.CounterVec
	linkState           *prometheus.GaugeVec
	alertsTotal         *prometheus.CounterVec
	blackoutQueue       prometheus.Gauge
	storeErrors         *prometheus.CounterVec
}

// New registers every collector on a fresh registry so tests stay isolated.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		samplesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Gateway samples by signal and quality.",
		}, []string{"signal", "quality"}),
		verdictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Plausibility verdicts by action.",
		}, []string{"action"}),
		diagnosesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnoses_total",
			Help:      "Causal diagnoses by symptom and root cause.",
		}, []string{"symptom", "root_cause"}),
		diagnosisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "diagnosis_duration_seconds",
			Help:      "Time spent reconstructing a causal chain.",
			Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05},
		}),
		healingTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "healing_attempts_total",
			Help:      "Healing attempts by protocol, mode and execution outcome.",
		}, []string{"protocol", "mode", "executed"}),
		healingEffect: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "healing_effectiveness",
			Help:      "Simulated healing effectiveness (H_eff).",
			Buckets:   []float64{0, .1, .3, .5, .7, .8, .9, 1},
		}),
		recommendationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Strategist recommendations by kind.",
		}, []string{"kind"}),
		linkTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_transitions_total",
			Help:      "Connection link state transitions.",
		}, []string{"from", "to"}),
		linkState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "1 for the current connection link state.",
		}, []string{"state"}),
		alertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts by severity and disposition (delivered, queued, dropped).",
		}, []string{"severity", "disposition"}),
		blackoutQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blackout_queue_length",
			Help:      "Alerts waiting for the link to resume.",
		}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failures of external stores and adapters.",
		}, []string{"store"}),
	}
}

func (m *Metrics) ObserveSample(signal string, q model.Quality) {
	if m == nil {
		return
	}
	m.samplesTotal.WithLabelValues(signal, string(q)).Inc()
}

func (m *Metrics) ObserveVerdict(v model.SensorVerdict) {
	if m == nil {
		return
	}
	m.verdictsTotal.WithLabelValues(string(v.Action)).Inc()
}

func (m *Metrics) ObserveDiagnosis(c model.CausalChain, took time.Duration) {
	if m == nil {
		return
	}
	m.diagnosesTotal.WithLabelValues(c.FinalSymptom.Metric, c.RootCause.Metric).Inc()
	m.diagnosisDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveHealing(r model.HealingResult) {
	if m == nil {
		return
	}
	m.healingTotal.WithLabelValues(string(r.Protocol), string(r.Mode), strconv.FormatBool(r.Executed)).Inc()
	m.healingEffect.Observe(r.HealingEffectiveness)
}

func (m *Metrics) ObserveRecommendations(out model.StrategistOutput) {
	if m == nil {
		return
	}
	for _, r := range out.Recommendations {
		m.recommendationTotal.WithLabelValues(string(r.Kind)).Inc()
	}
}

// ObserveTransition moves the state gauge and counts the edge.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.linkTransitions.WithLabelValues(from, to).Inc()
	m.linkState.WithLabelValues(from).Set(0)
	m.linkState.WithLabelValues(to).Set(1)
}

func (m *Metrics) ObserveAlert(s model.Severity, disposition string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(string(s), disposition).Inc()
}

func (m *Metrics) SetBlackoutQueue(n int) {
	if m == nil {
		return
	}
	m.blackoutQueue.Set(float64(n))
}

func (m *Metrics) ObserveStoreError(store string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(store).Inc()
}
