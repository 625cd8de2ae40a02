package observability

import (
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// Metrics exports engine metrics to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	runsTotal      *promclient.CounterVec
	runsActive     promclient.Gauge
	runSteps       promclient.Histogram
	stageDuration  *promclient.HistogramVec
	callsTotal     *promclient.CounterVec
	callRetries    *promclient.CounterVec
	sinkFailures   promclient.Counter
	parseAmbiguity *promclient.CounterVec
}

// NewMetrics registers engine metrics under namespace (default "autoagent").
func NewMetrics(namespace string, reg promclient.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "autoagent"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	m := &Metrics{
		runsTotal: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by outcome (completed, incomplete, error).",
		}, []string{"outcome"}),
		runsActive: promclient.NewGauge(promclient.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Runs currently executing.",
		}),
		runSteps: promclient.NewHistogram(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "run_steps",
			Help:      "Loop iterations executed per run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		stageDuration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of each loop stage.",
			Buckets:   promclient.DefBuckets,
		}, []string{"stage"}),
		callsTotal: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_calls_total",
			Help:      "Reasoning calls by role and result.",
		}, []string{"role", "result"}),
		callRetries: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_call_retries_total",
			Help:      "Retries issued for reasoning calls.",
		}, []string{"role"}),
		sinkFailures: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Progress events that could not be delivered.",
		}),
		parseAmbiguity: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "parse_ambiguities_total",
			Help:      "Model outputs that could not be parsed cleanly.",
		}, []string{"stage"}),
	}

	var err error
	if m.runsTotal, err = registerOrExisting(reg, m.runsTotal); err != nil {
		return nil, err
	}
	if m.runsActive, err = registerOrExisting(reg, m.runsActive); err != nil {
		return nil, err
	}
	if m.runSteps, err = registerOrExisting(reg, m.runSteps); err != nil {
		return nil, err
	}
	if m.stageDuration, err = registerOrExisting(reg, m.stageDuration); err != nil {
		return nil, err
	}
	if m.callsTotal, err = registerOrExisting(reg, m.callsTotal); err != nil {
		return nil, err
	}
	if m.callRetries, err = registerOrExisting(reg, m.callRetries); err != nil {
		return nil, err
	}
	if m.sinkFailures, err = registerOrExisting(reg, m.sinkFailures); err != nil {
		return nil, err
	}
	if m.parseAmbiguity, err = registerOrExisting(reg, m.parseAmbiguity); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrExisting registers c, reusing an identical collector that is
// already registered.
func registerOrExisting[C promclient.Collector](reg promclient.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are promclient.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished records a run outcome and its iteration count.
func (m *Metrics) RunFinished(outcome string, steps int) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runSteps.Observe(float64(steps))
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordCall counts a reasoning call by role and result ("ok" or "error").
func (m *Metrics) RecordCall(role string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.callsTotal.WithLabelValues(role, result).Inc()
}

// RecordRetry counts one retry for role.
func (m *Metrics) RecordRetry(role string) {
	if m == nil {
		return
	}
	m.callRetries.WithLabelValues(role).Inc()
}

// RecordSinkFailure counts an undelivered progress event.
func (m *Metrics) RecordSinkFailure() {
	if m == nil {
		return
	}
	m.sinkFailures.Inc()
}

// RecordParseAmbiguity counts an output that fell back to best-effort parsing.
func (m *Metrics) RecordParseAmbiguity(stage string) {
	if m == nil {
		return
	}
	m.parseAmbiguity.WithLabelValues(stage).Inc()
}
