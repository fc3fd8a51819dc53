// internal/chaos/chaos.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrSteadyStateInvalid aborts an experiment whose invariants do not hold
// before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test
type Experiment struct {
	Name       string
	Hypothesis string
	// SteadyState metrics must hold before the method runs and are watched
	// while it runs.
	SteadyState []Metric
	// Probes are only sampled after the method has started.
	Probes     []Metric
	Method     []Action
	Rollback   []Action
	Validation []Assertion
	// Duration is how long the system is observed. Zero samples once.
	Duration time.Duration
	Interval time.Duration
	// BlastRadius is the share of the lab the faults touch, 0.0 to 1.0.
	BlastRadius float64
}

// Metric defines a measurable system property
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Evaluate reports whether value satisfies the threshold.
func (t Threshold) Evaluate(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action represents a fault injection or recovery action
type Action struct {
	Type    string // seed, concurrent-requests, dependency-outage
	Target  string
	Execute func(context.Context) error
}

// Assertion validates experiment outcome against the last observation of a
// metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// ExperimentResult captures experiment execution data
type ExperimentResult struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	FailedAssertions []string               `json:"failed_assertions"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

// Last returns the final observation of a metric.
func (r *ExperimentResult) Last(metric string) (float64, bool) {
	points := r.Observations[metric]
	if len(points) == 0 {
		return 0, false
	}
	return points[len(points)-1].Value, true
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine orchestrates chaos experiments
type Engine struct {
	tracer      trace.Tracer
	logger      logr.Logger
	experiments []Experiment
	results     []ExperimentResult
	mu          sync.Mutex
}

func NewEngine(logger logr.Logger) *Engine {
	return &Engine{
		tracer: otel.Tracer("libracheck/chaos"),
		logger: logger,
	}
}

// RegisterExperiment adds an experiment to the test suite
func (e *Engine) RegisterExperiment(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// Experiments returns the registered experiments.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Results returns the results of every experiment run so far.
func (e *Engine) Results() []ExperimentResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExperimentResult(nil), e.results...)
}

// RunExperiment executes a single chaos experiment
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) (*ExperimentResult, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(
			attribute.String("experiment.name", exp.Name),
			attribute.Float64("experiment.blast_radius", exp.BlastRadius),
		),
	)
	defer span.End()
	log := e.logger.WithValues("experiment", exp.Name)

	result := &ExperimentResult{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	// Phase 1: Validate steady state
	span.AddEvent("validating_steady_state")
	if valid, violations := e.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.Violations = violations
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	// Phase 2: Inject chaos
	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			log.Error(err, "action failed", "type", action.Type, "target", action.Target)
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	// Phase 3: Observe system behavior
	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	// Phase 4: Rollback chaos injection
	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			log.Error(err, "rollback failed", "type", action.Type, "target", action.Target)
			span.RecordError(err)
		}
	}

	// Phase 5: Validate assertions
	span.AddEvent("validating_assertions")
	result.FailedAssertions = validateAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	log.V(1).Info("experiment finished", "hypothesis_held", result.HypothesisHeld, "violations", len(result.Violations))

	return result, nil
}

// observe samples every metric at once and then each interval until the
// experiment duration has passed.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *ExperimentResult) {
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	interval := exp.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var recoveryStart time.Time
	recovered := false
	sample := func() {
		for _, metric := range exp.SteadyState {
			value, ok := e.record(ctx, metric, result)
			if !ok {
				continue
			}
			// Check if system violates threshold
			if !metric.Threshold.Evaluate(value) {
				if recoveryStart.IsZero() {
					recoveryStart = time.Now()
				}
				result.Violations = append(result.Violations, MetricViolation{
					MetricName: metric.Name,
					Expected:   metric.Threshold.Value,
					Actual:     value,
					Timestamp:  time.Now(),
				})
			} else if !recoveryStart.IsZero() && !recovered {
				mttr := time.Since(recoveryStart)
				result.MTTR = &mttr
				recovered = true
			}
		}
		for _, probe := range exp.Probes {
			e.record(ctx, probe, result)
		}
	}

	sample()
	for {
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (e *Engine) record(ctx context.Context, metric Metric, result *ExperimentResult) (float64, bool) {
	value, err := metric.Query(ctx)
	if err != nil {
		result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
			Timestamp: time.Now(),
			Error:     err.Error(),
			Component: metric.Name,
		})
		return 0, false
	}
	result.Observations[metric.Name] = append(result.Observations[metric.Name],
		DataPoint{Timestamp: time.Now(), Value: value})
	return value, true
}

func (e *Engine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	var violations []MetricViolation

	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     -1,
				Timestamp:  time.Now(),
			})
			continue
		}

		if !metric.Threshold.Evaluate(value) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}

	return len(violations) == 0, violations
}

func validateAssertions(assertions []Assertion, result *ExperimentResult) []string {
	var failed []string
	for _, assertion := range assertions {
		value, ok := result.Last(assertion.Metric)
		if !ok || !assertion.Condition(value) {
			failed = append(failed, assertion.Message)
		}
	}
	return failed
}
