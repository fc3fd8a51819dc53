package chaos

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func runOne(t *testing.T, exp Experiment) *ExperimentResult {
	t.Helper()
	result, err := NewEngine(logr.Discard()).RunExperiment(context.Background(), exp)
	require.NoError(t, err)
	assert.Empty(t, result.ErrorEvents)
	assert.Empty(t, result.FailedAssertions)
	return result
}

func TestConcurrentBorrowRaceHolds(t *testing.T) {
	lab := newLab(t)
	result := runOne(t, ConcurrentBorrowRace(lab, 5, 12))
	assert.True(t, result.HypothesisHeld)

	open, _ := result.Last("open_records")
	assert.Equal(t, 5.0, open)
	rejected, _ := result.Last("unavailable_rejections")
	assert.Equal(t, 12.0, rejected)
}

func TestConcurrentReturnRaceHolds(t *testing.T) {
	lab := newLab(t)
	result := runOne(t, ConcurrentReturnRace(lab, 10))
	assert.True(t, result.HypothesisHeld)

	returns, _ := result.Last("successful_returns")
	assert.Equal(t, 1.0, returns)
}

func TestTaggerOutageHoldsAndRestoresTagger(t *testing.T) {
	lab := newLab(t, "torn pages")
	result := runOne(t, TaggerOutage(lab, 4))
	assert.True(t, result.HypothesisHeld)

	tags, err := lab.Tagger.AnalyzeFromURL(context.Background(), "http://chaos.invalid/x.jpg")
	require.NoError(t, err, "rollback switches the tagger back on")
	assert.Equal(t, []string{"torn pages"}, tags)
}

func TestSteadyStateViolationAborts(t *testing.T) {
	methodRan := false
	exp := Experiment{
		Name: "broken-steady-state",
		SteadyState: []Metric{{
			Name:      "always_one",
			Query:     func(context.Context) (float64, error) { return 1, nil },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{Execute: func(context.Context) error { methodRan = true; return nil }}},
	}
	result, err := NewEngine(logr.Discard()).RunExperiment(context.Background(), exp)
	assert.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, result.SteadyStateValid)
	assert.False(t, methodRan)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, 1.0, result.Violations[0].Actual)
}

func TestFailedAssertionAndErrorsAreReported(t *testing.T) {
	rolledBack := false
	exp := Experiment{
		Name:   "failing",
		Probes: []Metric{{Name: "value", Query: func(context.Context) (float64, error) { return 3, nil }}},
		Method: []Action{{Target: "component", Execute: func(context.Context) error { return errors.New("injected") }}},
		Rollback: []Action{{Execute: func(context.Context) error {
			rolledBack = true
			return nil
		}}},
		Validation: []Assertion{
			{Metric: "value", Condition: func(v float64) bool { return v == 2 }, Message: "value should be two"},
			{Metric: "missing", Condition: func(float64) bool { return true }, Message: "missing metric"},
		},
	}
	engine := NewEngine(logr.Discard())
	result, err := engine.RunExperiment(context.Background(), exp)
	require.NoError(t, err)
	assert.True(t, rolledBack)
	assert.False(t, result.HypothesisHeld)
	assert.Equal(t, []string{"value should be two", "missing metric"}, result.FailedAssertions)
	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "component", result.ErrorEvents[0].Component)
	assert.Len(t, engine.Results(), 1)
}

func TestObservationRecordsMTTR(t *testing.T) {
	calls := 0
	exp := Experiment{
		Name: "recovering",
		SteadyState: []Metric{{
			Name: "healthy",
			Query: func(context.Context) (float64, error) {
				calls++
				// steady state check, then one bad sample, then healthy
				if calls == 2 {
					return 0, nil
				}
				return 1, nil
			},
			Threshold: Threshold{Operator: "==", Value: 1},
		}},
		Duration: 50 * time.Millisecond,
		Interval: 10 * time.Millisecond,
	}
	result, err := NewEngine(logr.Discard()).RunExperiment(context.Background(), exp)
	require.NoError(t, err)
	require.NotEmpty(t, result.Violations)
	assert.NotNil(t, result.MTTR)
}

func TestThresholdEvaluate(t *testing.T) {
	testCases := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{">", 1, false},
		{"<", 0, true},
		{">=", 1, true},
		{"<=", 2, false},
		{"==", 1, true},
		{"!=", 1, false},
	}
	for _, tt := range testCases {
		assert.Equal(t, tt.want, Threshold{Operator: tt.op, Value: 1}.Evaluate(tt.value), "%s %v", tt.op, tt.value)
	}
}

func TestExecuteGameDayReport(t *testing.T) {
	lab := newLab(t)
	engine := NewEngine(logr.Discard())
	engine.RegisterExperiments(lab)
	require.Len(t, engine.Experiments(), 3)

	var out bytes.Buffer
	results, err := engine.ExecuteGameDay(context.Background(), GameDay{
		Name:      "test day",
		Date:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Scenarios: engine.Experiments(),
	}, &out)
	require.NoError(t, err, out.String())
	assert.Len(t, results, 3)
	assert.Contains(t, out.String(), "Game Day: test day")
	assert.Contains(t, out.String(), "Experiment 3/3: tagger-outage")
	assert.Contains(t, out.String(), "Hypothesis held")
}

func newLab(t *testing.T, tags ...string) *Lab {
	t.Helper()
	lab := NewLab(logr.Discard(), tags...)
	t.Cleanup(func() { lab.Close() })
	return lab
}
