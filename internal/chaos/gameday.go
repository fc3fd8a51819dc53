// internal/chaos/gameday.go
package chaos

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GameDay orchestrates a series of chaos experiments.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
	// Pause separates consecutive experiments.
	Pause time.Duration
}

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	failColor  = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgYellow)
	titleColor = color.New(color.FgCyan, color.Bold)
)

// ExecuteGameDay runs every scenario and writes a report to w. It returns
// an error when any hypothesis was violated or any experiment aborted.
func (e *Engine) ExecuteGameDay(ctx context.Context, gameDay GameDay, w io.Writer) ([]*ExperimentResult, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(
			attribute.String("gameday.name", gameDay.Name),
		),
	)
	defer span.End()

	titleColor.Fprintf(w, "Game Day: %s\n", gameDay.Name)
	fmt.Fprintf(w, "Date: %s\n", gameDay.Date.Format(time.RFC1123))

	var (
		results []*ExperimentResult
		failed  int
	)
	for i, scenario := range gameDay.Scenarios {
		if i > 0 && gameDay.Pause > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(gameDay.Pause):
			}
		}

		titleColor.Fprintf(w, "\nExperiment %d/%d: %s\n", i+1, len(gameDay.Scenarios), scenario.Name)
		fmt.Fprintf(w, "Hypothesis: %s\n", scenario.Hypothesis)

		result, err := e.RunExperiment(ctx, scenario)
		if err != nil {
			failColor.Fprintf(w, "Experiment failed: %v\n", err)
			failed++
			continue
		}
		results = append(results, result)
		PrintResult(w, result)
		if !result.HypothesisHeld {
			failed++
		}
	}

	if failed > 0 {
		return results, fmt.Errorf("%d of %d experiments failed", failed, len(gameDay.Scenarios))
	}
	return results, nil
}

// PrintResult writes a colored summary of one experiment.
func PrintResult(w io.Writer, result *ExperimentResult) {
	if result.HypothesisHeld {
		okColor.Fprintln(w, "Hypothesis held - system behaved as expected")
	} else {
		failColor.Fprintln(w, "Hypothesis violated - unexpected behavior observed")
		for _, msg := range result.FailedAssertions {
			fmt.Fprintf(w, "   - %s\n", msg)
		}
	}

	if len(result.Violations) > 0 {
		warnColor.Fprintf(w, "Violations detected: %d\n", len(result.Violations))
		for _, v := range result.Violations {
			fmt.Fprintf(w, "   - %s: expected %.2f, got %.2f\n", v.MetricName, v.Expected, v.Actual)
		}
	}
	for _, ev := range result.ErrorEvents {
		warnColor.Fprintf(w, "Error in %s: %s\n", ev.Component, ev.Error)
	}

	if result.MTTR != nil {
		fmt.Fprintf(w, "MTTR: %s\n", *result.MTTR)
	}
	fmt.Fprintf(w, "Duration: %s\n", result.Duration.Round(time.Millisecond))
}
