package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/lasso/internal/harness"
)

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <scenario.yaml>...",
		Short: "Play scripted conversations against a scratch database",
		Long: `Play one or more scenario files through the real conversation and
matching pipeline with a deterministic clock and a fake transport, then
print the trace and check the scenario's expectations.

Nothing touches the configured database or Telegram. Exit code 1 when any
expectation fails.

Example:
  lasso simulate internal/harness/testdata/scenarios/mutual_match.yaml
  lasso simulate scenarios/*.yaml --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, rootOpts, args)
		},
	}
}

// SimulateResult is the outcome of one scenario file.
type SimulateResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Trace    []harness.TraceEvent `json:"trace"`
	Errors   []string             `json:"errors,omitempty"`
}

func runSimulate(cmd *cobra.Command, opts *RootOptions, paths []string) error {
	out := formatter(cmd, opts)

	results := make([]SimulateResult, 0, len(paths))
	failed := 0
	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load %s", path), err)
		}
		out.VerboseLog("running scenario %s (%s)", scenario.Name, path)

		res, err := harness.Run(scenario)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("scenario %s aborted", scenario.Name), err)
		}
		if !res.Pass {
			failed++
		}
		results = append(results, SimulateResult{
			Scenario: scenario.Name,
			Pass:     res.Pass,
			Trace:    res.Trace,
			Errors:   res.Errors,
		})
	}

	err := out.Success(results, func(w io.Writer) {
		for _, r := range results {
			status := "PASS"
			if !r.Pass {
				status = "FAIL"
			}
			fmt.Fprintf(w, "=== %s %s\n", status, r.Scenario)
			for _, ev := range r.Trace {
				fmt.Fprintln(w, "  "+describe(ev))
			}
			for _, e := range r.Errors {
				fmt.Fprintf(w, "  ! %s\n", e)
			}
		}
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", failed, len(results)))
	}
	return nil
}

// describe renders one trace event for the text output.
func describe(ev harness.TraceEvent) string {
	switch ev.Kind {
	case harness.TraceInbound:
		if ev.Callback != "" {
			return fmt.Sprintf("%3d  %d pressed [%s]", ev.Seq, ev.User, ev.Callback)
		}
		return fmt.Sprintf("%3d  %d > %s", ev.Seq, ev.User, ev.Text)
	case harness.TraceOutbound:
		menu := ""
		if ev.Menu {
			menu = " [menu]"
		}
		return fmt.Sprintf("%3d  %d < %s%s", ev.Seq, ev.User, ev.Text, menu)
	case harness.TraceUndeliverable:
		return fmt.Sprintf("%3d  %d x undeliverable (%s)", ev.Seq, ev.User, ev.Corr)
	case harness.TraceBlock:
		return fmt.Sprintf("%3d  %d blocked the bot", ev.Seq, ev.User)
	case harness.TracePass:
		s := fmt.Sprintf("%3d  pass: %d matches", ev.Seq, len(ev.Matches))
		for _, m := range ev.Matches {
			s += fmt.Sprintf(" [%s %d<->%d %d]", m.ID, m.UserA, m.UserB, m.Score)
		}
		return s
	}
	return fmt.Sprintf("%3d  %s", ev.Seq, ev.Kind)
}
