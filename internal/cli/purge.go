package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	OlderThan time.Duration
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired dedup and applied-event records",
		Long: `Delete seen-event claims and applied-event log entries recorded before
the cutoff. Entries younger than the dedup window still guard against
redelivery, so the cutoff defaults to LASSO_DEDUP_WINDOW and cannot be
shorter.

Example:
  lasso purge --db ./lasso.db
  lasso purge --older-than 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "purge records older than this (default $LASSO_DEDUP_WINDOW)")

	return cmd
}

// PurgeResult is the output of the purge command.
type PurgeResult struct {
	Cutoff        time.Time `json:"cutoff"`
	SeenEvents    int64     `json:"seen_events"`
	AppliedEvents int64     `json:"applied_events"`
}

func runPurge(cmd *cobra.Command, opts *PurgeOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	age := opts.OlderThan
	if age == 0 {
		age = cfg.DedupWindow
	}
	if age < cfg.DedupWindow {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("--older-than %s is shorter than the dedup window %s", age, cfg.DedupWindow))
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	res := PurgeResult{Cutoff: time.Now().UTC().Add(-age)}

	res.SeenEvents, err = st.PurgeSeenEvents(ctx, res.Cutoff)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to purge seen events", err)
	}
	res.AppliedEvents, err = st.PurgeAppliedEvents(ctx, res.Cutoff)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to purge applied events", err)
	}

	return formatter(cmd, opts.RootOptions).Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Purged %d seen events and %d applied events recorded before %s\n",
			res.SeenEvents, res.AppliedEvents, res.Cutoff.Format(time.RFC3339))
	})
}
