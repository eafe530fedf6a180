package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lasso/internal/admin"
	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/store"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <user-id>",
		Short: "Show a user's profile and match state",
		Long: `Show one user record: profile, dialogue state, match status and the
active match if there is one.

Example:
  lasso inspect 123456789 --db ./lasso.db
  lasso inspect 123456789 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, rootOpts, args[0])
		},
	}
}

// InspectResult is the output of the inspect command.
type InspectResult struct {
	User        admin.UserView   `json:"user"`
	ActiveMatch *admin.MatchView `json:"active_match,omitempty"`
}

func runInspect(cmd *cobra.Command, opts *RootOptions, arg string) error {
	id, err := chat.ParseUserID(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid user id", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	u, err := st.Get(ctx, id)
	if errors.Is(err, chat.ErrUserNotFound) {
		return WrapExitError(ExitFailure, fmt.Sprintf("user %d not found", id), err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load user", err)
	}

	res := InspectResult{User: admin.NewUserView(u)}
	if u.ActiveMatch != "" {
		m, err := st.GetMatch(ctx, u.ActiveMatch)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to load active match", err)
		}
		v := admin.NewMatchView(m)
		res.ActiveMatch = &v
	}

	return formatter(cmd, opts).Success(res, func(w io.Writer) {
		v := res.User
		fmt.Fprintf(w, "User %d (%s)\n", v.ID, v.DisplayName)
		if v.Username != "" {
			fmt.Fprintf(w, "  Username:  @%s\n", v.Username)
		}
		fmt.Fprintf(w, "  Name:      %s\n", v.Profile.Name)
		fmt.Fprintf(w, "  Age:       %d\n", v.Profile.Age)
		fmt.Fprintf(w, "  Interests: %s\n", strings.Join(v.Profile.Interests, ", "))
		fmt.Fprintf(w, "  Dialogue:  %s\n", v.Dialogue)
		fmt.Fprintf(w, "  Status:    %s\n", v.Status)
		if v.Retired {
			fmt.Fprintln(w, "  Retired:   yes")
		}
		fmt.Fprintf(w, "  Version:   %d\n", v.Version)
		if m := res.ActiveMatch; m != nil {
			fmt.Fprintf(w, "  Match:     %s with %d (score %d)\n", m.ID, partnerOf(*m, v.ID), m.Score)
		}
	})
}

func partnerOf(m admin.MatchView, id int64) int64 {
	if m.UserA == id {
		return m.UserB
	}
	return m.UserA
}

// MatchesOptions holds flags for the matches command.
type MatchesOptions struct {
	*RootOptions
	State string
	User  int64
	Limit int
}

// NewMatchesCommand creates the matches command.
func NewMatchesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "matches",
		Short: "List matches, newest first",
		Long: `List committed matches, newest first.

Example:
  lasso matches --state active
  lasso matches --user 123456789 --limit 10 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatches(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", "", "filter by state (active|ended)")
	cmd.Flags().Int64Var(&opts.User, "user", 0, "only matches involving this user id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of matches")

	return cmd
}

func runMatches(cmd *cobra.Command, opts *MatchesOptions) error {
	f := store.MatchFilter{UserID: chat.UserID(opts.User), Limit: opts.Limit}
	switch chat.MatchState(opts.State) {
	case "", chat.MatchActive, chat.MatchEnded:
		f.State = chat.MatchState(opts.State)
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid state %q: must be active or ended", opts.State))
	}
	if opts.Limit < 1 {
		return NewExitError(ExitCommandError, "limit must be at least 1")
	}
	if opts.User < 0 {
		return NewExitError(ExitCommandError, "user must be positive")
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	matches, err := st.ListMatches(commandContext(cmd), f)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list matches", err)
	}
	views := make([]admin.MatchView, len(matches))
	for i, m := range matches {
		views[i] = admin.NewMatchView(m)
	}

	return formatter(cmd, opts.RootOptions).Success(views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintln(w, "No matches.")
			return
		}
		for _, m := range views {
			line := fmt.Sprintf("%s  %d <-> %d  score %d  %s  %s",
				m.ID, m.UserA, m.UserB, m.Score, m.State, m.CreatedAt.Format("2006-01-02 15:04"))
			if m.EndReason != "" {
				line += "  (" + m.EndReason + ")"
			}
			fmt.Fprintln(w, line)
		}
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
