package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/lasso/internal/admin"
	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/notify"
	"github.com/roach88/lasso/internal/transport/telegram"
)

// MatchOptions holds flags for the match command.
type MatchOptions struct {
	*RootOptions
	NoSend bool
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Run one matching pass",
		Long: `Run one matching pass over every seeking user and report the matches.

Match notices are sent through Telegram (LASSO_TELEGRAM_TOKEN). With
--no-send the matches are still committed but the notices are printed
instead of sent.

Example:
  lasso match --db ./lasso.db
  lasso match --db ./lasso.db --no-send --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoSend, "no-send", false, "print match notices instead of sending them")

	return cmd
}

// PassReport is the output of the match command.
type PassReport struct {
	Seq      int64             `json:"seq"`
	Drained  int               `json:"drained"`
	Eligible int               `json:"eligible"`
	Requeued int               `json:"requeued"`
	Matches  []admin.MatchView `json:"matches"`
	Notices  []NoticeView      `json:"notices"`
}

// NoticeView is one outbound notice and whether it was delivered.
type NoticeView struct {
	UserID    int64  `json:"user_id"`
	Text      string `json:"text"`
	Delivered bool   `json:"delivered"`
}

func runMatch(cmd *cobra.Command, opts *MatchOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if !opts.NoSend && cfg.TelegramToken == "" {
		return NewExitError(ExitCommandError, "LASSO_TELEGRAM_TOKEN is required unless --no-send is set")
	}
	flow, err := cfg.Flow()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load conversation flow", err)
	}

	ctx := commandContext(cmd)
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	notices := &collector{}
	matcher, err := newMatcher(cfg, b, notices, flow)
	if err != nil {
		return err
	}
	if _, err := matcher.Rehydrate(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to rehydrate match queue", err)
	}

	res, err := matcher.Pass(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "matching pass failed", err)
	}

	report := PassReport{
		Seq:      res.Seq,
		Drained:  res.Drained,
		Eligible: res.Eligible,
		Requeued: res.Requeued,
		Matches:  make([]admin.MatchView, 0, len(res.Matches)),
		Notices:  []NoticeView{},
	}
	for _, m := range res.Matches {
		report.Matches = append(report.Matches, admin.NewMatchView(m))
	}

	if opts.NoSend {
		for _, m := range notices.take() {
			report.Notices = append(report.Notices, NoticeView{UserID: int64(m.UserID), Text: m.Text})
		}
	} else {
		client, err := telegram.Connect(cfg.TelegramToken)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to telegram", err)
		}
		report.Notices, err = deliverNotices(ctx, client.Sender(), cfg.DeliveryAttempts, notices, matcher.Suspend)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to deliver match notices", err)
		}
	}

	return formatter(cmd, opts.RootOptions).Success(report, func(w io.Writer) {
		fmt.Fprintf(w, "Pass %d: %d drained, %d eligible, %d matched, %d requeued\n",
			report.Seq, report.Drained, report.Eligible, len(report.Matches), report.Requeued)
		for _, m := range report.Matches {
			fmt.Fprintf(w, "  %s  %d <-> %d  score %d\n", m.ID, m.UserA, m.UserB, m.Score)
		}
		for _, n := range report.Notices {
			status := "printed"
			if !opts.NoSend {
				status = "sent"
				if !n.Delivered {
					status = "failed"
				}
			}
			fmt.Fprintf(w, "  -> %d [%s] %s\n", n.UserID, status, n.Text)
		}
	})
}

type suspendFunc func(ctx context.Context, id chat.UserID, reason string) error

// deliverNotices sends collected notices until none remain. Recipients who
// cannot be reached are suspended between rounds, which may queue notices
// for their partners.
func deliverNotices(ctx context.Context, sender notify.Sender, attempts int, c *collector, suspend suspendFunc) ([]NoticeView, error) {
	var unreachable []chat.UserID
	notifier := notify.New(sender,
		notify.WithAttempts(attempts),
		notify.WithOnPermanent(func(_ context.Context, id chat.UserID, _ error) {
			unreachable = append(unreachable, id)
		}),
	)

	out := []NoticeView{}
	for {
		msgs := c.take()
		for _, m := range msgs {
			err := notifier.Deliver(ctx, m)
			out = append(out, NoticeView{UserID: int64(m.UserID), Text: m.Text, Delivered: err == nil})
		}

		gone := unreachable
		unreachable = nil
		for _, id := range gone {
			if err := suspend(ctx, id, chat.EndUnreachable); err != nil && !errors.Is(err, chat.ErrUserNotFound) {
				return out, fmt.Errorf("suspend unreachable user %d: %w", id, err)
			}
		}

		if len(msgs) == 0 && len(gone) == 0 {
			return out, nil
		}
	}
}

// collector is a sink that holds messages until taken.
type collector struct {
	mu   sync.Mutex
	msgs []chat.OutboundMessage
}

func (c *collector) Submit(_ context.Context, msgs ...chat.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *collector) take() []chat.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.msgs
	c.msgs = nil
	return msgs
}
