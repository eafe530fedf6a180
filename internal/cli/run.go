package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/lasso/internal/admin"
	"github.com/roach88/lasso/internal/chat"
	"github.com/roach88/lasso/internal/config"
	"github.com/roach88/lasso/internal/dialogue"
	"github.com/roach88/lasso/internal/engine"
	"github.com/roach88/lasso/internal/ingest"
	"github.com/roach88/lasso/internal/matching"
	"github.com/roach88/lasso/internal/notify"
	"github.com/roach88/lasso/internal/transport/telegram"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	NoAdmin bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot",
		Long: `Run the bot: poll Telegram, drive conversations, match seekers on a
schedule, deliver replies and serve the admin API.

Settings (environment):
  LASSO_TELEGRAM_TOKEN         bot token (required)
  LASSO_DB_PATH                SQLite database (default lasso.db)
  LASSO_ADMIN_ADDR             admin listen address (default :8080)
  LASSO_FLOW_PATH              CUE conversation flow (default built in)
  LASSO_DEDUP_BACKEND          memory|sqlite|redis|dynamodb (default memory)
  LASSO_QUEUE_BACKEND          memory|redis (default memory)
  LASSO_REDIS_ADDR             redis address (default localhost:6379)
  LASSO_DYNAMO_TABLE           dedup table for the dynamodb backend
  LASSO_MATCH_INTERVAL         periodic pass cadence (default 30s)
  LASSO_FAILURE_THRESHOLD      consecutive storage failures before exiting (default 5)

Example:
  LASSO_TELEGRAM_TOKEN=123:abc lasso run --db ./lasso.db
  lasso run --log-format json --no-admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoAdmin, "no-admin", false, "do not serve the admin API")

	return cmd
}

func runBot(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if cfg.TelegramToken == "" {
		return NewExitError(ExitCommandError, "LASSO_TELEGRAM_TOKEN is required")
	}
	flow, err := cfg.Flow()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load conversation flow", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Error("error closing backends", "error", err)
		}
	}()

	client, err := telegram.Connect(cfg.TelegramToken)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect to telegram", err)
	}
	slog.Info("telegram connected", "bot", client.Username())

	bot, err := assemble(cfg, flow, b, client.Sender())
	if err != nil {
		return err
	}
	if _, err := bot.matcher.Rehydrate(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to rehydrate match queue", err)
	}

	poller := client.Poller(bot.engine.Submit)
	scheduler := matching.NewScheduler(bot.matcher,
		matching.WithInterval(cfg.MatchInterval),
		matching.WithMaxFailures(cfg.FailureThreshold))

	// The outbox outlives the producers so replies to events already in
	// lanes are still delivered.
	outboxCtx, stopOutbox := context.WithCancel(context.WithoutCancel(ctx))
	defer stopOutbox()
	outboxDone := make(chan error, 1)
	go func() { outboxDone <- bot.outbox.Run(outboxCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.engine.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if !opts.NoAdmin {
		srv := admin.NewServer(cfg.AdminAddr, admin.Config{
			Store: b.store,
			Queue: b.queue,
			Stats: bot.engine.Stats,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Lasso running as @%s. Press Ctrl-C to stop.\n", client.Username())

	runErr := g.Wait()
	stopOutbox()
	<-outboxDone
	bot.wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return WrapExitError(ExitFailure, "bot stopped", runErr)
	}
	slog.Info("bot stopped gracefully", "stats", bot.engine.Stats())
	return nil
}

// pipeline is the wired conversation and matching engine.
type pipeline struct {
	engine  *engine.Engine
	matcher *matching.Engine
	outbox  *notify.Outbox

	// suspends tracks Suspend calls started by failed deliveries.
	suspends sync.WaitGroup
}

// wait blocks until every started suspension has finished. Backends must
// stay open until then.
func (p *pipeline) wait() {
	p.suspends.Wait()
}

// assemble wires ingest, dialogue, matching and delivery over b. Replies
// and match notices go through one outbox to sender. A recipient that
// cannot be reached is suspended, which ends any active match.
func assemble(cfg config.Config, flow *dialogue.Flow, b *backends, sender notify.Sender) (*pipeline, error) {
	p := &pipeline{}

	notifier := notify.New(sender,
		notify.WithAttempts(cfg.DeliveryAttempts),
		notify.WithOnPermanent(func(ctx context.Context, id chat.UserID, _ error) {
			// Suspend takes the commit lock and submits to the outbox, so it
			// must not run on the delivering worker.
			p.suspends.Add(1)
			go func() {
				defer p.suspends.Done()
				if err := p.matcher.Suspend(context.WithoutCancel(ctx), id, chat.EndUnreachable); err != nil {
					slog.Error("suspend unreachable user failed", "user_id", int64(id), "error", err)
				}
			}()
		}),
	)
	p.outbox = notify.NewOutbox(notifier, cfg.OutboxWorkers, cfg.OutboxCapacity)

	matcher, err := newMatcher(cfg, b, p.outbox, flow)
	if err != nil {
		return nil, err
	}
	p.matcher = matcher

	machine := dialogue.NewMachine(flow, b.store, matcher, dialogue.WithRetries(cfg.CASRetries))
	p.engine = engine.New(ingest.New(b.dedup), machine, p.outbox,
		engine.WithLanes(cfg.Lanes, cfg.LaneCapacity),
		engine.WithFailureThreshold(cfg.FailureThreshold))
	return p, nil
}
