package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/meetwatch/internal/bot"
	"github.com/roach88/meetwatch/internal/config"
	"github.com/roach88/meetwatch/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DryRun bool
	NoBot  bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the notification service",
		Long: `Start the meetwatch service.

Runs a check cycle for every connected user immediately and then on the
configured schedule, answers bot commands when a Telegram token is set, and
re-registers ICS feeds when the config file changes.

Example:
  meetwatch run --config ./meetwatch.yaml
  meetwatch run --dry-run --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print notifications instead of sending them")
	cmd.Flags().BoolVar(&opts.NoBot, "no-bot", false, "do not answer bot commands")

	return cmd
}

func runService(opts *RunOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions, appOptions{dryRun: opts.DryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := engine.NewScheduler(a.engine, a.cfg.CronSpec(), a.logger)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid schedule", err)
	}

	// Use command's context if available (for testing), otherwise create one
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
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if n := a.registerFeeds(ctx, a.cfg); n > 0 {
		a.logger.Info("ics feeds registered", "count", n)
	}

	var (
		wg   sync.WaitGroup
		once sync.Once
		fail error
	)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				a.logger.Error(name+" stopped", "error", err)
				once.Do(func() { fail = fmt.Errorf("%s: %w", name, err) })
				cancel()
			}
		}()
	}

	spawn("scheduler", sched.Run)

	var chatBot *bot.Bot
	if a.telegram != nil && !opts.NoBot && !opts.DryRun {
		allowed := a.cfg.BotUsers()
		if len(allowed) == 0 {
			a.logger.Warn("bot commands disabled: no users or telegram.allowed_users configured")
		} else {
			chatBot = bot.New(a.engine, a.creds,
				bot.WithLocation(a.loc),
				bot.WithLogger(a.logger),
				bot.WithAllowedUsers(allowed...))
			spawn("bot", func(ctx context.Context) error {
				return chatBot.Poll(ctx, a.telegram, a.telegram)
			})
		}
	}

	spawn("config watcher", func(ctx context.Context) error {
		return config.Watch(ctx, opts.Config, a.logger, func(cfg *config.Config) {
			cfg.ApplyEnv(os.Getenv)
			n := a.registerFeeds(ctx, cfg)
			if chatBot != nil {
				chatBot.SetAllowedUsers(cfg.BotUsers()...)
			}
			a.logger.Info("config reloaded", "ics_feeds", n)
			if cfg.CronSpec() != a.cfg.CronSpec() || cfg.Database != a.cfg.Database {
				a.logger.Warn("schedule and database changes take effect after a restart")
			}
		})
	})

	a.logger.Info("service starting", "schedule", sched.Spec(), "bot", a.telegram != nil && !opts.NoBot && !opts.DryRun)
	fmt.Fprintln(cmd.OutOrStdout(), "meetwatch started. Press Ctrl-C to stop.")

	wg.Wait()
	if fail != nil {
		return WrapExitError(ExitFailure, "service error", fail)
	}
	a.logger.Info("service stopped gracefully")
	return nil
}
