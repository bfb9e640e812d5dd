package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/meetwatch/internal/config"
	"github.com/roach88/meetwatch/internal/credential"
	"github.com/roach88/meetwatch/internal/dispatch"
	"github.com/roach88/meetwatch/internal/engine"
	"github.com/roach88/meetwatch/internal/normalize"
	"github.com/roach88/meetwatch/internal/notify"
	"github.com/roach88/meetwatch/internal/source"
	"github.com/roach88/meetwatch/internal/store"
)

// app is the wired object graph shared by commands that touch state.
type app struct {
	cfg      *config.Config
	store    *store.Store
	creds    *credential.Store
	engine   *engine.Engine
	telegram *notify.Telegram // nil when no bot token is configured
	loc      *time.Location
	logger   *slog.Logger
}

type appOptions struct {
	// dryRun prints notifications instead of sending them.
	dryRun bool
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads, overrides from the environment and validates the config.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitFailure, "invalid config", err)
	}
	return cfg, nil
}

// openApp loads the config, opens the store and wires the engine.
func openApp(cmd *cobra.Command, opts *RootOptions, ao appOptions) (*app, error) {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid timezone", err)
	}
	policy, err := normalize.ParsePolicyFromString(cfg.ParsePolicy)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid parse policy", err)
	}

	logger.Debug("opening database", "dialect", store.DialectFor(cfg.Database))
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	a := &app{cfg: cfg, store: st, loc: loc, logger: logger}

	a.creds = credential.New(st,
		credential.GoogleConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL),
		credential.WithLogger(logger),
	)

	var notifier dispatch.Notifier
	switch {
	case ao.dryRun || cfg.Telegram.Token == "":
		out := cmd.OutOrStdout()
		if opts.Format == "json" {
			out = cmd.ErrOrStderr()
		}
		notifier = notify.NewWriter(out)
	default:
		tg, err := notify.NewTelegram(cfg.Telegram.Token, notify.WithAPIURL(cfg.Telegram.APIURL))
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitFailure, "invalid telegram config", err)
		}
		a.telegram = tg
		notifier = tg
	}

	src := source.NewRouter(a.creds,
		source.NewGoogle(a.creds,
			source.WithCalendarID(cfg.Google.CalendarID),
			source.WithGoogleLogger(logger),
		),
		source.NewICS(a.creds, source.WithICSLogger(logger)),
	)

	a.engine = engine.New(st, src, a.creds,
		dispatch.New(notifier, dispatch.WithLocation(loc), dispatch.WithLogger(logger)),
		engine.WithLogger(logger),
		engine.WithLookahead(cfg.LookaheadDuration()),
		engine.WithRetention(cfg.RetentionDuration()),
		engine.WithDefaultLead(cfg.Defaults.ReminderLeadMinutes),
		engine.WithParsePolicy(policy),
	)
	return a, nil
}

// registerFeeds stores the ICS feed of every configured user that has one.
// Invalid feeds are logged and skipped.
func (a *app) registerFeeds(ctx context.Context, cfg *config.Config) int {
	n := 0
	for user, feed := range cfg.ICSUsers() {
		if err := a.creds.PutICS(ctx, user, feed); err != nil {
			a.logger.Warn("ics feed not registered", "user", user, "error", err)
			continue
		}
		n++
	}
	return n
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
