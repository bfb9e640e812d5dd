package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/meetwatch/internal/bot"
	"github.com/roach88/meetwatch/internal/engine"
)

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user>",
		Short: "Forget a user's tracked meetings",
		Long: `Forget a user's tracked meetings, reminders and statistics.

Settings and the calendar connection are kept. The next check treats the
calendar as seen for the first time and does not announce existing meetings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := openApp(cmd, rootOpts, appOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Reset(cmd.Context(), args[0]); err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, "reset failed", err)
			}
			return f.Result(map[string]string{"user": args[0]}, "✓ state cleared for "+args[0])
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <user>",
		Short: "Show a user's meeting statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := openApp(cmd, rootOpts, appOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.engine.Stats(cmd.Context(), args[0])
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, "stats failed", err)
			}
			return f.Result(st, stripTags(bot.FormatStats(st)))
		},
	}
}

// NewSettingsCommand creates the settings command group.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change a user's notification settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <user>",
		Short: "Show a user's settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := openApp(cmd, rootOpts, appOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.engine.Settings(cmd.Context(), args[0])
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, "settings lookup failed", err)
			}
			return f.Result(st, stripTags(bot.FormatSettings(st)))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <user> <key> <value>",
		Short: "Change one setting",
		Long: fmt.Sprintf(`Change one setting.

Keys: %s
reminder_lead_minutes accepts 5, 15 or 30; the notify_on_* keys accept on/off.`,
			strings.Join(engine.SettingKeys(), ", ")),
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := openApp(cmd, rootOpts, appOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.engine.UpdateSetting(cmd.Context(), args[0], args[1], args[2])
			switch {
			case errors.Is(err, engine.ErrUnknownSetting), errors.Is(err, engine.ErrInvalidSettingValue):
				return f.Fail(ExitFailure, ErrCodeSetting, err.Error(), nil)
			case err != nil:
				return f.Fail(ExitCommandError, ErrCodeStore, "settings update failed", err)
			}
			return f.Result(st, stripTags(bot.FormatSettings(st)))
		},
	})

	return cmd
}

// UserInfo describes a connected user.
type UserInfo struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Valid bool   `json:"valid"`
}

// NewUsersCommand creates the users command.
func NewUsersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users with a stored calendar connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := openApp(cmd, rootOpts, appOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			ids, err := a.creds.Users(ctx)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, "user lookup failed", err)
			}

			users := make([]UserInfo, 0, len(ids))
			var b strings.Builder
			for _, id := range ids {
				kind, err := a.creds.Kind(ctx, id)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStore, "user lookup failed", err)
				}
				valid, err := a.creds.HasValidCredential(ctx, id)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeStore, "credential check failed", err)
				}
				users = append(users, UserInfo{ID: id, Kind: string(kind), Valid: valid})

				mark := "✓"
				if !valid {
					mark = "✗"
				}
				fmt.Fprintf(&b, "%s %s (%s)\n", mark, id, kind)
			}
			if len(users) == 0 {
				b.WriteString("No users connected.\n")
			}
			return f.Result(users, strings.TrimSuffix(b.String(), "\n"))
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <user>",
		Short: "Delete a user's calendar connection and state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := openApp(cmd, rootOpts, appOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.creds.Remove(ctx, args[0]); err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, "remove failed", err)
			}
			if err := a.engine.Reset(ctx, args[0]); err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, "reset failed", err)
			}
			return f.Result(map[string]string{"user": args[0]}, "✓ removed "+args[0])
		},
	})

	return cmd
}

// stripTags removes the HTML markup used in chat messages.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&").Replace(b.String())
}
