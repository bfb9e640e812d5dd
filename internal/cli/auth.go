package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/meetwatch/internal/credential"
)

// NewAuthCommand creates the auth command group.
func NewAuthCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Connect calendars",
		Long: `Connect a user's calendar.

Google calendars use the OAuth authorization code flow: "auth url" prints the
consent URL, and "auth exchange" completes it with the state and code the
redirect received. ICS feeds need only the feed URL.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "url <user>",
		Short: "Print the Google consent URL for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := openApp(cmd, rootOpts, appOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.creds.AuthURL(cmd.Context(), args[0])
			if errors.Is(err, credential.ErrOAuthNotConfigured) {
				return f.Fail(ExitFailure, ErrCodeAuth, "google.client_id is not configured", nil)
			}
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeStore, "authorization failed", err)
			}
			return f.Result(map[string]string{"user": args[0], "url": u}, u)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "exchange <state> <code>",
		Short: "Complete a Google authorization",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := openApp(cmd, rootOpts, appOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.creds.Exchange(cmd.Context(), args[0], args[1])
			switch {
			case errors.Is(err, credential.ErrOAuthNotConfigured):
				return f.Fail(ExitFailure, ErrCodeAuth, "google.client_id is not configured", nil)
			case errors.Is(err, credential.ErrInvalidState):
				return f.Fail(ExitFailure, ErrCodeAuth, err.Error(), nil)
			case err != nil:
				return f.Fail(ExitFailure, ErrCodeAuth, "authorization failed", err)
			}
			return f.Result(map[string]string{"user": user}, "✓ calendar connected for "+user)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ics <user> <feed-url>",
		Short: "Connect an ICS feed for a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := openApp(cmd, rootOpts, appOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.creds.PutICS(cmd.Context(), args[0], args[1]); err != nil {
				return f.Fail(ExitFailure, ErrCodeAuth, "invalid feed", err)
			}
			return f.Result(map[string]string{"user": args[0]}, "✓ feed connected for "+args[0])
		},
	})

	return cmd
}
