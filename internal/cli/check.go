package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/meetwatch/internal/dispatch"
	"github.com/roach88/meetwatch/internal/engine"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	DryRun bool
}

// UserSummary is the printable outcome of one user's check.
type UserSummary struct {
	User          string   `json:"user"`
	Notifications []string `json:"notifications"`
	Delivered     int      `json:"delivered"`
	Undelivered   int      `json:"undelivered"`
	Skipped       int      `json:"skipped"`
	Error         string   `json:"error,omitempty"`
}

// CycleSummary is the printable outcome of a full cycle.
type CycleSummary struct {
	Cycle    string        `json:"cycle"`
	Users    []UserSummary `json:"users"`
	Inactive []string      `json:"inactive"`
	Expired  int64         `json:"expired"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check [user]",
		Short: "Run one check cycle now",
		Long: `Run one check cycle immediately and deliver the resulting notifications.

With a user id only that user is checked. Without one every connected user is
checked and expired meetings are garbage collected, exactly like a scheduled
cycle.

Examples:
  meetwatch check
  meetwatch check 123456789 --dry-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runCheckUser(opts, args[0], cmd)
			}
			return runCheckAll(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print notifications instead of sending them")
	return cmd
}

func runCheckUser(opts *CheckOptions, userID string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	a, err := openApp(cmd, opts.RootOptions, appOptions{dryRun: opts.DryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.ForceCheck(cmd.Context(), userID)
	if errors.Is(err, engine.ErrNotConnected) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("user %s has no calendar connected", userID), nil)
	}
	summary := summarize(res)
	if err != nil {
		_ = f.Error(ErrCodeCheck, "check failed", summary)
		return WrapExitError(ExitFailure, "check failed", err)
	}
	if err := f.Result(summary, formatUserSummary(summary)); err != nil {
		return err
	}
	if summary.Undelivered > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d notification(s) not delivered", summary.Undelivered))
	}
	return nil
}

func runCheckAll(opts *CheckOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	a, err := openApp(cmd, opts.RootOptions, appOptions{dryRun: opts.DryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.RunCycle(cmd.Context())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "cycle failed", err)
	}

	summary := CycleSummary{
		Cycle:    report.Token,
		Users:    make([]UserSummary, 0, len(report.Users)),
		Inactive: report.Inactive,
		Expired:  report.Expired,
	}
	if summary.Inactive == nil {
		summary.Inactive = []string{}
	}
	failed := 0
	for _, u := range report.Users {
		s := summarize(u)
		if s.Error != "" || s.Undelivered > 0 {
			failed++
		}
		summary.Users = append(summary.Users, s)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "cycle %s: %d user(s), %d inactive, %d expired row(s) removed",
		summary.Cycle, len(summary.Users), len(summary.Inactive), summary.Expired)
	for _, s := range summary.Users {
		b.WriteString("\n")
		b.WriteString(formatUserSummary(s))
	}
	if err := f.Result(summary, b.String()); err != nil {
		return err
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d user(s) failed", failed))
	}
	return nil
}

func summarize(res engine.UserResult) UserSummary {
	s := UserSummary{
		User:          res.UserID,
		Notifications: make([]string, 0, len(res.Batch)),
		Skipped:       len(res.Skipped),
	}
	for _, k := range res.Batch.Kinds() {
		s.Notifications = append(s.Notifications, string(k))
	}
	s.Undelivered = len(dispatch.Failed(res.Deliveries))
	s.Delivered = len(res.Deliveries) - s.Undelivered
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	return s
}

func formatUserSummary(s UserSummary) string {
	if s.Error != "" {
		return fmt.Sprintf("✗ %s: %s", s.User, s.Error)
	}
	line := fmt.Sprintf("✓ %s: %d notification(s)", s.User, len(s.Notifications))
	if len(s.Notifications) > 0 {
		line += " [" + strings.Join(s.Notifications, ", ") + "]"
	}
	if s.Undelivered > 0 {
		line += fmt.Sprintf(", %d undelivered", s.Undelivered)
	}
	if s.Skipped > 0 {
		line += fmt.Sprintf(", %d event(s) skipped", s.Skipped)
	}
	return line
}

// NewGCCommand creates the gc command.
func NewGCCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Remove ended meetings and stale authorization states",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := openApp(cmd, rootOpts, appOptions{dryRun: true})
			if err != nil {
				return err
			}
			defer a.Close()

			expired, purged := a.engine.CollectGarbage(cmd.Context())
			return f.Result(
				map[string]int64{"expired": expired, "auth_states": purged},
				fmt.Sprintf("removed %d ended meeting(s) and %d authorization state(s)", expired, purged),
			)
		},
	}
}
