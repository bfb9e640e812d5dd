// Package bot answers chat commands and long-polls the Telegram Bot API for
// them. Chat ids are user ids.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/meetwatch/internal/dispatch"
	"github.com/roach88/meetwatch/internal/engine"
	"github.com/roach88/meetwatch/internal/model"
)

// Service is the engine surface the bot drives.
type Service interface {
	ForceCheck(ctx context.Context, userID string) (engine.UserResult, error)
	Reset(ctx context.Context, userID string) error
	Stats(ctx context.Context, userID string) (model.Stats, error)
	Settings(ctx context.Context, userID string) (model.UserSettings, error)
	UpdateSetting(ctx context.Context, userID, key, value string) (model.UserSettings, error)
	Week(ctx context.Context, userID string) ([]model.Event, error)
	Debug(ctx context.Context, userID string) (engine.DebugInfo, error)
}

// Registrar connects calendars for users.
type Registrar interface {
	HasValidCredential(ctx context.Context, userID string) (bool, error)
	AuthURL(ctx context.Context, userID string) (string, error)
	PutICS(ctx context.Context, userID, feedURL string) error
}

// Bot turns command text into reply text.
type Bot struct {
	svc    Service
	reg    Registrar
	loc    *time.Location
	logger *slog.Logger

	mu      sync.RWMutex
	allowed map[string]bool // nil: every chat may send commands
}

// Option configures a Bot.
type Option func(*Bot)

// WithLocation sets the timezone for the week view. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(b *Bot) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithAllowedUsers restricts commands to the given chat ids.
func WithAllowedUsers(ids ...string) Option {
	return func(b *Bot) {
		b.SetAllowedUsers(ids...)
	}
}

// SetAllowedUsers replaces the chat ids that may send commands. An empty
// list locks the bot for everyone.
func (b *Bot) SetAllowedUsers(ids ...string) {
	allowed := make(map[string]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	b.mu.Lock()
	b.allowed = allowed
	b.mu.Unlock()
}

func (b *Bot) permitted(userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.allowed == nil || b.allowed[userID]
}

// New creates a Bot.
func New(svc Service, reg Registrar, opts ...Option) *Bot {
	b := &Bot{svc: svc, reg: reg, loc: time.UTC, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

const helpText = `<b>Commands</b>
/check - check the calendar now
/week - upcoming meetings
/stats - meeting statistics
/settings - show settings
/set &lt;key&gt; &lt;value&gt; - change a setting
/connect [ics-url] - connect a calendar
/reset - forget tracked meetings
/debug - diagnostics`

// Handle executes one command for userID and returns the reply.
func (b *Bot) Handle(ctx context.Context, userID, text string) string {
	cmd, args := parseCommand(text)
	log := b.logger.With("user", userID, "command", cmd)
	if !b.permitted(userID) {
		log.Warn("command from unknown chat ignored")
		return "This bot is private."
	}
	log.Debug("command received")

	switch cmd {
	case "/start", "/help":
		return b.start(ctx, userID, cmd == "/start")
	case "/connect":
		return b.connect(ctx, userID, args)
	case "/check":
		return b.check(ctx, log, userID)
	case "/reset":
		if err := b.svc.Reset(ctx, userID); err != nil {
			log.Error("reset failed", "error", err)
			return "Could not reset state. Try again later."
		}
		return "Tracked meetings cleared. Current meetings will be re-learned silently on the next check."
	case "/stats":
		st, err := b.svc.Stats(ctx, userID)
		if err != nil {
			log.Error("stats failed", "error", err)
			return "Could not load statistics."
		}
		return FormatStats(st)
	case "/settings":
		st, err := b.svc.Settings(ctx, userID)
		if err != nil {
			log.Error("settings failed", "error", err)
			return "Could not load settings."
		}
		return FormatSettings(st)
	case "/set":
		return b.set(ctx, log, userID, args)
	case "/week":
		events, err := b.svc.Week(ctx, userID)
		if err != nil {
			log.Warn("week failed", "error", err)
			return "Could not read your calendar."
		}
		return dispatch.FormatWeek(events, b.loc)
	case "/debug":
		info, err := b.svc.Debug(ctx, userID)
		if err != nil {
			log.Error("debug failed", "error", err)
			return "Could not collect diagnostics."
		}
		return FormatDebug(info)
	default:
		return "Unknown command.\n\n" + helpText
	}
}

func (b *Bot) start(ctx context.Context, userID string, greet bool) string {
	var sb strings.Builder
	if greet {
		sb.WriteString("👋 I will notify you about new, upcoming, started and cancelled meetings that have a join link.\n\n")
	}
	ok, err := b.reg.HasValidCredential(ctx, userID)
	if err == nil && !ok {
		sb.WriteString("Your calendar is not connected yet. Use /connect.\n\n")
	}
	sb.WriteString(helpText)
	return sb.String()
}

func (b *Bot) connect(ctx context.Context, userID string, args []string) string {
	if len(args) > 0 {
		if err := b.reg.PutICS(ctx, userID, args[0]); err != nil {
			return "Could not use that feed: " + dispatch.Escape(err.Error())
		}
		return "✅ Calendar feed connected. The first check learns existing meetings silently."
	}

	u, err := b.reg.AuthURL(ctx, userID)
	if err != nil {
		return "Send /connect &lt;ics-url&gt; with your calendar's secret iCal address."
	}
	return fmt.Sprintf("Open this link to grant read access to your calendar:\n%s\n\nOr send /connect &lt;ics-url&gt;.",
		dispatch.Escape(u))
}

func (b *Bot) check(ctx context.Context, log *slog.Logger, userID string) string {
	res, err := b.svc.ForceCheck(ctx, userID)
	switch {
	case errors.Is(err, engine.ErrNotConnected):
		return "Your calendar is not connected. Use /connect."
	case engine.IsFetchError(err):
		log.Warn("forced check failed", "error", err)
		return "Could not read your calendar. Try again later."
	case err != nil:
		log.Error("forced check failed", "error", err)
		return "Check failed. Try again later."
	}
	if len(res.Batch) == 0 {
		return "✅ Checked. Nothing new."
	}
	return fmt.Sprintf("✅ Checked. %d notification(s) sent.", len(res.Batch))
}

func (b *Bot) set(ctx context.Context, log *slog.Logger, userID string, args []string) string {
	if len(args) != 2 {
		return "Usage: /set &lt;key&gt; &lt;value&gt;\nKeys: " + strings.Join(engine.SettingKeys(), ", ")
	}
	st, err := b.svc.UpdateSetting(ctx, userID, args[0], args[1])
	switch {
	case errors.Is(err, engine.ErrUnknownSetting), errors.Is(err, engine.ErrInvalidSettingValue):
		return dispatch.Escape(err.Error())
	case err != nil:
		log.Error("update setting failed", "error", err)
		return "Could not save the setting."
	}
	return "Saved.\n\n" + FormatSettings(st)
}

// parseCommand splits "/cmd@bot a b" into "/cmd" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:]
}

// FormatStats renders meeting statistics.
func FormatStats(st model.Stats) string {
	return fmt.Sprintf("📊 <b>Meeting statistics</b>\nTotal: %d\nCompleted: %d\nCancelled: %d\nUpcoming: %d\nTime in meetings: %.1f h",
		st.Total, st.Completed, st.Cancelled, st.Upcoming, st.TotalDurationHours)
}

// FormatSettings renders user settings.
func FormatSettings(st model.UserSettings) string {
	return fmt.Sprintf("⚙️ <b>Settings</b>\n%s: %d\n%s: %s\n%s: %s\n%s: %s",
		engine.SettingReminderLead, st.ReminderLeadMinutes,
		engine.SettingNotifyOnNew, onOff(st.NotifyOnNew),
		engine.SettingNotifyOnStart, onOff(st.NotifyOnStart),
		engine.SettingNotifyOnCancel, onOff(st.NotifyOnCancel))
}

// FormatDebug renders diagnostics.
func FormatDebug(d engine.DebugInfo) string {
	return fmt.Sprintf("🔧 <b>Debug</b>\nUser: %s\nCalendar connected: %s\nBootstrapped: %s\nTracked meetings: %d\nStarted: %d\nReminders sent: %d\nReminder lead: %d min",
		dispatch.Escape(d.UserID), yesNo(d.Connected), yesNo(d.Bootstrapped),
		d.Tracked, d.Started, d.RemindersSent, d.Settings.ReminderLeadMinutes)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
