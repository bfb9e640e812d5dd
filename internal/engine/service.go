package engine

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/meetwatch/internal/model"
)

// Setting keys accepted by UpdateSetting.
const (
	SettingReminderLead   = "reminder_lead_minutes"
	SettingNotifyOnNew    = "notify_on_new"
	SettingNotifyOnStart  = "notify_on_start"
	SettingNotifyOnCancel = "notify_on_cancel"
)

// settingAliases maps short names to setting keys.
var settingAliases = map[string]string{
	"reminder_time": SettingReminderLead,
	"reminder":      SettingReminderLead,
	"lead":          SettingReminderLead,
	"new":           SettingNotifyOnNew,
	"start":         SettingNotifyOnStart,
	"cancel":        SettingNotifyOnCancel,
}

// SettingKeys lists the canonical setting keys.
func SettingKeys() []string {
	return []string{SettingReminderLead, SettingNotifyOnNew, SettingNotifyOnStart, SettingNotifyOnCancel}
}

// Reset clears the user's tracked events, reminders, statistics and
// first-run marker. Settings survive. The next cycle bootstraps again.
func (e *Engine) Reset(ctx context.Context, userID string) error {
	release := e.locks.lock(userID)
	defer release()

	if err := e.store.Reset(ctx, userID); err != nil {
		return NewStoreError(userID, "", err)
	}
	e.logger.Info("state reset", "user", userID)
	return nil
}

// Stats returns the user's meeting statistics.
func (e *Engine) Stats(ctx context.Context, userID string) (model.Stats, error) {
	st, err := e.store.Stats(ctx, userID)
	if err != nil {
		return model.Stats{}, NewStoreError(userID, "", err)
	}
	return st, nil
}

// Settings returns the user's settings, creating defaults on first access.
func (e *Engine) Settings(ctx context.Context, userID string) (model.UserSettings, error) {
	st, err := e.store.Settings(ctx, userID, e.defaultLead)
	if err != nil {
		return model.UserSettings{}, NewStoreError(userID, "", err)
	}
	return st, nil
}

// UpdateSetting changes one setting and returns the updated settings.
//
// The reminder lead accepts 5, 15 or 30. Booleans accept the usual
// spellings (true/false, on/off, yes/no, 1/0).
func (e *Engine) UpdateSetting(ctx context.Context, userID, key, value string) (model.UserSettings, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := settingAliases[key]; ok {
		key = canonical
	}
	if !slices.Contains(SettingKeys(), key) {
		return model.UserSettings{}, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
	}

	st, err := e.Settings(ctx, userID)
	if err != nil {
		return model.UserSettings{}, err
	}

	switch key {
	case SettingReminderLead:
		m, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || !model.ValidReminderLead(m) {
			return model.UserSettings{}, fmt.Errorf("%w: %s must be one of %v, got %q",
				ErrInvalidSettingValue, key, model.ReminderLeadChoices, value)
		}
		st.ReminderLeadMinutes = m
	default:
		b, err := parseBool(value)
		if err != nil {
			return model.UserSettings{}, fmt.Errorf("%w: %s: %q", ErrInvalidSettingValue, key, value)
		}
		switch key {
		case SettingNotifyOnNew:
			st.NotifyOnNew = b
		case SettingNotifyOnStart:
			st.NotifyOnStart = b
		case SettingNotifyOnCancel:
			st.NotifyOnCancel = b
		}
	}

	if err := e.store.SaveSettings(ctx, st); err != nil {
		return model.UserSettings{}, NewStoreError(userID, "", err)
	}
	e.logger.Info("setting updated", "user", userID, "key", key, "value", value)
	return st, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "yes", "y", "enable", "enabled":
		return true, nil
	case "off", "no", "n", "disable", "disabled":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}

// Week lists the user's upcoming joinable meetings in the lookahead window,
// ordered by start. It reads the calendar without touching state.
func (e *Engine) Week(ctx context.Context, userID string) ([]model.Event, error) {
	now := e.clock.Now()
	raws, err := e.source.ListEvents(ctx, userID, model.Window{Start: now, End: now.Add(e.lookahead)})
	if err != nil {
		return nil, NewFetchError(userID, "", err)
	}
	events, _ := e.normalizer(now, e.logger.With("user", userID)).NormalizeAll(raws)
	slices.SortStableFunc(events, func(a, b model.Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return events, nil
}

// DebugInfo is a diagnostic view of one user's state.
type DebugInfo struct {
	UserID        string
	Connected     bool
	Bootstrapped  bool
	Tracked       int
	Started       int
	RemindersSent int
	Settings      model.UserSettings
}

// Debug returns diagnostics for a user.
func (e *Engine) Debug(ctx context.Context, userID string) (DebugInfo, error) {
	info := DebugInfo{UserID: userID}

	ok, err := e.creds.HasValidCredential(ctx, userID)
	if err != nil {
		return info, fmt.Errorf("credential lookup: %w", err)
	}
	info.Connected = ok

	snap, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		return info, NewStoreError(userID, "", err)
	}
	info.Bootstrapped = snap.Bootstrapped
	info.Tracked = len(snap.Known)
	for _, row := range snap.Known {
		if row.Started() {
			info.Started++
		}
		info.RemindersSent += len(row.RemindedLeads)
	}

	info.Settings, err = e.Settings(ctx, userID)
	return info, err
}
