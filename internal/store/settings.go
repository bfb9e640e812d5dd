package store

import (
	"context"
	"fmt"

	"github.com/roach88/meetwatch/internal/model"
)

// Settings returns the user's settings, creating the default row on first
// access. defaultLead is used for the lazily created row.
func (s *Store) Settings(ctx context.Context, userID string, defaultLead int) (model.UserSettings, error) {
	if !model.ValidReminderLead(defaultLead) {
		defaultLead = model.DefaultReminderLead
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO user_settings (user_id, reminder_lead_minutes, notify_on_new, notify_on_start, notify_on_cancel)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING
	`), userID, defaultLead, true, true, true); err != nil {
		return model.UserSettings{}, fmt.Errorf("create default settings: %w", err)
	}

	st := model.UserSettings{UserID: userID}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT reminder_lead_minutes, notify_on_new, notify_on_start, notify_on_cancel
		FROM user_settings
		WHERE user_id = ?
	`), userID).Scan(&st.ReminderLeadMinutes, &st.NotifyOnNew, &st.NotifyOnStart, &st.NotifyOnCancel)
	if err != nil {
		return model.UserSettings{}, fmt.Errorf("query settings: %w", err)
	}
	return st, nil
}

// SaveSettings overwrites the user's settings row.
func (s *Store) SaveSettings(ctx context.Context, st model.UserSettings) error {
	if !model.ValidReminderLead(st.ReminderLeadMinutes) {
		return fmt.Errorf("save settings: reminder lead %d not in %v", st.ReminderLeadMinutes, model.ReminderLeadChoices)
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO user_settings (user_id, reminder_lead_minutes, notify_on_new, notify_on_start, notify_on_cancel)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			reminder_lead_minutes = excluded.reminder_lead_minutes,
			notify_on_new = excluded.notify_on_new,
			notify_on_start = excluded.notify_on_start,
			notify_on_cancel = excluded.notify_on_cancel
	`), st.UserID, st.ReminderLeadMinutes, st.NotifyOnNew, st.NotifyOnStart, st.NotifyOnCancel)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
