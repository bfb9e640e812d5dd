package model

import (
	"slices"
	"time"
)

// RawEvent is a provider-native calendar event before normalization.
// Start and End keep the provider's string forms so that the normalizer owns
// every parsing decision.
type RawEvent struct {
	ID       string    `json:"id"`
	Summary  string    `json:"summary"`
	Start    EventTime `json:"start"`
	End      EventTime `json:"end"`
	JoinLink string    `json:"join_link,omitempty"` // Empty for offline meetings
}

// EventTime carries either a date-only or a date-time string.
type EventTime struct {
	Date     string `json:"date,omitempty"`      // "2006-01-02"
	DateTime string `json:"date_time,omitempty"` // RFC 3339, "Z" or explicit offset
}

// Value returns the date-time form when present, otherwise the date form.
func (t EventTime) Value() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

// Event is the canonical, immutable shape of a joinable meeting.
// Rebuilt on every poll, never persisted as-is.
type Event struct {
	ID       string    `json:"id"`
	Summary  string    `json:"summary"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	JoinLink string    `json:"join_link"`
}

// Window is the time range requested from a calendar source.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TrackedEvent is the persisted reconciliation state for one (event, user).
// Presence of the row means the event was discovered. The remaining flags move
// monotonically from unset to set and are only cleared by an explicit reset.
type TrackedEvent struct {
	UserID            string    `json:"user_id"`
	EventID           string    `json:"event_id"`
	Summary           string    `json:"summary"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	DiscoveredAt      time.Time `json:"discovered_at"`
	StartedNotifiedAt time.Time `json:"started_notified_at,omitzero"`
	CompletedAt       time.Time `json:"completed_at,omitzero"`

	// RemindedLeads lists the lead times (minutes) a reminder was already sent for.
	RemindedLeads []int `json:"reminded_leads,omitempty"`
}

// Started reports whether the meeting-started transition was recorded.
func (t TrackedEvent) Started() bool {
	return !t.StartedNotifiedAt.IsZero()
}

// Completed reports whether the meeting was observed to have ended.
func (t TrackedEvent) Completed() bool {
	return !t.CompletedAt.IsZero()
}

// RemindedFor reports whether a reminder was sent for the given lead time.
func (t TrackedEvent) RemindedFor(leadMinutes int) bool {
	return slices.Contains(t.RemindedLeads, leadMinutes)
}

// Snapshot is the per-user state consumed once per reconciliation.
type Snapshot struct {
	UserID       string         `json:"user_id"`
	Bootstrapped bool           `json:"bootstrapped"`
	Known        []TrackedEvent `json:"known"`
}

// ReminderMark records that a reminder was sent for (event, user, lead).
type ReminderMark struct {
	EventID     string    `json:"event_id"`
	LeadMinutes int       `json:"lead_minutes"`
	SentAt      time.Time `json:"sent_at"`
}

// StateDelta is the set of store mutations produced by one reconciliation.
// It is applied atomically.
type StateDelta struct {
	UserID    string         `json:"user_id"`
	Bootstrap bool           `json:"bootstrap"` // set the first-run marker
	Upserts   []TrackedEvent `json:"upserts,omitempty"`
	Reminders []ReminderMark `json:"reminders,omitempty"`
	Deletes   []string       `json:"deletes,omitempty"` // event ids
	Stats     []MeetingStats `json:"stats,omitempty"`
}

// Empty reports whether applying the delta would change nothing.
func (d StateDelta) Empty() bool {
	return !d.Bootstrap && len(d.Upserts) == 0 && len(d.Reminders) == 0 &&
		len(d.Deletes) == 0 && len(d.Stats) == 0
}

// DefaultReminderLead is the reminder lead time for new users.
const DefaultReminderLead = 15

// ReminderLeadChoices are the allowed reminder lead times in minutes.
var ReminderLeadChoices = []int{5, 15, 30}

// ValidReminderLead reports whether minutes is an allowed lead time.
func ValidReminderLead(minutes int) bool {
	return slices.Contains(ReminderLeadChoices, minutes)
}

// UserSettings holds the per-user notification preferences.
type UserSettings struct {
	UserID              string `json:"user_id"`
	ReminderLeadMinutes int    `json:"reminder_lead_minutes"`
	NotifyOnNew         bool   `json:"notify_on_new"`
	NotifyOnStart       bool   `json:"notify_on_start"`
	NotifyOnCancel      bool   `json:"notify_on_cancel"`
}

// DefaultSettings returns the settings a user gets on first access.
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:              userID,
		ReminderLeadMinutes: DefaultReminderLead,
		NotifyOnNew:         true,
		NotifyOnStart:       true,
		NotifyOnCancel:      true,
	}
}

// ReminderLead returns the configured lead as a duration, falling back to the
// default when the stored value is not an allowed choice.
func (s UserSettings) ReminderLead() time.Duration {
	m := s.ReminderLeadMinutes
	if !ValidReminderLead(m) {
		m = DefaultReminderLead
	}
	return time.Duration(m) * time.Minute
}

// MeetingStatus is the observational status kept in meeting statistics.
type MeetingStatus string

const (
	StatusUpcoming  MeetingStatus = "upcoming"
	StatusCompleted MeetingStatus = "completed"
	StatusCancelled MeetingStatus = "cancelled"
)

// MeetingStats is a denormalized record derived from tracked-event
// transitions. It is output only; reconciliation never reads it.
type MeetingStats struct {
	UserID          string        `json:"user_id"`
	EventID         string        `json:"event_id"`
	Summary         string        `json:"summary"`
	Start           time.Time     `json:"start"`
	End             time.Time     `json:"end"`
	Status          MeetingStatus `json:"status"`
	DurationMinutes int           `json:"duration_minutes"`
}

// Stats is the aggregate view returned to users.
type Stats struct {
	Total              int     `json:"total"`
	Completed          int     `json:"completed"`
	Cancelled          int     `json:"cancelled"`
	Upcoming           int     `json:"upcoming"`
	TotalDurationHours float64 `json:"total_duration_hours"`
}

// NotificationKind identifies which transition a notification reports.
type NotificationKind string

const (
	KindNewMeeting       NotificationKind = "new_meeting"
	KindUpcomingReminder NotificationKind = "upcoming_reminder"
	KindMeetingStarted   NotificationKind = "meeting_started"
	KindMeetingCancelled NotificationKind = "meeting_cancelled"
)

// Notification is one alert to deliver to a user.
type Notification struct {
	Kind   NotificationKind `json:"kind"`
	UserID string           `json:"user_id"`
	Event  Event            `json:"event"`

	// Reminder-only fields.
	LeadMinutes  int `json:"lead_minutes,omitempty"`
	MinutesUntil int `json:"minutes_until,omitempty"`
}
