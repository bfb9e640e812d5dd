package reconcile

import (
	"cmp"
	"slices"
	"time"

	"github.com/roach88/meetwatch/internal/model"
)

// Batch is the ordered list of notifications produced by one reconciliation.
type Batch []model.Notification

// Kinds returns the notification kinds in batch order.
func (b Batch) Kinds() []model.NotificationKind {
	kinds := make([]model.NotificationKind, len(b))
	for i, n := range b {
		kinds[i] = n.Kind
	}
	return kinds
}

// Reconcile computes the notifications and state mutations implied by the
// current event list for one user.
//
// events must already be normalized (joinable meetings only). snap is the
// user's persisted state as read at the start of the cycle. Duplicate event
// ids in events are collapsed to the first occurrence after sorting.
//
// unreadable holds ids the provider listed but whose data could not be
// normalized. Their rows are left as they are: the event still exists, so it
// is neither cancelled nor rediscovered.
func Reconcile(
	userID string,
	events []model.Event,
	unreadable []string,
	snap model.Snapshot,
	settings model.UserSettings,
	now time.Time,
) (Batch, model.StateDelta) {
	r := newRun(userID, snap, settings, now)

	current := sortedUnique(events)
	r.discover(current)
	r.remind(current)
	r.start(current)
	r.sweep(current, unreadable)

	return r.result()
}

// run carries the working state of a single reconciliation.
type run struct {
	userID   string
	settings model.UserSettings
	now      time.Time
	lead     time.Duration
	boot     bool // true when this is the user's first reconciliation

	rows  map[string]model.TrackedEvent
	known []model.TrackedEvent // snapshot rows, sorted
	dirty map[string]bool

	discovered []model.Notification
	reminders  []model.Notification
	started    []model.Notification
	cancelled  []model.Notification

	delta model.StateDelta
}

func newRun(userID string, snap model.Snapshot, settings model.UserSettings, now time.Time) *run {
	r := &run{
		userID:   userID,
		settings: settings,
		now:      now,
		lead:     settings.ReminderLead(),
		boot:     !snap.Bootstrapped,
		rows:     make(map[string]model.TrackedEvent, len(snap.Known)),
		dirty:    make(map[string]bool),
		delta:    model.StateDelta{UserID: userID},
	}

	for _, row := range snap.Known {
		if row.UserID != "" && row.UserID != userID {
			// Rows of other users never enter this user's reconciliation.
			continue
		}
		row.UserID = userID
		r.rows[row.EventID] = row
		r.known = append(r.known, row)
	}
	slices.SortFunc(r.known, func(a, b model.TrackedEvent) int {
		return compareByStart(a.Start, b.Start, a.EventID, b.EventID)
	})

	return r
}

// discover records unknown events and refreshes the snapshot of known ones.
func (r *run) discover(events []model.Event) {
	for _, ev := range events {
		row, ok := r.rows[ev.ID]
		if !ok {
			r.rows[ev.ID] = model.TrackedEvent{
				UserID:       r.userID,
				EventID:      ev.ID,
				Summary:      ev.Summary,
				Start:        ev.Start,
				End:          ev.End,
				DiscoveredAt: r.now,
			}
			r.dirty[ev.ID] = true
			r.delta.Stats = append(r.delta.Stats, statsFor(r.userID, ev, model.StatusUpcoming))

			if !r.boot && r.settings.NotifyOnNew && ev.Start.After(r.now) {
				r.discovered = append(r.discovered, r.notification(model.KindNewMeeting, ev))
			}
			continue
		}

		// Known event: keep the stored copy in line with the provider so the
		// started and garbage collection paths use the current times.
		if row.Summary != ev.Summary || !row.Start.Equal(ev.Start) || !row.End.Equal(ev.End) {
			row.Summary = ev.Summary
			row.Start = ev.Start
			row.End = ev.End
			r.rows[ev.ID] = row
			r.dirty[ev.ID] = true

			status := model.StatusUpcoming
			if row.Completed() {
				status = model.StatusCompleted
			}
			r.delta.Stats = append(r.delta.Stats, statsFor(r.userID, ev, status))
		}
	}
}

// remind queues a reminder for events whose start is within the lead time.
// An event starting exactly now is started, not upcoming.
func (r *run) remind(events []model.Event) {
	leadMinutes := int(r.lead / time.Minute)

	for _, ev := range events {
		until := ev.Start.Sub(r.now)
		if until <= 0 || until > r.lead {
			continue
		}

		row := r.rows[ev.ID]
		if row.RemindedFor(leadMinutes) {
			continue
		}
		row.RemindedLeads = append(slices.Clone(row.RemindedLeads), leadMinutes)
		r.rows[ev.ID] = row

		r.delta.Reminders = append(r.delta.Reminders, model.ReminderMark{
			EventID:     ev.ID,
			LeadMinutes: leadMinutes,
			SentAt:      r.now,
		})

		n := r.notification(model.KindUpcomingReminder, ev)
		n.LeadMinutes = leadMinutes
		n.MinutesUntil = int(until / time.Minute)
		r.reminders = append(r.reminders, n)
	}
}

// start records events that are in progress, and completes listed events
// whose end already passed.
func (r *run) start(events []model.Event) {
	for _, ev := range events {
		row := r.rows[ev.ID]

		if !r.now.Before(ev.End) {
			r.complete(row)
			continue
		}
		if ev.Start.After(r.now) || row.Started() {
			continue
		}

		row.StartedNotifiedAt = r.now
		r.rows[ev.ID] = row
		r.dirty[ev.ID] = true

		if r.settings.NotifyOnStart {
			r.started = append(r.started, r.notification(model.KindMeetingStarted, ev))
		}
	}
}

// sweep handles known events that are missing from the current listing.
func (r *run) sweep(events []model.Event, unreadable []string) {
	listed := make(map[string]bool, len(events)+len(unreadable))
	for _, ev := range events {
		listed[ev.ID] = true
	}
	for _, id := range unreadable {
		listed[id] = true
	}

	for _, known := range r.known {
		if listed[known.EventID] {
			continue
		}
		row := r.rows[known.EventID]

		// Providers only list events that end after now; a missing event
		// that already ended finished normally.
		if !r.now.Before(row.End) {
			r.complete(row)
			continue
		}

		delete(r.rows, row.EventID)
		delete(r.dirty, row.EventID)
		r.delta.Deletes = append(r.delta.Deletes, row.EventID)

		ev := eventFromRow(row)
		r.delta.Stats = append(r.delta.Stats, statsFor(r.userID, ev, model.StatusCancelled))
		if r.settings.NotifyOnCancel {
			r.cancelled = append(r.cancelled, r.notification(model.KindMeetingCancelled, ev))
		}
	}
}

func (r *run) complete(row model.TrackedEvent) {
	if row.Completed() {
		return
	}
	row.CompletedAt = r.now
	r.rows[row.EventID] = row
	r.dirty[row.EventID] = true
	r.delta.Stats = append(r.delta.Stats, statsFor(r.userID, eventFromRow(row), model.StatusCompleted))
}

func (r *run) result() (Batch, model.StateDelta) {
	batch := make(Batch, 0, len(r.discovered)+len(r.reminders)+len(r.started)+len(r.cancelled))
	batch = append(batch, r.discovered...)
	batch = append(batch, r.reminders...)
	batch = append(batch, r.started...)
	batch = append(batch, r.cancelled...)

	for id := range r.dirty {
		r.delta.Upserts = append(r.delta.Upserts, r.rows[id])
	}
	slices.SortFunc(r.delta.Upserts, func(a, b model.TrackedEvent) int {
		return compareByStart(a.Start, b.Start, a.EventID, b.EventID)
	})
	r.delta.Bootstrap = r.boot
	r.delta.Stats = lastStatsPerEvent(r.delta.Stats)

	return batch, r.delta
}

func (r *run) notification(kind model.NotificationKind, ev model.Event) model.Notification {
	return model.Notification{Kind: kind, UserID: r.userID, Event: ev}
}

func sortedUnique(events []model.Event) []model.Event {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b model.Event) int {
		return compareByStart(a.Start, b.Start, a.ID, b.ID)
	})

	seen := make(map[string]bool, len(sorted))
	out := sorted[:0]
	for _, ev := range sorted {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		out = append(out, ev)
	}
	return out
}

func compareByStart(aStart, bStart time.Time, aID, bID string) int {
	if c := aStart.Compare(bStart); c != 0 {
		return c
	}
	return cmp.Compare(aID, bID)
}

func eventFromRow(row model.TrackedEvent) model.Event {
	return model.Event{
		ID:      row.EventID,
		Summary: row.Summary,
		Start:   row.Start,
		End:     row.End,
	}
}

func statsFor(userID string, ev model.Event, status model.MeetingStatus) model.MeetingStats {
	return model.MeetingStats{
		UserID:          userID,
		EventID:         ev.ID,
		Summary:         ev.Summary,
		Start:           ev.Start,
		End:             ev.End,
		Status:          status,
		DurationMinutes: int(ev.End.Sub(ev.Start) / time.Minute),
	}
}

// lastStatsPerEvent keeps only the final stats record per event, preserving
// the order in which events were first mentioned.
func lastStatsPerEvent(stats []model.MeetingStats) []model.MeetingStats {
	if len(stats) < 2 {
		return stats
	}
	index := make(map[string]int, len(stats))
	out := make([]model.MeetingStats, 0, len(stats))
	for _, s := range stats {
		if i, ok := index[s.EventID]; ok {
			out[i] = s
			continue
		}
		index[s.EventID] = len(out)
		out = append(out, s)
	}
	return out
}
