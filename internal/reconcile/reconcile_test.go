package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meetwatch/internal/model"
)

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func meeting(id string, startIn, length time.Duration) model.Event {
	return model.Event{
		ID:       id,
		Summary:  "Meeting " + id,
		Start:    t0.Add(startIn),
		End:      t0.Add(startIn + length),
		JoinLink: "https://meet.google.com/" + id,
	}
}

// apply folds a delta into a snapshot the way the store does.
func apply(snap model.Snapshot, d model.StateDelta) model.Snapshot {
	rows := make(map[string]model.TrackedEvent)
	order := []string{}
	for _, r := range snap.Known {
		rows[r.EventID] = r
		order = append(order, r.EventID)
	}
	for _, r := range d.Upserts {
		if _, ok := rows[r.EventID]; !ok {
			order = append(order, r.EventID)
		}
		rows[r.EventID] = r
	}
	for _, m := range d.Reminders {
		r := rows[m.EventID]
		if !r.RemindedFor(m.LeadMinutes) {
			r.RemindedLeads = append(r.RemindedLeads, m.LeadMinutes)
		}
		rows[m.EventID] = r
	}
	for _, id := range d.Deletes {
		delete(rows, id)
	}

	out := model.Snapshot{UserID: snap.UserID, Bootstrapped: snap.Bootstrapped || d.Bootstrap}
	for _, id := range order {
		if r, ok := rows[id]; ok {
			out.Known = append(out.Known, r)
		}
	}
	return out
}

func bootstrapped(user string) model.Snapshot {
	return model.Snapshot{UserID: user, Bootstrapped: true}
}

func TestReconcile_Idempotent(t *testing.T) {
	settings := model.DefaultSettings("u1")
	events := []model.Event{
		meeting("a", 10*time.Minute, time.Hour),
		meeting("b", -5*time.Minute, time.Hour),
		meeting("c", 3*time.Hour, time.Hour),
	}

	batch, delta := Reconcile("u1", events, nil, bootstrapped("u1"), settings, t0)
	require.NotEmpty(t, batch)

	snap := apply(bootstrapped("u1"), delta)
	batch, delta = Reconcile("u1", events, nil, snap, settings, t0)
	assert.Empty(t, batch)
	assert.True(t, delta.Empty(), "second pass should not mutate: %+v", delta)
}

func TestReconcile_BootstrapSuppressesNewMeeting(t *testing.T) {
	settings := model.DefaultSettings("u1")
	events := []model.Event{
		meeting("a", 2*time.Hour, time.Hour),
		meeting("b", 4*time.Hour, time.Hour),
		meeting("c", 26*time.Hour, 30*time.Minute),
	}

	batch, delta := Reconcile("u1", events, nil, model.Snapshot{UserID: "u1"}, settings, t0)

	assert.Empty(t, batch)
	assert.True(t, delta.Bootstrap)
	assert.Len(t, delta.Upserts, 3)
	for _, row := range delta.Upserts {
		assert.Equal(t, t0, row.DiscoveredAt)
		assert.Equal(t, "u1", row.UserID)
	}
}

func TestReconcile_BootstrapStillRemindsAndStarts(t *testing.T) {
	settings := model.DefaultSettings("u1")
	events := []model.Event{
		meeting("soon", 5*time.Minute, time.Hour),
		meeting("now", 0, time.Hour),
		meeting("later", 2*time.Hour, time.Hour),
	}

	batch, _ := Reconcile("u1", events, nil, model.Snapshot{UserID: "u1"}, settings, t0)

	assert.Equal(t, []model.NotificationKind{
		model.KindUpcomingReminder,
		model.KindMeetingStarted,
	}, batch.Kinds())
}

func TestReconcile_EmptyStoreAfterBootstrapIsNotFirstRun(t *testing.T) {
	settings := model.DefaultSettings("u1")

	batch, delta := Reconcile("u1", []model.Event{meeting("a", 2*time.Hour, time.Hour)}, nil, bootstrapped("u1"), settings, t0)

	require.Len(t, batch, 1)
	assert.Equal(t, model.KindNewMeeting, batch[0].Kind)
	assert.False(t, delta.Bootstrap)
}

func TestReconcile_NewMeetingRespectsSetting(t *testing.T) {
	settings := model.DefaultSettings("u1")
	settings.NotifyOnNew = false

	batch, delta := Reconcile("u1", []model.Event{meeting("a", 2*time.Hour, time.Hour)}, nil, bootstrapped("u1"), settings, t0)

	assert.Empty(t, batch)
	require.Len(t, delta.Upserts, 1, "discovery is recorded even when suppressed")

	// Enabling the setting later does not fire a stale announcement.
	settings.NotifyOnNew = true
	batch, _ = Reconcile("u1", []model.Event{meeting("a", 2*time.Hour, time.Hour)}, nil, apply(bootstrapped("u1"), delta), settings, t0.Add(time.Minute))
	assert.Empty(t, batch)
}

func TestReconcile_NoNewMeetingForStartedEvent(t *testing.T) {
	settings := model.DefaultSettings("u1")

	batch, _ := Reconcile("u1", []model.Event{meeting("a", -10*time.Minute, time.Hour)}, nil, bootstrapped("u1"), settings, t0)

	assert.Equal(t, []model.NotificationKind{model.KindMeetingStarted}, batch.Kinds())
}

func TestReconcile_ReminderWithinLead(t *testing.T) {
	settings := model.DefaultSettings("u1")
	events := []model.Event{meeting("a", 10*time.Minute, time.Hour)}
	snap := model.Snapshot{UserID: "u1", Bootstrapped: true, Known: []model.TrackedEvent{
		{UserID: "u1", EventID: "a", Summary: "Meeting a", Start: events[0].Start, End: events[0].End, DiscoveredAt: t0.Add(-time.Hour)},
	}}

	batch, delta := Reconcile("u1", events, nil, snap, settings, t0)

	require.Len(t, batch, 1)
	assert.Equal(t, model.KindUpcomingReminder, batch[0].Kind)
	assert.Equal(t, 15, batch[0].LeadMinutes)
	assert.Equal(t, 10, batch[0].MinutesUntil)
	require.Len(t, delta.Reminders, 1)
	assert.Equal(t, model.ReminderMark{EventID: "a", LeadMinutes: 15, SentAt: t0}, delta.Reminders[0])

	batch, _ = Reconcile("u1", events, nil, apply(snap, delta), settings, t0.Add(time.Minute))
	assert.Empty(t, batch)
}

func TestReconcile_ReminderLeadBoundary(t *testing.T) {
	settings := model.DefaultSettings("u1")

	batch, _ := Reconcile("u1", []model.Event{meeting("edge", 15*time.Minute, time.Hour)}, nil, model.Snapshot{UserID: "u1"}, settings, t0)
	assert.Equal(t, []model.NotificationKind{model.KindUpcomingReminder}, batch.Kinds())

	batch, _ = Reconcile("u1", []model.Event{meeting("out", 15*time.Minute+time.Second, time.Hour)}, nil, model.Snapshot{UserID: "u1"}, settings, t0)
	assert.Empty(t, batch)
}

func TestReconcile_ReminderOncePerLead(t *testing.T) {
	settings := model.DefaultSettings("u1")
	events := []model.Event{meeting("a", 30*time.Minute, time.Hour)}

	snap := bootstrapped("u1")
	_, delta := Reconcile("u1", events, nil, snap, settings, t0)
	snap = apply(snap, delta)

	// Inside the 15 minute window, one reminder across many cycles.
	var reminders int
	for i := 15; i > 0; i-- {
		now := t0.Add(time.Duration(30-i) * time.Minute)
		batch, delta := Reconcile("u1", events, nil, snap, settings, now)
		for _, n := range batch {
			if n.Kind == model.KindUpcomingReminder {
				reminders++
			}
		}
		snap = apply(snap, delta)
	}
	assert.Equal(t, 1, reminders)

	// Changing the lead time opens a new emission key.
	settings.ReminderLeadMinutes = 5
	batch, _ := Reconcile("u1", events, nil, snap, settings, t0.Add(27*time.Minute))
	require.Len(t, batch, 1)
	assert.Equal(t, 5, batch[0].LeadMinutes)
}

func TestReconcile_BoundaryStarted(t *testing.T) {
	settings := model.DefaultSettings("u1")
	ev := meeting("a", 0, time.Hour)
	snap := model.Snapshot{UserID: "u1", Bootstrapped: true, Known: []model.TrackedEvent{
		{UserID: "u1", EventID: "a", Summary: ev.Summary, Start: ev.Start, End: ev.End, DiscoveredAt: t0.Add(-time.Hour)},
	}}

	batch, delta := Reconcile("u1", []model.Event{ev}, nil, snap, settings, t0)

	assert.Equal(t, []model.NotificationKind{model.KindMeetingStarted}, batch.Kinds())
	assert.Empty(t, delta.Reminders)
	require.Len(t, delta.Upserts, 1)
	assert.True(t, delta.Upserts[0].Started())
}

func TestReconcile_StartedRecordedWhenDisabled(t *testing.T) {
	settings := model.DefaultSettings("u1")
	settings.NotifyOnStart = false
	events := []model.Event{meeting("a", -time.Minute, time.Hour)}

	batch, delta := Reconcile("u1", events, nil, bootstrapped("u1"), settings, t0)
	assert.Empty(t, batch)
	snap := apply(bootstrapped("u1"), delta)

	settings.NotifyOnStart = true
	batch, _ = Reconcile("u1", events, nil, snap, settings, t0.Add(5*time.Minute))
	assert.Empty(t, batch, "toggling the setting mid-meeting must not fire a late alert")
}

func TestReconcile_CancelThenDelete(t *testing.T) {
	settings := model.DefaultSettings("u1")
	ev := meeting("x", 2*time.Hour, time.Hour)

	_, delta := Reconcile("u1", []model.Event{ev}, nil, bootstrapped("u1"), settings, t0)
	snap := apply(bootstrapped("u1"), delta)

	batch, delta := Reconcile("u1", nil, nil, snap, settings, t0.Add(5*time.Minute))
	assert.Equal(t, []model.NotificationKind{model.KindMeetingCancelled}, batch.Kinds())
	assert.Equal(t, []string{"x"}, delta.Deletes)
	require.Len(t, delta.Stats, 1)
	assert.Equal(t, model.StatusCancelled, delta.Stats[0].Status)
	snap = apply(snap, delta)
	assert.Empty(t, snap.Known)

	batch, delta = Reconcile("u1", nil, nil, snap, settings, t0.Add(10*time.Minute))
	assert.Empty(t, batch)
	assert.True(t, delta.Empty())
}

func TestReconcile_UnreadableEventIsNotCancelled(t *testing.T) {
	settings := model.DefaultSettings("u1")
	ev := meeting("x", 2*time.Hour, time.Hour)

	_, delta := Reconcile("u1", []model.Event{ev}, nil, bootstrapped("u1"), settings, t0)
	snap := apply(bootstrapped("u1"), delta)

	// Listed but unparseable: the row is kept untouched.
	batch, delta := Reconcile("u1", nil, []string{"x"}, snap, settings, t0.Add(5*time.Minute))
	assert.Empty(t, batch)
	assert.True(t, delta.Empty(), "unexpected mutation: %+v", delta)
	snap = apply(snap, delta)
	require.Len(t, snap.Known, 1)

	// Once it parses again it is still the known meeting.
	batch, delta = Reconcile("u1", []model.Event{ev}, nil, snap, settings, t0.Add(10*time.Minute))
	assert.Empty(t, batch)
	assert.True(t, delta.Empty())
}

func TestReconcile_UnreadableEndedEventStaysPending(t *testing.T) {
	settings := model.DefaultSettings("u1")
	ev := meeting("x", 10*time.Minute, 20*time.Minute)

	_, delta := Reconcile("u1", []model.Event{ev}, nil, bootstrapped("u1"), settings, t0)
	snap := apply(bootstrapped("u1"), delta)

	batch, delta := Reconcile("u1", nil, []string{"x"}, snap, settings, t0.Add(time.Hour))
	assert.Empty(t, batch)
	assert.Empty(t, delta.Deletes)
	assert.Empty(t, delta.Stats)
}

func TestReconcile_CancelSuppressedStillDeletes(t *testing.T) {
	settings := model.DefaultSettings("u1")
	settings.NotifyOnCancel = false
	ev := meeting("x", 2*time.Hour, time.Hour)

	_, delta := Reconcile("u1", []model.Event{ev}, nil, bootstrapped("u1"), settings, t0)
	snap := apply(bootstrapped("u1"), delta)

	batch, delta := Reconcile("u1", nil, nil, snap, settings, t0.Add(time.Minute))
	assert.Empty(t, batch)
	assert.Equal(t, []string{"x"}, delta.Deletes)
}

func TestReconcile_CancelThenReappear(t *testing.T) {
	settings := model.DefaultSettings("u1")
	ev := meeting("x", 2*time.Hour, time.Hour)

	snap := bootstrapped("u1")
	_, delta := Reconcile("u1", []model.Event{ev}, nil, snap, settings, t0)
	snap = apply(snap, delta)

	_, delta = Reconcile("u1", nil, nil, snap, settings, t0.Add(5*time.Minute))
	snap = apply(snap, delta)

	batch, delta := Reconcile("u1", []model.Event{ev}, nil, snap, settings, t0.Add(10*time.Minute))
	assert.Equal(t, []model.NotificationKind{model.KindNewMeeting}, batch.Kinds())
	require.Len(t, delta.Upserts, 1)
	assert.Equal(t, t0.Add(10*time.Minute), delta.Upserts[0].DiscoveredAt)
}

func TestReconcile_EndedAbsentEventCompletes(t *testing.T) {
	settings := model.DefaultSettings("u1")
	ev := meeting("done", -2*time.Hour, time.Hour)
	snap := model.Snapshot{UserID: "u1", Bootstrapped: true, Known: []model.TrackedEvent{
		{UserID: "u1", EventID: "done", Summary: ev.Summary, Start: ev.Start, End: ev.End, DiscoveredAt: t0.Add(-3 * time.Hour), StartedNotifiedAt: ev.Start},
	}}

	batch, delta := Reconcile("u1", nil, nil, snap, settings, t0)

	assert.Empty(t, batch)
	assert.Empty(t, delta.Deletes)
	require.Len(t, delta.Upserts, 1)
	assert.True(t, delta.Upserts[0].Completed())
	require.Len(t, delta.Stats, 1)
	assert.Equal(t, model.StatusCompleted, delta.Stats[0].Status)
	assert.Equal(t, 60, delta.Stats[0].DurationMinutes)

	// Completion is recorded once.
	_, delta = Reconcile("u1", nil, nil, apply(snap, delta), settings, t0.Add(time.Minute))
	assert.True(t, delta.Empty())
}

func TestReconcile_OrderingAcrossPhases(t *testing.T) {
	settings := model.DefaultSettings("u1")
	gone := meeting("gone", 3*time.Hour, time.Hour)
	snap := model.Snapshot{UserID: "u1", Bootstrapped: true, Known: []model.TrackedEvent{
		{UserID: "u1", EventID: "gone", Summary: gone.Summary, Start: gone.Start, End: gone.End, DiscoveredAt: t0.Add(-time.Hour)},
	}}
	events := []model.Event{
		meeting("started", -time.Minute, time.Hour),
		meeting("soon-b", 10*time.Minute, time.Hour),
		meeting("soon-a", 10*time.Minute, time.Hour),
		meeting("fresh", 5*time.Hour, time.Hour),
	}

	batch, _ := Reconcile("u1", events, nil, snap, settings, t0)

	assert.Equal(t, []model.NotificationKind{
		model.KindNewMeeting, // soon-a
		model.KindNewMeeting, // soon-b
		model.KindNewMeeting, // fresh
		model.KindUpcomingReminder,
		model.KindUpcomingReminder,
		model.KindMeetingStarted,
		model.KindMeetingCancelled,
	}, batch.Kinds())
	assert.Equal(t, "soon-a", batch[0].Event.ID)
	assert.Equal(t, "soon-b", batch[1].Event.ID)
	assert.Equal(t, "soon-a", batch[3].Event.ID)
}

func TestReconcile_OrderingIncludesCancellationLast(t *testing.T) {
	settings := model.DefaultSettings("u1")
	gone := meeting("gone", time.Hour, time.Hour)
	snap := model.Snapshot{UserID: "u1", Bootstrapped: true, Known: []model.TrackedEvent{
		{UserID: "u1", EventID: "gone", Summary: gone.Summary, Start: gone.Start, End: gone.End, DiscoveredAt: t0.Add(-time.Hour)},
	}}

	batch, _ := Reconcile("u1", []model.Event{meeting("new", 5*time.Minute, time.Hour)}, nil, snap, settings, t0)

	assert.Equal(t, []model.NotificationKind{
		model.KindNewMeeting,
		model.KindUpcomingReminder,
		model.KindMeetingCancelled,
	}, batch.Kinds())
}

func TestReconcile_RescheduleRefreshesRow(t *testing.T) {
	settings := model.DefaultSettings("u1")
	ev := meeting("a", 2*time.Hour, time.Hour)

	_, delta := Reconcile("u1", []model.Event{ev}, nil, bootstrapped("u1"), settings, t0)
	snap := apply(bootstrapped("u1"), delta)

	moved := ev
	moved.Start = t0.Add(10 * time.Minute)
	moved.End = t0.Add(40 * time.Minute)
	batch, delta := Reconcile("u1", []model.Event{moved}, nil, snap, settings, t0)

	assert.Equal(t, []model.NotificationKind{model.KindUpcomingReminder}, batch.Kinds())
	require.Len(t, delta.Upserts, 1)
	assert.Equal(t, moved.Start, delta.Upserts[0].Start)
	assert.Equal(t, t0, delta.Upserts[0].DiscoveredAt, "discovery time survives a reschedule")
}

func TestReconcile_DuplicateIDsCollapse(t *testing.T) {
	settings := model.DefaultSettings("u1")
	ev := meeting("dup", 2*time.Hour, time.Hour)

	batch, delta := Reconcile("u1", []model.Event{ev, ev}, nil, bootstrapped("u1"), settings, t0)

	assert.Len(t, batch, 1)
	assert.Len(t, delta.Upserts, 1)
}

func TestReconcile_IgnoresOtherUsersRows(t *testing.T) {
	settings := model.DefaultSettings("u1")
	snap := model.Snapshot{UserID: "u1", Bootstrapped: true, Known: []model.TrackedEvent{
		{UserID: "u2", EventID: "theirs", Start: t0.Add(time.Hour), End: t0.Add(2 * time.Hour)},
	}}

	batch, delta := Reconcile("u1", nil, nil, snap, settings, t0)

	assert.Empty(t, batch)
	assert.True(t, delta.Empty())
}

func TestReconcile_InvalidLeadFallsBackToDefault(t *testing.T) {
	settings := model.DefaultSettings("u1")
	settings.ReminderLeadMinutes = 7

	batch, _ := Reconcile("u1", []model.Event{meeting("a", 12*time.Minute, time.Hour)}, nil, model.Snapshot{UserID: "u1"}, settings, t0)

	require.Len(t, batch, 1)
	assert.Equal(t, model.DefaultReminderLead, batch[0].LeadMinutes)
}

func TestReconcile_StatsForNewEvents(t *testing.T) {
	settings := model.DefaultSettings("u1")

	_, delta := Reconcile("u1", []model.Event{meeting("a", time.Hour, 45*time.Minute)}, nil, model.Snapshot{UserID: "u1"}, settings, t0)

	require.Len(t, delta.Stats, 1)
	assert.Equal(t, model.StatusUpcoming, delta.Stats[0].Status)
	assert.Equal(t, 45, delta.Stats[0].DurationMinutes)
}
