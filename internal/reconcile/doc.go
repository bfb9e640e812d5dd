// Package reconcile implements the meetwatch event-reconciliation engine.
//
// Reconcile is a pure function of (user, events, snapshot, settings, now). It
// never touches the store, the clock or any ambient state. It returns the
// notifications to deliver and the StateDelta to persist; the caller applies
// the delta atomically before dispatching.
//
// STATE MACHINE (per tracked event):
//
//	Unknown → Discovered → (ReminderSent) → (Started) → {Completed | Cancelled}
//
// Transitions:
//   - Unknown → Discovered: the event is listed but has no row. NewMeeting is
//     emitted only when the user is past bootstrap, notify_on_new is set and
//     the meeting has not started yet. Discovery is recorded regardless.
//   - Discovered → ReminderSent: 0 < start−now ≤ lead. Emitted once per
//     (event, user, lead minutes).
//   - * → Started: start ≤ now < end and not yet recorded. Recorded
//     regardless of notify_on_start so toggling the setting mid-meeting never
//     fires a late alert.
//   - * → Cancelled: the row exists but the event is no longer listed and has
//     not ended. The row is deleted after MeetingCancelled is queued.
//   - * → Completed: the row exists and the event's end has passed. No
//     notification; the row is left for garbage collection.
//
// ORDERING:
//
// Notifications are grouped by phase (discovery, reminder, started,
// cancellation) and, within a phase, ordered by start instant then id. An
// event crossing several thresholds in one cycle therefore emits them in that
// fixed order, at most once per phase.
package reconcile
