package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/meetwatch/internal/model"
)

// Snapshot returns the user's tracked events and first-run marker.
// Rows are ordered by start, then event id.
//
// Returns an empty Known slice (not nil) if the user has no rows.
func (s *Store) Snapshot(ctx context.Context, userID string) (model.Snapshot, error) {
	snap := model.Snapshot{UserID: userID, Known: []model.TrackedEvent{}}

	bootstrapped, err := s.Bootstrapped(ctx, userID)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap.Bootstrapped = bootstrapped

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT user_id, event_id, summary, start_at, end_at, discovered_at, started_notified_at, completed_at
		FROM tracked_events
		WHERE user_id = ?
		ORDER BY start_at ASC, event_id ASC
	`), userID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("query tracked events: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		ev, err := scanTrackedEvent(rows)
		if err != nil {
			return model.Snapshot{}, err
		}
		index[ev.EventID] = len(snap.Known)
		snap.Known = append(snap.Known, ev)
	}
	if err := rows.Err(); err != nil {
		return model.Snapshot{}, fmt.Errorf("iterate tracked events: %w", err)
	}

	reminders, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT event_id, lead_minutes
		FROM sent_reminders
		WHERE user_id = ?
		ORDER BY event_id ASC, lead_minutes ASC
	`), userID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("query sent reminders: %w", err)
	}
	defer reminders.Close()

	for reminders.Next() {
		var eventID string
		var lead int
		if err := reminders.Scan(&eventID, &lead); err != nil {
			return model.Snapshot{}, fmt.Errorf("scan sent reminder: %w", err)
		}
		// Reminder rows can outlive a tracked row only between a delete and
		// its cleanup; ignore them.
		if i, ok := index[eventID]; ok {
			snap.Known[i].RemindedLeads = append(snap.Known[i].RemindedLeads, lead)
		}
	}
	if err := reminders.Err(); err != nil {
		return model.Snapshot{}, fmt.Errorf("iterate sent reminders: %w", err)
	}

	return snap, nil
}

func scanTrackedEvent(rows *sql.Rows) (model.TrackedEvent, error) {
	var ev model.TrackedEvent
	var start, end, discovered, started, completed string
	if err := rows.Scan(&ev.UserID, &ev.EventID, &ev.Summary, &start, &end, &discovered, &started, &completed); err != nil {
		return model.TrackedEvent{}, fmt.Errorf("scan tracked event: %w", err)
	}

	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&ev.Start, start},
		{&ev.End, end},
		{&ev.DiscoveredAt, discovered},
		{&ev.StartedNotifiedAt, started},
		{&ev.CompletedAt, completed},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return model.TrackedEvent{}, fmt.Errorf("tracked event %s: %w", ev.EventID, err)
		}
	}
	return ev, nil
}

// ApplyDelta persists one reconciliation's mutations in a single transaction.
// Either every mutation lands or none does.
func (s *Store) ApplyDelta(ctx context.Context, d model.StateDelta) error {
	if d.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply delta: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, ev := range d.Upserts {
		if ev.UserID != d.UserID {
			return fmt.Errorf("apply delta: row %s belongs to user %q, delta is for %q", ev.EventID, ev.UserID, d.UserID)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO tracked_events
			(user_id, event_id, summary, start_at, end_at, discovered_at, started_notified_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, event_id) DO UPDATE SET
				summary = excluded.summary,
				start_at = excluded.start_at,
				end_at = excluded.end_at,
				started_notified_at = CASE
					WHEN tracked_events.started_notified_at = '' THEN excluded.started_notified_at
					ELSE tracked_events.started_notified_at END,
				completed_at = CASE
					WHEN tracked_events.completed_at = '' THEN excluded.completed_at
					ELSE tracked_events.completed_at END
		`),
			ev.UserID,
			ev.EventID,
			ev.Summary,
			formatTime(ev.Start),
			formatTime(ev.End),
			formatTime(ev.DiscoveredAt),
			formatTime(ev.StartedNotifiedAt),
			formatTime(ev.CompletedAt),
		); err != nil {
			return fmt.Errorf("apply delta: upsert %s: %w", ev.EventID, err)
		}
	}

	for _, m := range d.Reminders {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO sent_reminders (user_id, event_id, lead_minutes, sent_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, event_id, lead_minutes) DO NOTHING
		`), d.UserID, m.EventID, m.LeadMinutes, formatTime(m.SentAt)); err != nil {
			return fmt.Errorf("apply delta: reminder %s: %w", m.EventID, err)
		}
	}

	for _, id := range d.Deletes {
		if err := deleteTracked(ctx, tx, s, d.UserID, id); err != nil {
			return fmt.Errorf("apply delta: delete %s: %w", id, err)
		}
	}

	for _, st := range d.Stats {
		if err := s.upsertStats(ctx, tx, d.UserID, st); err != nil {
			return fmt.Errorf("apply delta: stats %s: %w", st.EventID, err)
		}
	}

	if d.Bootstrap {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO user_state (user_id, bootstrapped_at) VALUES (?, ?)
			ON CONFLICT (user_id) DO NOTHING
		`), d.UserID, formatTime(time.Now())); err != nil {
			return fmt.Errorf("apply delta: bootstrap marker: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply delta: commit: %w", err)
	}
	return nil
}

func deleteTracked(ctx context.Context, tx *sql.Tx, s *Store, userID, eventID string) error {
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM sent_reminders WHERE user_id = ? AND event_id = ?`), userID, eventID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM tracked_events WHERE user_id = ? AND event_id = ?`), userID, eventID)
	return err
}

// Bootstrapped reports whether the user's first-run marker is set.
func (s *Store) Bootstrapped(ctx context.Context, userID string) (bool, error) {
	var at string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT bootstrapped_at FROM user_state WHERE user_id = ?`), userID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query user state: %w", err)
	}
	return true, nil
}

// Reset clears the user's tracked events, reminders, stats and first-run
// marker. Settings and credentials survive.
func (s *Store) Reset(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, table := range []string{"sent_reminders", "tracked_events", "meeting_stats", "user_state"} {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE user_id = ?`), userID); err != nil {
			return fmt.Errorf("reset: clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset: commit: %w", err)
	}
	return nil
}

// DeleteExpired garbage-collects tracked rows of all users whose end is
// before cutoff. Upcoming stats of those rows are marked completed. Returns
// the number of tracked rows removed.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete expired: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	c := formatTime(cutoff)

	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE meeting_stats SET status = ?
		WHERE status = ? AND end_at < ?
	`), string(model.StatusCompleted), string(model.StatusUpcoming), c); err != nil {
		return 0, fmt.Errorf("delete expired: complete stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM sent_reminders
		WHERE EXISTS (
			SELECT 1 FROM tracked_events t
			WHERE t.user_id = sent_reminders.user_id
			  AND t.event_id = sent_reminders.event_id
			  AND t.end_at < ?
		)
	`), c); err != nil {
		return 0, fmt.Errorf("delete expired: reminders: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM tracked_events WHERE end_at < ?`), c)
	if err != nil {
		return 0, fmt.Errorf("delete expired: tracked events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete expired: commit: %w", err)
	}
	return n, nil
}
