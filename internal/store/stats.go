package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/roach88/meetwatch/internal/model"
)

func (s *Store) upsertStats(ctx context.Context, tx *sql.Tx, userID string, st model.MeetingStats) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO meeting_stats
		(user_id, event_id, summary, start_at, end_at, status, duration_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, event_id) DO UPDATE SET
			summary = excluded.summary,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			status = excluded.status,
			duration_minutes = excluded.duration_minutes
	`),
		userID,
		st.EventID,
		st.Summary,
		formatTime(st.Start),
		formatTime(st.End),
		string(st.Status),
		st.DurationMinutes,
	)
	return err
}

// Stats aggregates the user's meeting statistics. Only completed meetings
// count towards the total duration.
func (s *Store) Stats(ctx context.Context, userID string) (model.Stats, error) {
	var out model.Stats
	var minutes int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'upcoming' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN duration_minutes ELSE 0 END), 0)
		FROM meeting_stats
		WHERE user_id = ?
	`), userID).Scan(&out.Total, &out.Completed, &out.Cancelled, &out.Upcoming, &minutes)
	if err != nil {
		return model.Stats{}, fmt.Errorf("query stats: %w", err)
	}

	out.TotalDurationHours = math.Round(float64(minutes)/60*10) / 10
	return out, nil
}

// MeetingStats lists the user's per-meeting records ordered by start.
func (s *Store) MeetingStats(ctx context.Context, userID string) ([]model.MeetingStats, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT user_id, event_id, summary, start_at, end_at, status, duration_minutes
		FROM meeting_stats
		WHERE user_id = ?
		ORDER BY start_at ASC, event_id ASC
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("query meeting stats: %w", err)
	}
	defer rows.Close()

	out := []model.MeetingStats{}
	for rows.Next() {
		var st model.MeetingStats
		var start, end, status string
		if err := rows.Scan(&st.UserID, &st.EventID, &st.Summary, &start, &end, &status, &st.DurationMinutes); err != nil {
			return nil, fmt.Errorf("scan meeting stats: %w", err)
		}
		if st.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if st.End, err = parseTime(end); err != nil {
			return nil, err
		}
		st.Status = model.MeetingStatus(status)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meeting stats: %w", err)
	}
	return out, nil
}
