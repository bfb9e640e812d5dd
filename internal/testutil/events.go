package testutil

import (
	"time"

	"github.com/roach88/meetwatch/internal/model"
)

// MeetLink is the join link used by Meeting.
const MeetLink = "https://meet.google.com/abc-defg-hij"

// Meeting builds a joinable raw event with UTC date-times.
func Meeting(id, summary string, start time.Time, dur time.Duration) model.RawEvent {
	return model.RawEvent{
		ID:       id,
		Summary:  summary,
		Start:    model.EventTime{DateTime: start.UTC().Format(time.RFC3339)},
		End:      model.EventTime{DateTime: start.Add(dur).UTC().Format(time.RFC3339)},
		JoinLink: MeetLink,
	}
}

// Offline builds a raw event without a join link.
func Offline(id, summary string, start time.Time, dur time.Duration) model.RawEvent {
	ev := Meeting(id, summary, start, dur)
	ev.JoinLink = ""
	return ev
}
