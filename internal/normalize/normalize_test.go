package normalize

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meetwatch/internal/model"
)

var fixedNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newTestNormalizer(opts ...Option) *Normalizer {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(func() time.Time { return fixedNow }, opts...)
}

func TestParseTime(t *testing.T) {
	berlin := time.FixedZone("", 2*60*60)

	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"zulu", "2026-10-19T10:00:00Z", time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)},
		{"lowercase zulu", "2026-10-19T10:00:00z", time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)},
		{"fractional zulu", "2026-10-19T10:00:00.500Z", time.Date(2026, 10, 19, 10, 0, 0, 500_000_000, time.UTC)},
		{"explicit offset", "2026-10-19T12:00:00+02:00", time.Date(2026, 10, 19, 12, 0, 0, 0, berlin)},
		{"no zone is utc", "2026-10-19T10:00:00", time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)},
		{"date only is midnight utc", "2026-10-19", time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestParseTime_OffsetPreserved(t *testing.T) {
	got, err := ParseTime("2026-10-19T12:00:00+02:00")
	require.NoError(t, err)

	_, offset := got.Zone()
	assert.Equal(t, 2*60*60, offset)
}

func TestParseTime_Errors(t *testing.T) {
	_, err := ParseTime("")
	assert.ErrorIs(t, err, ErrEmptyTime)

	for _, in := range []string{"tomorrow", "2026-13-45", "2026-10-19Tnoon", "19.10.2026"} {
		_, err := ParseTime(in)
		assert.Error(t, err, in)
	}
}

func TestNormalize_JoinableEvent(t *testing.T) {
	n := newTestNormalizer()

	ev, skip := n.Normalize(model.RawEvent{
		ID:       "abc123",
		Summary:  "  Weekly sync ",
		Start:    model.EventTime{DateTime: "2026-10-19T10:00:00Z"},
		End:      model.EventTime{DateTime: "2026-10-19T10:30:00Z"},
		JoinLink: "https://meet.google.com/abc-defg-hij",
	})

	require.Nil(t, skip)
	assert.Equal(t, "abc123", ev.ID)
	assert.Equal(t, "Weekly sync", ev.Summary)
	assert.Equal(t, 30*time.Minute, ev.End.Sub(ev.Start))
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", ev.JoinLink)
}

func TestNormalize_SkipsWithoutJoinLink(t *testing.T) {
	n := newTestNormalizer()

	_, skip := n.Normalize(model.RawEvent{
		ID:    "offline",
		Start: model.EventTime{DateTime: "2026-10-19T10:00:00Z"},
		End:   model.EventTime{DateTime: "2026-10-19T11:00:00Z"},
	})

	require.NotNil(t, skip)
	assert.Equal(t, SkipNoJoinLink, skip.Reason)
	assert.Equal(t, "offline", skip.ID)
}

func TestNormalize_SkipsWithoutID(t *testing.T) {
	n := newTestNormalizer()

	_, skip := n.Normalize(model.RawEvent{JoinLink: "https://zoom.us/j/1"})
	require.NotNil(t, skip)
	assert.Equal(t, SkipNoID, skip.Reason)
}

func TestNormalize_MalformedFallsBackToNow(t *testing.T) {
	n := newTestNormalizer()

	ev, skip := n.Normalize(model.RawEvent{
		ID:       "bad",
		Start:    model.EventTime{DateTime: "not-a-time"},
		End:      model.EventTime{DateTime: "2026-10-19T10:00:00Z"},
		JoinLink: "https://zoom.us/j/1",
	})

	require.Nil(t, skip)
	assert.True(t, fixedNow.Equal(ev.Start))
}

func TestNormalize_MalformedQuarantined(t *testing.T) {
	n := newTestNormalizer(WithPolicy(Quarantine))

	_, skip := n.Normalize(model.RawEvent{
		ID:       "bad",
		Start:    model.EventTime{DateTime: "not-a-time"},
		End:      model.EventTime{DateTime: "2026-10-19T10:00:00Z"},
		JoinLink: "https://zoom.us/j/1",
	})

	require.NotNil(t, skip)
	assert.Equal(t, SkipMalformed, skip.Reason)
}

func TestNormalize_EndBeforeStartClamped(t *testing.T) {
	n := newTestNormalizer()

	ev, skip := n.Normalize(model.RawEvent{
		ID:       "inverted",
		Start:    model.EventTime{DateTime: "2026-10-19T11:00:00Z"},
		End:      model.EventTime{DateTime: "2026-10-19T10:00:00Z"},
		JoinLink: "https://zoom.us/j/1",
	})

	require.Nil(t, skip)
	assert.True(t, ev.End.Equal(ev.Start))
}

func TestNormalize_DateOnly(t *testing.T) {
	n := newTestNormalizer()

	ev, skip := n.Normalize(model.RawEvent{
		ID:       "allday",
		Start:    model.EventTime{Date: "2026-10-20"},
		End:      model.EventTime{Date: "2026-10-21"},
		JoinLink: "https://meet.google.com/x",
	})

	require.Nil(t, skip)
	assert.Equal(t, time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC), ev.Start)
	assert.Equal(t, 24*time.Hour, ev.End.Sub(ev.Start))
}

func TestNormalizeAll(t *testing.T) {
	n := newTestNormalizer()

	events, skipped := n.NormalizeAll([]model.RawEvent{
		{ID: "a", Start: model.EventTime{DateTime: "2026-10-19T10:00:00Z"}, End: model.EventTime{DateTime: "2026-10-19T11:00:00Z"}, JoinLink: "https://zoom.us/j/1"},
		{ID: "b", Start: model.EventTime{DateTime: "2026-10-19T10:00:00Z"}, End: model.EventTime{DateTime: "2026-10-19T11:00:00Z"}},
		{ID: "c", Start: model.EventTime{DateTime: "2026-10-19T12:00:00Z"}, End: model.EventTime{DateTime: "2026-10-19T13:00:00Z"}, JoinLink: "https://zoom.us/j/2"},
	})

	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "c", events[1].ID)
	require.Len(t, skipped, 1)
	assert.Equal(t, "b", skipped[0].ID)
}

func TestCleanSummary(t *testing.T) {
	assert.Equal(t, UntitledSummary, CleanSummary("   "))
	// "e" + combining acute accent composes to a single rune under NFC.
	assert.Equal(t, "Caf\u00e9", CleanSummary("Cafe\u0301"))
	assert.Equal(t, "Weekly sync", CleanSummary("  Weekly\t\n  sync\r\n"))
	assert.Equal(t, "Standup", CleanSummary("Stand\x00up\x1b"))
	assert.Equal(t, "Standup", CleanSummary("Stand\xffup"))
	assert.Equal(t, UntitledSummary, CleanSummary("\x07\x00"))
}

func TestUnreadable(t *testing.T) {
	skipped := []Skipped{
		{ID: "a", Reason: SkipMalformed},
		{ID: "b", Reason: SkipNoJoinLink},
		{Reason: SkipNoID},
		{ID: "c", Reason: SkipMalformed},
	}
	assert.Equal(t, []string{"a", "c"}, Unreadable(skipped))
	assert.Nil(t, Unreadable(nil))
}

func TestParsePolicyFromString(t *testing.T) {
	p, err := ParsePolicyFromString("")
	require.NoError(t, err)
	assert.Equal(t, FallbackNow, p)

	p, err = ParsePolicyFromString("skip")
	require.NoError(t, err)
	assert.Equal(t, Quarantine, p)

	_, err = ParsePolicyFromString("explode")
	assert.Error(t, err)
}
