// Package normalize converts provider events into the canonical model.Event.
//
// Providers disagree on time formats: all-day events carry a date-only string,
// timed events a date-time with either a trailing "Z" or an explicit offset.
// A malformed timestamp never fails a poll cycle; by default it degrades to
// the current instant (see ParsePolicy).
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/meetwatch/internal/model"
)

// UntitledSummary replaces empty event titles.
const UntitledSummary = "(no title)"

// ParsePolicy decides what happens to an event whose start or end cannot be parsed.
type ParsePolicy int

const (
	// FallbackNow substitutes the current instant for the malformed value.
	FallbackNow ParsePolicy = iota
	// Quarantine skips the event entirely.
	Quarantine
)

// ParsePolicyFromString maps a config value to a ParsePolicy.
func ParsePolicyFromString(s string) (ParsePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fallback", "now":
		return FallbackNow, nil
	case "skip", "quarantine":
		return Quarantine, nil
	default:
		return FallbackNow, fmt.Errorf("unknown parse policy %q", s)
	}
}

// SkipReason explains why an event was excluded from notification paths.
type SkipReason string

const (
	SkipNoJoinLink SkipReason = "no_join_link"
	SkipNoID       SkipReason = "no_id"
	SkipMalformed  SkipReason = "malformed_time"
)

// Skipped describes a raw event that did not produce a model.Event.
type Skipped struct {
	ID     string
	Reason SkipReason
}

// ParseError reports a timestamp that could not be parsed.
type ParseError struct {
	EventID string
	Field   string
	Value   string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s of event %s: %q: %v", e.Field, e.EventID, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Normalizer converts raw events using a clock for the fallback instant.
type Normalizer struct {
	now    func() time.Time
	policy ParsePolicy
	logger *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithPolicy sets the malformed timestamp policy.
func WithPolicy(p ParsePolicy) Option {
	return func(n *Normalizer) {
		n.policy = p
	}
}

// WithLogger sets the logger used for parse errors.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) {
		n.logger = l
	}
}

// New creates a Normalizer. now supplies the fallback instant.
func New(now func() time.Time, opts ...Option) *Normalizer {
	n := &Normalizer{
		now:    now,
		policy: FallbackNow,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts one raw event. The second result is non-nil when the
// event is skipped.
func (n *Normalizer) Normalize(raw model.RawEvent) (model.Event, *Skipped) {
	if raw.ID == "" {
		return model.Event{}, &Skipped{Reason: SkipNoID}
	}
	link := strings.TrimSpace(raw.JoinLink)
	if link == "" {
		return model.Event{}, &Skipped{ID: raw.ID, Reason: SkipNoJoinLink}
	}

	start, okStart := n.parseField(raw.ID, "start", raw.Start.Value())
	end, okEnd := n.parseField(raw.ID, "end", raw.End.Value())
	if !okStart || !okEnd {
		return model.Event{}, &Skipped{ID: raw.ID, Reason: SkipMalformed}
	}
	if end.Before(start) {
		n.logger.Warn("event ends before it starts, clamping end", "event", raw.ID)
		end = start
	}

	return model.Event{
		ID:       raw.ID,
		Summary:  CleanSummary(raw.Summary),
		Start:    start,
		End:      end,
		JoinLink: link,
	}, nil
}

// NormalizeAll converts raws, dropping skipped events. Returned events keep
// the input order.
func (n *Normalizer) NormalizeAll(raws []model.RawEvent) ([]model.Event, []Skipped) {
	events := make([]model.Event, 0, len(raws))
	var skipped []Skipped
	for _, raw := range raws {
		ev, skip := n.Normalize(raw)
		if skip != nil {
			skipped = append(skipped, *skip)
			continue
		}
		events = append(events, ev)
	}
	return events, skipped
}

// Unreadable returns the ids of events skipped for malformed times. Such
// events are still listed by the provider.
func Unreadable(skipped []Skipped) []string {
	var ids []string
	for _, s := range skipped {
		if s.Reason == SkipMalformed && s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func (n *Normalizer) parseField(eventID, field, value string) (time.Time, bool) {
	t, err := ParseTime(value)
	if err == nil {
		return t, true
	}
	perr := &ParseError{EventID: eventID, Field: field, Value: value, Err: err}
	if n.policy == Quarantine {
		n.logger.Error("skipping event with malformed time", "error", perr)
		return time.Time{}, false
	}
	n.logger.Error("malformed event time, using now", "error", perr)
	return n.now().UTC(), true
}

// ErrEmptyTime is returned by ParseTime for an empty string.
var ErrEmptyTime = errors.New("empty time value")

// ParseTime parses a provider time string.
//
//   - trailing "Z": UTC
//   - date-time with explicit offset: parsed as-is
//   - date-time without zone: UTC
//   - date-only: midnight UTC
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrEmptyTime
	}

	if !strings.Contains(s, "T") {
		return time.ParseInLocation("2006-01-02", s, time.UTC)
	}

	if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
		t, err := time.Parse(time.RFC3339Nano, s[:len(s)-1]+"Z")
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}

	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}

// CleanSummary NFC-normalizes a title, drops control characters and
// collapses runs of whitespace to a single space.
func CleanSummary(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, norm.NFC.String(s))
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return UntitledSummary
	}
	return s
}
