package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/roach88/meetwatch/internal/model"
)

// maxOccurrencesPerEvent caps recurrence expansion of a single VEVENT.
const maxOccurrencesPerEvent = 500

// FeedProvider supplies a user's ICS feed URL.
type FeedProvider interface {
	ICSURL(ctx context.Context, userID string) (string, error)
}

// ICS lists events from a subscribed ICS feed.
type ICS struct {
	feeds  FeedProvider
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]feedCache // keyed by URL
}

// feedCache holds HTTP validators and the last good body of a feed.
type feedCache struct {
	etag         string
	lastModified string
	body         []byte
}

// ICSOption configures an ICS source.
type ICSOption func(*ICS)

// WithICSClient sets the HTTP client.
func WithICSClient(c *http.Client) ICSOption {
	return func(s *ICS) {
		s.client = c
	}
}

// WithICSLogger sets the logger.
func WithICSLogger(l *slog.Logger) ICSOption {
	return func(s *ICS) {
		s.logger = l
	}
}

// NewICS creates an ICS feed source.
func NewICS(feeds FeedProvider, opts ...ICSOption) *ICS {
	s := &ICS{
		feeds:  feeds,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: slog.Default(),
		cache:  make(map[string]feedCache),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListEvents implements Source.
func (s *ICS) ListEvents(ctx context.Context, userID string, w model.Window) ([]model.RawEvent, error) {
	feedURL, err := s.feeds.ICSURL(ctx, userID)
	if err != nil {
		return nil, err
	}
	body, err := s.fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	events, err := ParseFeed(body, w, s.logger)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("ics events listed", "user", userID, "count", len(events))
	return events, nil
}

// fetch downloads the feed honoring ETag and Last-Modified. Unlike a
// display cache, a failed request is an error: a stale body would hide
// cancellations.
func (s *ICS) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	target := feedURL
	if rest, ok := strings.CutPrefix(target, "webcals://"); ok {
		target = "https://" + rest
	} else if rest, ok := strings.CutPrefix(target, "webcal://"); ok {
		target = "https://" + rest
	}

	s.mu.Lock()
	cached := s.cache[feedURL]
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if cached.etag != "" {
		req.Header.Set("If-None-Match", cached.etag)
	}
	if cached.lastModified != "" {
		req.Header.Set("If-Modified-Since", cached.lastModified)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", redactURL(feedURL), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read feed %s: %w", redactURL(feedURL), err)
		}
		s.mu.Lock()
		s.cache[feedURL] = feedCache{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			body:         body,
		}
		s.mu.Unlock()
		return body, nil
	case http.StatusNotModified:
		if len(cached.body) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		return cached.body, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("fetch feed %s: %s: %w", redactURL(feedURL), resp.Status, ErrUnauthorized)
	default:
		return nil, fmt.Errorf("fetch feed %s: %s", redactURL(feedURL), resp.Status)
	}
}

// ParseFeed parses an ICS payload and returns the event instances that
// overlap w. Recurring events are expanded; each instance gets the id
// "<UID>_<start as 20060102T150405Z>". Overrides (RECURRENCE-ID) replace the
// instance they name. Cancelled events and instances are dropped.
func ParseFeed(body []byte, w model.Window, logger *slog.Logger) ([]model.RawEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var bases []vevent
	var unreadable []model.RawEvent
	overrides := make(map[string]vevent) // instance id -> override
	for _, comp := range cal.Events() {
		ev, err := parseVEvent(comp)
		if err != nil {
			if raw, ok := ev.unreadable(); ok {
				// Still listed: the normalizer's parse policy decides.
				logger.Warn("vevent with unreadable times", "uid", ev.uid, "error", err)
				unreadable = append(unreadable, raw)
				continue
			}
			logger.Warn("skipping vevent", "error", err)
			continue
		}
		if ev.recurrenceID != nil {
			overrides[instanceID(ev.uid, *ev.recurrenceID)] = ev
			continue
		}
		bases = append(bases, ev)
	}

	out := unreadable
	if out == nil {
		out = []model.RawEvent{}
	}
	for _, ev := range bases {
		if ev.cancelled {
			continue
		}
		if ev.rrule == "" {
			if overlaps(ev.start, ev.end, w) {
				out = append(out, ev.raw(ev.uid, ev.start, ev.end))
			}
			continue
		}

		for _, occStart := range expand(ev, w, logger) {
			id := instanceID(ev.uid, occStart)
			inst := ev
			start, end := occStart, occStart.Add(ev.end.Sub(ev.start))
			if ov, ok := overrides[id]; ok {
				if ov.cancelled {
					continue
				}
				inst, start, end = ov, ov.start, ov.end
			}
			if overlaps(start, end, w) {
				out = append(out, inst.raw(id, start, end))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Value() < out[j].Start.Value()
	})
	return out, nil
}

type vevent struct {
	uid          string
	summary      string
	start        time.Time
	end          time.Time
	startRaw     string
	endRaw       string
	allDay       bool
	link         string
	rrule        string
	exdates      []time.Time
	recurrenceID *time.Time
	override     bool
	cancelled    bool
}

func parseVEvent(ve *ical.VEvent) (vevent, error) {
	var out vevent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.cancelled = strings.EqualFold(p.Value, "CANCELLED")
	}

	for _, name := range []ical.ComponentProperty{ical.ComponentPropertyUrl, ical.ComponentPropertyLocation, ical.ComponentPropertyDescription} {
		p := ve.GetProperty(name)
		if p == nil {
			continue
		}
		if link := ExtractMeetingLink(p.Value); link != "" {
			out.link = link
			break
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rrule = p.Value
	}
	recurrenceID := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID"))
	out.override = recurrenceID != nil

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("event %s: missing DTSTART", out.uid)
	}
	out.startRaw = dtStart.Value
	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		out.endRaw = p.Value
	}
	if !strings.Contains(dtStart.Value, "T") {
		out.allDay = true
	}

	var err error
	if out.allDay {
		out.start, err = parseICSTime(dtStart.Value)
		if err != nil {
			return out, fmt.Errorf("event %s: DTSTART: %w", out.uid, err)
		}
		out.end = out.start.Add(24 * time.Hour)
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			if end, err := parseICSTime(p.Value); err == nil {
				out.end = end
			}
		}
	} else {
		out.start, err = ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("event %s: DTSTART: %w", out.uid, err)
		}
		out.end, err = ve.GetEndAt()
		if err != nil {
			// No DTEND: a timed event without duration is instantaneous.
			out.end = out.start
		}
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTimeIn(strings.TrimSpace(part), tzidOf(p), out.start.Location()); err == nil {
				out.exdates = append(out.exdates, t)
			}
		}
	}
	if p := recurrenceID; p != nil {
		if t, err := parseICSTimeIn(p.Value, tzidOf(p), out.start.Location()); err == nil {
			out.recurrenceID = &t
		}
	}

	return out, nil
}

// unreadable returns a raw event carrying the original time values of a
// single, non-recurring VEVENT whose times failed to parse. Recurring events
// and overrides have no stable instance id without a start and are dropped.
func (ev vevent) unreadable() (model.RawEvent, bool) {
	if ev.uid == "" || ev.startRaw == "" || ev.rrule != "" || ev.override || ev.cancelled {
		return model.RawEvent{}, false
	}
	end := ev.endRaw
	if end == "" {
		end = ev.startRaw
	}
	return model.RawEvent{
		ID:       ev.uid,
		Summary:  ev.summary,
		Start:    model.EventTime{DateTime: ev.startRaw},
		End:      model.EventTime{DateTime: end},
		JoinLink: ev.link,
	}, true
}

func (ev vevent) raw(id string, start, end time.Time) model.RawEvent {
	r := model.RawEvent{ID: id, Summary: ev.summary, JoinLink: ev.link}
	if ev.allDay {
		r.Start = model.EventTime{Date: start.Format("2006-01-02")}
		r.End = model.EventTime{Date: end.Format("2006-01-02")}
	} else {
		r.Start = model.EventTime{DateTime: start.Format(time.RFC3339)}
		r.End = model.EventTime{DateTime: end.Format(time.RFC3339)}
	}
	return r
}

// expand returns the recurrence start instants of ev that may overlap w.
func expand(ev vevent, w model.Window, logger *slog.Logger) []time.Time {
	r, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		logger.Warn("failed to parse RRULE", "uid", ev.uid, "rrule", ev.rrule, "error", err)
		return nil
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	// Widen by the event duration so instances already in progress at the
	// window start are included.
	dur := ev.end.Sub(ev.start)
	loc := ev.start.Location()
	occ := set.Between(w.Start.Add(-dur).In(loc), w.End.In(loc), true)
	if len(occ) > maxOccurrencesPerEvent {
		logger.Warn("truncated recurrence expansion", "uid", ev.uid, "cap", maxOccurrencesPerEvent)
		occ = occ[:maxOccurrencesPerEvent]
	}
	return occ
}

func instanceID(uid string, start time.Time) string {
	return uid + "_" + start.UTC().Format("20060102T150405Z")
}

// overlaps reports whether [start, end) intersects the window. Zero-length
// events count when they start inside it.
func overlaps(start, end time.Time, w model.Window) bool {
	if end.Equal(start) {
		return !start.Before(w.Start) && start.Before(w.End)
	}
	return end.After(w.Start) && start.Before(w.End)
}

func tzidOf(p *ical.IANAProperty) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		return tz[0]
	}
	return ""
}

// parseICSTime parses a basic ICS DATE or UTC DATE-TIME value.
func parseICSTime(v string) (time.Time, error) {
	return parseICSTimeIn(v, "", time.UTC)
}

// parseICSTimeIn parses an ICS date or date-time. Floating values use tzid
// when it names a known zone, otherwise fallback.
func parseICSTimeIn(v, tzid string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	loc := fallback
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, time.UTC)
}

// redactURL hides the path and query of a feed URL, which usually embed a
// private token.
func redactURL(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "ics://...(redacted)"
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + "/...(redacted)"
}
