package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/meetwatch/internal/model"
)

const (
	dayLayout  = "Mon 02 Jan"
	timeLayout = "15:04"
)

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// Escape escapes text for the Telegram HTML parse mode.
func Escape(s string) string {
	return textEscaper.Replace(s)
}

// Format renders a notification as an HTML message with times shown in loc.
func Format(n model.Notification, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	switch n.Kind {
	case model.KindNewMeeting:
		b.WriteString("🆕 <b>New meeting scheduled</b>\n")
	case model.KindUpcomingReminder:
		fmt.Fprintf(&b, "⏰ <b>Meeting starts in %s</b>\n", minutes(n.MinutesUntil))
	case model.KindMeetingStarted:
		b.WriteString("▶️ <b>Meeting has started</b>\n")
	case model.KindMeetingCancelled:
		b.WriteString("❌ <b>Meeting cancelled</b>\n")
	default:
		fmt.Fprintf(&b, "ℹ️ <b>%s</b>\n", Escape(string(n.Kind)))
	}

	fmt.Fprintf(&b, "📅 <b>%s</b>\n", Escape(n.Event.Summary))
	fmt.Fprintf(&b, "🕐 %s", timeRange(n.Event.Start, n.Event.End, loc))

	if n.Kind != model.KindMeetingCancelled && n.Event.JoinLink != "" {
		fmt.Fprintf(&b, "\n🔗 %s", link(n.Event.JoinLink, "Join meeting"))
	}
	return b.String()
}

// FormatWeek renders upcoming meetings grouped by local day.
func FormatWeek(events []model.Event, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	if len(events) == 0 {
		return "📆 No upcoming meetings with a join link."
	}

	var b strings.Builder
	b.WriteString("📆 <b>Upcoming meetings</b>")

	day := ""
	for _, e := range events {
		start := e.Start.In(loc)
		if d := start.Format(dayLayout); d != day {
			day = d
			fmt.Fprintf(&b, "\n\n<b>%s</b>", day)
		}
		fmt.Fprintf(&b, "\n• %s–%s %s",
			start.Format(timeLayout),
			e.End.In(loc).Format(timeLayout),
			link(e.JoinLink, e.Summary))
	}
	return b.String()
}

func timeRange(start, end time.Time, loc *time.Location) string {
	s, e := start.In(loc), end.In(loc)
	zone := s.Format("MST")
	if sameDay(s, e) {
		return fmt.Sprintf("%s, %s–%s %s", s.Format(dayLayout), s.Format(timeLayout), e.Format(timeLayout), zone)
	}
	return fmt.Sprintf("%s, %s – %s, %s %s",
		s.Format(dayLayout), s.Format(timeLayout),
		e.Format(dayLayout), e.Format(timeLayout), zone)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func link(href, text string) string {
	if href == "" {
		return Escape(text)
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, attrEscaper.Replace(href), Escape(text))
}

func minutes(n int) string {
	if n == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", n)
}
