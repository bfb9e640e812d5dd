package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/roach88/meetwatch/internal/model"
)

// TokenSourceProvider supplies OAuth token sources per user.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error)
}

// Google lists events through the Google Calendar API client.
type Google struct {
	tokens     TokenSourceProvider
	baseURL    string
	calendarID string
	client     *http.Client
	logger     *slog.Logger
}

// GoogleOption configures a Google source.
type GoogleOption func(*Google)

// WithBaseURL overrides the Calendar API endpoint (tests).
func WithBaseURL(u string) GoogleOption {
	return func(g *Google) {
		g.baseURL = u
	}
}

// WithCalendarID selects the calendar; defaults to "primary".
func WithCalendarID(id string) GoogleOption {
	return func(g *Google) {
		if id != "" {
			g.calendarID = id
		}
	}
}

// WithHTTPClient sets the base client wrapped by the OAuth transport.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(g *Google) {
		g.client = c
	}
}

// WithGoogleLogger sets the logger.
func WithGoogleLogger(l *slog.Logger) GoogleOption {
	return func(g *Google) {
		g.logger = l
	}
}

// NewGoogle creates a Google Calendar source.
func NewGoogle(tokens TokenSourceProvider, opts ...GoogleOption) *Google {
	g := &Google{
		tokens:     tokens,
		calendarID: "primary",
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ListEvents implements Source. Cancelled instances are dropped; every page
// is fetched before returning.
func (g *Google) ListEvents(ctx context.Context, userID string, w model.Window) ([]model.RawEvent, error) {
	ts, err := g.tokens.TokenSource(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("token source: %w", err)
	}
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, g.client), ts)

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.baseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(g.baseURL, "/")+"/"))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}

	out := []model.RawEvent{}
	call := svc.Events.List(g.calendarID).
		TimeMin(w.Start.UTC().Format(time.RFC3339)).
		TimeMax(w.End.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)
	err = call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			out = append(out, rawGoogleEvent(item))
		}
		return nil
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
			return nil, fmt.Errorf("list events: %d: %w", apiErr.Code, ErrUnauthorized)
		}
		return nil, fmt.Errorf("list events: %w", err)
	}

	g.logger.Debug("google events listed", "user", userID, "count", len(out))
	return out, nil
}

func rawGoogleEvent(e *calendar.Event) model.RawEvent {
	return model.RawEvent{
		ID:       e.Id,
		Summary:  e.Summary,
		Start:    eventTime(e.Start),
		End:      eventTime(e.End),
		JoinLink: joinLink(e),
	}
}

func eventTime(t *calendar.EventDateTime) model.EventTime {
	if t == nil {
		return model.EventTime{}
	}
	return model.EventTime{Date: t.Date, DateTime: t.DateTime}
}

// joinLink prefers the Meet link, then a video conference entry point, then a
// conference URL pasted into the location or description.
func joinLink(e *calendar.Event) string {
	if e.HangoutLink != "" {
		return e.HangoutLink
	}
	if e.ConferenceData != nil {
		for _, ep := range e.ConferenceData.EntryPoints {
			if ep != nil && ep.EntryPointType == "video" && ep.Uri != "" {
				return ep.Uri
			}
		}
	}
	return ExtractMeetingLink(e.Location + "\n" + e.Description)
}
