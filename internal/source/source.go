// Package source fetches raw calendar events for a user.
//
// A Source must report a failed fetch as an error and never as an empty
// list: the reconciler treats a missing event as cancelled.
package source

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/meetwatch/internal/credential"
	"github.com/roach88/meetwatch/internal/model"
)

// Source lists the raw events of one user within a window.
type Source interface {
	ListEvents(ctx context.Context, userID string, w model.Window) ([]model.RawEvent, error)
}

// ErrUnauthorized is returned when the provider rejects the credential.
var ErrUnauthorized = errors.New("calendar provider rejected credential")

// KindResolver reports which credential kind a user has.
type KindResolver interface {
	Kind(ctx context.Context, userID string) (credential.Kind, error)
}

// Router dispatches to the source matching the user's credential kind.
type Router struct {
	kinds   KindResolver
	sources map[credential.Kind]Source
}

// NewRouter creates a Router. A nil source leaves that kind unsupported.
func NewRouter(kinds KindResolver, google, ics Source) *Router {
	r := &Router{kinds: kinds, sources: make(map[credential.Kind]Source)}
	if google != nil {
		r.sources[credential.KindOAuth2] = google
	}
	if ics != nil {
		r.sources[credential.KindICS] = ics
	}
	return r
}

// ListEvents implements Source.
func (r *Router) ListEvents(ctx context.Context, userID string, w model.Window) ([]model.RawEvent, error) {
	kind, err := r.kinds.Kind(ctx, userID)
	if err != nil {
		return nil, err
	}
	src, ok := r.sources[kind]
	if !ok {
		return nil, fmt.Errorf("no source for credential kind %q", kind)
	}
	return src.ListEvents(ctx, userID, w)
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"{}|\\^[\]` + "`" + `]+`)

// conferenceHosts are the hosts accepted as join links.
var conferenceHosts = []string{
	"meet.google",
	"zoom",
	"teams.microsoft",
	"teams.live",
	"webex",
	"gotomeeting",
	"whereby",
	"jitsi",
}

// IsConferenceLink reports whether link points at a known video-conference host.
func IsConferenceLink(link string) bool {
	if link == "" {
		return false
	}
	lower := strings.ToLower(link)
	for _, host := range conferenceHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

// ExtractMeetingLink finds the first video-conference URL in text. Other
// links do not make an event joinable.
func ExtractMeetingLink(text string) string {
	for _, match := range urlPattern.FindAllString(text, -1) {
		if IsConferenceLink(match) {
			return strings.TrimRight(match, ".,;)")
		}
	}
	return ""
}
