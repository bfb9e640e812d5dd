// Package credential owns per-user calendar credentials.
//
// Two kinds are supported: an OAuth2 token for the Google Calendar API and a
// plain ICS feed URL. The engine only ever asks whether a usable credential
// exists; sources ask for a token source or a feed URL.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/roach88/meetwatch/internal/store"
)

// Kind identifies the credential type.
type Kind string

const (
	KindOAuth2 Kind = "oauth2"
	KindICS    Kind = "ics"
)

// GoogleCalendarScope is the read-only scope requested during authorization.
const GoogleCalendarScope = "https://www.googleapis.com/auth/calendar.readonly"

// AuthStateTTL bounds how long an authorization link stays usable.
const AuthStateTTL = 24 * time.Hour

var (
	// ErrNoCredential is returned when the user has no stored credential.
	ErrNoCredential = errors.New("no credential")
	// ErrWrongKind is returned when the stored credential is of another kind.
	ErrWrongKind = errors.New("credential kind mismatch")
	// ErrInvalidState is returned for unknown, used or expired OAuth states.
	ErrInvalidState = errors.New("invalid or expired authorization state")
	// ErrOAuthNotConfigured is returned when no client id is configured.
	ErrOAuthNotConfigured = errors.New("oauth client not configured")
)

// Store wraps the state store with credential semantics.
type Store struct {
	db     *store.Store
	oauth  *oauth2.Config
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex // serializes token refresh writes
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for timestamps and state expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a credential store. oauth may be nil when only ICS feeds are used.
func New(db *store.Store, oauth *oauth2.Config, opts ...Option) *Store {
	s := &Store{
		db:     db,
		oauth:  oauth,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GoogleConfig builds the OAuth2 client configuration for Google Calendar.
func GoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if clientID == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoints.Google,
		Scopes:       []string{GoogleCalendarScope},
	}
}

// Users lists users with any stored credential.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	return s.db.CredentialUsers(ctx)
}

// Kind returns the kind of the user's credential.
func (s *Store) Kind(ctx context.Context, userID string) (Kind, error) {
	rec, err := s.record(ctx, userID)
	if err != nil {
		return "", err
	}
	return Kind(rec.Kind), nil
}

// HasValidCredential reports whether the user can be polled: an ICS feed
// with a usable URL, or an OAuth token that is valid or refreshable.
func (s *Store) HasValidCredential(ctx context.Context, userID string) (bool, error) {
	rec, err := s.record(ctx, userID)
	if errors.Is(err, ErrNoCredential) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch Kind(rec.Kind) {
	case KindICS:
		return ValidateFeedURL(rec.Data) == nil, nil
	case KindOAuth2:
		tok, err := decodeToken(rec.Data)
		if err != nil {
			s.logger.Warn("stored token is unreadable", "user", userID, "error", err)
			return false, nil
		}
		return tok.Valid() || tok.RefreshToken != "", nil
	default:
		return false, nil
	}
}

// ICSURL returns the user's feed URL.
func (s *Store) ICSURL(ctx context.Context, userID string) (string, error) {
	rec, err := s.record(ctx, userID)
	if err != nil {
		return "", err
	}
	if Kind(rec.Kind) != KindICS {
		return "", fmt.Errorf("user %s: %w", userID, ErrWrongKind)
	}
	return rec.Data, nil
}

// PutICS stores a feed URL for the user, replacing any previous credential.
func (s *Store) PutICS(ctx context.Context, userID, feedURL string) error {
	if err := ValidateFeedURL(feedURL); err != nil {
		return err
	}
	return s.db.PutCredential(ctx, userID, string(KindICS), strings.TrimSpace(feedURL), s.now())
}

// PutToken stores an OAuth token for the user.
func (s *Store) PutToken(ctx context.Context, userID string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return s.db.PutCredential(ctx, userID, string(KindOAuth2), string(data), s.now())
}

// Token returns the user's stored OAuth token.
func (s *Store) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	rec, err := s.record(ctx, userID)
	if err != nil {
		return nil, err
	}
	if Kind(rec.Kind) != KindOAuth2 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrWrongKind)
	}
	return decodeToken(rec.Data)
}

// TokenSource returns a token source for the user that persists refreshed
// tokens back to the store.
func (s *Store) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	if s.oauth == nil {
		return nil, ErrOAuthNotConfigured
	}
	tok, err := s.Token(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &persistingSource{
		ctx:    ctx,
		store:  s,
		userID: userID,
		base:   oauth2.ReuseTokenSource(tok, s.oauth.TokenSource(ctx, tok)),
		last:   tok.AccessToken,
	}, nil
}

// AuthURL starts an authorization for the user and returns the consent URL.
func (s *Store) AuthURL(ctx context.Context, userID string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthNotConfigured
	}
	state := uuid.NewString()
	if err := s.db.SaveAuthState(ctx, state, userID, s.now()); err != nil {
		return "", err
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange completes an authorization: it validates state, exchanges code
// for a token and stores it. Returns the user the state was issued for.
func (s *Store) Exchange(ctx context.Context, state, code string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthNotConfigured
	}

	userID, created, err := s.db.ConsumeAuthState(ctx, state)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidState
	}
	if err != nil {
		return "", err
	}
	if s.now().Sub(created) > AuthStateTTL {
		return "", ErrInvalidState
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := s.PutToken(ctx, userID, tok); err != nil {
		return "", err
	}
	return userID, nil
}

// PurgeAuthStates removes authorization states older than AuthStateTTL.
func (s *Store) PurgeAuthStates(ctx context.Context) (int64, error) {
	return s.db.PurgeAuthStates(ctx, s.now().Add(-AuthStateTTL))
}

// Remove deletes the user's credential.
func (s *Store) Remove(ctx context.Context, userID string) error {
	return s.db.DeleteCredential(ctx, userID)
}

func (s *Store) record(ctx context.Context, userID string) (store.CredentialRecord, error) {
	rec, err := s.db.Credential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return store.CredentialRecord{}, fmt.Errorf("user %s: %w", userID, ErrNoCredential)
	}
	return rec, err
}

// ValidateFeedURL checks that u is an absolute http(s) or webcal URL.
func ValidateFeedURL(u string) error {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil {
		return fmt.Errorf("feed url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https", "webcal", "webcals":
	default:
		return fmt.Errorf("feed url %q: unsupported scheme %q", u, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("feed url %q: missing host", u)
	}
	return nil
}

func decodeToken(data string) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(data), &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

// persistingSource saves a token whenever the underlying source refreshes it.
type persistingSource struct {
	ctx    context.Context
	store  *Store
	userID string
	base   oauth2.TokenSource
	last   string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.store.PutToken(p.ctx, p.userID, tok); err != nil {
			p.store.logger.Error("failed to persist refreshed token", "user", p.userID, "error", err)
		} else {
			p.store.logger.Debug("persisted refreshed token", "user", p.userID)
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}
