package credential

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/roach88/meetwatch/internal/store"
)

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, oauth *oauth2.Config, now func() time.Time) *Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cred.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, oauth,
		WithClock(now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			assert.Equal(t, "the-code", r.Form.Get("code"))
			io.WriteString(w, `{"access_token":"fresh","token_type":"Bearer","refresh_token":"r1","expires_in":3600}`)
		case "refresh_token":
			io.WriteString(w, `{"access_token":"refreshed","token_type":"Bearer","refresh_token":"r1","expires_in":3600}`)
		default:
			http.Error(w, "bad grant", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testOAuthConfig(srv *httptest.Server) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{GoogleCalendarScope},
	}
}

func TestHasValidCredential(t *testing.T) {
	s := newTestStore(t, nil, func() time.Time { return t0 })
	ctx := context.Background()

	ok, err := s.HasValidCredential(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutICS(ctx, "feed", "https://example.com/cal.ics"))
	ok, err = s.HasValidCredential(ctx, "feed")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.PutToken(ctx, "expired", &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(-time.Hour)}))
	ok, err = s.HasValidCredential(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, ok, "expired token without refresh token is unusable")

	require.NoError(t, s.PutToken(ctx, "refreshable", &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)}))
	ok, err = s.HasValidCredential(ctx, "refreshable")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPutICS_RejectsBadURL(t *testing.T) {
	s := newTestStore(t, nil, func() time.Time { return t0 })

	assert.Error(t, s.PutICS(context.Background(), "u1", "ftp://example.com/cal.ics"))
	assert.Error(t, s.PutICS(context.Background(), "u1", "not a url"))
	assert.NoError(t, s.PutICS(context.Background(), "u1", "webcal://example.com/cal.ics"))
}

func TestKindAndAccessors(t *testing.T) {
	s := newTestStore(t, nil, func() time.Time { return t0 })
	ctx := context.Background()

	require.NoError(t, s.PutICS(ctx, "u1", "https://example.com/cal.ics"))

	kind, err := s.Kind(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, KindICS, kind)

	feed, err := s.ICSURL(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cal.ics", feed)

	_, err = s.Token(ctx, "u1")
	assert.ErrorIs(t, err, ErrWrongKind)

	_, err = s.Kind(ctx, "u2")
	assert.ErrorIs(t, err, ErrNoCredential)

	users, err := s.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)
}

func TestAuthorizationFlow(t *testing.T) {
	srv := tokenServer(t)
	now := t0
	s := newTestStore(t, testOAuthConfig(srv), func() time.Time { return now })
	ctx := context.Background()

	authURL, err := s.AuthURL(ctx, "u1")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, "offline", parsed.Query().Get("access_type"))

	user, err := s.Exchange(ctx, state, "the-code")
	require.NoError(t, err)
	assert.Equal(t, "u1", user)

	tok, err := s.Token(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)

	_, err = s.Exchange(ctx, state, "the-code")
	assert.ErrorIs(t, err, ErrInvalidState, "states are single use")
}

func TestExchange_ExpiredState(t *testing.T) {
	srv := tokenServer(t)
	now := t0
	s := newTestStore(t, testOAuthConfig(srv), func() time.Time { return now })
	ctx := context.Background()

	authURL, err := s.AuthURL(ctx, "u1")
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	now = t0.Add(AuthStateTTL + time.Minute)
	_, err = s.Exchange(ctx, parsed.Query().Get("state"), "the-code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPurgeAuthStates(t *testing.T) {
	srv := tokenServer(t)
	now := t0
	s := newTestStore(t, testOAuthConfig(srv), func() time.Time { return now })
	ctx := context.Background()

	_, err := s.AuthURL(ctx, "u1")
	require.NoError(t, err)

	now = t0.Add(AuthStateTTL + time.Hour)
	n, err := s.PurgeAuthStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTokenSource_PersistsRefresh(t *testing.T) {
	srv := tokenServer(t)
	s := newTestStore(t, testOAuthConfig(srv), time.Now)
	ctx := context.Background()

	require.NoError(t, s.PutToken(ctx, "u1", &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	ts, err := s.TokenSource(ctx, "u1")
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok.AccessToken)

	stored, err := s.Token(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed", stored.AccessToken)
}

func TestOAuthNotConfigured(t *testing.T) {
	s := newTestStore(t, nil, func() time.Time { return t0 })

	_, err := s.AuthURL(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrOAuthNotConfigured)
	assert.Nil(t, GoogleConfig("", "", ""))
}
