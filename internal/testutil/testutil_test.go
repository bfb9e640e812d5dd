package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meetwatch/internal/model"
)

var t0 = time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)

func TestFakeClock(t *testing.T) {
	c := NewFakeClock(t0)
	assert.Equal(t, t0, c.Now())
	assert.Equal(t, t0.Add(5*time.Minute), c.Advance(5*time.Minute))

	c.Set(t0.Add(time.Hour))
	assert.Equal(t, t0.Add(time.Hour), c.Now())

	c.Reset()
	assert.Equal(t, t0, c.Now())
}

func TestFixedTokenGenerator(t *testing.T) {
	assert.Equal(t, "test-cycle", NewFixedTokenGenerator("").Generate())
	g := NewFixedTokenGenerator("c")
	assert.Equal(t, "c", g.Generate())
	assert.Equal(t, "c", g.Generate())
}

func TestFakeSource(t *testing.T) {
	ctx := context.Background()
	s := NewFakeSource()
	s.SetEvents("u1", Meeting("a", "A", t0, time.Hour))

	w := model.Window{Start: t0, End: t0.Add(time.Hour)}
	got, err := s.ListEvents(ctx, "u1", w)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2025-01-20T09:00:00Z", got[0].Start.DateTime)
	assert.Equal(t, []model.Window{w}, s.Windows("u1"))

	boom := errors.New("boom")
	s.Fail("u1", boom)
	_, err = s.ListEvents(ctx, "u1", w)
	assert.ErrorIs(t, err, boom)

	s.Fail("u1", nil)
	_, err = s.ListEvents(ctx, "u1", w)
	assert.NoError(t, err)
}

func TestRecordingNotifier(t *testing.T) {
	ctx := context.Background()
	n := NewRecordingNotifier()
	require.NoError(t, n.Send(ctx, "u1", "hi"))

	n.FailWith(errors.New("down"))
	assert.Error(t, n.Send(ctx, "u1", "lost"))

	assert.Equal(t, []Message{{UserID: "u1", Text: "hi"}}, n.Messages())
	n.Clear()
	assert.Empty(t, n.Messages())
}

func TestStaticCredentials(t *testing.T) {
	ctx := context.Background()
	c := NewStaticCredentials("b", "a")
	c.Set("c", false)

	users, err := c.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, users)

	ok, err := c.HasValidCredential(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.PurgeAuthStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Purges())
}

func TestOffline(t *testing.T) {
	assert.Empty(t, Offline("x", "X", t0, time.Hour).JoinLink)
}
