package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCycler struct {
	calls  int
	cancel context.CancelFunc
	err    error
}

func (c *countingCycler) RunCycle(context.Context) (CycleReport, error) {
	c.calls++
	if c.cancel != nil {
		c.cancel()
	}
	return CycleReport{}, c.err
}

func TestEverySpec(t *testing.T) {
	assert.Equal(t, "@every 5m0s", EverySpec(0))
	assert.Equal(t, "@every 1m0s", EverySpec(time.Minute))
}

func TestNewScheduler(t *testing.T) {
	s, err := NewScheduler(&countingCycler{}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "@every 5m0s", s.Spec())

	s, err = NewScheduler(&countingCycler{}, "*/2 * * * *", nil)
	require.NoError(t, err)
	assert.Equal(t, "*/2 * * * *", s.Spec())

	_, err = NewScheduler(&countingCycler{}, "every tuesday", nil)
	assert.Error(t, err)
}

func TestScheduler_RunsImmediatelyAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &countingCycler{cancel: cancel, err: errors.New("ignored after cancel")}

	s, err := NewScheduler(c, EverySpec(time.Hour), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 1, c.calls)
}
