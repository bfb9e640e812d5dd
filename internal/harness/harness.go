package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/meetwatch/internal/dispatch"
	"github.com/roach88/meetwatch/internal/engine"
	"github.com/roach88/meetwatch/internal/model"
	"github.com/roach88/meetwatch/internal/store"
	"github.com/roach88/meetwatch/internal/testutil"
)

// Harness runs one scenario against a fresh store.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	engine   *engine.Engine
	clock    *testutil.FakeClock
	source   *testutil.FakeSource
	logger   *slog.Logger
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger for the pipeline under test. Logs are
// discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. The
// returned error reports infrastructure failures; scenario failures are
// reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		store:    st,
		clock:    testutil.NewFakeClock(scenario.StartTime()),
		source:   testutil.NewFakeSource(),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.engine = engine.New(st, h.source,
		testutil.NewStaticCredentials(scenario.User),
		dispatch.New(testutil.NewRecordingNotifier(), dispatch.WithLogger(h.logger)),
		engine.WithClock(h.clock),
		engine.WithCycleTokens(testutil.NewFixedTokenGenerator(scenario.Name)),
		engine.WithLogger(h.logger),
	)

	if err := h.applySettings(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	state, err := h.finalState(ctx)
	if err != nil {
		return nil, err
	}
	result.State = state

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) applySettings(ctx context.Context) error {
	want := h.scenario.Settings
	if want == nil {
		return nil
	}
	st, err := h.engine.Settings(ctx, h.scenario.User)
	if err != nil {
		return err
	}
	if want.ReminderLeadMinutes != 0 {
		st.ReminderLeadMinutes = want.ReminderLeadMinutes
	}
	if want.NotifyOnNew != nil {
		st.NotifyOnNew = *want.NotifyOnNew
	}
	if want.NotifyOnStart != nil {
		st.NotifyOnStart = *want.NotifyOnStart
	}
	if want.NotifyOnCancel != nil {
		st.NotifyOnCancel = *want.NotifyOnCancel
	}
	return h.store.SaveSettings(ctx, st)
}

func (h *Harness) runStep(ctx context.Context, index int, step Step, result *Result) error {
	user := h.scenario.User
	start := h.scenario.StartTime()

	at, _ := time.ParseDuration(step.At)
	h.clock.Set(start.Add(at))
	stamp := h.clock.Now().Format(time.RFC3339)

	if step.Reset {
		if err := h.engine.Reset(ctx, user); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(step.Set) {
		if _, err := h.engine.UpdateSetting(ctx, user, key, step.Set[key]); err != nil {
			return err
		}
	}

	if step.Events != nil {
		raws := make([]model.RawEvent, 0, len(*step.Events))
		for _, ev := range *step.Events {
			raws = append(raws, rawEvent(ev, start))
		}
		h.source.SetEvents(user, raws...)
	}
	if step.FetchError != "" {
		h.source.Fail(user, errors.New(step.FetchError))
	} else {
		h.source.Fail(user, nil)
	}

	report, err := h.engine.RunCycle(ctx)
	if err != nil {
		return err
	}

	var kinds []string
	for _, u := range report.Users {
		if u.UserID != user {
			continue
		}
		if u.Err != nil {
			if !engine.IsFetchError(u.Err) {
				return u.Err
			}
			result.Trace = append(result.Trace, TraceEvent{
				Step:  index,
				At:    stamp,
				Kind:  KindFetchError,
				Error: step.FetchError,
			})
			kinds = append(kinds, KindFetchError)
			continue
		}
		for _, n := range u.Batch {
			result.Trace = append(result.Trace, TraceEvent{
				Step:         index,
				At:           stamp,
				Kind:         string(n.Kind),
				Event:        n.Event.ID,
				Summary:      n.Event.Summary,
				LeadMinutes:  n.LeadMinutes,
				MinutesUntil: n.MinutesUntil,
			})
			kinds = append(kinds, string(n.Kind))
		}
	}

	if step.Expect != nil && !slices.Equal(kinds, *step.Expect) {
		result.AddError(fmt.Sprintf("step %d (at %s): expected %v, got %v",
			index, step.At, *step.Expect, kinds))
	}
	return nil
}

func (h *Harness) finalState(ctx context.Context) (FinalState, error) {
	user := h.scenario.User
	snap, err := h.store.Snapshot(ctx, user)
	if err != nil {
		return FinalState{}, err
	}
	stats, err := h.store.Stats(ctx, user)
	if err != nil {
		return FinalState{}, err
	}

	fs := FinalState{
		Bootstrapped:   snap.Bootstrapped,
		Tracked:        len(snap.Known),
		StatsTotal:     stats.Total,
		StatsUpcoming:  stats.Upcoming,
		StatsCompleted: stats.Completed,
		StatsCancelled: stats.Cancelled,
	}
	for _, row := range snap.Known {
		if row.Started() {
			fs.Started++
		}
		if row.Completed() {
			fs.Completed++
		}
		fs.Reminders += len(row.RemindedLeads)
	}
	return fs, nil
}

func rawEvent(ev EventSpec, start time.Time) model.RawEvent {
	raw := model.RawEvent{
		ID:       ev.ID,
		Summary:  ev.Summary,
		JoinLink: testutil.MeetLink,
	}
	if ev.Link != nil {
		raw.JoinLink = *ev.Link
	}
	raw.Start.DateTime = timeValue(ev.Start, ev.StartRaw, start)
	raw.End.DateTime = timeValue(ev.End, ev.EndRaw, start)
	return raw
}

func timeValue(offset, raw string, start time.Time) string {
	if raw != "" {
		return raw
	}
	d, _ := time.ParseDuration(offset)
	return start.Add(d).Format(time.RFC3339)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
