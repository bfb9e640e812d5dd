package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestParseScenario_Defaults(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: minimal
description: one step
start: 2025-01-20T09:00:00Z
steps:
  - at: 0m
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultUser, s.User)
	assert.Equal(t, "2025-01-20T09:00:00Z", s.StartTime().Format("2006-01-02T15:04:05Z07:00"))
	assert.Nil(t, s.Steps[0].Events)
	assert.Nil(t, s.Steps[0].Expect)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nstart: 2025-01-20T09:00:00Z\nsteps: [{at: 0m}]\ntypo: 1\n",
			want: "field typo not found",
		},
		{
			name: "missing name",
			yaml: "description: d\nstart: 2025-01-20T09:00:00Z\nsteps: [{at: 0m}]\n",
			want: "name is required",
		},
		{
			name: "bad start",
			yaml: "name: x\ndescription: d\nstart: tomorrow\nsteps: [{at: 0m}]\n",
			want: "start must be RFC 3339",
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: d\nstart: 2025-01-20T09:00:00Z\n",
			want: "steps list is required",
		},
		{
			name: "steps out of order",
			yaml: "name: x\ndescription: d\nstart: 2025-01-20T09:00:00Z\nsteps: [{at: 10m}, {at: 5m}]\n",
			want: "before the previous step",
		},
		{
			name: "event without end",
			yaml: "name: x\ndescription: d\nstart: 2025-01-20T09:00:00Z\nsteps: [{at: 0m, events: [{id: a, start: 1h}]}]\n",
			want: "end or end_raw is required",
		},
		{
			name: "unknown expected kind",
			yaml: "name: x\ndescription: d\nstart: 2025-01-20T09:00:00Z\nsteps: [{at: 0m, expect: [meeting_moved]}]\n",
			want: `unknown kind "meeting_moved"`,
		},
		{
			name: "bad lead",
			yaml: "name: x\ndescription: d\nstart: 2025-01-20T09:00:00Z\nsettings: {reminder_lead_minutes: 7}\nsteps: [{at: 0m}]\n",
			want: "reminder_lead_minutes must be one of",
		},
		{
			name: "unknown state field",
			yaml: "name: x\ndescription: d\nstart: 2025-01-20T09:00:00Z\nsteps: [{at: 0m}]\nassertions: [{type: final_state, expect: {rows: 1}}]\n",
			want: `unknown state field "rows"`,
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: d\nstart: 2025-01-20T09:00:00Z\nsteps: [{at: 0m}]\nassertions: [{type: eventually}]\n",
			want: `unknown assertion type "eventually"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadDir_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	body := "name: same\ndescription: d\nstart: 2025-01-20T09:00:00Z\nsteps: [{at: 0m}]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used by a.yaml")
}

func TestRun_StepExpectationMismatch(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: mismatch
description: bootstrap never announces new meetings
start: 2025-01-20T09:00:00Z
steps:
  - at: 0m
    events:
      - {id: a, summary: A, start: 2h, end: 3h}
    expect: [new_meeting]
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected [new_meeting], got []")
	assert.Empty(t, result.Trace)
}

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{
		Trace: []TraceEvent{
			{Kind: "new_meeting", Event: "a"},
			{Kind: "upcoming_reminder", Event: "a"},
			{Kind: "meeting_started", Event: "a"},
		},
		State: FinalState{Bootstrapped: true, Tracked: 1, Reminders: 1},
	}

	passing := []Assertion{
		{Type: AssertTraceContains, Kind: "meeting_started"},
		{Type: AssertTraceContains, Kind: "new_meeting", Event: "a"},
		{Type: AssertTraceOrder, Kinds: []string{"new_meeting", "meeting_started:a"}},
		{Type: AssertTraceCount, Kind: "meeting_cancelled", Count: 0},
		{Type: AssertFinalState, Expect: map[string]any{"bootstrapped": true, "tracked": 1, "reminders": float64(1)}},
	}
	assert.Empty(t, EvaluateAssertions(result, passing))

	failing := []Assertion{
		{Type: AssertTraceContains, Kind: "new_meeting", Event: "b"},
		{Type: AssertTraceOrder, Kinds: []string{"meeting_started", "new_meeting"}},
		{Type: AssertTraceCount, Kind: "upcoming_reminder", Count: 2},
		{Type: AssertFinalState, Expect: map[string]any{"tracked": 2}},
		{Type: AssertFinalState, Expect: map[string]any{"bootstrapped": "yes"}},
	}
	errs := EvaluateAssertions(result, failing)
	require.Len(t, errs, 5)
	assert.Contains(t, errs[0], "assertion 0 (trace_contains) failed: no new_meeting for b")
	assert.Contains(t, errs[1], `"new_meeting" not found in order`)
	assert.Contains(t, errs[2], "wrong number of upcoming_reminder")
	assert.Contains(t, errs[3], `state field "tracked"`)
	assert.Contains(t, errs[4], `state field "bootstrapped"`)
}

func TestMarshalSnapshot_EmptyTrace(t *testing.T) {
	s := &Scenario{Name: "quiet", User: "42"}
	data, err := MarshalSnapshot(s, NewResult())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"trace": []`)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}
