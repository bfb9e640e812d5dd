// Package harness runs YAML scenarios against the real pipeline.
//
// A scenario describes one user's calendar over simulated time. Each step
// moves a fake clock, replaces the calendar contents (or makes the fetch
// fail), and runs one scheduler cycle against a fresh in-memory store. The
// notifications produced form the trace, which steps and assertions check
// and which can be compared against a golden file.
//
// Example:
//
//	name: reminder_then_started
//	description: a meeting 10 minutes out is reminded, then started
//	user: "42"
//	start: 2025-01-20T09:00:00Z
//	steps:
//	  - at: 0m
//	    events:
//	      - {id: standup, summary: Standup, start: 10m, end: 25m}
//	    expect: [upcoming_reminder]
//	  - at: 10m
//	    expect: [meeting_started]
//	assertions:
//	  - type: trace_count
//	    kind: upcoming_reminder
//	    count: 1
//
// Event start and end are offsets from the scenario start. start_raw and
// end_raw pass provider strings through untouched, for malformed input.
package harness
