package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Index    int
	Type     string
	Message  string
	Expected any
	Actual   any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	msg := fmt.Sprintf("assertion %d (%s) failed: %s", e.Index, e.Type, e.Message)
	if e.Expected != nil || e.Actual != nil {
		msg += fmt.Sprintf("\n  expected: %v\n  actual:   %v", e.Expected, e.Actual)
	}
	return msg
}

// EvaluateAssertions checks every assertion and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.State, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			if ae, ok := err.(*AssertionError); ok {
				ae.Index = i
			}
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// matches reports whether ev has the assertion's kind and, if set, event.
func matches(ev TraceEvent, kind, event string) bool {
	return ev.Kind == kind && (event == "" || ev.Event == event)
}

// assertTraceContains checks that a matching notification occurred.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a.Kind, a.Event) {
			return nil
		}
	}
	return &AssertionError{
		Type:    a.Type,
		Message: fmt.Sprintf("no %s", describe(a.Kind, a.Event)),
		Actual:  traceKinds(trace),
	}
}

// assertTraceOrder checks that kinds appear in the given relative order.
// Intervening notifications are allowed. Entries may be "kind" or
// "kind:event".
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next == len(a.Kinds) {
			break
		}
		kind, event, _ := strings.Cut(a.Kinds[next], ":")
		if matches(ev, kind, event) {
			next++
		}
	}
	if next < len(a.Kinds) {
		return &AssertionError{
			Type:     a.Type,
			Message:  fmt.Sprintf("%q not found in order", a.Kinds[next]),
			Expected: a.Kinds,
			Actual:   traceKinds(trace),
		}
	}
	return nil
}

// assertTraceCount checks the exact number of matching notifications.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if matches(ev, a.Kind, a.Event) {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Message:  fmt.Sprintf("wrong number of %s", describe(a.Kind, a.Event)),
			Expected: a.Count,
			Actual:   n,
		}
	}
	return nil
}

// assertFinalState compares state fields with the expected values.
func assertFinalState(state FinalState, a Assertion) error {
	for _, key := range sortedAnyKeys(a.Expect) {
		want := a.Expect[key]
		got, ok := state.value(key)
		if !ok {
			return &AssertionError{Type: a.Type, Message: fmt.Sprintf("unknown state field %q", key)}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     a.Type,
				Message:  fmt.Sprintf("state field %q", key),
				Expected: want,
				Actual:   got,
			}
		}
	}
	return nil
}

// stateValuesEqual compares a YAML-decoded expectation with a state value.
func stateValuesEqual(expected, actual any) bool {
	switch a := actual.(type) {
	case bool:
		e, ok := expected.(bool)
		return ok && e == a
	case int:
		switch e := expected.(type) {
		case int:
			return e == a
		case int64:
			return e == int64(a)
		case float64:
			return e == float64(a)
		}
	}
	return false
}

func describe(kind, event string) string {
	if event == "" {
		return kind
	}
	return kind + " for " + event
}

func traceKinds(trace []TraceEvent) []string {
	out := make([]string, len(trace))
	for i, ev := range trace {
		out[i] = ev.Kind
		if ev.Event != "" {
			out[i] += ":" + ev.Event
		}
	}
	return out
}

func sortedAnyKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
