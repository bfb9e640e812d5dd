package harness

// TraceEvent is one notification, or one failed fetch, observed during a
// scenario run.
type TraceEvent struct {
	Step         int    `json:"step"`
	At           string `json:"at"`
	Kind         string `json:"kind"`
	Event        string `json:"event,omitempty"`
	Summary      string `json:"summary,omitempty"`
	LeadMinutes  int    `json:"lead_minutes,omitempty"`
	MinutesUntil int    `json:"minutes_until,omitempty"`
	Error        string `json:"error,omitempty"`
}

// KindFetchError marks a step whose calendar fetch failed.
const KindFetchError = "fetch_error"

// FinalState summarizes the user's persisted state after the last step.
type FinalState struct {
	Bootstrapped bool `json:"bootstrapped"`
	Tracked      int  `json:"tracked"`
	Started      int  `json:"started"`
	Completed    int  `json:"completed"`
	Reminders    int  `json:"reminders"`

	StatsTotal     int `json:"stats_total"`
	StatsUpcoming  int `json:"stats_upcoming"`
	StatsCompleted int `json:"stats_completed"`
	StatsCancelled int `json:"stats_cancelled"`
}

// value returns a state field by its assertion key.
func (s FinalState) value(key string) (any, bool) {
	switch key {
	case "bootstrapped":
		return s.Bootstrapped, true
	case "tracked":
		return s.Tracked, true
	case "started":
		return s.Started, true
	case "completed":
		return s.Completed, true
	case "reminders":
		return s.Reminders, true
	case "stats_total":
		return s.StatsTotal, true
	case "stats_upcoming":
		return s.StatsUpcoming, true
	case "stats_completed":
		return s.StatsCompleted, true
	case "stats_cancelled":
		return s.StatsCancelled, true
	}
	return nil, false
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
	State  FinalState   `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
