package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/meetwatch/internal/dispatch"
	"github.com/roach88/meetwatch/internal/model"
	"github.com/roach88/meetwatch/internal/normalize"
	"github.com/roach88/meetwatch/internal/reconcile"
	"github.com/roach88/meetwatch/internal/source"
)

// Defaults.
const (
	DefaultLookahead = 7 * 24 * time.Hour
	DefaultRetention = 24 * time.Hour
	DefaultInterval  = 300 * time.Second
)

// ErrNotConnected is returned by ForceCheck for users without a usable
// calendar credential.
var ErrNotConnected = errors.New("no usable calendar credential")

// StateStore is the persisted reconciliation state.
type StateStore interface {
	Snapshot(ctx context.Context, userID string) (model.Snapshot, error)
	ApplyDelta(ctx context.Context, d model.StateDelta) error
	Settings(ctx context.Context, userID string, defaultLead int) (model.UserSettings, error)
	SaveSettings(ctx context.Context, s model.UserSettings) error
	Reset(ctx context.Context, userID string) error
	Stats(ctx context.Context, userID string) (model.Stats, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Credentials tells the engine which users can be polled.
type Credentials interface {
	Users(ctx context.Context) ([]string, error)
	HasValidCredential(ctx context.Context, userID string) (bool, error)
	PurgeAuthStates(ctx context.Context) (int64, error)
}

// Engine runs reconciliation cycles.
//
// Thread-safety: RunCycle and ForceCheck may be called from any goroutine.
// Calls for the same user are serialized.
type Engine struct {
	store      StateStore
	source     source.Source
	creds      Credentials
	dispatcher *dispatch.Dispatcher

	clock       Clock
	tokens      TokenGenerator
	logger      *slog.Logger
	lookahead   time.Duration
	retention   time.Duration
	defaultLead int
	policy      normalize.ParsePolicy

	locks *userLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithCycleTokens sets the cycle correlation token generator.
func WithCycleTokens(g TokenGenerator) Option {
	return func(e *Engine) {
		e.tokens = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithLookahead sets how far ahead events are fetched. Default 7 days.
func WithLookahead(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lookahead = d
		}
	}
}

// WithRetention sets how long ended meetings are kept. Default 24h.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retention = d
		}
	}
}

// WithDefaultLead sets the reminder lead for users without settings.
func WithDefaultLead(minutes int) Option {
	return func(e *Engine) {
		if model.ValidReminderLead(minutes) {
			e.defaultLead = minutes
		}
	}
}

// WithParsePolicy sets how malformed timestamps are handled.
func WithParsePolicy(p normalize.ParsePolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// New creates an Engine.
func New(st StateStore, src source.Source, creds Credentials, d *dispatch.Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		source:      src,
		creds:       creds,
		dispatcher:  d,
		clock:       SystemClock{},
		tokens:      UUIDv7Generator{},
		logger:      slog.Default(),
		lookahead:   DefaultLookahead,
		retention:   DefaultRetention,
		defaultLead: model.DefaultReminderLead,
		policy:      normalize.FallbackNow,
		locks:       newUserLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UserResult is the outcome of one user's reconciliation.
type UserResult struct {
	UserID string

	// Batch is the reconciled batch. Empty when the cycle failed before
	// the delta was committed.
	Batch reconcile.Batch

	Skipped    []normalize.Skipped
	Deliveries []dispatch.DeliveryResult

	// Err is a fetch or store failure. Delivery failures are reported
	// in DeliveryErrors instead.
	Err            error
	DeliveryErrors []error
}

// CycleReport summarizes one scheduler cycle.
type CycleReport struct {
	Token        string
	Now          time.Time
	Users        []UserResult
	Inactive     []string // users skipped for lack of a usable credential
	Expired      int64
	PurgedStates int64
}

// Failed returns the users whose cycle failed.
func (r CycleReport) Failed() []UserResult {
	var out []UserResult
	for _, u := range r.Users {
		if u.Err != nil {
			out = append(out, u)
		}
	}
	return out
}

// Notifications returns the total number of notifications produced.
func (r CycleReport) Notifications() int {
	n := 0
	for _, u := range r.Users {
		n += len(u.Batch)
	}
	return n
}

// RunCycle runs one pass over all users and then garbage collects.
//
// The returned error is non-nil only when the user list cannot be read.
// Per-user failures are recorded in the report and logged.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{Token: e.tokens.Generate(), Now: e.clock.Now()}
	log := e.logger.With("cycle", report.Token)

	users, err := e.creds.Users(ctx)
	if err != nil {
		return report, fmt.Errorf("list users: %w", err)
	}
	log.Debug("cycle starting", "users", len(users))

	for _, userID := range users {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		ok, err := e.creds.HasValidCredential(ctx, userID)
		if err != nil {
			report.Users = append(report.Users, UserResult{
				UserID: userID,
				Err:    &CycleError{Code: ErrCodeCredential, UserID: userID, CycleToken: report.Token, Err: err},
			})
			log.Error("credential lookup failed", "user", userID, "error", err)
			continue
		}
		if !ok {
			report.Inactive = append(report.Inactive, userID)
			continue
		}

		// Each user gets the instant at which their pipeline starts.
		report.Users = append(report.Users, e.checkUser(ctx, report.Token, userID, e.clock.Now()))
	}

	report.Expired, report.PurgedStates = e.collect(ctx, log, e.clock.Now())

	log.Info("cycle finished",
		"users", len(report.Users),
		"inactive", len(report.Inactive),
		"failed", len(report.Failed()),
		"notifications", report.Notifications())
	return report, nil
}

// ForceCheck runs one immediate reconciliation for a user.
func (e *Engine) ForceCheck(ctx context.Context, userID string) (UserResult, error) {
	ok, err := e.creds.HasValidCredential(ctx, userID)
	if err != nil {
		return UserResult{UserID: userID}, fmt.Errorf("credential lookup: %w", err)
	}
	if !ok {
		return UserResult{UserID: userID}, ErrNotConnected
	}
	res := e.checkUser(ctx, e.tokens.Generate(), userID, e.clock.Now())
	return res, res.Err
}

// checkUser runs the pipeline for one user under the user's lock.
func (e *Engine) checkUser(ctx context.Context, token, userID string, now time.Time) UserResult {
	release := e.locks.lock(userID)
	defer release()

	res := UserResult{UserID: userID}
	log := e.logger.With("cycle", token, "user", userID)

	window := model.Window{Start: now, End: now.Add(e.lookahead)}
	raws, err := e.source.ListEvents(ctx, userID, window)
	if err != nil {
		res.Err = NewFetchError(userID, token, err)
		if errors.Is(err, source.ErrUnauthorized) {
			log.Warn("calendar rejected the credential", "error", err)
		} else {
			log.Warn("fetch failed", "error", err)
		}
		return res
	}

	events, skipped := e.normalizer(now, log).NormalizeAll(raws)
	res.Skipped = skipped

	snap, err := e.store.Snapshot(ctx, userID)
	if err != nil {
		res.Err = NewStoreError(userID, token, err)
		log.Error("read snapshot failed", "error", err)
		return res
	}
	settings, err := e.store.Settings(ctx, userID, e.defaultLead)
	if err != nil {
		res.Err = NewStoreError(userID, token, err)
		log.Error("read settings failed", "error", err)
		return res
	}

	batch, delta := reconcile.Reconcile(userID, events, normalize.Unreadable(skipped), snap, settings, now)
	if !delta.Empty() {
		if err := e.store.ApplyDelta(ctx, delta); err != nil {
			res.Err = NewStoreError(userID, token, err)
			log.Error("apply delta failed", "error", err, "dropped", len(batch))
			return res
		}
	}
	res.Batch = batch

	log.Debug("reconciled",
		"events", len(events),
		"skipped", len(skipped),
		"notifications", len(batch),
		"bootstrap", delta.Bootstrap)

	if len(batch) == 0 {
		return res
	}
	res.Deliveries = e.dispatcher.DispatchAll(ctx, userID, batch)
	for _, d := range dispatch.Failed(res.Deliveries) {
		res.DeliveryErrors = append(res.DeliveryErrors,
			NewDeliveryError(userID, token, d.Notification.Event.ID, d.Err))
	}
	return res
}

func (e *Engine) normalizer(now time.Time, log *slog.Logger) *normalize.Normalizer {
	return normalize.New(
		func() time.Time { return now },
		normalize.WithPolicy(e.policy),
		normalize.WithLogger(log),
	)
}

// collect deletes rows of meetings that ended before the retention window
// and stale OAuth states. Failures are logged; GC retries next cycle.
func (e *Engine) collect(ctx context.Context, log *slog.Logger, now time.Time) (expired, purged int64) {
	expired, err := e.store.DeleteExpired(ctx, now.Add(-e.retention))
	if err != nil {
		log.Error("gc: delete expired failed", "error", err)
	}
	purged, err = e.creds.PurgeAuthStates(ctx)
	if err != nil {
		log.Error("gc: purge auth states failed", "error", err)
	}
	if expired > 0 || purged > 0 {
		log.Debug("gc", "expired", expired, "auth_states", purged)
	}
	return expired, purged
}

// CollectGarbage runs GC outside of a cycle.
func (e *Engine) CollectGarbage(ctx context.Context) (expired, purged int64) {
	return e.collect(ctx, e.logger, e.clock.Now())
}
