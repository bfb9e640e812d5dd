// Package dispatch renders notifications as chat messages and hands them to a
// notifier.
//
// Delivery is fire-and-forget from the reconciler's point of view: a failed
// send is reported in the DeliveryResult and logged, and the state that
// produced the notification is never rolled back.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/meetwatch/internal/model"
)

// Notifier delivers a formatted message to one user.
type Notifier interface {
	Send(ctx context.Context, userID, text string) error
}

// DeliveryResult is the outcome of delivering one notification.
type DeliveryResult struct {
	Notification model.Notification
	Delivered    bool
	Err          error
}

// Dispatcher formats notifications and sends them through a Notifier.
type Dispatcher struct {
	notifier Notifier
	loc      *time.Location
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLocation sets the timezone used to render meeting times. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Dispatcher.
func New(n Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier: n,
		loc:      time.UTC,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Location returns the timezone messages are rendered in.
func (d *Dispatcher) Location() *time.Location {
	return d.loc
}

// Dispatch formats n and sends it to userID.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, n model.Notification) DeliveryResult {
	text := Format(n, d.loc)
	if err := d.notifier.Send(ctx, userID, text); err != nil {
		err = fmt.Errorf("deliver %s for event %s: %w", n.Kind, n.Event.ID, err)
		d.logger.Warn("delivery failed",
			"user", userID,
			"event", n.Event.ID,
			"kind", string(n.Kind),
			"error", err)
		return DeliveryResult{Notification: n, Err: err}
	}
	d.logger.Debug("delivered",
		"user", userID,
		"event", n.Event.ID,
		"kind", string(n.Kind))
	return DeliveryResult{Notification: n, Delivered: true}
}

// DispatchAll delivers a batch in order. A failed delivery does not stop the
// remaining ones.
func (d *Dispatcher) DispatchAll(ctx context.Context, userID string, batch []model.Notification) []DeliveryResult {
	results := make([]DeliveryResult, 0, len(batch))
	for _, n := range batch {
		results = append(results, d.Dispatch(ctx, userID, n))
	}
	return results
}

// SendText delivers a free-form message, used for command replies.
func (d *Dispatcher) SendText(ctx context.Context, userID, text string) error {
	return d.notifier.Send(ctx, userID, text)
}

// Failed returns the results that were not delivered.
func Failed(results []DeliveryResult) []DeliveryResult {
	var out []DeliveryResult
	for _, r := range results {
		if !r.Delivered {
			out = append(out, r)
		}
	}
	return out
}
