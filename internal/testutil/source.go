package testutil

import (
	"context"
	"sync"

	"github.com/roach88/meetwatch/internal/model"
)

// FakeSource is an in-memory calendar keyed by user.
//
// Events are returned as configured, without window filtering, so tests
// control exactly what a poll sees.
type FakeSource struct {
	mu      sync.Mutex
	events  map[string][]model.RawEvent
	errs    map[string]error
	windows map[string][]model.Window
}

// NewFakeSource creates an empty source.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		events:  make(map[string][]model.RawEvent),
		errs:    make(map[string]error),
		windows: make(map[string][]model.Window),
	}
}

// SetEvents replaces the user's calendar.
func (s *FakeSource) SetEvents(userID string, events ...model.RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[userID] = append([]model.RawEvent(nil), events...)
}

// Fail makes every fetch for the user return err. A nil err clears it.
func (s *FakeSource) Fail(userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, userID)
		return
	}
	s.errs[userID] = err
}

// ListEvents returns the configured events or error.
func (s *FakeSource) ListEvents(_ context.Context, userID string, w model.Window) ([]model.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[userID] = append(s.windows[userID], w)
	if err := s.errs[userID]; err != nil {
		return nil, err
	}
	return append([]model.RawEvent(nil), s.events[userID]...), nil
}

// Windows returns the windows requested for the user, in call order.
func (s *FakeSource) Windows(userID string) []model.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Window(nil), s.windows[userID]...)
}
