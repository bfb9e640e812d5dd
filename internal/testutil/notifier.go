package testutil

import (
	"context"
	"sync"
)

// Message is a message captured by RecordingNotifier.
type Message struct {
	UserID string
	Text   string
}

// RecordingNotifier captures sent messages and can be told to fail.
type RecordingNotifier struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// NewRecordingNotifier creates a notifier with no messages.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// Send records the message, or returns the configured error.
func (n *RecordingNotifier) Send(_ context.Context, userID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, Message{UserID: userID, Text: text})
	return nil
}

// FailWith makes subsequent sends fail. A nil err restores delivery.
func (n *RecordingNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Messages returns a copy of the recorded messages.
func (n *RecordingNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages...)
}

// Clear drops recorded messages.
func (n *RecordingNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = nil
}
