package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Writer prints messages to an io.Writer. Used by the CLI when no bot token
// is configured, and by dry runs.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a Writer notifier.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Send implements the notifier contract.
func (n *Writer) Send(_ context.Context, userID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, "[%s]\n%s\n\n", userID, text)
	return err
}
