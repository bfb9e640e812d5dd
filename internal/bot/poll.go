package bot

import (
	"context"
	"time"

	"github.com/roach88/meetwatch/internal/dispatch"
	"github.com/roach88/meetwatch/internal/notify"
)

// Updates is a source of incoming chat messages.
type Updates interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]notify.Update, error)
}

// PollTimeout is the long-poll timeout passed to GetUpdates.
const PollTimeout = 30 * time.Second

// Poll answers incoming commands until ctx is done. Errors from the update
// source are logged and retried after a backoff.
func (b *Bot) Poll(ctx context.Context, updates Updates, reply dispatch.Notifier) error {
	var offset int64
	backoff := time.Second

	for {
		batch, err := updates.GetUpdates(ctx, offset, PollTimeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			b.logger.Warn("get updates failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, time.Minute)
			continue
		}
		backoff = time.Second

		for _, u := range batch {
			offset = max(offset, u.UpdateID+1)
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			userID := u.Message.ChatID()
			text := b.Handle(ctx, userID, u.Message.Text)
			if err := reply.Send(ctx, userID, text); err != nil {
				b.logger.Warn("reply failed", "user", userID, "error", err)
			}
		}
	}
}
