// Package notify delivers text to users over a messaging channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// ErrNoToken is returned when the bot token is empty.
var ErrNoToken = errors.New("telegram bot token is empty")

// APIError is a non-OK Bot API response.
type APIError struct {
	Method      string
	ErrorCode   int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.ErrorCode, e.Description)
}

// Telegram sends messages through the Telegram Bot API. User ids are chat ids.
type Telegram struct {
	token   string
	baseURL string
	client  *http.Client
	api     *tgbotapi.BotAPI
}

// TelegramOption configures a Telegram client.
type TelegramOption func(*Telegram)

// WithAPIURL overrides the Bot API root.
func WithAPIURL(u string) TelegramOption {
	return func(t *Telegram) {
		if u != "" {
			t.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithClient sets the HTTP client.
func WithClient(c *http.Client) TelegramOption {
	return func(t *Telegram) {
		t.client = c
	}
}

// NewTelegram creates a Bot API client. No request is made until the first
// Send or GetUpdates, so a bad token surfaces there.
func NewTelegram(token string, opts ...TelegramOption) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoToken
	}
	t := &Telegram{
		token:   token,
		baseURL: DefaultTelegramAPI,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}

	// tgbotapi.NewBotAPI calls getMe; construct directly to stay offline.
	t.api = &tgbotapi.BotAPI{Token: token, Client: t.client, Buffer: 100}
	t.api.SetAPIEndpoint(t.baseURL + "/bot%s/%s")
	return t, nil
}

// Send delivers an HTML-formatted message to the chat identified by userID.
func (t *Telegram) Send(ctx context.Context, userID, text string) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", userID, err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err = withContext(ctx, func() (tgbotapi.Message, error) {
		return t.api.Send(msg)
	})
	return apiError("sendMessage", err)
}

// Update is an incoming bot update. Only text messages are kept.
type Update struct {
	UpdateID int64
	Message  *Message
}

// Message is an incoming text message.
type Message struct {
	MessageID int64
	Chat      struct {
		ID int64
	}
	Username string
	Text     string
}

// ChatID returns the message's chat id as a user id string.
func (m *Message) ChatID() string {
	return strconv.FormatInt(m.Chat.ID, 10)
}

// GetUpdates long-polls for updates after offset.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	cfg := tgbotapi.NewUpdate(int(offset))
	cfg.Timeout = int(timeout / time.Second)
	cfg.AllowedUpdates = []string{"message"}

	raw, err := withContext(ctx, func() ([]tgbotapi.Update, error) {
		return t.api.GetUpdates(cfg)
	})
	if err != nil {
		return nil, apiError("getUpdates", err)
	}

	updates := make([]Update, 0, len(raw))
	for _, u := range raw {
		updates = append(updates, fromAPI(u))
	}
	return updates, nil
}

func fromAPI(u tgbotapi.Update) Update {
	out := Update{UpdateID: int64(u.UpdateID)}
	if u.Message == nil || u.Message.Chat == nil {
		return out
	}
	m := &Message{MessageID: int64(u.Message.MessageID), Text: u.Message.Text}
	m.Chat.ID = u.Message.Chat.ID
	if u.Message.From != nil {
		m.Username = u.Message.From.UserName
	}
	out.Message = m
	return out
}

// withContext runs a blocking Bot API call and returns early when ctx ends.
// The library has no context support; an abandoned call finishes on its own
// within the client timeout.
func withContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.v, r.err
	}
}

// apiError converts library errors. The token is part of the request URL, so
// it is stripped from transport errors.
func apiError(method string, err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return &APIError{
			Method:      method,
			ErrorCode:   tgErr.Code,
			Description: tgErr.Message,
			RetryAfter:  tgErr.RetryAfter,
		}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("telegram %s: %w", method, uerr.Err)
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}
