package chattransport

import (
	"context"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/afkbridge/afkd/internal/presenter"
)

// defaultMaxConsecutivePollErrors mirrors the original poller's give-up
// threshold: after this many consecutive failures, the poll loop stops
// and reports the error upstream instead of retrying forever.
const defaultMaxConsecutivePollErrors = 5

// defaultPollBackoffCap bounds the exponential backoff between retries.
const defaultPollBackoffCap = 30 * time.Second

// longPollSeconds is the Telegram getUpdates long-poll timeout.
const longPollSeconds = 10

// BotTransport implements Transport over a Telegram bot token, matching
// the behavior of the original's TelegramClient but using the bot API
// SDK instead of hand-rolled HTTP calls.
type BotTransport struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	offset int

	maxConsecutiveErrors int
	backoffCap           time.Duration

	stopCh chan struct{}
}

// New constructs a BotTransport for the given bot token and chat id,
// with the default error-streak and backoff limits. Use NewWithLimits to
// override them.
func New(token string, chatID int64) (*BotTransport, error) {
	return NewWithLimits(token, chatID, defaultMaxConsecutivePollErrors, defaultPollBackoffCap)
}

// NewWithLimits constructs a BotTransport with a configurable
// consecutive-poll-error streak and backoff cap. A zero maxConsecutiveErrors
// or backoffCap falls back to the default.
func NewWithLimits(token string, chatID int64, maxConsecutiveErrors int, backoffCap time.Duration) (*BotTransport, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("chattransport: create bot: %w", err)
	}
	if maxConsecutiveErrors <= 0 {
		maxConsecutiveErrors = defaultMaxConsecutivePollErrors
	}
	if backoffCap <= 0 {
		backoffCap = defaultPollBackoffCap
	}
	return &BotTransport{
		bot:                  bot,
		chatID:               chatID,
		maxConsecutiveErrors: maxConsecutiveErrors,
		backoffCap:           backoffCap,
		stopCh:               make(chan struct{}),
	}, nil
}

// Verify confirms the bot token is valid and reachable.
func (t *BotTransport) Verify(ctx context.Context) error {
	if _, err := t.bot.GetMe(); err != nil {
		return fmt.Errorf("chattransport: verify: %w", err)
	}
	return nil
}

func toInlineKeyboard(m *presenter.Markup) *tgbotapi.InlineKeyboardMarkup {
	if m == nil || len(m.Rows) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(m.Rows))
	for _, row := range m.Rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
		}
		rows = append(rows, buttons)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// Send posts text (HTML parse mode) with an optional inline keyboard,
// returning the chat service's message id.
func (t *BotTransport) Send(ctx context.Context, text string, markup *presenter.Markup) (int, error) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if kb := toInlineKeyboard(markup); kb != nil {
		msg.ReplyMarkup = kb
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("chattransport: send: %w", err)
	}
	return sent.MessageID, nil
}

// EditMarkup replaces (or, with a nil markup, clears) the inline
// keyboard attached to messageID. Used to remove buttons once a
// request has been answered, so a stale button press has nothing left
// to route to.
func (t *BotTransport) EditMarkup(ctx context.Context, messageID int, markup *presenter.Markup) error {
	kb := toInlineKeyboard(markup)
	if kb == nil {
		empty := tgbotapi.NewInlineKeyboardMarkup()
		kb = &empty
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(t.chatID, messageID, *kb)
	if _, err := t.bot.Request(edit); err != nil {
		return fmt.Errorf("chattransport: edit markup: %w", err)
	}
	return nil
}

// AckCallback acknowledges a button press with an optional toast.
func (t *BotTransport) AckCallback(ctx context.Context, callbackID, toast string) error {
	cb := tgbotapi.NewCallback(callbackID, toast)
	if _, err := t.bot.Request(cb); err != nil {
		return fmt.Errorf("chattransport: ack callback: %w", err)
	}
	return nil
}

// DeleteMessage removes a previously sent message.
func (t *BotTransport) DeleteMessage(ctx context.Context, messageID int) error {
	del := tgbotapi.NewDeleteMessage(t.chatID, messageID)
	if _, err := t.bot.Request(del); err != nil {
		return fmt.Errorf("chattransport: delete message: %w", err)
	}
	return nil
}

// Poll starts the long-poll loop in a goroutine and returns channels
// delivering button presses, text messages, and poll errors. The loop
// exits, closing all three channels, when ctx is cancelled or Stop is
// called.
func (t *BotTransport) Poll(ctx context.Context) (<-chan ButtonPress, <-chan TextMessage, <-chan error) {
	buttons := make(chan ButtonPress)
	messages := make(chan TextMessage)
	errs := make(chan error, 1)

	go t.pollLoop(ctx, buttons, messages, errs)

	return buttons, messages, errs
}

func (t *BotTransport) pollLoop(ctx context.Context, buttons chan<- ButtonPress, messages chan<- TextMessage, errs chan<- error) {
	defer close(buttons)
	defer close(messages)
	defer close(errs)

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		default:
		}

		u := tgbotapi.NewUpdate(t.offset)
		u.Timeout = longPollSeconds

		done := make(chan struct{})
		var updates []tgbotapi.Update
		var err error
		go func() {
			updates, err = t.bot.GetUpdates(u)
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		}
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= t.maxConsecutiveErrors {
				errs <- fmt.Errorf("chattransport: too many consecutive poll errors: %w", err)
				return
			}
			backoff := time.Duration(1<<uint(consecutiveErrors)) * time.Second
			if backoff > t.backoffCap {
				backoff = t.backoffCap
			}
			log.Printf("afkd: chattransport poll error (%d/%d): %v", consecutiveErrors, t.maxConsecutiveErrors, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			}
			continue
		}

		consecutiveErrors = 0
		for _, u := range updates {
			t.offset = u.UpdateID + 1
			t.dispatch(u, buttons, messages)
		}
	}
}

func (t *BotTransport) dispatch(u tgbotapi.Update, buttons chan<- ButtonPress, messages chan<- TextMessage) {
	if u.CallbackQuery != nil {
		cb := u.CallbackQuery
		if cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != t.chatID {
			return
		}
		buttons <- ButtonPress{CallbackID: cb.ID, Data: cb.Data, MessageID: cb.Message.MessageID}
		return
	}
	if u.Message != nil {
		if u.Message.Chat == nil || u.Message.Chat.ID != t.chatID {
			return
		}
		if u.Message.Text != "" {
			messages <- TextMessage{Text: u.Message.Text}
		}
	}
}

// Stop interrupts the poll loop, causing a blocked GetUpdates call to
// be abandoned rather than waited out.
func (t *BotTransport) Stop() {
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
	t.bot.StopReceivingUpdates()
}
