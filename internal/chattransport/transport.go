// Package chattransport implements the Chat Transport component: a
// thin wrapper over a Telegram-shaped bot API that sends messages, edits
// button markup, acknowledges callback presses, and long-polls for
// incoming updates with a consecutive-error backoff.
package chattransport

import (
	"context"

	"github.com/afkbridge/afkd/internal/presenter"
)

// ButtonPress is an inline-keyboard callback update.
type ButtonPress struct {
	CallbackID string
	Data       string
	MessageID  int
}

// TextMessage is a plain chat message update.
type TextMessage struct {
	Text string
}

// Transport is the Chat Transport interface the AFK manager depends on.
// Implementations must make Poll interruptible: Stop must cause a
// blocked long-poll to return within a few seconds, not wait out the
// remote long-poll timeout.
type Transport interface {
	Verify(ctx context.Context) error
	Send(ctx context.Context, text string, markup *presenter.Markup) (messageID int, err error)
	EditMarkup(ctx context.Context, messageID int, markup *presenter.Markup) error
	AckCallback(ctx context.Context, callbackID, toast string) error
	DeleteMessage(ctx context.Context, messageID int) error
	Poll(ctx context.Context) (<-chan ButtonPress, <-chan TextMessage, <-chan error)
	Stop()
}
