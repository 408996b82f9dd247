// Package router decodes callback_data strings from the chat service's
// inline keyboard buttons into a typed CallbackData value, and resolves
// which pending queue.Request (if any) a button press or free-text
// message should be routed to.
package router

import (
	"strings"

	"github.com/afkbridge/afkd/internal/queue"
)

// Kind identifies the shape of a decoded CallbackData.
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionYes
	KindPermissionAlways
	KindPermissionNo
	KindOptionLabel
	KindOptionOther
	KindReply
	KindCmdSkip
	KindCmdShowQueue
	KindCmdPriority
	KindTmuxPrompt
	KindTmuxQueue
)

// CallbackData is the decoded form of a button's callback_data string.
type CallbackData struct {
	Kind    Kind
	Raw     string
	Label   string // KindOptionLabel
	Session string // KindReply, KindCmdPriority, KindTmuxPrompt, KindTmuxQueue
}

// ParseCallbackData decodes a raw callback_data string into its typed
// form. Unrecognized prefixes decode to KindUnknown with Raw populated
// so the caller can still answer the callback and log it.
func ParseCallbackData(data string) CallbackData {
	switch {
	case data == "yes":
		return CallbackData{Kind: KindPermissionYes, Raw: data}
	case data == "always":
		return CallbackData{Kind: KindPermissionAlways, Raw: data}
	case data == "no":
		return CallbackData{Kind: KindPermissionNo, Raw: data}
	case data == "opt:__other__":
		return CallbackData{Kind: KindOptionOther, Raw: data}
	case strings.HasPrefix(data, "opt:"):
		return CallbackData{Kind: KindOptionLabel, Raw: data, Label: strings.TrimPrefix(data, "opt:")}
	case strings.HasPrefix(data, "reply:"):
		return CallbackData{Kind: KindReply, Raw: data, Session: strings.TrimPrefix(data, "reply:")}
	case data == "cmd:skip":
		return CallbackData{Kind: KindCmdSkip, Raw: data}
	case data == "cmd:show_queue":
		return CallbackData{Kind: KindCmdShowQueue, Raw: data}
	case strings.HasPrefix(data, "cmd:priority:"):
		return CallbackData{Kind: KindCmdPriority, Raw: data, Session: strings.TrimPrefix(data, "cmd:priority:")}
	case strings.HasPrefix(data, "tmux:prompt:"):
		return CallbackData{Kind: KindTmuxPrompt, Raw: data, Session: strings.TrimPrefix(data, "tmux:prompt:")}
	case strings.HasPrefix(data, "tmux:queue:"):
		return CallbackData{Kind: KindTmuxQueue, Raw: data, Session: strings.TrimPrefix(data, "tmux:queue:")}
	default:
		return CallbackData{Kind: KindUnknown, Raw: data}
	}
}

// Router resolves button presses and free-text messages to a pending
// queue.Request. The current implementation routes to the active
// request only — matching the single-chat, queue-based design; a
// per-session chat topic implementation could route independently per
// session without changing this interface.
type Router struct {
	queue *queue.Queue
}

// New returns a Router bound to q.
func New(q *queue.Queue) *Router {
	return &Router{queue: q}
}

// RouteButtonPress returns the active request if messageID matches the
// message the active request was last presented under, else nil — a
// stale callback (the message is no longer the active one) has no
// request to route to.
func (r *Router) RouteButtonPress(messageID int) *queue.Request {
	active := r.queue.Active()
	if active == nil || active.RemoteMessageID == nil {
		return nil
	}
	if *active.RemoteMessageID != messageID {
		return nil
	}
	return active
}

// RouteTextMessage returns the active request, or nil if the queue is
// idle. Free text always targets whatever is currently active; there
// is no separate addressing scheme for text replies.
func (r *Router) RouteTextMessage() *queue.Request {
	return r.queue.Active()
}
