// Package presenter formats queue state and assistant prompts into the
// chat service's message/markup shape. It is a pure formatter: no
// network I/O, no locking, safe to call from under the AFK manager's
// lock as long as the caller sends the result outside that lock.
package presenter

import (
	"fmt"
	"strings"

	"github.com/afkbridge/afkd/internal/queue"
)

// MaxMessageChars mirrors the chat service's message size limit, with
// headroom reserved for the header/buttons/HTML the presenter adds on
// top of raw assistant text.
const MaxMessageChars = 3900

// Button is a single inline keyboard button.
type Button struct {
	Text         string
	CallbackData string
}

// Markup is an inline keyboard: rows of buttons.
type Markup struct {
	Rows [][]Button
}

// safeCallbackData truncates data to the chat service's 64-byte
// callback_data limit, trimming on a rune boundary.
func safeCallbackData(data string) string {
	if len(data) <= 64 {
		return data
	}
	n := 64
	for n > 0 && !isRuneStart(data[n]) {
		n--
	}
	return data[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// QueueInfo carries the display context the caller already knows about
// the queue (visual marker, counts) so Presenter never needs a back
// reference to the queue itself.
type QueueInfo struct {
	Visual        string
	QueueSize     int
	Position      int
	Total         int
	ActiveSession string
	ActiveKind    string
}

// Presenter formats queue entries into chat messages.
type Presenter struct{}

// New returns a ready-to-use Presenter.
func New() *Presenter { return &Presenter{} }

// FormatActive renders the currently active request: header, prompt,
// queue footer, and the buttons appropriate to its kind.
func (p *Presenter) FormatActive(req *queue.Request, info QueueInfo) (string, *Markup) {
	visual := info.Visual
	if visual == "" {
		visual = "🟢"
	}

	lines := []string{
		fmt.Sprintf("%s ACTIVE REQUEST", visual),
		"",
		fmt.Sprintf("[%s]", req.Session),
	}

	switch req.Kind {
	case queue.KindPermission:
		lines = append(lines, fmt.Sprintf("Permission: %s", req.Prompt))
	case queue.KindMultiChoice:
		lines = append(lines, req.Prompt)
	default:
		lines = append(lines, fmt.Sprintf("Assistant asks: %s", req.Prompt))
	}

	if info.QueueSize > 0 {
		plural := "request"
		if info.QueueSize != 1 {
			plural = "requests"
		}
		lines = append(lines, "", strings.Repeat("━", 17),
			fmt.Sprintf("Queue: %d more %s waiting", info.QueueSize, plural))
	}

	return strings.Join(lines, "\n"), p.requestButtons(req.Kind, info.QueueSize, req.Options)
}

func (p *Presenter) requestButtons(kind queue.Kind, queueSize int, options []queue.Option) *Markup {
	var rows [][]Button

	switch kind {
	case queue.KindPermission:
		rows = append(rows, []Button{
			{Text: "✓ Yes", CallbackData: "yes"},
			{Text: "✓ Always", CallbackData: "always"},
			{Text: "✗ No", CallbackData: "no"},
		})
	case queue.KindMultiChoice:
		for _, opt := range options {
			rows = append(rows, []Button{
				{Text: opt.Label, CallbackData: safeCallbackData("opt:" + opt.Label)},
			})
		}
		rows = append(rows, []Button{
			{Text: "💬 Other (type reply)", CallbackData: "opt:__other__"},
		})
	}

	if queueSize > 0 {
		rows = append(rows, []Button{
			{Text: "⏭️ Skip", CallbackData: "cmd:skip"},
			{Text: "👀 Show All", CallbackData: "cmd:show_queue"},
		})
	}

	if len(rows) == 0 {
		return nil
	}
	return &Markup{Rows: rows}
}

// FormatQueuedNotification renders the "your request was queued behind
// the current one" message sent when a request doesn't become active.
func (p *Presenter) FormatQueuedNotification(req *queue.Request, info QueueInfo) string {
	preview := req.Prompt
	if len(preview) > 100 {
		preview = preview[:100]
	}

	lines := []string{
		fmt.Sprintf("⏸️ QUEUED (position %d/%d) /queue", info.Position, info.Total),
		"",
		fmt.Sprintf("%s [%s]", info.Visual, req.Session),
		preview + "...",
		"",
		fmt.Sprintf("Current: [%s] %s", info.ActiveSession, info.ActiveKind),
	}
	return strings.Join(lines, "\n")
}

func formatWaiting(seconds int) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}

// FormatQueueSummary renders the full queue listing (/queue), one block
// per entry plus a management button for each.
func (p *Presenter) FormatQueueSummary(entries []queue.Entry) (string, *Markup) {
	if len(entries) == 0 {
		return "Queue is empty.", nil
	}

	lines := []string{fmt.Sprintf("📋 QUEUE (%d total)", len(entries)), ""}
	var rows [][]Button

	for _, e := range entries {
		wait := formatWaiting(e.WaitingSeconds)
		if e.Status == "active" {
			lines = append(lines,
				fmt.Sprintf("%s Active: [%s] %s", e.Visual, e.Request.Session, e.Request.Kind),
				fmt.Sprintf("  Waiting: %s", wait), "")
			rows = append(rows, []Button{
				{Text: fmt.Sprintf("%s [%s] Skip", e.Visual, e.Request.Session), CallbackData: "cmd:skip"},
			})
		} else {
			lines = append(lines,
				fmt.Sprintf("Position %d: %s [%s] %s", e.Position, e.Visual, e.Request.Session, e.Request.Kind),
				fmt.Sprintf("  Waiting: %s", wait), "")
			rows = append(rows, []Button{
				{
					Text:         fmt.Sprintf("%s [%s] Handle Now", e.Visual, e.Request.Session),
					CallbackData: safeCallbackData("cmd:priority:" + e.Request.Session),
				},
			})
		}
	}

	text := strings.TrimRight(strings.Join(lines, "\n"), "\n")
	var markup *Markup
	if len(rows) > 0 {
		markup = &Markup{Rows: rows}
	}
	return text, markup
}

// FormatContextMessage renders an out-of-band context update (the
// assistant's most recent output with no pending decision attached),
// with a Reply button that sets the reply target on the session.
func (p *Presenter) FormatContextMessage(session, visual, contextText string, hasTerminal bool) (string, *Markup) {
	indicator := ""
	if hasTerminal {
		indicator = " 🖥"
	}
	text := fmt.Sprintf("%s [%s]%s\n%s", visual, session, indicator, contextText)
	markup := &Markup{Rows: [][]Button{{
		{Text: "💬 Reply", CallbackData: safeCallbackData("reply:" + session)},
	}}}
	return text, markup
}

// MaxContextChars bounds a context snippet, separately from
// MaxMessageChars: a snippet is meant to be a glance at recent output,
// not the full message budget.
const MaxContextChars = 600

// MaxContextLines is the number of trailing lines kept from a context
// snippet.
const MaxContextLines = 5

// truncationEllipsis is prepended whenever TruncateContext drops lines
// or characters, signaling there is more than what's shown.
const truncationEllipsis = "…\n"

// TruncateContext keeps only the last MaxContextLines lines of text,
// then the last MaxContextChars characters of that, prepending an
// ellipsis whenever either bound actually cut something.
func TruncateContext(text string) string {
	truncated := false

	lines := strings.Split(text, "\n")
	if len(lines) > MaxContextLines {
		lines = lines[len(lines)-MaxContextLines:]
		truncated = true
	}
	kept := strings.Join(lines, "\n")

	if runes := []rune(kept); len(runes) > MaxContextChars {
		kept = string(runes[len(runes)-MaxContextChars:])
		truncated = true
	}

	if truncated {
		return truncationEllipsis + kept
	}
	return kept
}
