package presenter

import (
	"strings"
	"testing"

	"github.com/afkbridge/afkd/internal/queue"
)

func TestFormatActivePermissionHasYesAlwaysNo(t *testing.T) {
	p := New()
	req := &queue.Request{Session: "work", Kind: queue.KindPermission, Prompt: "rm -rf build/"}
	text, markup := p.FormatActive(req, QueueInfo{Visual: "🟢"})

	if !strings.Contains(text, "[work]") || !strings.Contains(text, "rm -rf build/") {
		t.Fatalf("text missing session/prompt: %q", text)
	}
	if markup == nil || len(markup.Rows) == 0 {
		t.Fatalf("expected permission buttons")
	}
	got := markup.Rows[0]
	if len(got) != 3 || got[0].CallbackData != "yes" || got[1].CallbackData != "always" || got[2].CallbackData != "no" {
		t.Fatalf("unexpected permission buttons: %+v", got)
	}
}

func TestFormatActiveMultiChoiceIncludesOtherButton(t *testing.T) {
	p := New()
	req := &queue.Request{
		Session: "work", Kind: queue.KindMultiChoice, Prompt: "pick one",
		Options: []queue.Option{{Label: "A"}, {Label: "B"}},
	}
	_, markup := p.FormatActive(req, QueueInfo{})
	if markup == nil {
		t.Fatalf("expected markup")
	}
	last := markup.Rows[len(markup.Rows)-1]
	if last[0].CallbackData != "opt:__other__" {
		t.Fatalf("expected trailing Other button, got %+v", last)
	}
}

func TestFormatActiveAddsQueueManagementWhenQueued(t *testing.T) {
	p := New()
	req := &queue.Request{Session: "work", Kind: queue.KindPermission, Prompt: "x"}
	text, markup := p.FormatActive(req, QueueInfo{QueueSize: 2})
	if !strings.Contains(text, "2 more requests waiting") {
		t.Fatalf("expected queue footer, got %q", text)
	}
	last := markup.Rows[len(markup.Rows)-1]
	if last[0].CallbackData != "cmd:skip" {
		t.Fatalf("expected skip button when queue is non-empty, got %+v", last)
	}
}

func TestSafeCallbackDataTruncatesAt64Bytes(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := safeCallbackData("opt:" + long)
	if len(got) > 64 {
		t.Fatalf("callback data exceeds 64 bytes: %d", len(got))
	}
}

func TestFormatQueueSummaryEmpty(t *testing.T) {
	p := New()
	text, markup := p.FormatQueueSummary(nil)
	if text != "Queue is empty." || markup != nil {
		t.Fatalf("got (%q, %v)", text, markup)
	}
}

func TestToChatHTMLBoldAndCode(t *testing.T) {
	out := ToChatHTML("**bold** and `code`")
	if !strings.Contains(out, "<b>bold</b>") {
		t.Fatalf("expected bold tag, got %q", out)
	}
	if !strings.Contains(out, "<code>code</code>") {
		t.Fatalf("expected code tag, got %q", out)
	}
}

func TestToChatHTMLEscapesEntities(t *testing.T) {
	out := ToChatHTML("a < b & c > d")
	if !strings.Contains(out, "&lt;") || !strings.Contains(out, "&amp;") || !strings.Contains(out, "&gt;") {
		t.Fatalf("expected escaped entities, got %q", out)
	}
}

func TestTruncateContextShortTextPassesThrough(t *testing.T) {
	got := TruncateContext("one\ntwo\nthree")
	if got != "one\ntwo\nthree" {
		t.Fatalf("expected no truncation, got %q", got)
	}
}

func TestTruncateContextKeepsLastFiveLinesWithEllipsis(t *testing.T) {
	lines := []string{"l1", "l2", "l3", "l4", "l5", "l6", "l7"}
	got := TruncateContext(strings.Join(lines, "\n"))
	want := "…\nl3\nl4\nl5\nl6\nl7"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTruncateContextBoundsCharCountWithEllipsis(t *testing.T) {
	long := strings.Repeat("x", MaxContextChars+50)
	got := TruncateContext(long)
	if !strings.HasPrefix(got, "…\n") {
		t.Fatalf("expected leading ellipsis, got prefix %q", got[:10])
	}
	if len(got)-len(truncationEllipsis) != MaxContextChars {
		t.Fatalf("expected %d kept chars, got %d", MaxContextChars, len(got)-len(truncationEllipsis))
	}
	if !strings.HasSuffix(got, strings.Repeat("x", 10)) {
		t.Fatalf("expected suffix of original text preserved, got %q", got[len(got)-10:])
	}
}
