package afk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/afkbridge/afkd/internal/chattransport"
	"github.com/afkbridge/afkd/internal/hookrendezvous"
	"github.com/afkbridge/afkd/internal/permcache"
	"github.com/afkbridge/afkd/internal/presenter"
	"github.com/afkbridge/afkd/internal/queue"
	"github.com/afkbridge/afkd/internal/router"
)

// fakeTransport is a recording stand-in for chattransport.Transport: no
// network, just enough bookkeeping to assert what the manager sent.
type fakeTransport struct {
	nextID   int
	sent     []string
	stripped []int
	acks     []string
}

func (f *fakeTransport) Verify(ctx context.Context) error { return nil }

func (f *fakeTransport) Send(ctx context.Context, text string, markup *presenter.Markup) (int, error) {
	f.nextID++
	f.sent = append(f.sent, text)
	return f.nextID, nil
}

func (f *fakeTransport) EditMarkup(ctx context.Context, messageID int, markup *presenter.Markup) error {
	f.stripped = append(f.stripped, messageID)
	return nil
}

func (f *fakeTransport) AckCallback(ctx context.Context, callbackID, toast string) error {
	f.acks = append(f.acks, toast)
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, messageID int) error { return nil }

func (f *fakeTransport) Poll(ctx context.Context) (<-chan chattransport.ButtonPress, <-chan chattransport.TextMessage, <-chan error) {
	return nil, nil, nil
}

func (f *fakeTransport) Stop() {}

func (f *fakeTransport) lastMessageID() int { return f.nextID }

func newTestManager(t *testing.T) (*Manager, *fakeTransport) {
	t.Helper()
	q := queue.New()
	tr := &fakeTransport{}
	m := New(Config{
		Transport:   tr,
		Presenter:   presenter.New(),
		Router:      router.New(q),
		Queue:       q,
		ResponseDir: t.TempDir(),
	})
	if err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	tr.sent = nil // drop the activation banner so test assertions start clean
	return m, tr
}

func readSentinel(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sentinel %s: %v", path, err)
	}
	return string(b)
}

// Scenario 1: a single permission prompt, approved with the Yes button.
func TestPermissionApprovedWritesYesAndStripsButtons(t *testing.T) {
	m, tr := newTestManager(t)

	resp := m.HandleHookRequest(hookrendezvous.Request{
		Session: "work", Type: "permission", Prompt: "Allow rm -rf /tmp/scratch?",
	})
	if !resp.Wait || resp.ResponsePath == "" {
		t.Fatalf("got %+v, want Wait=true with a response path", resp)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("got %d sent messages, want 1", len(tr.sent))
	}

	msgID := tr.lastMessageID()
	m.HandleButtonPress(chattransport.ButtonPress{CallbackID: "cb1", Data: "yes", MessageID: msgID})

	if got := readSentinel(t, resp.ResponsePath); got != "yes" {
		t.Fatalf("sentinel = %q, want \"yes\"", got)
	}
	if len(tr.stripped) != 1 || tr.stripped[0] != msgID {
		t.Fatalf("stripped = %v, want [%d]", tr.stripped, msgID)
	}
}

// Scenario 2: session A is active, session B queues behind it; skipping
// twice cycles back to A.
func TestSkipCyclesBetweenTwoQueuedSessions(t *testing.T) {
	m, tr := newTestManager(t)

	respA := m.HandleHookRequest(hookrendezvous.Request{Session: "a", Type: "input", Prompt: "continue?"})
	respB := m.HandleHookRequest(hookrendezvous.Request{Session: "b", Type: "input", Prompt: "continue too?"})

	if m.queue.Active().Session != "a" {
		t.Fatalf("active session = %s, want a", m.queue.Active().Session)
	}
	if m.queue.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", m.queue.Len())
	}

	if err := m.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if m.queue.Active().Session != "b" {
		t.Fatalf("after first skip, active = %s, want b", m.queue.Active().Session)
	}

	if err := m.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if m.queue.Active().Session != "a" {
		t.Fatalf("after second skip, active = %s, want a", m.queue.Active().Session)
	}

	_ = respA
	_ = respB
	_ = tr
}

// Scenario 3: priority jump promotes the first pending request from a
// session ahead of whatever else is queued, sending the prior active
// request to the tail.
func TestPriorityJumpPromotesFirstPendingFromSession(t *testing.T) {
	m, _ := newTestManager(t)

	m.HandleHookRequest(hookrendezvous.Request{Session: "a", Type: "input", Prompt: "a-first"})
	m.HandleHookRequest(hookrendezvous.Request{Session: "b", Type: "input", Prompt: "b-first"})
	m.HandleHookRequest(hookrendezvous.Request{Session: "a", Type: "input", Prompt: "a-second"})
	m.HandleHookRequest(hookrendezvous.Request{Session: "c", Type: "input", Prompt: "c-first"})

	if err := m.PriorityJump("a"); err != nil {
		t.Fatalf("PriorityJump: %v", err)
	}

	active := m.queue.Active()
	if active == nil || active.Prompt != "a-second" {
		t.Fatalf("active = %+v, want the second request from a", active)
	}

	entries := m.queue.Summary()
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	if entries[len(entries)-1].Request.Prompt != "a-first" {
		t.Fatalf("tail entry = %+v, want the original active request pushed to the back", entries[len(entries)-1])
	}
}

// Scenario 4: deactivating flushes every pending request and rejects
// further replies.
func TestDeactivateFlushesPendingRequests(t *testing.T) {
	m, tr := newTestManager(t)

	respA := m.HandleHookRequest(hookrendezvous.Request{Session: "a", Type: "input", Prompt: "first"})
	respB := m.HandleHookRequest(hookrendezvous.Request{Session: "b", Type: "input", Prompt: "second"})

	if err := m.Deactivate(); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	if got := readSentinel(t, respA.ResponsePath); got != "__flush__" {
		t.Fatalf("a sentinel = %q, want __flush__", got)
	}
	if got := readSentinel(t, respB.ResponsePath); got != "__flush__" {
		t.Fatalf("b sentinel = %q, want __flush__", got)
	}

	found := false
	for _, s := range tr.sent {
		if s == "\U0001f534 AFK mode deactivated. Flushed 2 pending request(s)." {
			found = true
		}
	}
	if !found {
		t.Fatalf("sent messages = %v, want one announcing the flush count", tr.sent)
	}

	tr.sent = nil
	m.HandleTextMessage(chattransport.TextMessage{Text: "hello?"})
	if len(tr.sent) != 1 || tr.sent[0] != "Not in AFK mode. Send /afk to activate." {
		t.Fatalf("got %v, want the not-in-AFK-mode notice", tr.sent)
	}
}

// Scenario 5: picking "Other" on a multi-choice prompt does not dequeue
// it; the follow-up free-text answer does.
func TestMultiChoiceOtherWaitsForFreeText(t *testing.T) {
	m, tr := newTestManager(t)

	resp := m.HandleHookRequest(hookrendezvous.Request{
		Session: "work",
		Type:    "ask_user_question",
		Prompt:  "Which color?",
		Questions: []hookrendezvous.Question{{Options: []hookrendezvous.QuestionOption{
			{Label: "Red"}, {Label: "Blue"},
		}}},
	})

	msgID := tr.lastMessageID()
	m.HandleButtonPress(chattransport.ButtonPress{CallbackID: "cb1", Data: "opt:__other__", MessageID: msgID})

	if m.queue.Active() == nil {
		t.Fatalf("active request was dequeued by picking Other, want it to remain pending a free-text reply")
	}
	if _, err := os.Stat(resp.ResponsePath); err == nil {
		t.Fatalf("sentinel was written before any free text was sent")
	}

	m.HandleTextMessage(chattransport.TextMessage{Text: "Purple"})

	if got := readSentinel(t, resp.ResponsePath); got != "Purple" {
		t.Fatalf("sentinel = %q, want \"Purple\"", got)
	}
	if m.queue.Active() != nil {
		t.Fatalf("queue should be empty after the free-text answer was delivered")
	}
}

// Scenario 6: a button press against a message that is no longer the
// active request's message is a stale callback: acked as expired,
// buttons stripped, nothing written.
func TestStaleCallbackIsAckedAndIgnored(t *testing.T) {
	m, tr := newTestManager(t)

	resp := m.HandleHookRequest(hookrendezvous.Request{Session: "work", Type: "permission", Prompt: "Allow?"})
	staleMsgID := tr.lastMessageID()

	m.HandleButtonPress(chattransport.ButtonPress{CallbackID: "cb1", Data: "yes", MessageID: staleMsgID})
	if got := readSentinel(t, resp.ResponsePath); got != "yes" {
		t.Fatalf("sentinel = %q, want \"yes\"", got)
	}

	tr.acks = nil
	tr.stripped = nil
	m.HandleButtonPress(chattransport.ButtonPress{CallbackID: "cb2", Data: "yes", MessageID: staleMsgID})

	if len(tr.acks) != 1 || tr.acks[0] != "Request expired" {
		t.Fatalf("acks = %v, want [\"Request expired\"]", tr.acks)
	}
	if len(tr.stripped) != 1 || tr.stripped[0] != staleMsgID {
		t.Fatalf("stripped = %v, want [%d]", tr.stripped, staleMsgID)
	}
}

func TestFlushWithEmptyQueueIsANoOp(t *testing.T) {
	m, _ := newTestManager(t)
	n, err := m.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
}

func TestResponsePathsAreSessionScoped(t *testing.T) {
	m, _ := newTestManager(t)
	resp := m.HandleHookRequest(hookrendezvous.Request{Session: "sess-1", Type: "input", Prompt: "hi"})
	if filepath.Base(filepath.Dir(resp.ResponsePath)) != "sess-1" {
		t.Fatalf("response path = %s, want it scoped under sess-1", resp.ResponsePath)
	}
}

// The Always button stores a permission rule so a future identical
// prompt is auto-approved without round-tripping through chat.
func TestAlwaysButtonStoresPermCacheRuleAndFutureLookupHits(t *testing.T) {
	q := queue.New()
	tr := &fakeTransport{}
	cache, err := permcache.Open(filepath.Join(t.TempDir(), "permcache.db"))
	if err != nil {
		t.Fatalf("permcache.Open: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	m := New(Config{
		Transport:   tr,
		Presenter:   presenter.New(),
		Router:      router.New(q),
		Queue:       q,
		PermCache:   cache,
		ResponseDir: t.TempDir(),
	})
	if err := m.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	tr.sent = nil

	const prompt = "Allow rm -rf /tmp/scratch?"
	resp := m.HandleHookRequest(hookrendezvous.Request{Session: "work", Type: "permission", Prompt: prompt})
	if !resp.Wait {
		t.Fatalf("got %+v, want Wait=true", resp)
	}

	msgID := tr.lastMessageID()
	m.HandleButtonPress(chattransport.ButtonPress{CallbackID: "cb1", Data: "always", MessageID: msgID})

	if got := readSentinel(t, resp.ResponsePath); got != "always" {
		t.Fatalf("sentinel = %q, want \"always\"", got)
	}

	fp := permcache.Fingerprint(prompt)
	found, err := cache.Lookup(fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatal("expected StoreAlways to have recorded the fingerprint")
	}

	// A later identical prompt on a new hook call should be auto-approved
	// from the cache, with no chat round trip.
	before := len(tr.sent)
	resp2 := m.HandleHookRequest(hookrendezvous.Request{Session: "work", Type: "permission", Prompt: prompt})
	if !resp2.Wait || resp2.ResponsePath == "" {
		t.Fatalf("got %+v, want an immediate Wait=true response", resp2)
	}
	if len(tr.sent) != before {
		t.Fatalf("expected no new chat message for a cache hit, sent grew from %d to %d", before, len(tr.sent))
	}
	if got := readSentinel(t, resp2.ResponsePath); got != "yes" {
		t.Fatalf("sentinel = %q, want \"yes\"", got)
	}
}
