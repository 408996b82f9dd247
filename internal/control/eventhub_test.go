package control

import "testing"

func TestPublishDeliversToSubscriber(t *testing.T) {
	h := NewEventHub()
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	h.Publish(ModeChangedEvent(true))

	select {
	case got := <-ch:
		if string(got) == "" {
			t.Fatalf("expected non-empty payload")
		}
	default:
		t.Fatalf("expected buffered event to be immediately available")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewEventHub()
	ch, unsubscribe := h.Subscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	h := NewEventHub()
	h.Publish(ModeChangedEvent(false)) // must not panic or block
}

func TestPublishNonBlockingOnFullSubscriberBuffer(t *testing.T) {
	h := NewEventHub()
	ch, unsubscribe := h.Subscribe()
	defer unsubscribe()

	for i := 0; i < clientBuffer+10; i++ {
		h.Publish(QueueChangedEvent(i, "work"))
	}
	if len(ch) != clientBuffer {
		t.Fatalf("expected channel to stay at buffer cap, got %d", len(ch))
	}
}
