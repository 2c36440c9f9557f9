package eventbus

import (
	"testing"
)

func TestSubscribeFiltersByPrefix(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	deliveries, unsubDel := b.Subscribe(4, "delivery.")
	defer unsubDel()

	b.Publish(Event{Type: JobRegistered})
	b.Publish(Event{Type: DeliveryFailed})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(deliveries); got != 1 {
		t.Fatalf("delivery subscriber got %d events, want 1", got)
	}
	e := <-deliveries
	if e.Type != DeliveryFailed {
		t.Fatalf("event type = %q, want %q", e.Type, DeliveryFailed)
	}
	if e.Time.IsZero() {
		t.Fatalf("event time not stamped")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if got := len(ch); got != 1 {
		t.Fatalf("buffered = %d, want 1", got)
	}
	if e := <-ch; e.Type != "a" {
		t.Fatalf("kept %q, want first event", e.Type)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
}
