package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeMissesEventsPublishedBeforeIt(t *testing.T) {
	b := New(8)
	b.Publish(Event{Kind: KindAppServer, Payload: "before"})

	sub := b.Subscribe()
	b.Publish(Event{Kind: KindAppServer, Payload: "after"})

	ev, closed, lagged := sub.Next()
	if closed || lagged {
		t.Fatalf("unexpected closed=%v lagged=%v", closed, lagged)
	}
	if ev.Payload != "after" {
		t.Errorf("payload = %v, want \"after\" (no replay)", ev.Payload)
	}
}

func TestLaggedSubscriberResumesAtHeadRatherThanDisconnecting(t *testing.T) {
	b := New(2)
	sub := b.Subscribe()

	b.Publish(Event{Payload: 1})
	b.Publish(Event{Payload: 2})
	b.Publish(Event{Payload: 3}) // overwrites the slot for event 1

	ev, closed, lagged := sub.Next()
	if closed {
		t.Fatal("bus should not report closed")
	}
	if !lagged {
		t.Error("expected lagged=true after falling behind the ring")
	}
	if ev.Payload != 2 {
		t.Errorf("payload = %v, want 2 (oldest surviving event)", ev.Payload)
	}
}

func TestCloseUnblocksSubscribers(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	done := make(chan bool, 1)
	go func() {
		_, closed, _ := sub.Next()
		done <- closed
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case closed := <-done:
		if !closed {
			t.Error("expected closed=true after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Close")
	}
}

func TestSubscriberCloseUnblocksOnlyItself(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	other := b.Subscribe()

	done := make(chan bool, 1)
	go func() {
		_, closed, _ := sub.Next()
		done <- closed
	}()

	time.Sleep(10 * time.Millisecond)
	sub.Close()

	select {
	case closed := <-done:
		if !closed {
			t.Error("expected closed=true after Subscriber.Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Subscriber.Close")
	}

	// The other subscriber must be unaffected: a fresh event still reaches it.
	b.Publish(Event{Payload: "still alive"})
	ev, closed, lagged := other.Next()
	if closed || lagged {
		t.Fatalf("other subscriber affected: closed=%v lagged=%v", closed, lagged)
	}
	if ev.Payload != "still alive" {
		t.Errorf("payload = %v", ev.Payload)
	}
}

func TestSubscriberCloseIsIdempotent(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	sub.Close()
	sub.Close()
	_, closed, _ := sub.Next()
	if !closed {
		t.Error("expected closed=true")
	}
}

func TestPublishNeverBlocksWhenFull(t *testing.T) {
	b := New(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Payload: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers reading")
	}
}
