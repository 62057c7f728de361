package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe("hedge")

	b.Publish("hedge", "payload")

	select {
	case ev := <-ch:
		if ev.Data != "payload" {
			t.Fatalf("got %v, want payload", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_NoSubscribersDoesNotBlock(t *testing.T) {
	b := New()
	b.Publish("nobody-listening", 1) // must not panic or hang
}

func TestPublish_DropsWhenSubscriberQueueFull(t *testing.T) {
	b := New()
	ch := b.Subscribe("full")

	for i := 0; i < defaultQueueDepth+10; i++ {
		b.Publish("full", i)
	}

	// Draining should yield exactly defaultQueueDepth buffered events,
	// none of which block or panic the publisher above.
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count != defaultQueueDepth {
				t.Fatalf("drained %d events, want %d", count, defaultQueueDepth)
			}
			return
		}
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe("topic")
	b.Unsubscribe("topic", ch)

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}
