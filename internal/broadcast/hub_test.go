package broadcast

import (
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	hub.Publish(Event{UpdatedAt: "2026-02-10T10:00:00Z", Source: "admin"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Source != "admin" {
				t.Fatalf("%s: wrong event %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no event", name)
		}
	}
}

func TestHubCancelStopsDelivery(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	cancel()
	cancel() // idempotent

	if _, open := <-ch; open {
		t.Fatal("cancelled channel must be closed")
	}
	// publishing to no subscribers is a no-op
	hub.Publish(Event{UpdatedAt: "2026-02-10T10:00:00Z"})
}

func TestHubSlowSubscriberDropsBeats(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(Event{UpdatedAt: "2026-02-10T10:00:00Z"})
	}
	// publisher never blocked; buffered beats are readable
	drained := 0
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	if drained != subscriberBuffer {
		t.Fatalf("want %d buffered beats, got %d", subscriberBuffer, drained)
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe()
	if err := hub.Close(); err != nil {
		t.Fatal(err)
	}
	if _, open := <-ch; open {
		t.Fatal("close must close subscriber channels")
	}
	// subscribing after close yields a closed channel
	ch2, cancel := hub.Subscribe()
	defer cancel()
	if _, open := <-ch2; open {
		t.Fatal("post-close subscription must be closed")
	}
}
