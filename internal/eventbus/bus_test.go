package eventbus

import (
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeTaskCreated, Data: TaskChanged{ProjectID: "p", TaskID: "t"}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != TypeTaskCreated {
			t.Fatalf("type = %q, want %q", e.Type, TypeTaskCreated)
		}
		if e.Time.IsZero() {
			t.Fatal("publish did not stamp time")
		}
		if got, ok := e.Data.(TaskChanged); !ok || got.TaskID != "t" {
			t.Fatalf("data = %#v", e.Data)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if got := b.Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	if e := <-ch; e.Type != "a" {
		t.Fatalf("type = %q, want a", e.Type)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic or count as a drop.
	b.Publish(Event{Type: "x"})
	if got := b.Dropped(); got != 0 {
		t.Fatalf("dropped = %d, want 0", got)
	}
}
