package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/user/kidwatch/internal/types"
)

func moodEvent(childID types.ChildID, seq int) types.Event {
	return types.NewMoodEvent(&types.MoodLogEntry{
		ID:         types.NewEntryID(),
		ChildID:    childID,
		Mood:       types.EmotionNeutral,
		Transcript: fmt.Sprintf("seq %d", seq),
		Timestamp:  time.Now(),
	})
}

func TestSubscribeNoReplay(t *testing.T) {
	b := New()
	b.Publish("c1", moodEvent("c1", 0))

	sub := b.Subscribe("c1")
	defer sub.Cancel()

	select {
	case ev := <-sub.C:
		t.Errorf("expected no replay, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe("c1")
	defer sub.Cancel()

	for i := 0; i < 5; i++ {
		b.Publish("c1", moodEvent("c1", i))
	}

	for i := 0; i < 5; i++ {
		select {
		case ev := <-sub.C:
			want := fmt.Sprintf("seq %d", i)
			if ev.Entry.Transcript != want {
				t.Errorf("expected %q at position %d, got %q", want, i, ev.Entry.Transcript)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPublishFanOut(t *testing.T) {
	b := New()
	subs := make([]*Subscription, 3)
	for i := range subs {
		subs[i] = b.Subscribe("c1")
		defer subs[i].Cancel()
	}

	b.Publish("c1", moodEvent("c1", 0))

	for i, sub := range subs {
		select {
		case <-sub.C:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestPublishIsolatedPerChild(t *testing.T) {
	b := New()
	sub := b.Subscribe("c2")
	defer sub.Cancel()

	b.Publish("c1", moodEvent("c1", 0))

	select {
	case ev := <-sub.C:
		t.Errorf("c2 subscriber got c1 event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe("c1")
	if n := b.SubscriberCount("c1"); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	sub.Cancel()
	if n := b.SubscriberCount("c1"); n != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", n)
	}

	// Publishing after cancel must not panic.
	b.Publish("c1", moodEvent("c1", 0))
}

func TestCancelIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe("c1")
	sub.Cancel()
	sub.Cancel()
}

func TestPublishNoSubscribers(t *testing.T) {
	b := New()
	// No-op, no panic.
	b.Publish("c1", moodEvent("c1", 0))
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := New()
	sub := b.Subscribe("c1")
	defer sub.Cancel()

	// Fill past the buffer without draining; Publish must return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish("c1", moodEvent("c1", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	// A healthy subscriber still receives the buffered prefix in order.
	ev := <-sub.C
	if ev.Entry.Transcript != "seq 0" {
		t.Errorf("expected first buffered event, got %q", ev.Entry.Transcript)
	}
}
