package events

import (
	"testing"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestSubscribeReceivesInOrder(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	ch, cancel := bus.Subscribe(8)
	defer cancel()

	bus.Publish(NewTypedEvent(SourceIntake, TaskQueuedPayload{TaskID: "t1", Title: "first"}))
	bus.Publish(NewTypedEvent(SourcePipeline, PhasePayload{TaskID: "t1", Agent: "planner", Status: PhaseStatusStarted}))

	got := drain(ch)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != EventTaskQueued || got[1].Type != EventPhaseStarted {
		t.Errorf("wrong order: %s then %s", got[0].Type, got[1].Type)
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	ch, cancel := bus.Subscribe(8, EventTaskDone)
	defer cancel()

	bus.Publish(NewTypedEvent(SourceIntake, TaskQueuedPayload{TaskID: "t1", Title: "hello"}))
	bus.Publish(NewTypedEvent(SourcePipeline, TaskDonePayload{TaskID: "t1", Title: "hello"}))

	got := drain(ch)
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Type != EventTaskDone {
		t.Errorf("expected task.done, got %s", got[0].Type)
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	// The channel holds one event; the rest must be dropped, not block.
	bus.Publish(NewTypedEvent(SourcePipeline, TaskDonePayload{TaskID: "t1"}))
	bus.Publish(NewTypedEvent(SourcePipeline, TaskDonePayload{TaskID: "t2"}))
	bus.Publish(NewTypedEvent(SourcePipeline, TaskDonePayload{TaskID: "t3"}))

	got := drain(ch)
	if len(got) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(got))
	}
	if got[0].TaskID != "t1" {
		t.Errorf("expected the earliest event to survive, got task %s", got[0].TaskID)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	ch, cancel := bus.Subscribe(8)
	cancel()
	cancel() // second call is a no-op

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}

	// A cancelled subscriber must not panic the publisher.
	bus.Publish(NewTypedEvent(SourcePipeline, TaskDonePayload{TaskID: "t1"}))
}

func TestRecentKeepsLastEventsInOrder(t *testing.T) {
	bus := NewBus(3)
	defer bus.Close()

	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		bus.Publish(NewTypedEvent(SourcePipeline, TaskDonePayload{TaskID: id}))
	}

	got := bus.Recent(10)
	if len(got) != 3 {
		t.Fatalf("expected 3 events after wrap, got %d", len(got))
	}
	for i, want := range []string{"t3", "t4", "t5"} {
		if got[i].TaskID != want {
			t.Errorf("recent[%d]: got task %s, want %s", i, got[i].TaskID, want)
		}
	}

	if got := bus.Recent(2); len(got) != 2 || got[0].TaskID != "t4" {
		t.Errorf("Recent(2) should return the two latest, got %+v", got)
	}
}

func TestCloseDetachesSubscribers(t *testing.T) {
	bus := NewBus(64)

	ch, cancel := bus.Subscribe(8)
	defer cancel()

	bus.Close()
	bus.Close() // idempotent

	if _, open := <-ch; open {
		t.Fatal("expected subscriber channel closed after bus close")
	}

	bus.Publish(NewTypedEvent(SourcePipeline, TaskDonePayload{TaskID: "t1"}))
	if got := bus.Recent(10); len(got) != 0 {
		t.Errorf("publish after close should be dropped, got %d events", len(got))
	}

	late, lateCancel := bus.Subscribe(8)
	defer lateCancel()
	if _, open := <-late; open {
		t.Fatal("expected closed channel for subscription after close")
	}
}
