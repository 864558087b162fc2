// Package events distributes daemon happenings to live watchers and keeps
// a short replay window for late joiners.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// Task lifecycle
	EventTaskQueued   EventType = "task.queued"
	EventTaskClaimed  EventType = "task.claimed"
	EventTaskDone     EventType = "task.done"
	EventTaskFailed   EventType = "task.failed"
	EventTaskRequeued EventType = "task.requeued"

	// Pipeline phases
	EventPhaseStarted   EventType = "phase.started"
	EventPhaseCompleted EventType = "phase.completed"

	// Review loop
	EventReviewApproved EventType = "review.approved"
	EventReviewRejected EventType = "review.rejected"

	// Change requests
	EventChangeRequestOpened EventType = "change_request.opened"

	// Budget
	EventBudgetExhausted EventType = "budget.exhausted"

	// Inbox
	EventInboxIngested EventType = "inbox.ingested"

	// Internal (analytics/tracing)
	EventLLMCall EventType = "internal.llm.call"

	// Scheduler
	EventDigestSent EventType = "digest.sent"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourcePipeline EventSource = "pipeline"
	SourceDaemon   EventSource = "daemon"
	SourceIntake   EventSource = "intake"
	SourceInbox    EventSource = "inbox"
	SourceForge    EventSource = "forge"
)

// Event represents an event in the system.
type Event struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

var eventSeq atomic.Uint64

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        nextEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

// NewEventWithTask creates a new event tied to a task.
func NewEventWithTask(eventType EventType, source EventSource, payload map[string]any, taskID string) Event {
	e := NewEvent(eventType, source, payload)
	e.TaskID = taskID
	return e
}

func nextEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), eventSeq.Add(1))
}

// Bus fans published events out to subscribers and keeps the most recent
// ones for replay. Delivery order is preserved per subscriber; a subscriber
// that stops draining its channel loses events rather than stalling the
// publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextSub uint64
	recent  ring
	closed  bool
}

type subscriber struct {
	ch   chan Event
	want map[EventType]struct{} // empty means every type
}

func (s *subscriber) wants(t EventType) bool {
	if len(s.want) == 0 {
		return true
	}
	_, ok := s.want[t]
	return ok
}

// NewBus creates a bus whose replay window holds the last depth events.
func NewBus(depth int) *Bus {
	if depth <= 0 {
		depth = 64
	}
	return &Bus{
		subs:   make(map[uint64]*subscriber),
		recent: ring{buf: make([]Event, depth)},
	}
}

// Publish records e in the replay window and offers it to every matching
// subscriber. It never blocks; a full subscriber channel drops the event.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.recent.push(e)
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			// subscriber is behind
		}
	}
}

// Subscribe returns a channel carrying events of the given types, or every
// type when none are named. cancel detaches the subscriber and closes the
// channel; calling it more than once is safe.
func (b *Bus) Subscribe(depth int, types ...EventType) (<-chan Event, func()) {
	if depth <= 0 {
		depth = 16
	}
	s := &subscriber{ch: make(chan Event, depth)}
	if len(types) > 0 {
		s.want = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			s.want[t] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = s
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return s.ch, cancel
}

// Recent returns up to limit of the latest events, oldest first.
func (b *Bus) Recent(limit int) []Event {
	return b.recent.last(limit)
}

// Close detaches every subscriber, closing their channels, and turns
// further publishes into no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}

// ring keeps the last len(buf) events. Writes wrap around; reads return
// events in publish order.
type ring struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
}

func (r *ring) push(e Event) {
	r.mu.Lock()
	r.buf[r.next] = e
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

func (r *ring) last(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.next
	if r.full {
		held = len(r.buf)
	}
	if n > held {
		n = held
	}
	if n <= 0 {
		return nil
	}

	out := make([]Event, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
