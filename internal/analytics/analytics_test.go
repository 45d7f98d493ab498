package analytics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

func newRecordingSink(expect int) *recordingSink {
	return &recordingSink{done: make(chan struct{}, expect)}
}

func (s *recordingSink) Emit(ctx context.Context, event Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	s.done <- struct{}{}
}

func (s *recordingSink) waitFor(n int, timeout time.Duration) bool {
	for i := 0; i < n; i++ {
		select {
		case <-s.done:
		case <-time.After(timeout):
			return false
		}
	}
	return true
}

func TestEmitter_SendDispatchesToSink(t *testing.T) {
	sink := newRecordingSink(1)
	e := NewEmitter(sink, 4, false)

	id := uuid.New()
	e.Send(Event{Search: &SearchEvent{ID: id}})

	if !sink.waitFor(1, time.Second) {
		t.Fatal("timed out waiting for event to reach sink")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 || sink.events[0].Search.ID != id {
		t.Errorf("expected the sent event to reach the sink, got %+v", sink.events)
	}
}

func TestEmitter_DisabledDropsEverySend(t *testing.T) {
	sink := newRecordingSink(0)
	e := NewEmitter(sink, 4, true)

	e.Send(Event{Search: &SearchEvent{ID: uuid.New()}})

	select {
	case <-sink.done:
		t.Fatal("expected disabled emitter to drop the event, but it reached the sink")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitter_FullQueueDropsRatherThanBlocks(t *testing.T) {
	sink := &blockingSink{unblock: make(chan struct{})}
	e := NewEmitter(sink, 1, false)

	// First send is picked up by dispatchLoop and blocks it; second and
	// third fill and then overflow the size-1 queue.
	e.Send(Event{Search: &SearchEvent{ID: uuid.New()}})
	time.Sleep(20 * time.Millisecond) // let dispatchLoop pick up the first event
	e.Send(Event{Search: &SearchEvent{ID: uuid.New()}})

	done := make(chan struct{})
	go func() {
		e.Send(Event{Search: &SearchEvent{ID: uuid.New()}}) // queue full now, must not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked instead of dropping when the queue was full")
	}
	close(sink.unblock)
}

type blockingSink struct {
	unblock chan struct{}
}

func (b *blockingSink) Emit(ctx context.Context, event Event) {
	<-b.unblock
}

func TestNoopSink_DiscardsSilently(t *testing.T) {
	var sink NoopSink
	sink.Emit(context.Background(), Event{Search: &SearchEvent{ID: uuid.New()}})
}
