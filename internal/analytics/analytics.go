// Package analytics implements the fire-and-forget event sink the
// retrieval core reports search and RAG events to (spec 4.9 step 7,
// 6.4). The sink itself is an external collaborator out of this
// package's scope; this package only owns dispatch: a bounded channel
// whose backpressure drops events rather than adding request latency,
// and a background goroutine that hands drained events to a pluggable
// Sink.
package analytics

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// SearchEvent mirrors spec 6.4's search event shape.
type SearchEvent struct {
	ID            uuid.UUID
	DatasetID     uuid.UUID
	SearchType    string
	Query         string
	RequestParams map[string]any
	LatencyMs     int64
	TopScore      float32
	Results       []uuid.UUID
	QueryRating   string
	UserID        string
	CreatedAt     time.Time
}

// RagType enumerates the RAG event's rag_type field.
type RagType string

const (
	RagChunks RagType = "rag_chunks"
	RagGroups RagType = "rag_groups"
	RagAll    RagType = "all_chunks"
)

// RAGEvent mirrors spec 6.4's RAG event shape.
type RAGEvent struct {
	ID                    uuid.UUID
	SearchID              uuid.UUID
	TopScore              float32
	Results               []uuid.UUID
	JSONResults           []string
	UserMessage           string
	QueryRating           string
	RagType               RagType
	LLMResponse           string
	UserID                string
	HallucinationScore    float64
	DetectedHallucinations []string
}

// Event is the sum type dispatched to a Sink.
type Event struct {
	Search *SearchEvent
	RAG    *RAGEvent
}

// Sink receives drained events. Implementations talk to the actual
// external analytics system; failures there are the Sink's concern, not
// this package's (emission itself never fails the caller's request).
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Emitter is a bounded-channel, fire-and-forget event dispatcher.
// Disabled emitters (DISABLE_ANALYTICS) drop every Send as a no-op.
type Emitter struct {
	sink     Sink
	events   chan Event
	disabled bool
}

// NewEmitter starts a background dispatch goroutine draining events to
// sink. queueSize bounds the channel (spec 5: "keep it a bounded channel
// whose backpressure causes dropped events").
func NewEmitter(sink Sink, queueSize int, disabled bool) *Emitter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	e := &Emitter{sink: sink, events: make(chan Event, queueSize), disabled: disabled}
	if !disabled {
		go e.dispatchLoop()
	}
	return e
}

// Send enqueues an event for dispatch. If the queue is full or the
// emitter is disabled, the event is dropped.
func (e *Emitter) Send(event Event) {
	if e.disabled {
		return
	}
	select {
	case e.events <- event:
	default:
		log.Printf("analytics: queue full, dropping event")
	}
}

func (e *Emitter) dispatchLoop() {
	for event := range e.events {
		e.sink.Emit(context.Background(), event)
	}
}

// NoopSink discards every event; useful for datasets with DISABLE_ANALYTICS
// set, or local development without an analytics backend configured.
type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) {}

var _ Sink = NoopSink{}
