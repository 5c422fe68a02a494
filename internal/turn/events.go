package turn

import (
	"sync"
	"sync/atomic"
)

// Event types.
const (
	EventThinking = "thinking"
	EventStatus   = "status"
	EventText     = "text"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one element of the turn stream. Exactly one complete or error
// event ends a stream; thinking and status events are advisory.
type Event struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	Stage        string `json:"stage,omitempty"`
	Action       string `json:"action,omitempty"`
	Tool         string `json:"tool,omitempty"`
	ToolIndex    int    `json:"toolIndex,omitempty"`
	TotalTools   int    `json:"totalTools,omitempty"`
	FullResponse string `json:"fullResponse,omitempty"`
	Emotion      string `json:"emotion,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// emitter serializes events to the sink. It forwards at most one terminal
// event and drops everything once the turn is cancelled or the sink fails.
type emitter struct {
	mu      sync.Mutex
	sink    func(Event) error
	live    func() bool
	onError func(error)
	closed  bool
	sent    atomic.Int64
}

func newEmitter(sink func(Event) error, live func() bool, onError func(error)) *emitter {
	return &emitter{sink: sink, live: live, onError: onError}
}

// emit reports whether ev reached the sink.
func (e *emitter) emit(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.live() {
		return false
	}
	if err := e.sink(ev); err != nil {
		e.closed = true
		if e.onError != nil {
			e.onError(err)
		}
		return false
	}
	e.sent.Add(1)
	if ev.Terminal() {
		e.closed = true
	}
	return true
}

// finished reports whether a terminal event was sent or the sink failed.
func (e *emitter) finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
