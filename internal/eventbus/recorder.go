package eventbus

import (
	"context"
	"sync"
)

// Recorder keeps every event it receives. Useful for run audits and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{})}
}

// Record subscribes the recorder to bus with filter.
func Record(bus EventBus, filter Filter) (*Recorder, string, error) {
	r := NewRecorder()
	id, err := bus.Subscribe(filter, r.Handle)
	if err != nil {
		return nil, "", err
	}
	return r, id, nil
}

// Handle is the recorder's Handler.
func (r *Recorder) Handle(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	close(r.notify)
	r.notify = make(chan struct{})
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the events recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in arrival order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Count returns how many recorded events have type t.
func (r *Recorder) Count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// WaitFor blocks until an event of type t has been recorded or ctx is done.
func (r *Recorder) WaitFor(ctx context.Context, t EventType) (Event, error) {
	for {
		r.mu.Lock()
		for _, e := range r.events {
			if e.Type == t {
				r.mu.Unlock()
				return e, nil
			}
		}
		wait := r.notify
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wait:
		}
	}
}
