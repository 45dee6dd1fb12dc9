// Package eventbus carries run lifecycle events from the engine to subscribers.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("event bus is closed")

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

type envelope struct {
	ctx   context.Context
	event Event
}

// ChannelEventBus delivers events through buffered per-worker channels.
// Events are sharded by run id so one run's events are handled by one worker in order.
type ChannelEventBus struct {
	shards []chan envelope
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	subs   []subscription
	closed bool

	bufferSize    int
	workerCount   int
	maxRetries    int
	retryInterval time.Duration
	logger        zerolog.Logger
}

// ChannelEventBusOption configures a ChannelEventBus.
type ChannelEventBusOption func(*ChannelEventBus)

// WithBufferSize sets the queue length of each worker.
func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.bufferSize = size
	}
}

// WithWorkerCount sets the number of delivery workers.
func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.workerCount = count
	}
}

// WithRetries sets how often a failing handler is retried and the pause between attempts.
func WithRetries(maxRetries int, retryInterval time.Duration) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.maxRetries = maxRetries
		eb.retryInterval = retryInterval
	}
}

// WithLogger sets the logger used to report handler failures.
func WithLogger(logger zerolog.Logger) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.logger = logger
	}
}

// NewChannelEventBus starts the delivery workers and returns the bus.
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		done:          make(chan struct{}),
		bufferSize:    100,
		workerCount:   2,
		maxRetries:    3,
		retryInterval: 100 * time.Millisecond,
		logger:        zerolog.Nop(),
	}
	for _, option := range options {
		option(eb)
	}
	eb.workerCount = max(eb.workerCount, 1)
	eb.bufferSize = max(eb.bufferSize, 0)

	eb.shards = make([]chan envelope, eb.workerCount)
	for i := range eb.shards {
		eb.shards[i] = make(chan envelope, eb.bufferSize)
		eb.wg.Add(1)
		go eb.worker(eb.shards[i])
	}
	return eb
}

func (eb *ChannelEventBus) shardFor(runID string) chan envelope {
	if len(eb.shards) == 1 {
		return eb.shards[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))
	return eb.shards[h.Sum32()%uint32(len(eb.shards))]
}

func (eb *ChannelEventBus) worker(queue <-chan envelope) {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.done:
			return
		case env := <-queue:
			eb.deliver(env)
		}
	}
}

// deliver hands env to every matching subscriber, in subscription order.
func (eb *ChannelEventBus) deliver(env envelope) {
	if env.ctx.Err() != nil {
		return
	}
	eb.mu.RLock()
	var targets []subscription
	for _, s := range eb.subs {
		if s.filter.Matches(env.event) {
			targets = append(targets, s)
		}
	}
	eb.mu.RUnlock()

	for _, s := range targets {
		eb.handle(env, s)
	}
}

func (eb *ChannelEventBus) handle(env envelope, s subscription) {
	var err error
	for attempt := 0; attempt <= eb.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-env.ctx.Done():
				return
			case <-eb.done:
				return
			case <-time.After(eb.retryInterval):
			}
		}
		if err = call(env, s.handler); err == nil {
			return
		}
	}
	eb.logger.Warn().
		Err(err).
		Str("event_type", string(env.event.Type)).
		Str("run_id", env.event.RunID).
		Str("subscription", s.id).
		Int("retries", eb.maxRetries).
		Msg("Event handler failed")
}

func call(env envelope, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()
	return handler(env.ctx, env.event)
}

// Publish queues event on its run's worker, blocking while that queue is full.
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	closed := eb.closed
	eb.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-eb.done:
		return ErrClosed
	case eb.shardFor(event.RunID) <- envelope{ctx: ctx, event: event}:
		return nil
	}
}

// Subscribe registers handler for every event matching filter.
func (eb *ChannelEventBus) Subscribe(filter Filter, handler Handler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	id := uuid.New().String()

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return "", ErrClosed
	}
	eb.subs = append(eb.subs, subscription{id: id, filter: filter, handler: handler})
	return id, nil
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return ErrClosed
	}
	for i, s := range eb.subs {
		if s.id == subscriptionID {
			eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
			break
		}
	}
	return nil
}

// Close stops the workers. It is safe to call more than once.
func (eb *ChannelEventBus) Close() error {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return nil
	}
	eb.closed = true
	eb.mu.Unlock()

	close(eb.done)
	eb.wg.Wait()
	return nil
}

var _ EventBus = (*ChannelEventBus)(nil)
