// Package bus implements the in-process MessageBus: topic-based publish/
// subscribe, request/response, and fire-and-forget commands over the
// tagged-union Event type.
//
// Grounded on a pub-sub example (circuit-breaker / bounded
// channel back-pressure shape) and a memory event bus's wildcard matcher
// and delivery-mode vocabulary, combined into the four back-pressure
// policies and a `*`/`#` wildcard topic grammar.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zigquant/engine/internal/events"
)

// BackPressurePolicy governs what happens when a subscriber's bounded
// queue is full.
type BackPressurePolicy uint8

const (
	// BlockPublisher is the default for intra-core wiring.
	BlockPublisher BackPressurePolicy = iota
	DropOldest
	DropNewest
	ErrorPolicy
)

var (
	// ErrReentrancyTooDeep is returned when a handler's publish call
	// re-enters the dispatcher past the configured stack-depth cap
	// (resolved: depth-first
	// with a cap of 16, not queuing).
	ErrReentrancyTooDeep = errors.New("bus: reentrancy depth exceeded")
	// ErrNoResponder is returned by Request when no handler is registered
	// as a responder for the topic.
	ErrNoResponder = errors.New("bus: no responder for topic")
	// ErrTimeout is returned by Request when no response arrives in time.
	ErrTimeout = errors.New("bus: request timeout")
	// ErrQueueFull is returned by a subscriber queue under the Error policy.
	ErrQueueFull = errors.New("bus: subscriber queue full")
)

// MaxReentrancyDepth bounds re-entrant publish calls from within a handler.
const MaxReentrancyDepth = 16

// Handler processes a delivered event. An error is logged to system.error
// but never aborts delivery to sibling subscribers. ctx carries the
// current dispatch depth; a handler that needs to publish re-entrantly
// must call Bus.PublishCtx(ctx, ...) rather than Bus.Publish so the depth
// counter threads through correctly.
type Handler func(ctx context.Context, topic string, event events.Event) error

// Subscription is an opaque handle returned by Subscribe, passed to
// Unsubscribe.
type Subscription struct {
	id      string
	pattern string
}

type subscriber struct {
	id       string
	pattern  string
	handler  Handler
	policy   BackPressurePolicy
	queue    chan queuedDelivery
	stopOnce sync.Once
	stopCh   chan struct{}
	bus      *Bus
}

type queuedDelivery struct {
	topic string
	event events.Event
}

// subscriberTable is replaced wholesale on every registration change
// (copy-on-write); publishers snapshot a pointer at the
// start of a publish and never observe a partial update.
type subscriberTable struct {
	subs []*subscriber
}

// Bus is the in-process MessageBus.
type Bus struct {
	table      atomic.Pointer[subscriberTable]
	mu         sync.Mutex // serializes registration changes only
	errorTopic string
}

// New creates an empty MessageBus.
func New() *Bus {
	b := &Bus{errorTopic: "system.error"}
	b.table.Store(&subscriberTable{})
	return b
}

// depthKey carries the re-entrant dispatch depth through ctx. Go has no
// goroutine-local storage, so the depth is threaded explicitly through the
// context a handler receives and must pass back into PublishCtx.
type depthKey struct{}

func depthFrom(ctx context.Context) int {
	if n, ok := ctx.Value(depthKey{}).(int); ok {
		return n
	}
	return 0
}

// Subscribe registers handler for pattern with the given back-pressure
// policy and optional queue depth (0 = synchronous, unbounded fan-out
// within the publishing goroutine). Ordering of handlers for the same
// pattern follows registration order.
func (b *Bus) Subscribe(pattern string, handler Handler, policy BackPressurePolicy, queueDepth int) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		id:      uuid.NewString(),
		pattern: pattern,
		handler: handler,
		policy:  policy,
		bus:     b,
	}
	if queueDepth > 0 {
		sub.queue = make(chan queuedDelivery, queueDepth)
		sub.stopCh = make(chan struct{})
		go sub.drain()
	}

	old := b.table.Load()
	next := &subscriberTable{subs: append(append([]*subscriber{}, old.subs...), sub)}
	b.table.Store(next)

	return Subscription{id: sub.id, pattern: pattern}
}

// Unsubscribe removes a subscription. Idempotent.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.table.Load()
	next := &subscriberTable{subs: make([]*subscriber, 0, len(old.subs))}
	for _, s := range old.subs {
		if s.id == sub.id {
			if s.stopCh != nil {
				s.stopOnce.Do(func() { close(s.stopCh) })
			}
			continue
		}
		next.subs = append(next.subs, s)
	}
	b.table.Store(next)
}

func (s *subscriber) drain() {
	for {
		select {
		case d := <-s.queue:
			ctx := context.WithValue(context.Background(), depthKey{}, 0)
			if err := s.handler(ctx, d.topic, d.event); err != nil {
				s.bus.reportError(ctx, d.topic, err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// Publish delivers event to every subscriber whose pattern matches topic.
// Delivery is synchronous by default; handler errors are reported to
// system.error but do not abort delivery to siblings. Equivalent to
// PublishCtx(context.Background(), ...).
func (b *Bus) Publish(topic string, event events.Event) {
	b.PublishCtx(context.Background(), topic, event)
}

// PublishCtx is Publish with an explicit context, used by handlers that
// re-publish from within dispatch so the reentrancy depth counter threads
// through correctly.
func (b *Bus) PublishCtx(ctx context.Context, topic string, event events.Event) {
	depth := depthFrom(ctx)
	if depth >= MaxReentrancyDepth {
		b.reportError(ctx, topic, ErrReentrancyTooDeep)
		return
	}

	table := b.table.Load()
	innerCtx := context.WithValue(ctx, depthKey{}, depth+1)
	for _, sub := range table.subs {
		if !matches(sub.pattern, topic) {
			continue
		}
		b.deliver(innerCtx, sub, topic, event)
	}
}

// Command is fire-and-forget publish; absence of subscribers is not an
// error (identical wire behavior to Publish, distinct for callers who want
// to express intent).
func (b *Bus) Command(topic string, event events.Event) {
	b.Publish(topic, event)
}

func (b *Bus) deliver(ctx context.Context, sub *subscriber, topic string, event events.Event) {
	if sub.queue == nil {
		b.invoke(ctx, sub, topic, event)
		return
	}

	select {
	case sub.queue <- queuedDelivery{topic: topic, event: event}:
	default:
		switch sub.policy {
		case DropOldest:
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- queuedDelivery{topic: topic, event: event}:
			default:
			}
		case DropNewest:
			// drop the incoming delivery silently
		case ErrorPolicy:
			b.reportError(ctx, topic, ErrQueueFull)
		case BlockPublisher:
			sub.queue <- queuedDelivery{topic: topic, event: event}
		}
	}
}

func (b *Bus) invoke(ctx context.Context, sub *subscriber, topic string, event events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.reportError(ctx, topic, fmt.Errorf("bus: handler panic: %v", r))
		}
	}()

	if err := sub.handler(ctx, topic, event); err != nil {
		b.reportError(ctx, topic, err)
	}
}

func (b *Bus) reportError(ctx context.Context, topic string, err error) {
	if topic == b.errorTopic {
		// avoid infinite recursion reporting errors about system.error itself
		return
	}
	table := b.table.Load()
	for _, sub := range table.subs {
		if !matches(sub.pattern, b.errorTopic) {
			continue
		}
		msg := fmt.Sprintf("%s: %v", topic, err)
		_ = sub.handler(ctx, b.errorTopic, &events.ConnectionStateEvent{Connected: false, Detail: msg})
	}
}

// Request delivers event to the first subscriber whose pattern matches
// topic, running its handler on a separate goroutine, and waits up to
// timeout for the handler to return. The reply is the request event itself
// (as the handler left it) when the handler returns nil, or the handler's
// error otherwise. Returns ErrNoResponder if no subscriber matches and
// ErrTimeout if the handler does not return in time.
func (b *Bus) Request(topic string, event events.Event, timeout time.Duration) (events.Event, error) {
	table := b.table.Load()
	var responder *subscriber
	for _, sub := range table.subs {
		if matches(sub.pattern, topic) {
			responder = sub
			break
		}
	}
	if responder == nil {
		return nil, ErrNoResponder
	}

	type result struct {
		event events.Event
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: fmt.Errorf("bus: responder panic: %v", r)}
			}
		}()
		ctx := context.WithValue(context.Background(), depthKey{}, 0)
		if err := responder.handler(ctx, topic, event); err != nil {
			resultCh <- result{err: err}
			return
		}
		resultCh <- result{event: event}
	}()

	select {
	case res := <-resultCh:
		return res.event, res.err
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// matches implements the wildcard grammar: '*' matches
// exactly one dot-separated segment, '#' matches zero or more trailing
// segments and may only appear as the final segment of pattern.
func matches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")

	i := 0
	for ; i < len(pSegs); i++ {
		if pSegs[i] == "#" {
			return true // zero-or-more trailing: matches regardless of remaining topic segments
		}
		if i >= len(tSegs) {
			return false
		}
		if pSegs[i] == "*" {
			continue
		}
		if pSegs[i] != tSegs[i] {
			return false
		}
	}
	return i == len(tSegs)
}
