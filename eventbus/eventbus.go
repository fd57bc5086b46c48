// Package eventbus distributes episode lifecycle events to subscribers.
//
// Handlers run concurrently with a bounded parallelism and never fail the
// publisher: a handler error or panic is logged and dropped. The bus keeps a
// bounded history for inspection and for WaitFor.
package eventbus

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// Type is the kind of an event.
type Type string

const (
	ExecutionStarted    Type = "execution_started"
	ExecutionCompleted  Type = "execution_completed"
	ExecutionFailed     Type = "execution_failed"
	ExecutionPaused     Type = "execution_paused"
	ExecutionResumed    Type = "execution_resumed"
	StateChanged        Type = "state_changed"
	GoalProgress        Type = "goal_progress"
	ConstraintViolation Type = "constraint_violation"
	Custom              Type = "custom"
)

const (
	DefaultMaxHistory            = 1000
	DefaultMaxConcurrentHandlers = 10
)

// Event is one occurrence published on the bus.
type Event struct {
	Type      Type           `json:"type"`
	EpisodeID string         `json:"episode_id"`
	StepID    string         `json:"step_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives events. A returned error is logged.
type Handler func(ctx context.Context, ev Event) error

type subscription struct {
	id        string
	types     map[Type]bool
	episodeID string
	handler   Handler
}

func (s *subscription) match(ev Event) bool {
	if !s.types[ev.Type] {
		return false
	}
	return s.episodeID == "" || s.episodeID == ev.EpisodeID
}

// SubscribeOption narrows a subscription.
type SubscribeOption func(*subscription)

// ForEpisode delivers only events of the given episode.
func ForEpisode(episodeID string) SubscribeOption {
	return func(s *subscription) {
		s.episodeID = episodeID
	}
}

// Bus is an in-process publish/subscribe hub. The zero value is not usable;
// call New.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	order   []string
	history []Event
	counter int

	maxHistory  int
	concurrency int
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxHistory sets how many events are kept. Zero disables history.
func WithMaxHistory(n int) Option {
	return func(b *Bus) {
		b.maxHistory = max(n, 0)
	}
}

// WithMaxConcurrentHandlers bounds the handlers running for one Publish.
func WithMaxConcurrentHandlers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:        map[string]*subscription{},
		maxHistory:  DefaultMaxHistory,
		concurrency: DefaultMaxConcurrentHandlers,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for the given event types and returns the
// subscription id.
func (b *Bus) Subscribe(types []Type, handler Handler, opts ...SubscribeOption) string {
	s := &subscription{
		types:   make(map[Type]bool, len(types)),
		handler: handler,
	}
	for _, t := range types {
		s.types[t] = true
	}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.counter++
	s.id = fmt.Sprintf("sub_%d", b.counter)
	b.subs[s.id] = s
	b.order = append(b.order, s.id)
	return s.id
}

// Unsubscribe removes a subscription. It reports whether the id was known.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return false
	}
	delete(b.subs, id)
	b.order = slices.DeleteFunc(b.order, func(x string) bool { return x == id })
	return true
}

// Publish records ev and runs every matching handler. It returns after all
// handlers have finished. Publishing on a nil Bus does nothing.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	if b.maxHistory > 0 {
		b.history = append(b.history, ev)
		if over := len(b.history) - b.maxHistory; over > 0 {
			b.history = slices.Delete(b.history, 0, over)
		}
	}
	var handlers []Handler
	for _, id := range b.order {
		if s := b.subs[id]; s.match(ev) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()

	if len(handlers) == 0 {
		return
	}

	var eg errgroup.Group
	eg.SetLimit(b.concurrency)
	for _, h := range handlers {
		eg.Go(func() error {
			runHandler(ctx, h, ev)
			return nil
		})
	}
	_ = eg.Wait()
}

func runHandler(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.From(ctx).Error("event handler panicked",
				"type", ev.Type,
				"episode_id", ev.EpisodeID,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := h(ctx, ev); err != nil {
		ctxlog.From(ctx).Error("event handler failed",
			"type", ev.Type,
			"episode_id", ev.EpisodeID,
			"error", err,
		)
	}
}

// Query selects events from the history. Zero values match everything.
type Query struct {
	Type      Type
	EpisodeID string
	// Limit caps the number of events returned; 0 means 100.
	Limit int
}

// History returns matching events, most recent first.
func (b *Bus) History(q Query) []Event {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for i := len(b.history) - 1; i >= 0 && len(out) < limit; i-- {
		ev := b.history[i]
		if q.Type != "" && ev.Type != q.Type {
			continue
		}
		if q.EpisodeID != "" && ev.EpisodeID != q.EpisodeID {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Stats summarizes the bus state.
type Stats struct {
	TotalEvents   int          `json:"total_events"`
	Subscriptions int          `json:"subscriptions"`
	EventsByType  map[Type]int `json:"events_by_type"`
}

// Stats counts the events in history by type.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		TotalEvents:   len(b.history),
		Subscriptions: len(b.subs),
		EventsByType:  map[Type]int{},
	}
	for _, ev := range b.history {
		st.EventsByType[ev.Type]++
	}
	return st
}

// WaitFor blocks until an event of type t (and of episodeID, when not empty)
// is published, or ctx is done. Events published before the call are not
// considered.
func (b *Bus) WaitFor(ctx context.Context, t Type, episodeID string) (Event, error) {
	ch := make(chan Event, 1)
	var opts []SubscribeOption
	if episodeID != "" {
		opts = append(opts, ForEpisode(episodeID))
	}
	id := b.Subscribe([]Type{t}, func(_ context.Context, ev Event) error {
		select {
		case ch <- ev:
		default:
		}
		return nil
	}, opts...)
	defer b.Unsubscribe(id)

	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		return Event{}, goerr.Wrap(ctx.Err(), "stopped waiting for event",
			goerr.V("type", t),
			goerr.V("episode_id", episodeID),
		)
	}
}
