// Package broadcast fans status events out to dashboard subscribers.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/viant/overseer/internal/idgen"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/telemetry"
)

// Defaults applied by New.
const (
	DefaultHeartbeatInterval   = 25 * time.Second
	DefaultMaxMissedHeartbeats = 3
	DefaultQueueSize           = 64
	DefaultRecent              = 100
)

// SnapshotFunc builds the full status document sent to new subscribers.
type SnapshotFunc func(ctx context.Context) (interface{}, error)

// Subscription is one live consumer with its own bounded queue.
type Subscription struct {
	id      string
	events  chan *Event
	done    chan struct{}
	mu      sync.Mutex
	missed  int
	dropped int
	closed  bool
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Events returns the delivery channel. It is never closed; watch Done.
func (s *Subscription) Events() <-chan *Event { return s.events }

// Done is closed when the subscription is torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Ack records a heartbeat acknowledgement.
func (s *Subscription) Ack() {
	s.mu.Lock()
	s.missed = 0
	s.mu.Unlock()
}

// Dropped returns how many events were discarded on overflow.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// offer enqueues event, discarding the oldest queued event when full.
func (s *Subscription) offer(event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.events <- event:
			return
		default:
		}
		select {
		case <-s.events:
			s.dropped++
			telemetry.BroadcastDropped.Inc()
		default:
		}
	}
}

func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}

// Broadcaster is the registry of subscriptions.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription

	recentMu sync.Mutex
	recent   []*Event

	heartbeatInterval time.Duration
	maxMissed         int
	queueSize         int
	recentSize        int
	snapshot          SnapshotFunc
	logger            *logrus.Entry
}

// Publish delivers event to every subscriber without blocking.
func (b *Broadcaster) Publish(event *Event) {
	if event == nil {
		return
	}
	if !event.IsControl() {
		b.remember(event)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, subscription := range b.subscriptions {
		subscription.offer(event)
	}
}

func (b *Broadcaster) remember(event *Event) {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()
	b.recent = append(b.recent, event)
	if overflow := len(b.recent) - b.recentSize; overflow > 0 {
		b.recent = append([]*Event(nil), b.recent[overflow:]...)
	}
}

// Recent returns up to limit of the latest non control events, newest first.
func (b *Broadcaster) Recent(limit int) []*Event {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()
	if limit <= 0 || limit > len(b.recent) {
		limit = len(b.recent)
	}
	ret := make([]*Event, 0, limit)
	for i := len(b.recent) - 1; i >= 0 && len(ret) < limit; i-- {
		ret = append(ret, b.recent[i])
	}
	return ret
}

// Subscribe registers a new subscriber.
func (b *Broadcaster) Subscribe() *Subscription {
	subscription := &Subscription{
		id:     idgen.New(),
		events: make(chan *Event, b.queueSize),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subscriptions[subscription.id] = subscription
	count := len(b.subscriptions)
	b.mu.Unlock()
	telemetry.BroadcastSubscribers.Set(float64(count))
	return subscription
}

// Unsubscribe tears a subscription down.
func (b *Broadcaster) Unsubscribe(subscription *Subscription) {
	b.mu.Lock()
	delete(b.subscriptions, subscription.id)
	count := len(b.subscriptions)
	b.mu.Unlock()
	subscription.close()
	telemetry.BroadcastSubscribers.Set(float64(count))
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Snapshot wraps the current status document in a snapshot event.
func (b *Broadcaster) Snapshot(ctx context.Context) (*Event, error) {
	if b.snapshot == nil {
		return NewEvent(TypeSnapshot, map[string]interface{}{}), nil
	}
	data, err := b.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return NewEvent(TypeSnapshot, data), nil
}

// Heartbeat sends one heartbeat to every subscriber and tears down those
// that failed to acknowledge the previous MaxMissedHeartbeats.
func (b *Broadcaster) Heartbeat() int {
	var stale []*Subscription
	event := NewEvent(TypeHeartbeat, nil)
	b.mu.RLock()
	for _, subscription := range b.subscriptions {
		subscription.mu.Lock()
		expired := subscription.missed >= b.maxMissed
		if !expired {
			subscription.missed++
		}
		subscription.mu.Unlock()
		if expired {
			stale = append(stale, subscription)
			continue
		}
		subscription.offer(event)
	}
	b.mu.RUnlock()
	for _, subscription := range stale {
		b.logger.WithField("subscription", subscription.id).Info("tearing down unresponsive subscriber")
		b.Unsubscribe(subscription)
	}
	return len(stale)
}

// Run sends heartbeats until ctx is done, then closes every subscription.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Close()
			return
		case <-ticker.C:
			b.Heartbeat()
		}
	}
}

// Close tears down every subscription.
func (b *Broadcaster) Close() {
	b.mu.RLock()
	subscriptions := make([]*Subscription, 0, len(b.subscriptions))
	for _, subscription := range b.subscriptions {
		subscriptions = append(subscriptions, subscription)
	}
	b.mu.RUnlock()
	for _, subscription := range subscriptions {
		b.Unsubscribe(subscription)
	}
}

// Option configures the Broadcaster.
type Option func(b *Broadcaster)

// WithHeartbeat sets the heartbeat interval and the number of unacknowledged
// heartbeats tolerated.
func WithHeartbeat(interval time.Duration, maxMissed int) Option {
	return func(b *Broadcaster) {
		if interval > 0 {
			b.heartbeatInterval = interval
		}
		if maxMissed > 0 {
			b.maxMissed = maxMissed
		}
	}
}

// WithQueueSize sets the per subscriber queue bound.
func WithQueueSize(size int) Option {
	return func(b *Broadcaster) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

// WithSnapshot sets the status document provider.
func WithSnapshot(fn SnapshotFunc) Option {
	return func(b *Broadcaster) { b.snapshot = fn }
}

// New creates a Broadcaster.
func New(options ...Option) *Broadcaster {
	ret := &Broadcaster{
		subscriptions:     map[string]*Subscription{},
		heartbeatInterval: DefaultHeartbeatInterval,
		maxMissed:         DefaultMaxMissedHeartbeats,
		queueSize:         DefaultQueueSize,
		recentSize:        DefaultRecent,
		logger:            log.With("broadcast"),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}
