package memory

import (
	"context"
	"sync"
	"time"

	"github.com/viant/overseer/internal/idgen"
	"github.com/viant/overseer/service/messaging"
)

// Config for memory queue implementation
type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	DeadLetter  bool
	QueueBuffer int
}

// DefaultConfig returns a standard configuration for memory queue
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryDelay:  100 * time.Millisecond,
		DeadLetter:  true,
		QueueBuffer: 256,
	}
}

// Message is an in-flight queue entry.
type Message[T any] struct {
	id        string
	payload   T
	queue     *Queue[T]
	attempt   int
	mu        sync.Mutex
	processed bool
	lastErr   error
	createdAt time.Time
}

// ID returns the message id.
func (m *Message[T]) ID() string { return m.id }

// T returns the message payload
func (m *Message[T]) T() *T { return &m.payload }

// Attempt returns the number of prior failed deliveries.
func (m *Message[T]) Attempt() int { return m.attempt }

// Err returns the error passed to the last Nack.
func (m *Message[T]) Err() error { return m.lastErr }

// Ack acknowledges the message as processed successfully
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return messaging.ErrProcessed
	}
	m.processed = true
	m.queue.inFlight.Add(-1)
	return nil
}

// Nack re-delivers the message after the retry delay, or moves it to the
// dead letter list once retries are exhausted.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return messaging.ErrProcessed
	}
	m.processed = true
	m.lastErr = err
	q := m.queue

	if m.attempt < q.config.MaxRetries {
		retry := &Message[T]{id: m.id, payload: m.payload, queue: q, attempt: m.attempt + 1, createdAt: m.createdAt}
		time.AfterFunc(q.config.RetryDelay, func() {
			select {
			case q.messages <- retry:
			case <-q.closed:
				q.inFlight.Add(-1)
			}
		})
		return nil
	}
	q.inFlight.Add(-1)
	if q.config.DeadLetter {
		q.dlqMu.Lock()
		q.dlq = append(q.dlq, m)
		q.dlqMu.Unlock()
	}
	return nil
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) Add(d int) {
	c.mu.Lock()
	c.n += d
	c.mu.Unlock()
}

func (c *counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Queue implements an in-memory messaging.Queue
type Queue[T any] struct {
	messages  chan *Message[T]
	dlq       []*Message[T]
	config    Config
	dlqMu     sync.Mutex
	inFlight  counter
	closed    chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a new in-memory queue
func NewQueue[T any](config Config) *Queue[T] {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	return &Queue[T]{
		messages: make(chan *Message[T], config.QueueBuffer),
		config:   config,
		closed:   make(chan struct{}),
	}
}

// Publish adds a new item to the queue. It blocks while the buffer is full.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &Message[T]{id: idgen.New(), payload: *t, queue: q, createdAt: time.Now()}
	q.inFlight.Add(1)
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		q.inFlight.Add(-1)
		return ctx.Err()
	}
}

// Consume retrieves a single item from the queue
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the current number of messages waiting for delivery.
func (q *Queue[T]) Size() int { return len(q.messages) }

// Pending returns the number of published messages not yet acked or dead
// lettered, including messages waiting for redelivery.
func (q *Queue[T]) Pending() int { return q.inFlight.Value() }

// DLQSize returns the number of messages in the dead letter queue
func (q *Queue[T]) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

// DeadLetters returns copies of the dead lettered payloads.
func (q *Queue[T]) DeadLetters() []T {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	ret := make([]T, 0, len(q.dlq))
	for _, m := range q.dlq {
		ret = append(ret, m.payload)
	}
	return ret
}

// Close stops pending redeliveries.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// ensure Queue implements messaging.Queue interface
var _ messaging.Queue[any] = (*Queue[any])(nil)
