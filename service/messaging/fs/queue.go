package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	"github.com/viant/overseer/internal/idgen"
	"github.com/viant/overseer/service/messaging"
)

// Sub directories of a spool.
const (
	processingDir = "processing"
	doneDir       = "done"
	dlqDir        = "dlq"
	retryPrefix   = "r"
)

// Message is a spool file claimed for processing.
type Message[T any] struct {
	name      string
	data      T
	attempt   int
	queue     *Queue[T]
	processed bool
	mu        sync.Mutex
}

// ID returns the spool file name.
func (m *Message[T]) ID() string { return m.name }

// T returns the message payload
func (m *Message[T]) T() *T { return &m.data }

// Attempt returns the number of prior failed deliveries.
func (m *Message[T]) Attempt() int { return m.attempt }

// Ack moves the claimed file to the done directory.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return messaging.ErrProcessed
	}
	m.processed = true
	return m.queue.move(context.Background(), m.queue.processingURL(m.name), path.Join(m.queue.config.BasePath, doneDir, m.name))
}

// Nack returns the file to the spool with an incremented attempt prefix, or
// moves it to the dead letter directory once retries are exhausted.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return messaging.ErrProcessed
	}
	m.processed = true
	q := m.queue
	ctx := context.Background()
	source := q.processingURL(m.name)
	base := stripAttempt(m.name)
	if m.attempt >= q.config.MaxRetries {
		if err != nil {
			_ = q.fs.Upload(ctx, path.Join(q.config.BasePath, dlqDir, base+".error"), file.DefaultFileOsMode, strings.NewReader(err.Error()))
		}
		return q.move(ctx, source, path.Join(q.config.BasePath, dlqDir, base))
	}
	return q.move(ctx, source, path.Join(q.config.BasePath, withAttempt(base, m.attempt+1)))
}

// QueueConfig holds configuration for filesystem queue
type QueueConfig struct {
	BasePath   string        // spool directory producers drop *.json files into
	MaxRetries int           // Maximum number of retry attempts
	RetryDelay time.Duration // minimum age of a retried file before redelivery
}

// DefaultConfig returns a default queue configuration
func DefaultConfig(basePath string) QueueConfig {
	return QueueConfig{
		BasePath:   basePath,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Queue is a directory based messaging.Queue. Every *.json file dropped into
// BasePath is one message; Consume claims the oldest one by moving it to
// the processing directory.
type Queue[T any] struct {
	fs     afs.Service
	config QueueConfig
	mu     sync.Mutex
}

// NewQueue creates the spool directories and returns files left in
// processing by a previous run to the spool.
func NewQueue[T any](ctx context.Context, fs afs.Service, config QueueConfig) (*Queue[T], error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	q := &Queue[T]{fs: fs, config: config}
	for _, dir := range []string{config.BasePath, q.dir(processingDir), q.dir(doneDir), q.dir(dlqDir)} {
		if exists, _ := fs.Exists(ctx, dir); exists {
			continue
		}
		if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return q, q.recover(ctx)
}

func (q *Queue[T]) dir(name string) string { return path.Join(q.config.BasePath, name) }

func (q *Queue[T]) processingURL(name string) string { return path.Join(q.dir(processingDir), name) }

func (q *Queue[T]) recover(ctx context.Context) error {
	objects, err := q.list(ctx, q.dir(processingDir))
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := q.move(ctx, obj.URL(), path.Join(q.config.BasePath, obj.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Publish drops t into the spool as a new file.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	name := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), idgen.New())
	return q.fs.Upload(ctx, path.Join(q.config.BasePath, name), file.DefaultFileOsMode, bytes.NewReader(data))
}

// Consume claims the oldest eligible file. It returns (nil, nil) when the
// spool is empty. A file that cannot be decoded goes straight to the dead
// letter directory.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	objects, err := q.list(ctx, q.config.BasePath)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, obj := range objects {
		attempt := attemptOf(obj.Name())
		if attempt > 0 && now.Sub(obj.ModTime()) < q.config.RetryDelay {
			continue
		}
		claimed := q.processingURL(obj.Name())
		if err := q.move(ctx, obj.URL(), claimed); err != nil {
			return nil, err
		}
		data, err := q.fs.DownloadWithURL(ctx, claimed)
		if err == nil {
			message := &Message[T]{name: obj.Name(), attempt: attempt, queue: q}
			if err = json.Unmarshal(data, &message.data); err == nil {
				return message, nil
			}
		}
		_ = q.move(ctx, claimed, path.Join(q.dir(dlqDir), "invalid-"+stripAttempt(obj.Name())))
		return nil, fmt.Errorf("failed to read spool file %s: %w", obj.Name(), err)
	}
	return nil, nil
}

// Size returns the number of files waiting in the spool.
func (q *Queue[T]) Size(ctx context.Context) int {
	objects, _ := q.list(ctx, q.config.BasePath)
	return len(objects)
}

// DLQSize returns the number of dead lettered files.
func (q *Queue[T]) DLQSize(ctx context.Context) int {
	objects, _ := q.list(ctx, q.dir(dlqDir))
	return len(objects)
}

func (q *Queue[T]) list(ctx context.Context, dir string) ([]storage.Object, error) {
	objects, err := q.fs.List(ctx, dir, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var ret []storage.Object
	for _, obj := range objects {
		if !obj.IsDir() && strings.HasSuffix(obj.Name(), ".json") {
			ret = append(ret, obj)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].ModTime().Equal(ret[j].ModTime()) {
			return ret[i].ModTime().Before(ret[j].ModTime())
		}
		return ret[i].Name() < ret[j].Name()
	})
	return ret, nil
}

func (q *Queue[T]) move(ctx context.Context, source, dest string) error {
	if err := q.fs.Move(ctx, source, dest); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", source, dest, err)
	}
	return nil
}

// withAttempt encodes the attempt as an "r<n>_" file name prefix.
func withAttempt(name string, attempt int) string {
	return retryPrefix + strconv.Itoa(attempt) + "_" + name
}

func attemptOf(name string) int {
	if !strings.HasPrefix(name, retryPrefix) {
		return 0
	}
	idx := strings.Index(name, "_")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(name[len(retryPrefix):idx])
	if err != nil {
		return 0
	}
	return n
}

func stripAttempt(name string) string {
	if attemptOf(name) == 0 {
		return name
	}
	return name[strings.Index(name, "_")+1:]
}

// ensure Queue implements messaging.Queue interface
var _ messaging.Queue[any] = (*Queue[any])(nil)
