// Package client is a reconnecting status stream consumer with a polling
// fallback, used by dashboards and the CLI.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/viant/overseer/internal/log"
	"github.com/viant/overseer/service/broadcast"
)

// Connection modes.
const (
	ModeConnecting = "connecting"
	ModeLive       = "live"
	ModePolling    = "polling"
)

const maxHistory = 500

// maxSeen bounds the ids remembered for deduplication.
const maxSeen = 4 * maxHistory

// Config controls reconnect and polling behaviour.
type Config struct {
	URL               string
	StatusURL         string
	ReconnectInterval time.Duration
	MaxAttempts       int
	PollInterval      time.Duration
}

// State describes the connection.
type State struct {
	Mode       string
	Connected  bool
	Reconnects int
	Attempts   int
}

// Client consumes the status stream.
type Client struct {
	config  Config
	handler func(event *broadcast.Event)
	dialer  *websocket.Dialer
	http    *http.Client

	mu     sync.Mutex
	seen   map[string]bool
	recent []string
	next   int
	live   []*broadcast.Event
	polled []*broadcast.Event
	state  State
	logger *logrus.Entry
}

// Run connects and keeps reconnecting until ctx is done. After MaxAttempts
// failed attempts the client polls StatusURL between further attempts.
func (c *Client) Run(ctx context.Context) error {
	sessions := 0
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.mu.Lock()
		if connected {
			sessions++
			c.state.Attempts = 0
		}
		c.state.Connected = false
		c.state.Attempts++
		c.state.Reconnects = sessions
		attempts := c.state.Attempts
		if attempts > c.config.MaxAttempts {
			c.state.Mode = ModePolling
		} else {
			c.state.Mode = ModeConnecting
		}
		c.mu.Unlock()
		if err != nil {
			c.logger.WithError(err).WithField("attempt", attempts).Debug("status stream disconnected")
		}

		wait := c.config.ReconnectInterval
		if attempts > c.config.MaxAttempts {
			if err := c.poll(ctx); err != nil {
				c.logger.WithError(err).Debug("status poll failed")
			}
			wait = c.config.PollInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	c.mu.Lock()
	c.state.Connected = true
	c.state.Mode = ModeLive
	c.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var event broadcast.Event
		if err := conn.ReadJSON(&event); err != nil {
			return true, err
		}
		if event.Type == broadcast.TypeHeartbeat {
			if err := conn.WriteJSON(&broadcast.Frame{Type: broadcast.FrameAck}); err != nil {
				return true, err
			}
			continue
		}
		if event.IsControl() {
			continue
		}
		c.receive(&event, false)
	}
}

type statusDocument struct {
	Events []*broadcast.Event `json:"events"`
}

func (c *Client) poll(ctx context.Context) error {
	if c.config.StatusURL == "" {
		return nil
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.StatusURL, nil)
	if err != nil {
		return err
	}
	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("status poll: unexpected status %d", response.StatusCode)
	}
	var document statusDocument
	if err = json.NewDecoder(response.Body).Decode(&document); err != nil {
		return fmt.Errorf("status poll: %w", err)
	}
	c.mu.Lock()
	c.polled = document.Events
	c.mu.Unlock()
	for _, event := range document.Events {
		if event != nil && !event.IsControl() {
			c.receive(event, true)
		}
	}
	return nil
}

func (c *Client) receive(event *broadcast.Event, polled bool) {
	c.mu.Lock()
	if c.seen[event.ID] {
		c.mu.Unlock()
		return
	}
	c.remember(event.ID)
	if !polled {
		c.live = append(c.live, event)
		if len(c.live) > maxHistory {
			c.live = append([]*broadcast.Event(nil), c.live[len(c.live)-maxHistory:]...)
		}
	}
	c.mu.Unlock()
	if c.handler != nil {
		c.handler(event)
	}
}

// remember records id in the bounded dedupe window, forgetting the oldest
// id once the window is full. Caller holds mu.
func (c *Client) remember(id string) {
	if len(c.recent) < maxSeen {
		c.recent = append(c.recent, id)
	} else {
		delete(c.seen, c.recent[c.next])
		c.recent[c.next] = id
		c.next = (c.next + 1) % maxSeen
	}
	c.seen[id] = true
}

// Events returns live and polled events merged, newest first.
func (c *Client) Events() []*broadcast.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return broadcast.Merge(c.live, c.polled)
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// New creates a client; handler receives every distinct event once.
func New(config Config, handler func(event *broadcast.Event)) *Client {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	return &Client{
		config:  config,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		http:    &http.Client{Timeout: 10 * time.Second},
		seen:    map[string]bool{},
		state:   State{Mode: ModeConnecting},
		logger:  log.With("status-client"),
	}
}
