package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/overseer/service/broadcast"
)

type recorder struct {
	mu     sync.Mutex
	events map[string]int
}

func (r *recorder) handle(event *broadcast.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID]++
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id]
}

func newServer(b *broadcast.Broadcaster, liveEnabled bool) *httptest.Server {
	mux := http.NewServeMux()
	if liveEnabled {
		mux.Handle("/ws", b.Handler())
	}
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"events": b.Recent(50)})
	})
	return httptest.NewServer(mux)
}

func config(server *httptest.Server) Config {
	return Config{
		URL:               "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		StatusURL:         server.URL + "/status",
		ReconnectInterval: 10 * time.Millisecond,
		MaxAttempts:       3,
		PollInterval:      10 * time.Millisecond,
	}
}

func TestClient_ReconnectsWithoutDuplicates(t *testing.T) {
	b := broadcast.New()
	server := newServer(b, true)
	defer server.Close()
	rec := &recorder{events: map[string]int{}}
	client := New(config(server), rec.handle)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	require.Eventually(t, func() bool { return b.Len() == 1 && client.State().Connected }, time.Second, 5*time.Millisecond)
	first := broadcast.NewEvent(broadcast.TypeTaskUpdated, "t1")
	b.Publish(first)
	require.Eventually(t, func() bool { return rec.count(first.ID) == 1 }, time.Second, 5*time.Millisecond)

	// server side teardown; reconnect budget is attempts x interval
	b.Close()
	require.Eventually(t, func() bool { return b.Len() == 1 && client.State().Reconnects == 1 }, time.Second, 5*time.Millisecond)
	second := broadcast.NewEvent(broadcast.TypeTaskUpdated, "t2")
	b.Publish(second)
	b.Publish(first)
	require.Eventually(t, func() bool { return rec.count(second.ID) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count(first.ID))

	var updates []string
	for _, event := range client.Events() {
		if event.Type == broadcast.TypeTaskUpdated {
			updates = append(updates, event.ID)
		}
	}
	assert.Equal(t, []string{second.ID, first.ID}, updates)
	assert.Equal(t, ModeLive, client.State().Mode)
}

func TestClient_PollingFallback(t *testing.T) {
	b := broadcast.New()
	server := newServer(b, false)
	defer server.Close()
	polled := broadcast.NewEvent(broadcast.TypeAudit, "entry")
	b.Publish(polled)

	rec := &recorder{events: map[string]int{}}
	client := New(config(server), rec.handle)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	require.Eventually(t, func() bool { return rec.count(polled.ID) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ModePolling, client.State().Mode)
	assert.False(t, client.State().Connected)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count(polled.ID))
	events := client.Events()
	require.Len(t, events, 1)
	assert.Equal(t, polled.ID, events[0].ID)
}

func TestClient_DedupeWindowIsBounded(t *testing.T) {
	rec := &recorder{events: map[string]int{}}
	statusClient := New(Config{URL: "ws://localhost:0/ws"}, rec.handle)
	first := broadcast.NewEvent(broadcast.TypeAudit, nil)
	statusClient.receive(first, false)
	statusClient.receive(first, true)
	assert.Equal(t, 1, rec.count(first.ID))

	for i := 0; i < 3*maxSeen; i++ {
		statusClient.receive(broadcast.NewEvent(broadcast.TypeAudit, nil), false)
	}
	statusClient.mu.Lock()
	assert.Len(t, statusClient.seen, maxSeen)
	assert.Len(t, statusClient.recent, maxSeen)
	assert.False(t, statusClient.seen[first.ID])
	statusClient.mu.Unlock()
	assert.Len(t, statusClient.Events(), maxHistory)
}
