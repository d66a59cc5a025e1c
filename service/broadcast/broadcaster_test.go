package broadcast

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DropOldest(t *testing.T) {
	b := New(WithQueueSize(2))
	subscription := b.Subscribe()
	events := []*Event{NewEvent(TypeTaskUpdated, 1), NewEvent(TypeTaskUpdated, 2), NewEvent(TypeTaskUpdated, 3)}
	for _, event := range events {
		b.Publish(event)
	}
	assert.Equal(t, 1, subscription.Dropped())
	assert.Equal(t, events[1].ID, (<-subscription.Events()).ID)
	assert.Equal(t, events[2].ID, (<-subscription.Events()).ID)
}

func TestBroadcaster_PublishNeverBlocks(t *testing.T) {
	b := New(WithQueueSize(1))
	b.Subscribe()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(NewEvent(TypeAudit, i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBroadcaster_HeartbeatTeardown(t *testing.T) {
	b := New(WithHeartbeat(time.Hour, 2))
	responsive := b.Subscribe()
	silent := b.Subscribe()

	for i := 0; i < 2; i++ {
		assert.Equal(t, 0, b.Heartbeat())
		responsive.Ack()
	}
	assert.Equal(t, 1, b.Heartbeat())
	assert.Equal(t, 1, b.Len())

	select {
	case <-silent.Done():
	default:
		t.Fatal("silent subscription should be closed")
	}
	select {
	case <-responsive.Done():
		t.Fatal("responsive subscription must stay open")
	default:
	}
	heartbeat := <-responsive.Events()
	assert.Equal(t, TypeHeartbeat, heartbeat.Type)
}

func TestBroadcaster_RecentAndSnapshot(t *testing.T) {
	b := New(WithSnapshot(func(ctx context.Context) (interface{}, error) {
		return map[string]interface{}{"pending": 2}, nil
	}))
	first := NewEvent(TypeTaskUpdated, "a")
	second := NewEvent(TypeWatcherUpdated, "b")
	b.Publish(first)
	b.Publish(NewEvent(TypeHeartbeat, nil))
	b.Publish(second)

	recent := b.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Len(t, b.Recent(1), 1)

	snapshot, err := b.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TypeSnapshot, snapshot.Type)
	assert.Equal(t, map[string]interface{}{"pending": 2}, snapshot.Data)
}

func TestMerge(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	a := &Event{ID: "a", Type: TypeTaskUpdated, Timestamp: base}
	b := &Event{ID: "b", Type: TypeTaskUpdated, Timestamp: base.Add(time.Minute)}
	c := &Event{ID: "c", Type: TypeAudit, Timestamp: base.Add(2 * time.Minute)}
	heartbeat := &Event{ID: "h", Type: TypeHeartbeat, Timestamp: base.Add(3 * time.Minute)}
	pong := &Event{ID: "p", Type: TypePong, Timestamp: base.Add(4 * time.Minute)}

	merged := Merge([]*Event{a, b, heartbeat}, []*Event{b, c, pong, nil})
	ids := make([]string, 0, len(merged))
	for _, event := range merged {
		ids = append(ids, event.ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
	assert.Empty(t, Merge(nil, nil))
}

func TestHandler_Stream(t *testing.T) {
	b := New(WithSnapshot(func(ctx context.Context) (interface{}, error) {
		return map[string]interface{}{"dry_run": true}, nil
	}))
	server := httptest.NewServer(b.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snapshot Event
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, TypeSnapshot, snapshot.Type)

	require.Eventually(t, func() bool { return b.Len() == 1 }, time.Second, 5*time.Millisecond)
	published := NewEvent(TypeTaskUpdated, map[string]interface{}{"id": "t1"})
	b.Publish(published)
	var received Event
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, published.ID, received.ID)

	require.NoError(t, conn.WriteJSON(&Frame{Type: FramePing}))
	var pong Event
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, TypePong, pong.Type)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)
}
