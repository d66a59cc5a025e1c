package broadcast

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Client frame types.
const (
	FrameAck  = "ack"
	FramePing = "ping"
)

// Frame is a message sent by a client.
type Frame struct {
	Type string `json:"type"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler streams the status channel over a WebSocket. The first frame is
// the snapshot; clients acknowledge heartbeats with {"type":"ack"}.
func (b *Broadcaster) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.WithError(err).Warn("websocket upgrade failed")
			return
		}
		defer conn.Close()

		subscription := b.Subscribe()
		defer b.Unsubscribe(subscription)

		snapshot, err := b.Snapshot(r.Context())
		if err != nil {
			b.logger.WithError(err).Warn("snapshot failed")
			snapshot = NewEvent(TypeSnapshot, map[string]interface{}{"error": err.Error()})
		}
		if err = b.write(conn, snapshot); err != nil {
			return
		}

		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				var frame Frame
				if err := conn.ReadJSON(&frame); err != nil {
					return
				}
				switch frame.Type {
				case FrameAck:
					subscription.Ack()
				case FramePing:
					subscription.Ack()
					subscription.offer(NewEvent(TypePong, nil))
				}
			}
		}()

		for {
			select {
			case event := <-subscription.Events():
				if err := b.write(conn, event); err != nil {
					return
				}
			case <-subscription.Done():
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"), time.Now().Add(time.Second))
				return
			case <-readerDone:
				return
			}
		}
	})
}

func (b *Broadcaster) write(conn *websocket.Conn, event *Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(event)
}
