package eventbus

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is same-origin behind the admin HTTP bridge; origin
	// checking is left to whatever sits in front of it in production.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketSubscriber adapts one upgraded connection into a Subscriber.
type WebSocketSubscriber struct {
	id     string
	conn   *websocket.Conn
	logger *slog.Logger
}

// Upgrade promotes an HTTP request to a websocket connection and registers
// it with bus. The returned subscriber unregisters itself when the
// connection's read loop exits (browsers don't send anything on this
// socket, but the read loop is what notices a closed connection).
func Upgrade(bus *Bus, w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*WebSocketSubscriber, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	sub := &WebSocketSubscriber{id: uuid.NewString(), conn: conn, logger: logger.With("subscriber_id", "")}
	sub.logger = logger.With("subscriber_id", sub.id)

	bus.Subscribe(sub)
	go sub.readLoop(bus)

	return sub, nil
}

// ID implements Subscriber.
func (s *WebSocketSubscriber) ID() string { return s.id }

// Send implements Subscriber.
func (s *WebSocketSubscriber) Send(event Event) error {
	return s.conn.WriteJSON(event)
}

// readLoop blocks until the connection closes, then unsubscribes. Inbound
// messages are discarded; this channel is server-to-client only.
func (s *WebSocketSubscriber) readLoop(bus *Bus) {
	defer func() {
		bus.Unsubscribe(s)
		_ = s.conn.Close()
	}()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.logger.Debug("websocket read loop exiting", "error", err)
			return
		}
	}
}
