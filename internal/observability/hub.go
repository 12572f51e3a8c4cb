package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const maxStreamClients = 50

// TaskEvent is one lifecycle event broadcast on the debug stream.
type TaskEvent struct {
	Stage     string    `json:"stage"` // claimed, completed, failed, retried
	TaskID    int64     `json:"task_id"`
	TaskType  string    `json:"task_type"`
	ContentID *int64    `json:"content_id,omitempty"`
	WorkerID  string    `json:"worker_id"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHub fans task lifecycle events out to websocket subscribers of the
// worker debug server. A single broadcaster goroutine owns the client set.
type EventHub struct {
	log        *logrus.Entry
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	events     chan TaskEvent
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewEventHub creates an idle hub; Run starts it.
func NewEventHub(log *logrus.Entry) *EventHub {
	return &EventHub{
		log:        log,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		events:     make(chan TaskEvent, 256),
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Run owns the client set until ctx is cancelled.
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxStreamClients {
				h.mu.Unlock()
				conn.Close()
				h.log.Warnf("event stream connection rejected: %d client cap reached", maxStreamClients)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

// Publish enqueues an event for broadcast. Non-blocking; the stream is
// best-effort and drops under pressure rather than stalling the worker loop.
func (h *EventHub) Publish(ev TaskEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case h.events <- ev:
	default:
	}
}

func (h *EventHub) broadcast(ev TaskEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			h.log.WithError(err).Debug("event stream write failed")
			go func(c *websocket.Conn) { h.unregister <- c }(conn)
		}
	}
}

func (h *EventHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// Handler upgrades an HTTP request to a stream subscription.
func (h *EventHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Debug("event stream upgrade failed")
			return
		}
		h.register <- conn

		// Drain client frames so pings are answered; discard everything.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister <- conn
					return
				}
			}
		}()
	}
}
