// internal/hub/hub.go

// Package hub is the realtime push channel between the service and
// connected operator dashboards. Outbound, every engine/session event is
// fanned out to all subscribers; inbound, manual-control commands are
// routed straight to the remote browser, interleaving with whatever the
// automation loop is doing.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hxkal/stagehand/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	sendBufferSize  = 64
	maxInboundBytes = 64 * 1024
	readDeadline    = 10 * time.Minute
	writeDeadline   = 10 * time.Second
	pingInterval    = 30 * time.Second
	commandTimeout  = 30 * time.Second
)

// ControlSink applies operator override commands to the live browser.
type ControlSink interface {
	Apply(ctx context.Context, cmd schemas.ManualCommand) error
}

// subscriber is one connected operator client. send is never closed;
// teardown is signaled through done so a concurrent broadcast can never
// hit a closed channel.
type subscriber struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	createdAt time.Time
}

// close signals the write pump to drain out and closes the connection.
// Safe to call from the run loop and shutdown concurrently.
func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// Hub owns the subscriber set and the inbound command path.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber

	register   chan *subscriber
	unregister chan *subscriber
	// done is closed when Run exits, releasing pumps blocked on the
	// register/unregister channels during shutdown.
	done chan struct{}

	sinkMu sync.RWMutex
	sink   ControlSink

	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub builds the hub. commandRate limits inbound manual commands per
// second across all subscribers; zero disables the limit.
func NewHub(commandRate float64, logger *zap.Logger) *Hub {
	limit := rate.Inf
	if commandRate > 0 {
		limit = rate.Limit(commandRate)
	}
	return &Hub{
		subscribers: make(map[string]*subscriber),
		register:    make(chan *subscriber, 1),
		unregister:  make(chan *subscriber, 1),
		done:        make(chan struct{}),
		limiter:     rate.NewLimiter(limit, int(commandRate)+1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.Named("hub"),
	}
}

// SetControlSink installs the target for inbound manual commands.
func (h *Hub) SetControlSink(sink ControlSink) {
	h.sinkMu.Lock()
	h.sink = sink
	h.sinkMu.Unlock()
}

// Run processes subscriber registration until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return
		case sub := <-h.register:
			h.add(sub)
		case sub := <-h.unregister:
			h.remove(sub)
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()
	h.logger.Info("Operator client connected",
		zap.String("subscriber_id", sub.id), zap.Int("subscribers", count))
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	existing, ok := h.subscribers[sub.id]
	if ok && existing == sub {
		delete(h.subscribers, sub.id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		sub.close()
		h.logger.Info("Operator client disconnected",
			zap.String("subscriber_id", sub.id), zap.Int("subscribers", count))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.subscribers = make(map[string]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// SubscriberCount returns the number of connected operator clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast pushes one event to every subscriber. A subscriber whose send
// buffer is full is skipped rather than blocking the caller; the engine
// loop must never stall on a slow dashboard.
func (h *Hub) Broadcast(ev schemas.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.send <- data:
		case <-sub.done:
			// Unregistered between the snapshot and the send.
		default:
			h.logger.Debug("Dropping event for slow subscriber",
				zap.String("subscriber_id", sub.id), zap.String("type", string(ev.Type)))
		}
	}
}

// HandleWebSocket upgrades an operator connection and starts its pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{
		id:        uuid.NewString(),
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	go h.readPump(sub)
	go h.writePump(sub)
}

// readPump consumes inbound manual commands from one subscriber.
func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		select {
		case h.unregister <- sub:
		case <-h.done:
			// Run has exited; closeAll already tore the subscriber down.
			sub.close()
		}
	}()

	sub.conn.SetReadLimit(maxInboundBytes)
	sub.conn.SetReadDeadline(time.Now().Add(readDeadline))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Unexpected subscriber close",
					zap.String("subscriber_id", sub.id), zap.Error(err))
			}
			return
		}
		sub.conn.SetReadDeadline(time.Now().Add(readDeadline))

		var cmd schemas.ManualCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			h.logger.Warn("Invalid manual command",
				zap.String("subscriber_id", sub.id), zap.Error(err))
			continue
		}
		h.applyCommand(cmd)
	}
}

// applyCommand routes one manual command to the control sink, subject to
// the global rate limit. Commands are applied immediately, racing the
// automation loop on purpose.
func (h *Hub) applyCommand(cmd schemas.ManualCommand) {
	if !h.limiter.Allow() {
		h.logger.Warn("Manual command dropped by rate limit", zap.String("action", string(cmd.Action)))
		return
	}

	h.sinkMu.RLock()
	sink := h.sink
	h.sinkMu.RUnlock()
	if sink == nil {
		h.logger.Warn("Manual command received with no control sink", zap.String("action", string(cmd.Action)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := sink.Apply(ctx, cmd); err != nil {
		h.logger.Warn("Manual command failed",
			zap.String("action", string(cmd.Action)), zap.Error(err))
	}
}

// writePump flushes outbound events and keepalive pings to one subscriber.
func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case <-sub.done:
			sub.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
