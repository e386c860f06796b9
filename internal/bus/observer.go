package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rainbowcity/rainbow/internal/logging"
)

const (
	// WriteWait is the timeout for writing to a WebSocket.
	WriteWait = 10 * time.Second

	// PongWait is the timeout for pong responses.
	PongWait = 60 * time.Second

	// PingPeriod is how often to send ping frames.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is the maximum message size read from a client.
	MaxMessageSize = 512

	clientBuffer = 256
)

// Observer streams bus events to WebSocket clients. It is an http.Handler;
// mount it on any route. Query parameters: replay=false skips the history
// replay, count=N replays the last N events (default 100), session=ID
// restricts the stream to one session.
type Observer struct {
	bus      *Bus
	upgrader websocket.Upgrader
	log      *logging.Logger

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	subID  SubscriptionID
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	closeOnce sync.Once
}

// NewObserver subscribes to every event on bus.
func NewObserver(bus *Bus, log *logging.Logger) *Observer {
	if log == nil {
		log = logging.Global()
	}
	ctx, cancel := context.WithCancel(context.Background())

	o := &Observer{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:     log.WithComponent("observer"),
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	o.subID = bus.Subscribe(EventType(""), o.handleBusEvent)
	return o
}

// ClientCount returns the number of connected WebSocket clients.
func (o *Observer) ClientCount() int {
	o.clientsMu.RLock()
	defer o.clientsMu.RUnlock()
	return len(o.clients)
}

// Close disconnects every client and unsubscribes from the bus.
func (o *Observer) Close() {
	o.cancel()
	if o.subID != "" {
		_ = o.bus.Unsubscribe(o.subID)
	}

	o.clientsMu.Lock()
	for c := range o.clients {
		o.drop(c)
	}
	o.clientsMu.Unlock()

	o.wg.Wait()
}

// ServeHTTP upgrades the connection and starts streaming.
func (o *Observer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	replay := q.Get("replay") != "false"
	count := 100
	if n, err := strconv.Atoi(q.Get("count")); err == nil && n >= 0 {
		count = n
	}

	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.log.Warn("[Observer] WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:      conn,
		send:      make(chan []byte, clientBuffer),
		sessionID: q.Get("session"),
	}

	if replay && count > 0 {
		for _, event := range o.bus.Recent(c.sessionID, count) {
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			select {
			case c.send <- data:
			default:
			}
		}
	}

	o.clientsMu.Lock()
	o.clients[c] = struct{}{}
	total := len(o.clients)
	o.clientsMu.Unlock()
	o.log.Debug("[Observer] Client connected (%d total)", total)

	o.wg.Add(2)
	go o.writePump(c)
	go o.readPump(c)
}

func (c *client) wants(e Event) bool {
	return c.sessionID == "" || c.sessionID == e.SessionID
}

// drop closes c's send channel once. Callers hold clientsMu.
func (o *Observer) drop(c *client) {
	delete(o.clients, c)
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (o *Observer) unregister(c *client) {
	o.clientsMu.Lock()
	o.drop(c)
	remaining := len(o.clients)
	o.clientsMu.Unlock()
	o.log.Debug("[Observer] Client disconnected (%d remaining)", remaining)
}

// writePump handles sending messages to the WebSocket client.
func (o *Observer) writePump(c *client) {
	defer o.wg.Done()
	defer c.conn.Close()

	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-o.ctx.Done():
			return
		}
	}
}

// readPump drains control frames until the client goes away.
func (o *Observer) readPump(c *client) {
	defer o.wg.Done()
	defer o.unregister(c)

	c.conn.SetReadLimit(MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				o.log.Debug("[Observer] WebSocket error: %v", err)
			}
			return
		}
	}
}

// handleBusEvent fans one event out to every interested client. A client
// whose buffer is full is disconnected.
func (o *Observer) handleBusEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		o.log.Warn("[Observer] Failed to marshal event: %v", err)
		return
	}

	o.clientsMu.Lock()
	defer o.clientsMu.Unlock()

	for c := range o.clients {
		if !c.wants(event) {
			continue
		}
		select {
		case c.send <- data:
		default:
			o.drop(c)
		}
	}
}
