package api

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/reducer"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// ChangeEvent is pushed to change-feed clients after every state transition.
type ChangeEvent struct {
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	Version   uint64    `json:"version"`
	Changed   []string  `json:"changed,omitempty"`
	Removed   []string  `json:"removed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Diff lists the variable keys whose entries differ between prev and next.
// Unchanged entries share their pointer across copy-on-write states, so
// pointer inequality is exact.
func Diff(prev, next reducer.State) (changed, removed []string) {
	for _, v := range next.Variables() {
		if old, ok := prev.Variable(v.Key()); !ok || old != v {
			changed = append(changed, v.Key())
		}
	}
	for _, key := range prev.Keys() {
		if !next.Has(key) {
			removed = append(removed, key)
		}
	}
	return changed, removed
}

// filter keeps the keys of one entity, or all of them for an empty prefix.
func (e ChangeEvent) filter(prefix string) (ChangeEvent, bool) {
	if prefix == "" {
		return e, true
	}
	out := e
	out.Changed = withPrefix(e.Changed, prefix)
	out.Removed = withPrefix(e.Removed, prefix)
	return out, len(out.Changed)+len(out.Removed) > 0
}

func withPrefix(keys []string, prefix string) []string {
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

type feedClient struct {
	id     string
	prefix string
	send   chan []byte
}

// Hub fans state changes out to websocket clients.
type Hub struct {
	log      *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// Attach publishes every transition of store. The returned function detaches.
func (h *Hub) Attach(store *reducer.Store) func() {
	return store.Subscribe(func(prev, next reducer.State, action reducer.Action) {
		changed, removed := Diff(prev, next)
		h.Publish(ChangeEvent{
			Type:      "change",
			Action:    action.Name(),
			Version:   next.Version(),
			Changed:   changed,
			Removed:   removed,
			Timestamp: time.Now().UTC(),
		})
	})
}

// Publish sends ev to every interested client. Slow clients whose buffer is
// full miss the event.
func (h *Hub) Publish(ev ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		filtered, ok := ev.filter(c.prefix)
		if !ok {
			continue
		}
		data, err := json.Marshal(filtered)
		if err != nil {
			h.log.WithError(err).Error("Failed to marshal change event")
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.WithField("client_id", c.id).Warn("Change feed client too slow, event dropped")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams change events. The optional
// "entity" query parameter ("entityId:versionId") restricts the feed.
func (h *Hub) ServeWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &feedClient{
		id:   uuid.New().String(),
		send: make(chan []byte, sendBuffer),
	}
	if entity := c.Query("entity"); entity != "" {
		client.prefix = strings.TrimSuffix(entity, ":") + ":"
	}

	if !h.register(client) {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		ws.Close()
		return
	}

	h.log.WithFields(logrus.Fields{
		"client_id": client.id,
		"entity":    client.prefix,
	}).Info("Change feed client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
}

func (h *Hub) register(c *feedClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2) // read and write pumps
	wsClients.Inc()
	return true
}

func (h *Hub) unregister(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	wsClients.Dec()
}

// readPump discards client messages and unregisters on disconnect.
func (h *Hub) readPump(c *feedClient, ws *websocket.Conn) {
	defer func() {
		h.unregister(c)
		ws.Close()
		h.wg.Done()
	}()

	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *feedClient, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
		h.wg.Done()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and waits for their pumps to exit. Later
// connection attempts are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		wsClients.Dec()
	}
	h.mu.Unlock()

	h.wg.Wait()
}
