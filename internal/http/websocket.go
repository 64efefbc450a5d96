package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ledger/internal/core"
	"ledger/internal/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

var errHubClosed = errors.New("websocket hub is closed")

type wsClient struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub pushes ledger changes to the websocket connections of the user who
// owns them. It implements store.ChangeNotifier.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
	closed  bool
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		clients: make(map[string]map[*wsClient]struct{}),
	}
}

// Notify sends c to every connection of c.UserID. Slow clients whose
// buffer is full are disconnected instead of blocking the ledger.
func (h *Hub) Notify(ctx context.Context, c core.Change) {
	if h == nil {
		return
	}
	msg, err := json.Marshal(c)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to encode change", log.FieldError, err)
		return
	}

	var slow []*wsClient
	h.mu.RLock()
	for cl := range h.clients[c.UserID] {
		select {
		case cl.send <- msg:
		default:
			slow = append(slow, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range slow {
		h.logger.WarnContext(ctx, "Dropping slow websocket client", log.FieldUserID, cl.userID)
		h.unregister(cl)
	}
}

// Serve upgrades the request and streams the user's changes until the
// peer goes away or the hub is closed.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	cl := &wsClient{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	if err := h.register(cl); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return err
	}
	h.logger.InfoContext(r.Context(), "WebSocket client connected",
		log.FieldUserID, userID, "clients", h.Count())

	go h.writePump(cl)
	h.readPump(cl)

	h.logger.InfoContext(r.Context(), "WebSocket client disconnected", log.FieldUserID, userID)
	return nil
}

func (h *Hub) register(cl *wsClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}
	set, ok := h.clients[cl.userID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[cl.userID] = set
	}
	set[cl] = struct{}{}
	return nil
}

// unregister closes cl.send exactly once; writePump then closes the conn.
func (h *Hub) unregister(cl *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[cl.userID]
	if !ok {
		return
	}
	if _, ok := set[cl]; !ok {
		return
	}
	delete(set, cl)
	if len(set) == 0 {
		delete(h.clients, cl.userID)
	}
	close(cl.send)
}

// readPump discards inbound messages and keeps the read deadline fresh.
func (h *Hub) readPump(cl *wsClient) {
	defer func() {
		h.unregister(cl)
		cl.conn.Close()
	}()
	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.DebugContext(context.Background(), "WebSocket read error", log.FieldUserID, cl.userID, log.FieldError, err)
			}
			return
		}
	}
}

func (h *Hub) writePump(cl *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(cl)
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(cl)
				return
			}
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for user, set := range h.clients {
		for cl := range set {
			close(cl.send)
		}
		delete(h.clients, user)
	}
}
