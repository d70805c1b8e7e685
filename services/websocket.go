package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBufferSize    = 256
	publishBufferSize = 1024
)

// Control messages a client may send.
const (
	msgJoinBoard  = "join-board"
	msgLeaveBoard = "leave-board"
	msgPing       = "ping"
)

// WebSocketMessage is the envelope for everything the server sends.
type WebSocketMessage struct {
	Type    string `json:"type"`
	BoardID int64  `json:"boardId,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type boardRef struct {
	BoardID int64 `json:"boardId"`
}

// Client is one socket connection. A user may hold several.
type Client struct {
	ID     string
	UserID int64
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte

	// owned by the hub loop
	boards map[int64]bool
}

type membership struct {
	client  *Client
	boardID int64
}

type boardMessage struct {
	boardID int64
	data    []byte
}

// Hub keeps per-board subscriptions and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[int64]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	broadcast  chan boardMessage
	done       chan struct{}

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		broadcast:  make(chan boardMessage, publishBufferSize),
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing
// every client's send channel on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("hub stopped")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client connected", "client", client.ID, "user", client.UserID)
		case client := <-h.unregister:
			h.remove(client)
		case m := <-h.join:
			h.addToBoard(m.client, m.boardID)
		case m := <-h.leave:
			h.removeFromBoard(m.client, m.boardID)
			h.reply(m.client, WebSocketMessage{Type: "left-board", BoardID: m.boardID})
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Attach registers a new client for conn and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn, userID int64) *Client {
	client := &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Hub:    h,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
		boards: make(map[int64]bool),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return client
	}
	go client.WritePump()
	go client.ReadPump()
	return client
}

// Unregister removes a client from the hub and every board.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// JoinBoard subscribes client to a board channel.
func (h *Hub) JoinBoard(client *Client, boardID int64) {
	select {
	case h.join <- membership{client: client, boardID: boardID}:
	case <-h.done:
	}
}

// LeaveBoard unsubscribes client from a board channel.
func (h *Hub) LeaveBoard(client *Client, boardID int64) {
	select {
	case h.leave <- membership{client: client, boardID: boardID}:
	case <-h.done:
	}
}

// Publish implements Broadcaster. It never blocks: when the queue is full
// the event is dropped.
func (h *Hub) Publish(boardID int64, event string, payload any) {
	data, err := json.Marshal(WebSocketMessage{Type: event, BoardID: boardID, Data: payload})
	if err != nil {
		h.logger.Error("failed to marshal event", "event", event, "board", boardID, "error", err)
		return
	}
	h.PublishEncoded(boardID, data)
}

// PublishEncoded queues an already encoded envelope for a board.
func (h *Hub) PublishEncoded(boardID int64, data []byte) {
	select {
	case h.broadcast <- boardMessage{boardID: boardID, data: data}:
	default:
		h.logger.Warn("publish queue full, dropping event", "board", boardID)
	}
}

// ClientCount returns the number of connected sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BoardClientCount returns the number of sockets subscribed to a board.
func (h *Hub) BoardClientCount(boardID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[boardID])
}

func (h *Hub) addToBoard(client *Client, boardID int64) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	if h.rooms[boardID] == nil {
		h.rooms[boardID] = make(map[*Client]bool)
	}
	h.rooms[boardID][client] = true
	client.boards[boardID] = true
	h.mu.Unlock()

	h.logger.Debug("client joined board", "client", client.ID, "board", boardID)
	h.reply(client, WebSocketMessage{Type: "joined-board", BoardID: boardID})
}

func (h *Hub) removeFromBoard(client *Client, boardID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, boardID)
}

func (h *Hub) leaveLocked(client *Client, boardID int64) {
	if room := h.rooms[boardID]; room != nil {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, boardID)
		}
	}
	delete(client.boards, boardID)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return
	}
	for boardID := range client.boards {
		h.leaveLocked(client, boardID)
	}
	delete(h.clients, client)
	close(client.Send)
	h.logger.Debug("client disconnected", "client", client.ID, "user", client.UserID)
}

func (h *Hub) deliver(msg boardMessage) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.rooms[msg.boardID] {
		select {
		case client.Send <- msg.data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	// A full send buffer means the peer stopped reading.
	for _, client := range slow {
		h.logger.Warn("client send buffer full, disconnecting", "client", client.ID, "user", client.UserID)
		h.remove(client)
	}
}

// reply sends a message to one client from the hub loop.
func (h *Hub) reply(client *Client, msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]bool)
	h.rooms = make(map[int64]map[*Client]bool)
}

// ReadPump reads control messages until the connection fails.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("websocket read failed", "client", c.ID, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.Hub.logger.Debug("ignoring malformed message", "client", c.ID, "error", err)
			continue
		}

		switch msg.Type {
		case msgJoinBoard, msgLeaveBoard:
			var ref boardRef
			if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.BoardID <= 0 {
				c.Hub.logger.Debug("ignoring board message without boardId", "client", c.ID, "type", msg.Type)
				continue
			}
			if msg.Type == msgJoinBoard {
				c.Hub.JoinBoard(c, ref.BoardID)
			} else {
				c.Hub.LeaveBoard(c, ref.BoardID)
			}
		case msgPing:
			pong, err := json.Marshal(WebSocketMessage{
				Type: "pong",
				Data: map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)},
			})
			if err == nil {
				c.Hub.mu.RLock()
				if c.Hub.clients[c] {
					select {
					case c.Send <- pong:
					default:
					}
				}
				c.Hub.mu.RUnlock()
			}
		default:
			c.Hub.logger.Debug("ignoring unknown message type", "client", c.ID, "type", msg.Type)
		}
	}
}

// WritePump writes queued messages and keepalive pings to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
