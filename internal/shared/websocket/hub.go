package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024

	// Buffer of the hub's control channels.
	hubBuffer = 256

	// SendBuffer is the outbound buffer of each client.
	SendBuffer = 64
)

// Hub keeps the client registry and fans messages out to auction rooms and
// to every session of a participant.
type Hub struct {
	// Registered clients grouped by room (auction ID).
	rooms map[string]map[*Client]bool
	// Registered clients grouped by participant ID. Anonymous viewers are
	// only in rooms.
	participants map[string]map[*Client]bool

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	// InboundMessages is listened to by module specific handlers.
	InboundMessages chan *ClientMessage

	clientCount atomic.Int64
}

// Client represents a ws individual connection
type Client struct {
	Hub *Hub
	// The websocket connection.
	Conn *websocket.Conn
	// Buffered channel of outbound messages.
	Send chan []byte
	// Room is the auction ID this client watches.
	Room string
	// ParticipantID is empty for anonymous viewers.
	ParticipantID string
	// Unique identifier for the client
	ID string

	gone atomic.Bool
}

// Message targets a single client, a room or a participant, in that order
// of precedence.
type Message struct {
	Client        *Client
	Room          string
	ParticipantID string
	Data          []byte
}

// ClientMessage wraps an inbound message with the client that sent it.
type ClientMessage struct {
	Client *Client
	Data   []byte
}

func NewHub() *Hub {
	return &Hub{
		broadcast:       make(chan *Message, hubBuffer),
		register:        make(chan *Client, hubBuffer),
		unregister:      make(chan *Client, hubBuffer),
		rooms:           make(map[string]map[*Client]bool),
		participants:    make(map[string]map[*Client]bool),
		InboundMessages: make(chan *ClientMessage, hubBuffer),
	}
}

// ClientCount is the number of registered clients.
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// Run starts the hub listening in their channels
func (h *Hub) Run(ctx context.Context) {
	log.Info("Websocket Hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info("WebSocket Hub shutting down due to context cancellation")
			h.closeAll()
			return

		case client := <-h.register:
			if client.gone.Load() {
				// unregistered before the registration was processed
				continue
			}
			addTo(h.rooms, client.Room, client)
			if client.ParticipantID != "" {
				addTo(h.participants, client.ParticipantID, client)
			}
			h.clientCount.Add(1)
			log.Info("Client registered",
				zap.String("clientID", client.ID),
				zap.String("room", client.Room),
				zap.String("participantID", client.ParticipantID),
				zap.Int64("total_clients", h.clientCount.Load()),
			)

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			var targets map[*Client]bool
			if message.Client != nil {
				if h.rooms[message.Client.Room][message.Client] {
					targets = map[*Client]bool{message.Client: true}
				}
			} else if message.Room != "" {
				targets = h.rooms[message.Room]
			} else {
				targets = h.participants[message.ParticipantID]
			}
			log.Debug("Delivering message",
				zap.String("room", message.Room),
				zap.String("participantID", message.ParticipantID),
				zap.Int("clients", len(targets)),
			)
			for client := range targets {
				select {
				case client.Send <- message.Data:
				default:
					// slow or gone client, drop it
					log.Warn("Failed to Send message to client, unregistering",
						zap.String("clientID", client.ID),
						zap.String("room", client.Room),
					)
					h.remove(client)
				}
			}
		}
	}
}

func addTo(groups map[string]map[*Client]bool, key string, c *Client) {
	if _, ok := groups[key]; !ok {
		groups[key] = make(map[*Client]bool)
	}
	groups[key][c] = true
}

// remove drops client from every group it is in. Runs on the hub goroutine.
func (h *Hub) remove(client *Client) {
	clients, ok := h.rooms[client.Room]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.rooms, client.Room)
		log.Debug("Room removed as empty", zap.String("room", client.Room))
	}
	if client.ParticipantID != "" {
		if sessions, ok := h.participants[client.ParticipantID]; ok {
			delete(sessions, client)
			if len(sessions) == 0 {
				delete(h.participants, client.ParticipantID)
			}
		}
	}
	close(client.Send)
	h.clientCount.Add(-1)
	log.Info("Client unregistered",
		zap.String("clientID", client.ID),
		zap.String("room", client.Room),
		zap.Int64("total_clients", h.clientCount.Load()),
	)
}

func (h *Hub) closeAll() {
	for _, clients := range h.rooms {
		for client := range clients {
			h.remove(client)
		}
	}
}

// RegisterClient register a new client in the hub
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	default:
		log.Error("Register channel is full, client registration failed",
			zap.String("clientID", client.ID),
			zap.String("room", client.Room),
		)
		_ = client.Conn.Close()
	}
}

// UnregisterClient delete a client from the hub
func (h *Hub) UnregisterClient(client *Client) {
	client.gone.Store(true)
	select {
	case h.unregister <- client:
	default:
		log.Error("Unregister channel is full, client unregistration failed",
			zap.String("clientID", client.ID),
			zap.String("room", client.Room),
		)
	}
}

// BroadcastToRoom sends data to every client watching room.
func (h *Hub) BroadcastToRoom(room string, data []byte) bool {
	return h.enqueue(&Message{Room: room, Data: data})
}

// SendToParticipant sends data to every session of participantID.
func (h *Hub) SendToParticipant(participantID string, data []byte) bool {
	return h.enqueue(&Message{ParticipantID: participantID, Data: data})
}

// SendToClient sends data to one client. It is the safe way for handlers to
// reply, since only the hub closes a client's Send channel.
func (h *Hub) SendToClient(client *Client, data []byte) bool {
	return h.enqueue(&Message{Client: client, Data: data})
}

func (h *Hub) enqueue(m *Message) bool {
	select {
	case h.broadcast <- m:
		return true
	default:
		log.Error("Broadcast channel is full, message dropped",
			zap.String("room", m.Room),
			zap.String("participantID", m.ParticipantID),
		)
		return false
	}
}

// ReadPump reads client messages and hands them to InboundMessages. It
// must run in its own goroutine per client, or block the ws handler.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.UnregisterClient(c)
		c.Conn.Close()
		log.Info("ReadPump stopped for client",
			zap.String("clientID", c.ID),
			zap.String("room", c.Room),
		)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("WebSocket read error",
					zap.String("clientID", c.ID),
					zap.String("room", c.Room),
					zap.Error(err),
				)
			}
			return
		}

		select {
		case c.Hub.InboundMessages <- &ClientMessage{Client: c, Data: message}:
		default:
			log.Error("Hub InboundMessages channel is full, dropping message",
				zap.String("clientID", c.ID),
				zap.String("room", c.Room),
			)
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection. It is
// the only writer of the connection.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Hub.UnregisterClient(c)
		c.Conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			err := c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			if err != nil {
				log.Debug("Failed to send close control message", zap.String("clientID", c.ID), zap.Error(err))
			}
			return

		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The Hub closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error("Failed to write message to client",
					zap.String("clientID", c.ID),
					zap.String("room", c.Room),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error("Failed to write ping message to client",
					zap.String("clientID", c.ID),
					zap.Error(err),
				)
				return
			}
		}
	}
}
