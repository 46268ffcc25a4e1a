package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yegors/atc-scanner/internal/scanner"
	"github.com/yegors/atc-scanner/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// Message types
const (
	TypeStatusUpdate   = "status_update"
	TypeError          = "error"
	TypeGetStatus      = "get_status"
	TypeStartScanner   = "start_scanner"
	TypeStopScanner    = "stop_scanner"
	TypeUpdateSettings = "update_settings"
)

// Controller is the scanner surface the relay drives
type Controller interface {
	Start(ctx context.Context, partial map[string]interface{}) (scanner.StartResult, error)
	Stop() scanner.StopResult
	Status() scanner.Status
	UpdateSettings(partial map[string]interface{}) (scanner.UpdateResult, error)
}

// Message is an outbound frame
type Message struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// inbound is a frame sent by a browser
type inbound struct {
	Type     string                 `json:"type"`
	Settings map[string]interface{} `json:"settings"`
}

// Server relays scanner events to websocket clients and accepts scanner commands
type Server struct {
	upgrader   websocket.Upgrader
	controller Controller
	logger     *logger.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// Client is one connected browser
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a relay. An empty allowedOrigins list accepts every origin.
func NewServer(controller Controller, allowedOrigins []string, log *logger.Logger) *Server {
	s := &Server{
		controller: controller,
		logger:     log.Named("websocket"),
		clients:    make(map[string]*Client),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return OriginAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}

	return s
}

// OriginAllowed reports whether origin may talk to the server. An empty allow-list or
// a "*" entry accepts everything; requests without an Origin header are accepted.
func OriginAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades the request and sends the current status
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", logger.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		server: s,
		ctx:    ctx,
		cancel: cancel,
	}

	s.register(client)
	client.sendMessage(Message{Type: TypeStatusUpdate, Data: s.controller.Status()})

	go client.writePump()
	go client.readPump()
}

// Notify implements scanner.Listener by broadcasting the event to every client
func (s *Server) Notify(event scanner.Event) error {
	data, err := json.Marshal(Message{Type: string(event.Type), Data: event.Data})
	if err != nil {
		return err
	}
	s.broadcast(data)
	return nil
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client
func (s *Server) Close() {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		s.unregister(c)
	}
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("Client connected",
		logger.String("client_id", c.id),
		logger.Int("clients", n),
	)
}

// unregister removes c once; the removing call owns closing the send channel
func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	close(c.send)
	n := len(s.clients)
	s.mu.Unlock()

	c.cancel()
	s.logger.Info("Client disconnected",
		logger.String("client_id", c.id),
		logger.Int("clients", n),
	)
}

// broadcast never waits on a client; one whose buffer is full is dropped
func (s *Server) broadcast(data []byte) {
	var slow []*Client

	s.mu.RLock()
	for _, c := range s.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		s.logger.Warn("Dropping slow client", logger.String("client_id", c.id))
		s.unregister(c)
	}
}

func (s *Server) handle(c *Client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("invalid message: " + err.Error())
		return
	}

	switch msg.Type {
	case TypeGetStatus:
	case TypeStartScanner:
		if _, err := s.controller.Start(c.ctx, msg.Settings); err != nil {
			c.sendError(err.Error())
			return
		}
	case TypeStopScanner:
		s.controller.Stop()
	case TypeUpdateSettings:
		if _, err := s.controller.UpdateSettings(msg.Settings); err != nil {
			c.sendError(err.Error())
			return
		}
	default:
		c.sendError("unknown message type: " + msg.Type)
		return
	}

	c.sendMessage(Message{Type: TypeStatusUpdate, Data: s.controller.Status()})
}

func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.server.logger.Error("Failed to marshal message", logger.Error(err))
		return
	}

	c.server.mu.RLock()
	defer c.server.mu.RUnlock()
	if _, ok := c.server.clients[c.id]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		c.server.logger.Warn("Client buffer full, reply dropped", logger.String("client_id", c.id))
	}
}

func (c *Client) sendError(message string) {
	c.server.logger.Debug("Replying with error",
		logger.String("client_id", c.id),
		logger.String("message", message),
	)
	c.sendMessage(Message{Type: TypeError, Message: message})
}

func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("Unexpected close", logger.String("client_id", c.id), logger.Error(err))
			}
			return
		}
		c.server.handle(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
