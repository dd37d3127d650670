package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PabloPoletti/argentina-market-intelligence/pkg/consensus"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/index"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/logging"
	"github.com/PabloPoletti/argentina-market-intelligence/pkg/observation"
)

// WebSocketServer pushes run results to connected clients as they land.
type WebSocketServer struct {
	addr     string
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*WebSocketClient]bool

	updates chan RunUpdate

	ctx    context.Context
	cancel context.CancelFunc
}

// RunUpdate is the payload broadcast after each collection run.
type RunUpdate struct {
	Prices []consensus.Price
	Series *index.Series
}

// WebSocketClient represents a connected WebSocket client.
type WebSocketClient struct {
	conn               *websocket.Conn
	send               chan []byte
	server             *WebSocketServer
	subscribedAll      bool
	subscribedProducts map[string]bool
	mu                 sync.RWMutex
}

// WebSocketMessage represents a client message.
type WebSocketMessage struct {
	Type     string   `json:"type"`     // "subscribe", "unsubscribe", "ping"
	Products []string `json:"products"` // Product keys to subscribe to
}

// RunUpdateMessage is sent to clients after each run.
type RunUpdateMessage struct {
	Type      string           `json:"type"` // "run_update"
	Timestamp string           `json:"timestamp"`
	Day       string           `json:"day"`
	Prices    []ConsensusData  `json:"prices"`
	Index     *IndexPointData  `json:"index,omitempty"`
}

// ConsensusData is one consensus price in a broadcast.
type ConsensusData struct {
	ProductKey string `json:"product_key"`
	Category   string `json:"category"`
	Price      string `json:"price"`
	Sources    int    `json:"sources"`
}

// IndexPointData is the latest index point in a broadcast.
type IndexPointData struct {
	Date    string `json:"date"`
	Value   string `json:"value,omitempty"`
	Defined bool   `json:"defined"`
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(addr string, logger *logging.Logger) *WebSocketServer {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	return &WebSocketServer{
		addr:   addr,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Allow all origins (configure CORS as needed)
				return true
			},
		},
		clients: make(map[*WebSocketClient]bool),
		updates: make(chan RunUpdate, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the WebSocket server and blocks until Stop is called.
func (s *WebSocketServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go s.broadcastUpdates()

	s.logger.Info("Starting WebSocket server", "addr", s.addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", "error", err.Error())
		}
	}()

	<-s.ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Stop stops the WebSocket server.
func (s *WebSocketServer) Stop() {
	s.cancel()
}

// SendUpdate queues a run result for broadcast to all connected clients.
func (s *WebSocketServer) SendUpdate(update RunUpdate) {
	select {
	case s.updates <- update:
	case <-time.After(100 * time.Millisecond):
		s.logger.Warn("Update channel full, dropping run update")
	}
}

// handleWebSocket handles new WebSocket connections.
func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err.Error())
		return
	}

	client := &WebSocketClient{
		conn:               conn,
		send:               make(chan []byte, 256),
		server:             s,
		subscribedAll:      true,
		subscribedProducts: make(map[string]bool),
	}

	s.registerClient(client)

	go client.writePump()
	go client.readPump()

	s.logger.Info("New WebSocket client connected", "remote", conn.RemoteAddr())
}

func (s *WebSocketServer) registerClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
}

func (s *WebSocketServer) unregisterClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

func (s *WebSocketServer) broadcastUpdates() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case update := <-s.updates:
			s.broadcast(update)
		}
	}
}

// broadcast fans a run update out to every subscribed client. Each client
// gets a view filtered to its product subscriptions.
func (s *WebSocketServer) broadcast(update RunUpdate) {
	if len(update.Prices) == 0 {
		return
	}

	s.mu.RLock()
	clients := make([]*WebSocketClient, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		data, ok := client.buildMessage(update)
		if !ok {
			continue
		}
		select {
		case client.send <- data:
		default:
			s.logger.Warn("Client send buffer full, skipping update")
		}
	}
}

// buildMessage renders the update for one client's subscriptions. Returns
// false when nothing in the update matches.
func (c *WebSocketClient) buildMessage(update RunUpdate) ([]byte, bool) {
	c.mu.RLock()
	all := c.subscribedAll
	subscribed := make(map[string]bool, len(c.subscribedProducts))
	for k := range c.subscribedProducts {
		subscribed[k] = true
	}
	c.mu.RUnlock()

	prices := make([]ConsensusData, 0, len(update.Prices))
	for _, p := range update.Prices {
		if !all && !subscribed[p.ProductKey] {
			continue
		}
		prices = append(prices, ConsensusData{
			ProductKey: p.ProductKey,
			Category:   string(p.Category),
			Price:      p.Price.String(),
			Sources:    p.SourceCount,
		})
	}
	if len(prices) == 0 {
		return nil, false
	}

	message := RunUpdateMessage{
		Type:      "run_update",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Day:       observation.DayKey(update.Prices[0].Date),
		Prices:    prices,
	}
	if update.Series != nil && len(update.Series.Points) > 0 {
		last := update.Series.Points[len(update.Series.Points)-1]
		point := &IndexPointData{
			Date:    observation.DayKey(last.Date),
			Defined: last.Defined,
		}
		if last.Defined {
			point.Value = last.Value.String()
		}
		message.Index = point
	}

	data, err := json.Marshal(message)
	if err != nil {
		c.server.logger.Error("Failed to marshal run update", "error", err.Error())
		return nil, false
	}
	return data, true
}

// writePump sends messages to the WebSocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Error("Failed to write message", "error", err.Error())
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("WebSocket error", "error", err.Error())
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes client messages.
func (c *WebSocketClient) handleMessage(data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.server.logger.Warn("Invalid client message", "error", err.Error())
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Products)
	case "unsubscribe":
		c.unsubscribe(msg.Products)
	case "ping":
		c.sendPong()
	default:
		c.server.logger.Warn("Unknown message type", "type", msg.Type)
	}
}

// subscribe subscribes to specific product keys.
func (c *WebSocketClient) subscribe(products []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(products) == 0 || (len(products) == 1 && products[0] == "*") {
		c.subscribedAll = true
		c.subscribedProducts = make(map[string]bool)
	} else {
		c.subscribedAll = false
		for _, key := range products {
			c.subscribedProducts[observation.NormalizeProductKey(key)] = true
		}
	}

	c.server.logger.Debug("Client subscribed", "products", products)
}

// unsubscribe unsubscribes from specific product keys.
func (c *WebSocketClient) unsubscribe(products []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(products) == 0 || (len(products) == 1 && products[0] == "*") {
		c.subscribedAll = false
		c.subscribedProducts = make(map[string]bool)
	} else {
		for _, key := range products {
			delete(c.subscribedProducts, observation.NormalizeProductKey(key))
		}
	}

	c.server.logger.Debug("Client unsubscribed", "products", products)
}

// sendPong sends a pong response.
func (c *WebSocketClient) sendPong() {
	pong := map[string]string{"type": "pong"}
	data, _ := json.Marshal(pong)
	select {
	case c.send <- data:
	default:
	}
}
