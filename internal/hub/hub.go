package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"beast_bridge/internal/models"
	"beast_bridge/internal/observability"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	MessageInit   = "init"
	MessageUpdate = "update"
	MessagePing   = "ping"
	MessagePong   = "pong"
	MessageStatus = "status"

	// CloseReasonCapacity accompanies the policy violation close sent to
	// subscribers arriving at capacity
	CloseReasonCapacity = "Server at max capacity"

	writeWait    = 10 * time.Second
	readWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxReadSize  = 4096
)

// ErrServerRunning is returned when ListenAndServe is called twice
var ErrServerRunning = errors.New("hub: server already running")

// Config holds subscriber-facing settings
type Config struct {
	Port       int
	Path       string
	MaxClients int
	SendQueue  int
	Verbose    bool
}

// Status is a point-in-time view of the hub
type Status struct {
	Port       int `json:"port"`
	Clients    int `json:"clients"`
	Aircraft   int `json:"aircraft"`
	MaxClients int `json:"maxClients"`
}

type snapshotMessage struct {
	Type      string            `json:"type"`
	Aircraft  []models.Aircraft `json:"aircraft"`
	Timestamp int64             `json:"timestamp"`
}

type statusMessage struct {
	Type          string `json:"type"`
	AircraftCount int    `json:"aircraftCount"`
	ClientCount   int    `json:"clientCount"`
}

type inboundMessage struct {
	Type string `json:"type"`
}

type client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	connectedAt time.Time
	writeMu     sync.Mutex
	closeOnce   sync.Once
}

// write serializes writes; gorilla connections allow one concurrent writer
func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Hub pushes the full aircraft table to every WebSocket subscriber
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	clientsMu sync.RWMutex
	clients   map[string]*client

	snapshotMu sync.RWMutex
	snapshot   []models.Aircraft

	mu       sync.Mutex
	server   *http.Server
	stopped  bool
	shutdown chan struct{}
}

func New(cfg Config) *Hub {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 16
	}

	h := &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		mux:      http.NewServeMux(),
		clients:  make(map[string]*client),
		snapshot: []models.Aircraft{},
		shutdown: make(chan struct{}),
	}
	h.mux.HandleFunc(cfg.Path, h.handleWebSocket)
	return h
}

// Mount adds an HTTP handler next to the WebSocket endpoint
func (h *Hub) Mount(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// Handler returns the hub's HTTP handler
func (h *Hub) Handler() http.Handler {
	return h.mux
}

// ListenAndServe blocks serving subscribers on the configured port. It
// returns nil after Stop.
func (h *Hub) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", h.cfg.Port, err)
	}
	return h.Serve(ln)
}

// Serve accepts subscribers on ln until Stop
func (h *Hub) Serve(ln net.Listener) error {
	h.mu.Lock()
	if h.server != nil {
		h.mu.Unlock()
		ln.Close()
		return ErrServerRunning
	}
	if h.stopped {
		h.mu.Unlock()
		ln.Close()
		return nil
	}
	h.server = &http.Server{
		Handler:           h.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := h.server
	h.mu.Unlock()

	slog.Info("WebSocket server listening", "addr", ln.Addr().String(), "path", h.cfg.Path, "max_clients", h.cfg.MaxClients)
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down and closes every subscriber
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	close(h.shutdown)
	server := h.server
	h.mu.Unlock()

	var err error
	if server != nil {
		if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down websocket server: %w", shutdownErr)
		}
	}

	h.closeAllClients()
	slog.Info("WebSocket server stopped")
	return err
}

// UpdateAircraft replaces the current table and pushes it to all subscribers
func (h *Hub) UpdateAircraft(aircraft []models.Aircraft) {
	snapshot := make([]models.Aircraft, len(aircraft))
	copy(snapshot, aircraft)

	h.snapshotMu.Lock()
	h.snapshot = snapshot
	h.snapshotMu.Unlock()

	data, err := json.Marshal(snapshotMessage{
		Type:      MessageUpdate,
		Aircraft:  snapshot,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		slog.Error("Failed to encode aircraft update", "error", err)
		return
	}

	for _, c := range h.clientList() {
		if h.enqueue(c, data) {
			observability.RecordHubMessage(MessageUpdate)
		}
	}
}

func (h *Hub) Status() Status {
	h.snapshotMu.RLock()
	aircraft := len(h.snapshot)
	h.snapshotMu.RUnlock()

	return Status{
		Port:       h.cfg.Port,
		Clients:    h.ClientCount(),
		Aircraft:   aircraft,
		MaxClients: h.cfg.MaxClients,
	}
}

func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, h.cfg.SendQueue),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}

	h.clientsMu.Lock()
	if h.isStopped() || (h.cfg.MaxClients > 0 && len(h.clients) >= h.cfg.MaxClients) {
		h.clientsMu.Unlock()
		h.reject(conn, r.RemoteAddr)
		return
	}
	h.clients[c.id] = c
	count := len(h.clients)
	h.clientsMu.Unlock()

	observability.SetHubClients(count)
	h.logClient("Client connected", "client", c.id, "remote", r.RemoteAddr, "clients", count)

	// init goes out before the writer starts so it always precedes updates
	if err := h.sendInit(c); err != nil {
		slog.Debug("Failed to send init", "client", c.id, "error", err)
		observability.RecordHubSendFailure()
		h.removeClient(c)
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) reject(conn *websocket.Conn, remote string) {
	observability.RecordHubRejected()
	slog.Warn("Rejecting client, server at max capacity", "remote", remote, "max_clients", h.cfg.MaxClients)

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, CloseReasonCapacity)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

func (h *Hub) sendInit(c *client) error {
	h.snapshotMu.RLock()
	snapshot := h.snapshot
	h.snapshotMu.RUnlock()

	data, err := json.Marshal(snapshotMessage{
		Type:      MessageInit,
		Aircraft:  snapshot,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode init: %w", err)
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		return err
	}
	observability.RecordHubMessage(MessageInit)
	return nil
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer h.removeClient(c)

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				slog.Debug("Send failed, dropping client", "client", c.id, "error", err)
				observability.RecordHubSendFailure()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)

	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		h.handleMessage(c, data)
	}
}

// handleMessage answers ping and status; anything else is ignored
func (h *Hub) handleMessage(c *client, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	var reply any
	switch msg.Type {
	case MessagePing:
		reply = inboundMessage{Type: MessagePong}
	case MessageStatus:
		status := h.Status()
		reply = statusMessage{
			Type:          MessageStatus,
			AircraftCount: status.Aircraft,
			ClientCount:   status.Clients,
		}
	default:
		return
	}

	out, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if h.enqueue(c, out) {
		observability.RecordHubMessage(msg.Type)
	}
}

// enqueue hands data to the client's writer. A backed-up client is dropped.
func (h *Hub) enqueue(c *client, data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		slog.Debug("Send queue full, dropping client", "client", c.id)
		observability.RecordHubSendFailure()
		h.removeClient(c)
		return false
	}
}

func (h *Hub) removeClient(c *client) {
	c.closeOnce.Do(func() {
		close(c.done)

		h.clientsMu.Lock()
		delete(h.clients, c.id)
		count := len(h.clients)
		h.clientsMu.Unlock()

		_ = c.conn.Close()
		observability.SetHubClients(count)
		h.logClient("Client disconnected", "client", c.id, "connected_for", time.Since(c.connectedAt).Round(time.Second), "clients", count)
	})
}

func (h *Hub) closeAllClients() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")
	for _, c := range h.clientList() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		h.removeClient(c)
	}
}

func (h *Hub) clientList() []*client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	list := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	return list
}

func (h *Hub) isStopped() bool {
	select {
	case <-h.shutdown:
		return true
	default:
		return false
	}
}

func (h *Hub) logClient(msg string, args ...any) {
	level := slog.LevelDebug
	if h.cfg.Verbose {
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, msg, args...)
}
