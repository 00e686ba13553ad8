package dump1090

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"beast_bridge/internal/beast"
	"beast_bridge/internal/models"
	"beast_bridge/internal/observability"
	"beast_bridge/internal/store"
)

const readBufferSize = 4096

// State of a Link's connection lifecycle
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type EventType string

const (
	EventConnected EventType = "connected"
	EventData      EventType = "data"
	EventBroadcast EventType = "broadcast"
	EventError     EventType = "error"
	EventClosed    EventType = "closed"
)

// Event is emitted by a Link to its handler. Aircraft carries the link's
// full snapshot for data and broadcast events.
type Event struct {
	Source    string
	Type      EventType
	Aircraft  []models.Aircraft
	Timestamp time.Time
	Err       error
}

// EventHandler receives link events synchronously. Data events from one
// link arrive in the order the bytes were read.
type EventHandler func(Event)

// Config holds the timing and framing settings of a Link
type Config struct {
	ReconnectInterval time.Duration
	BroadcastInterval time.Duration
	ConnectTimeout    time.Duration
	Escaped           bool
	MaxBuffered       int
}

func (c Config) withDefaults() Config {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = 100 * time.Millisecond
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// LinkStatus is a point-in-time view of one link
type LinkStatus struct {
	Name      string `json:"name"`
	Addr      string `json:"addr"`
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	Aircraft  int    `json:"aircraft"`
}

// Link maintains one Beast TCP feed, decoding frames into its own store and
// reconnecting after every close until Disconnect is called.
type Link struct {
	source  models.Source
	cfg     Config
	handler EventHandler
	store   *store.Store

	// feedMu serializes the stream state shared across connections
	feedMu      sync.Mutex
	framer      *beast.Synchronizer
	decoder     *beast.Decoder
	lastDropped uint64

	mu            sync.Mutex
	state         State
	gen           uint64
	conn          net.Conn
	cancelDial    context.CancelFunc
	reconnect     *time.Timer
	stopBroadcast chan struct{}
}

func NewLink(src models.Source, cfg Config, handler EventHandler) *Link {
	cfg = cfg.withDefaults()

	var syncOpts []beast.Option
	if cfg.Escaped {
		syncOpts = append(syncOpts, beast.WithEscapes())
	}
	if cfg.MaxBuffered > 0 {
		syncOpts = append(syncOpts, beast.WithMaxBuffered(cfg.MaxBuffered))
	}

	return &Link{
		source:  src,
		cfg:     cfg,
		handler: handler,
		store:   store.New(),
		framer:  beast.NewSynchronizer(syncOpts...),
		decoder: beast.NewDecoder(),
		state:   StateIdle,
	}
}

func (l *Link) Name() string {
	return l.source.DisplayName()
}

func (l *Link) Store() *store.Store {
	return l.store
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Connected() bool {
	return l.State() == StateConnected
}

func (l *Link) Status() LinkStatus {
	state := l.State()
	return LinkStatus{
		Name:      l.Name(),
		Addr:      l.source.Addr(),
		Connected: state == StateConnected,
		State:     state.String(),
		Aircraft:  l.store.Len(),
	}
}

// Connect starts a connection attempt. It is a no-op while a connection is
// being established or is already up.
func (l *Link) Connect() {
	l.mu.Lock()
	if l.state == StateConnecting || l.state == StateConnected {
		l.mu.Unlock()
		return
	}
	l.stopReconnectLocked()
	l.gen++
	gen := l.gen
	l.state = StateConnecting
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.ConnectTimeout)
	l.cancelDial = cancel
	l.mu.Unlock()

	slog.Debug("Connecting to Beast source", "source", l.Name(), "addr", l.source.Addr())
	go l.run(ctx, cancel, gen)
}

// Disconnect tears the link down. No reconnect follows, including one that
// was already scheduled.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	wasConnected := l.state == StateConnected
	l.gen++
	l.state = StateClosed
	l.stopReconnectLocked()
	l.stopBroadcastLocked()
	if l.cancelDial != nil {
		l.cancelDial()
		l.cancelDial = nil
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.mu.Unlock()

	slog.Info("Disconnected from Beast source", "source", l.Name())
	if wasConnected {
		l.emit(Event{Type: EventClosed})
	}
}

// Len returns the number of aircraft in the link's table
func (l *Link) Len() int {
	return l.store.Len()
}

// Evict drops aircraft older than maxAge along with stale position halves
func (l *Link) Evict(maxAge time.Duration, now time.Time) int {
	removed := l.store.Evict(maxAge, now)

	l.feedMu.Lock()
	l.decoder.Forget(now)
	l.feedMu.Unlock()

	observability.RecordEvicted(l.Name(), removed)
	observability.SetAircraftTracked(l.Name(), l.store.Len())
	return removed
}

func (l *Link) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", l.source.Addr())
	cancel()
	if err != nil {
		if l.current(gen, StateConnecting) {
			slog.Warn("Failed to connect to Beast source", "source", l.Name(), "addr", l.source.Addr(), "error", err)
			l.emit(Event{Type: EventError, Err: fmt.Errorf("failed to connect to %s: %w", l.source.Addr(), err)})
		}
		l.handleClose(gen)
		return
	}

	l.mu.Lock()
	if l.gen != gen || l.state != StateConnecting {
		l.mu.Unlock()
		conn.Close()
		return
	}
	l.conn = conn
	l.cancelDial = nil
	l.state = StateConnected
	stop := make(chan struct{})
	l.stopBroadcast = stop
	l.mu.Unlock()

	l.feedMu.Lock()
	l.framer.Reset()
	l.feedMu.Unlock()

	slog.Info("Connected to Beast source", "source", l.Name(), "addr", l.source.Addr())
	l.emit(Event{Type: EventConnected})
	go l.broadcastLoop(stop)

	if err := l.readLoop(conn, gen); err != nil && l.current(gen, StateConnected) {
		slog.Warn("Beast source connection error", "source", l.Name(), "error", err)
		l.emit(Event{Type: EventError, Err: err})
	}
	l.handleClose(gen)
}

func (l *Link) readLoop(conn net.Conn, gen uint64) error {
	buf := make([]byte, readBufferSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(l.cfg.ConnectTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, err := conn.Read(buf)
		if n > 0 {
			l.processChunk(buf[:n], gen)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to read from %s: %w", l.source.Addr(), err)
		}
	}
}

// processChunk feeds one read through framing, decoding and the store, then
// emits a single data event for the whole chunk
func (l *Link) processChunk(chunk []byte, gen uint64) {
	l.feedMu.Lock()
	if !l.current(gen, StateConnected) {
		l.feedMu.Unlock()
		return
	}
	frames := l.framer.Feed(chunk)
	dropped := l.framer.Dropped()
	observability.RecordBytesDropped(l.Name(), dropped-l.lastDropped)
	l.lastDropped = dropped
	observability.RecordFrames(l.Name(), len(frames))

	if err := l.mergeFrames(frames); err != nil {
		slog.Warn("Error processing Beast data", "source", l.Name(), "error", err)
		observability.RecordDecodeError(l.Name())
	}
	l.feedMu.Unlock()

	snapshot := l.store.Snapshot()
	observability.SetAircraftTracked(l.Name(), len(snapshot))
	l.emit(Event{Type: EventData, Aircraft: snapshot})
}

// mergeFrames stops at the first bad frame; earlier merges are kept
func (l *Link) mergeFrames(frames []models.RawFrame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()

	for _, f := range frames {
		rec, ok, err := l.decoder.Decode(f)
		if err != nil {
			return fmt.Errorf("failed to decode frame %s: %w", f.Hex(), err)
		}
		if !ok {
			continue
		}
		if _, err := l.store.Merge(rec); err != nil {
			return fmt.Errorf("failed to merge frame %s: %w", f.Hex(), err)
		}
	}
	return nil
}

func (l *Link) broadcastLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			snapshot := l.store.Snapshot()
			if len(snapshot) == 0 {
				continue
			}
			l.emit(Event{Type: EventBroadcast, Aircraft: snapshot})
		}
	}
}

// handleClose moves a live connection of generation gen to Disconnected and
// schedules the single reconnect attempt
func (l *Link) handleClose(gen uint64) {
	l.mu.Lock()
	if l.gen != gen || l.state == StateClosed || l.state == StateDisconnected {
		l.mu.Unlock()
		return
	}
	l.stopBroadcastLocked()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.cancelDial = nil
	l.state = StateDisconnected
	l.scheduleReconnectLocked()
	l.mu.Unlock()

	slog.Info("Beast source closed, reconnecting", "source", l.Name(), "in", l.cfg.ReconnectInterval)
	l.emit(Event{Type: EventClosed})
}

func (l *Link) scheduleReconnectLocked() {
	l.stopReconnectLocked()
	observability.RecordReconnect(l.Name())

	var t *time.Timer
	t = time.AfterFunc(l.cfg.ReconnectInterval, func() {
		l.mu.Lock()
		if l.reconnect != t {
			l.mu.Unlock()
			return
		}
		l.reconnect = nil
		proceed := l.state == StateDisconnected
		l.mu.Unlock()

		if proceed {
			l.Connect()
		}
	})
	l.reconnect = t
}

func (l *Link) stopReconnectLocked() {
	if l.reconnect != nil {
		l.reconnect.Stop()
		l.reconnect = nil
	}
}

func (l *Link) stopBroadcastLocked() {
	if l.stopBroadcast != nil {
		close(l.stopBroadcast)
		l.stopBroadcast = nil
	}
}

func (l *Link) current(gen uint64, state State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen && l.state == state
}

func (l *Link) emit(ev Event) {
	if l.handler == nil {
		return
	}
	ev.Source = l.Name()
	ev.Timestamp = time.Now()
	l.handler(ev)
}
