package feed

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"lobmirror/internal/book"
)

// State is one stage of a FeedSession's connection lifecycle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Subscribing
	Live
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
	defaultIdle     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	sendQueueDepth  = 64
)

// Conn is the minimal surface a transport connection needs for a Session
// to drive it. *websocket.Conn satisfies it directly.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer establishes the transport connection. Production code uses
// WebsocketDialer; tests substitute an in-memory fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket's default dialer.
type WebsocketDialer struct{}

// Dial implements Dialer.
func (WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Session owns one websocket connection's lifecycle: connect, subscribe,
// reconnect with backoff, and the idle-timeout watchdog. It resubscribes
// transparently to callers across reconnects, clearing every book it owns
// first so the following snapshot re-establishes ground truth.
type Session struct {
	url        string
	dialer     Dialer
	registry   *book.Registry
	normalizer *Normalizer
	logger     *slog.Logger

	idleTimeout time.Duration

	id string

	state atomic.Int32

	connMu sync.Mutex
	conn   Conn

	subMu sync.Mutex
	subs  map[string]map[string]bool // symbol -> channel set

	sendCh chan []byte

	onReconnect func()
}

// NewSession creates a Session for url, routing decoded frames through
// normalizer and managing books via registry.
func NewSession(url string, registry *book.Registry, normalizer *Normalizer, logger *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		url:         url,
		dialer:      WebsocketDialer{},
		registry:    registry,
		normalizer:  normalizer,
		logger:      logger.With("component", "feed_session", "session_id", id),
		idleTimeout: defaultIdle,
		id:          id,
		subs:        make(map[string]map[string]bool),
		sendCh:      make(chan []byte, sendQueueDepth),
	}
}

// SetDialer overrides the transport dialer; used by tests.
func (s *Session) SetDialer(d Dialer) { s.dialer = d }

// SetIdleTimeout overrides the default heartbeat/idle watchdog window.
func (s *Session) SetIdleTimeout(d time.Duration) { s.idleTimeout = d }

// SetReconnectCallback installs the function invoked every time the
// transport drops and Run is about to wait out a backoff before redialing.
// Not invoked on the initial connect attempt or on a ctx-driven shutdown.
func (s *Session) SetReconnectCallback(cb func()) { s.onReconnect = cb }

// State returns the session's current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("session state transition", "state", st.String())
}

// Subscribe adds channels for a symbol and enqueues an outbound subscribe
// frame, which the writer sends once a connection is live (in addition to
// the resubscription Run sends for every tracked symbol on connect). The
// first subscription of a symbol takes one registry handle on its book, so
// the normalizer has somewhere to route incoming frames. Idempotent: a
// repeat call for channels already tracked is a no-op send.
func (s *Session) Subscribe(symbol string, channels []string) error {
	s.subMu.Lock()
	set, ok := s.subs[symbol]
	if !ok {
		set = make(map[string]bool)
		s.subs[symbol] = set
		s.registry.GetOrCreate(symbol)
	}
	added := false
	for _, c := range channels {
		if !set[c] {
			set[c] = true
			added = true
		}
	}
	s.subMu.Unlock()

	if !added {
		return nil
	}
	return s.enqueueJSON(map[string]any{
		"type":        "subscribe",
		"product_ids": []string{symbol},
		"channels":    channels,
	})
}

// Unsubscribe removes channels for a symbol. Once a symbol has no
// remaining tracked channels its registry handle is released, allowing
// the book to be retired.
func (s *Session) Unsubscribe(symbol string, channels []string) error {
	s.subMu.Lock()
	set, ok := s.subs[symbol]
	emptied := false
	if ok {
		for _, c := range channels {
			delete(set, c)
		}
		if len(set) == 0 {
			delete(s.subs, symbol)
			emptied = true
		}
	}
	s.subMu.Unlock()

	if !ok {
		return nil
	}
	if emptied {
		s.registry.Release(symbol)
	}
	return s.enqueueJSON(map[string]any{
		"type":        "unsubscribe",
		"product_ids": []string{symbol},
		"channels":    channels,
	})
}

func (s *Session) enqueueJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode outbound frame: %w", err)
	}
	select {
	case s.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("send queue full")
	}
}

// Run connects and maintains the connection until ctx is cancelled,
// reconnecting with exponential backoff and resubscribing transparently.
func (s *Session) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		s.setState(Connecting)
		err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			s.setState(Closed)
			return ctx.Err()
		}

		s.setState(Reconnecting)
		wait := withJitter(backoff)
		s.logger.Warn("feed session disconnected, reconnecting", "error", err, "backoff", wait)
		if s.onReconnect != nil {
			s.onReconnect()
		}

		select {
		case <-ctx.Done():
			s.setState(Closed)
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// withJitter scales d by a uniform random factor in [0.8, 1.2].
func withJitter(d time.Duration) time.Duration {
	n, err := rand.Int(rand.Reader, big.NewInt(41)) // 0..40 -> -20..+20 in steps of 1
	if err != nil {
		return d
	}
	pct := 80 + n.Int64() // 80..120
	return time.Duration(int64(d) * pct / 100)
}

func (s *Session) connectAndServe(ctx context.Context) error {
	conn, err := s.dialer.Dial(ctx, s.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	s.setState(Handshaking)
	s.normalizer.Reset()

	s.setState(Subscribing)
	s.clearOwnedBooksLocked()
	if err := s.resubscribeAll(conn); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	writerCtx, cancelWriter := context.WithCancel(ctx)
	defer cancelWriter()
	writerDone := make(chan struct{})
	go s.writerLoop(writerCtx, conn, writerDone)
	defer func() { <-writerDone }()

	s.setState(Live)
	s.logger.Info("feed session live")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.normalizer.HandleFrame(msg)
	}
}

// clearOwnedBooksLocked resets every subscribed symbol's book before
// resubscribing, so the snapshot that follows establishes ground truth
// instead of merging with potentially stale pre-reconnect state.
func (s *Session) clearOwnedBooksLocked() {
	s.subMu.Lock()
	symbols := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		symbols = append(symbols, sym)
	}
	s.subMu.Unlock()

	for _, sym := range symbols {
		if b, ok := s.registry.Peek(sym); ok {
			b.Clear()
		}
	}
}

func (s *Session) resubscribeAll(conn Conn) error {
	s.subMu.Lock()
	type req struct {
		symbol   string
		channels []string
	}
	reqs := make([]req, 0, len(s.subs))
	for sym, set := range s.subs {
		channels := make([]string, 0, len(set))
		for c := range set {
			channels = append(channels, c)
		}
		reqs = append(reqs, req{symbol: sym, channels: channels})
	}
	s.subMu.Unlock()

	for _, r := range reqs {
		data, err := json.Marshal(map[string]any{
			"type":        "subscribe",
			"product_ids": []string{r.symbol},
			"channels":    r.channels,
		})
		if err != nil {
			return err
		}
		if err := s.writeFrame(conn, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) writeFrame(conn Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// writerLoop drains the send queue onto the live connection. It exits
// when ctx is cancelled (connection torn down for reconnect) or a write
// fails, in which case the read loop will already be unwinding the
// connection from the other side.
func (s *Session) writerLoop(ctx context.Context, conn Conn, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-s.sendCh:
			if err := s.writeFrame(conn, data); err != nil {
				s.logger.Warn("outbound frame write failed", "error", err)
				return
			}
		}
	}
}

// Close closes the live connection, if any, so a blocked read returns at
// once. It does not change the session's state, stop Run or wait for it:
// Run returns only once the context passed to it is cancelled, and a Run
// whose context is still live treats the closed connection as a drop and
// reconnects.
func (s *Session) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
