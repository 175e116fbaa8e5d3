package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobmirror/internal/book"
)

// fakeConn is an in-memory Conn driven entirely by test-supplied frames,
// standing in for the gorilla/websocket connection the real dialer hands
// back.
type fakeConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	outbound chan []byte
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 16),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.inbound
	if !ok {
		return 0, nil, context.Canceled
	}
	return 1, msg, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.outbound <- data
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

type fakeDialer struct {
	conns chan *fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	return <-d.conns, nil
}

func TestSessionSubscribeThenLiveAppliesSnapshot(t *testing.T) {
	reg := book.NewRegistry()
	n := New(reg, testLogger())
	s := NewSession("wss://example.invalid/feed", reg, n, testLogger())

	conn := newFakeConn()
	dialer := &fakeDialer{conns: make(chan *fakeConn, 1)}
	dialer.conns <- conn
	s.SetDialer(dialer)

	require.NoError(t, s.Subscribe("BTC-USD", []string{"level2"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// The session should have written a subscribe frame before going live.
	var sent map[string]any
	select {
	case data := <-conn.outbound:
		require.NoError(t, json.Unmarshal(data, &sent))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribe frame")
	}
	assert.Equal(t, "subscribe", sent["type"])

	conn.inbound <- []byte(`{
		"type":"snapshot",
		"product_id":"BTC-USD",
		"bids":[["100.0","1.0"]],
		"asks":[["101.0","1.0"]]
	}`)

	b, ok := reg.Peek("BTC-USD")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, have := b.BestBid()
		return have
	}, time.Second, time.Millisecond, "snapshot should have been applied")
}

func TestSessionStateTransitionsToLive(t *testing.T) {
	reg := book.NewRegistry()
	n := New(reg, testLogger())
	s := NewSession("wss://example.invalid/feed", reg, n, testLogger())

	conn := newFakeConn()
	dialer := &fakeDialer{conns: make(chan *fakeConn, 1)}
	dialer.conns <- conn
	s.SetDialer(dialer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return s.State() == Live
	}, time.Second, time.Millisecond)
}

func TestSessionUnsubscribeReleasesBook(t *testing.T) {
	reg := book.NewRegistry()
	n := New(reg, testLogger())
	s := NewSession("wss://example.invalid/feed", reg, n, testLogger())

	conn := newFakeConn()
	dialer := &fakeDialer{conns: make(chan *fakeConn, 1)}
	dialer.conns <- conn
	s.SetDialer(dialer)

	require.NoError(t, s.Subscribe("BTC-USD", []string{"level2"}))
	require.NoError(t, s.Unsubscribe("BTC-USD", []string{"level2"}))

	assert.Equal(t, 0, reg.Count())
}

func TestWithJitterStaysWithinBounds(t *testing.T) {
	base := time.Second
	for i := 0; i < 50; i++ {
		got := withJitter(base)
		assert.GreaterOrEqual(t, got, 800*time.Millisecond)
		assert.LessOrEqual(t, got, 1200*time.Millisecond)
	}
}
