package connector

import (
	"context"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/caesar-terminal/caesar/internal/logging"
)

func wsLog() zerolog.Logger { return logging.Component("connector") }

// WSConfig holds tunable parameters for a WSClient.
type WSConfig struct {
	URL string

	ReadBufferSize  int
	WriteBufferSize int

	// HeartbeatTimeout is the maximum silence before the client considers
	// the connection dead and triggers a reconnect.
	HeartbeatTimeout time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// MaxReconnectAttempts bounds consecutive failed redials; 0 means
	// unlimited.
	MaxReconnectAttempts int

	Headers http.Header
}

// DefaultWSConfig returns sensible defaults tuned for low-latency market
// data feeds.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:              url,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HeartbeatTimeout: 30 * time.Second,
		BackoffInitial:   250 * time.Millisecond,
		BackoffMax:       10 * time.Second,
		BackoffFactor:    2.0,
	}
}

// WSClient is a resilient websocket session manager shared by every venue
// connector. It dials, reconnects with exponential backoff on read failure
// or heartbeat timeout, and fans raw frames out to subscribers. State
// records only the transitions WSClient makes itself: Connecting while
// dialing, Degraded while redialing, Disconnected after a failed initial
// dial or after giving up. A successful dial leaves it at Connecting, and
// the venue connectors do not record Subscribing, Syncing or Streaming.
type WSClient struct {
	cfg WSConfig

	state atomic.Int32

	mu   sync.RWMutex
	conn *websocket.Conn

	subMu sync.RWMutex
	subs  []chan []byte

	outbox chan []byte

	cancel context.CancelFunc
	done   chan struct{}

	// onReconnect is invoked after every successful redial (test hook).
	onReconnect func()
}

// NewWSClient creates a client. Call Connect to start.
func NewWSClient(cfg WSConfig) *WSClient {
	return &WSClient{
		cfg:    cfg,
		outbox: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// State returns the client's current connection state.
func (ws *WSClient) State() State {
	return State(ws.state.Load())
}

// Subscribe returns a channel receiving copies of every inbound frame. The
// caller must drain it; a full subscriber channel drops frames rather than
// blocking the others.
func (ws *WSClient) Subscribe() <-chan []byte {
	ch := make(chan []byte, 1024)
	ws.subMu.Lock()
	ws.subs = append(ws.subs, ch)
	ws.subMu.Unlock()
	return ch
}

// Send enqueues a frame for delivery over the connection.
func (ws *WSClient) Send(data []byte) {
	select {
	case ws.outbox <- data:
	default:
		wsLog().Warn().Int("bytes", len(data)).Msg("outbox full, dropping frame")
	}
}

// Connect dials the endpoint and starts the read/write loops. It blocks
// until the initial handshake succeeds or ctx is cancelled.
func (ws *WSClient) Connect(ctx context.Context) error {
	ws.state.Store(int32(StateConnecting))
	ctx, ws.cancel = context.WithCancel(ctx)

	if err := ws.dial(ctx); err != nil {
		ws.state.Store(int32(StateDisconnected))
		return err
	}

	go ws.readLoop(ctx)
	go ws.writeLoop(ctx)

	return nil
}

// Close tears the client down: cancels its context, closes the connection,
// and closes every subscriber channel.
func (ws *WSClient) Close() {
	if ws.cancel != nil {
		ws.cancel()
	}
	ws.mu.Lock()
	if ws.conn != nil {
		ws.conn.Close()
	}
	ws.mu.Unlock()

	ws.subMu.RLock()
	for _, ch := range ws.subs {
		close(ch)
	}
	ws.subMu.RUnlock()

	close(ws.done)
}

// Done is closed once the client has fully shut down.
func (ws *WSClient) Done() <-chan struct{} {
	return ws.done
}

func (ws *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:  ws.cfg.ReadBufferSize,
		WriteBufferSize: ws.cfg.WriteBufferSize,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	conn, _, err := dialer.DialContext(ctx, ws.cfg.URL, ws.cfg.Headers)
	if err != nil {
		return err
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	return nil
}

// reconnect loops with exponential backoff until a connection is
// re-established, MaxReconnectAttempts is exhausted, or ctx is cancelled.
func (ws *WSClient) reconnect(ctx context.Context) bool {
	ws.state.Store(int32(StateDegraded))

	delay := ws.cfg.BackoffInitial
	attempts := 0
	for {
		if ws.cfg.MaxReconnectAttempts > 0 && attempts >= ws.cfg.MaxReconnectAttempts {
			wsLog().Error().Int("attempts", attempts).Msg("giving up on reconnect")
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		attempts++
		ws.state.Store(int32(StateConnecting))
		if err := ws.dial(ctx); err != nil {
			wsLog().Warn().Int("attempt", attempts).Err(err).Dur("retry_in", delay).Msg("reconnect attempt failed")
			delay = time.Duration(math.Min(
				float64(delay)*ws.cfg.BackoffFactor,
				float64(ws.cfg.BackoffMax),
			))
			ws.state.Store(int32(StateDegraded))
			continue
		}

		if ws.onReconnect != nil {
			ws.onReconnect()
		}
		return true
	}
}

// readLoop reads frames and fans them to subscribers. It doubles as the
// heartbeat monitor: silence past HeartbeatTimeout triggers a reconnect.
func (ws *WSClient) readLoop(ctx context.Context) {
	for {
		ws.mu.RLock()
		c := ws.conn
		ws.mu.RUnlock()

		c.SetReadDeadline(time.Now().Add(ws.cfg.HeartbeatTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wsLog().Warn().Err(err).Msg("read error, reconnecting")
			c.Close()
			if !ws.reconnect(ctx) {
				ws.state.Store(int32(StateDisconnected))
				return
			}
			continue
		}

		ws.fanOut(msg)
	}
}

func (ws *WSClient) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ws.outbox:
			ws.mu.RLock()
			c := ws.conn
			ws.mu.RUnlock()
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				wsLog().Warn().Err(err).Msg("write error")
			}
		}
	}
}

func (ws *WSClient) fanOut(msg []byte) {
	ws.subMu.RLock()
	defer ws.subMu.RUnlock()

	for _, ch := range ws.subs {
		select {
		case ch <- msg:
		default:
			// slow consumer; dropped frame surfaces as a staleness signal
			// at the health layer, not here.
		}
	}
}
