// Package transport maintains a resilient WebSocket connection to a
// transcription server. Outbound audio frames transit a single bounded
// queue consumed by one writer goroutine, so frame order is preserved
// across reconnects; inbound payloads are decoded and handed to a single
// message handler.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/wire"
	"github.com/voxwire/voxwire/pkg/types"
)

// Reconnection defaults.
const (
	DefaultBackoffBase  = 1 * time.Second
	DefaultBackoffMax   = 30 * time.Second
	DefaultMaxAttempts  = 10
	DefaultDrainPace    = 10 * time.Millisecond
	DefaultKeepalive    = 20 * time.Second
	defaultStateBacklog = 16
)

// ErrStopped is returned by Send after Disconnect or after the retry
// budget has been exhausted.
var ErrStopped = errors.New("transport: stopped")

// MessageHandler receives every decoded server message in arrival order.
// It must not block; slow consumers should buffer on their side.
type MessageHandler func(types.TranscriptionMessage)

// Conn is the subset of a WebSocket connection the transport needs.
// *websocket.Conn satisfies it.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a Conn to a server URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(1 << 20)
	return c, nil
}

// Option configures a Transport.
type Option func(*Transport)

// WithBackoff sets the reconnection schedule: delays double from base up
// to max, and the transport gives up after maxAttempts consecutive
// failures.
func WithBackoff(base, max time.Duration, maxAttempts int) Option {
	return func(t *Transport) {
		t.backoffBase = base
		t.backoffMax = max
		t.maxAttempts = maxAttempts
	}
}

// WithQueue bounds the outbound frame queue.
func WithQueue(size int, maxAge time.Duration) Option {
	return func(t *Transport) { t.queue = newFrameQueue(size, maxAge) }
}

// WithDrainPace sets the gap between backlog frames after a reconnect, so
// a burst of buffered audio does not land on the server at once.
func WithDrainPace(pace time.Duration) Option {
	return func(t *Transport) { t.drainPace = pace }
}

// WithKeepalive sets the application-level ping interval. Zero disables
// keepalive pings.
func WithKeepalive(interval time.Duration) Option {
	return func(t *Transport) { t.keepalive = interval }
}

// WithDialer replaces the WebSocket dialer. Used by tests.
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// Transport is a one-shot connection lifecycle: Connect once, Disconnect
// once. After the retry budget is exhausted or Disconnect is called, a
// new Transport must be created to connect again.
type Transport struct {
	url     string
	handler MessageHandler
	dialer  Dialer
	queue   *frameQueue
	log     *slog.Logger
	metrics *observe.Metrics

	backoffBase time.Duration
	backoffMax  time.Duration
	maxAttempts int
	drainPace   time.Duration
	keepalive   time.Duration

	mu      sync.Mutex
	state   types.ConnectionState
	started bool

	states   chan types.ConnectionState
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Transport for the given server URL. handler receives
// every decoded inbound message; it may be nil.
func New(url string, handler MessageHandler, opts ...Option) *Transport {
	t := &Transport{
		url:         url,
		handler:     handler,
		dialer:      wsDialer{},
		log:         slog.Default(),
		metrics:     observe.DefaultMetrics(),
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		maxAttempts: DefaultMaxAttempts,
		drainPace:   DefaultDrainPace,
		keepalive:   DefaultKeepalive,
		state:       types.ConnDisconnected,
		states:      make(chan types.ConnectionState, defaultStateBacklog),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.queue == nil {
		t.queue = newFrameQueue(DefaultQueueSize, DefaultQueueAge)
	}
	return t
}

// Connect starts the connection loop. It returns immediately; progress is
// reported on States. Calling Connect twice is an error.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("transport: already connected")
	}
	select {
	case <-t.done:
		t.mu.Unlock()
		return ErrStopped
	default:
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(ctx)
	return nil
}

// Send queues data for delivery. It never blocks: when the queue is full
// or entries have aged out, the oldest frames are evicted first. Frames
// queued while disconnected are delivered after the next reconnect, in
// order.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrStopped
	default:
	}
	if t.State() == types.ConnFailed {
		return ErrStopped
	}

	evicted := t.queue.enqueue(data)
	t.metrics.QueueDepth.Add(ctx, int64(1-evicted))
	if evicted > 0 {
		t.metrics.RecordDrop(ctx, "queue", evicted)
		t.log.Warn("outbound queue evicted frames", "evicted", evicted, "depth", t.queue.length())
	}
	return nil
}

// Disconnect stops the transport, discarding any queued frames. It is
// idempotent and supersedes an in-flight reconnection attempt. It blocks
// until the connection loop has exited.
func (t *Transport) Disconnect() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.queue.clear()
	})
	t.wg.Wait()

	t.mu.Lock()
	terminal := t.state.Terminal()
	t.mu.Unlock()
	if !terminal {
		t.setState(types.ConnDisconnected)
	}
}

// State returns the current connection state.
func (t *Transport) State() types.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// States delivers every state transition. The channel is buffered; when
// the consumer falls behind, the oldest notification is dropped so the
// transport never blocks on observers.
func (t *Transport) States() <-chan types.ConnectionState {
	return t.states
}

// QueueDepth reports the number of frames waiting to be sent.
func (t *Transport) QueueDepth() int {
	return t.queue.length()
}

func (t *Transport) setState(s types.ConnectionState) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()

	for {
		select {
		case t.states <- s:
			return
		default:
		}
		select {
		case <-t.states:
		default:
		}
	}
}

// run drives the dial/serve/backoff cycle until the transport stops or
// the retry budget runs out. Both a failed dial and a dropped connection
// count as one failure; the counter resets only on a successful connect.
func (t *Transport) run(ctx context.Context) {
	defer t.wg.Done()

	failures := 0
	for {
		if failures == 0 {
			t.setState(types.ConnConnecting)
		} else {
			t.setState(types.ConnReconnecting)
		}

		start := time.Now()
		conn, err := t.dialer.Dial(ctx, t.url)
		t.metrics.RecordConnectAttempt(ctx, time.Since(start).Seconds(), err == nil)
		if err != nil {
			failures++
			t.log.Warn("dial failed", "url", t.url, "attempt", failures, "error", err)
			if !t.backoffOrStop(ctx, failures) {
				return
			}
			continue
		}

		// Disconnect may have landed while the dial was in flight. Bail out
		// before announcing Connected so observers never see a transient
		// connect after asking for a shutdown.
		if t.stopping(ctx) {
			conn.Close(websocket.StatusNormalClosure, "")
			t.setState(types.ConnDisconnected)
			return
		}

		failures = 0
		t.setState(types.ConnConnected)
		t.log.Info("connected", "url", t.url, "backlog", t.queue.length())

		err = t.serve(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "")
		if t.stopping(ctx) {
			t.setState(types.ConnDisconnected)
			return
		}

		failures++
		t.log.Warn("connection lost", "url", t.url, "error", err)
		if !t.backoffOrStop(ctx, failures) {
			return
		}
	}
}

// backoffOrStop sleeps the schedule delay for the given failure count.
// It returns false when the transport should exit, having already set
// the terminal state.
func (t *Transport) backoffOrStop(ctx context.Context, failures int) bool {
	if failures >= t.maxAttempts {
		t.log.Error("retry budget exhausted", "attempts", failures)
		t.setState(types.ConnFailed)
		return false
	}

	delay := backoffDelay(t.backoffBase, t.backoffMax, failures)
	t.log.Info("reconnecting", "delay", delay, "attempt", failures)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.done:
		t.setState(types.ConnDisconnected)
		return false
	case <-ctx.Done():
		t.setState(types.ConnDisconnected)
		return false
	}
}

func (t *Transport) stopping(ctx context.Context) bool {
	select {
	case <-t.done:
		return true
	default:
	}
	return ctx.Err() != nil
}

// serve pumps one live connection: a writer goroutine drains the queue
// and sends keepalive pings, while serve itself reads until the
// connection dies or the transport stops.
func (t *Transport) serve(ctx context.Context, conn Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- t.writeLoop(connCtx, conn)
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- t.readLoop(connCtx, conn)
	}()

	select {
	case err := <-readErr:
		cancel()
		<-writeErr
		return err
	case err := <-writeErr:
		cancel()
		<-readErr
		return err
	case <-t.done:
		cancel()
		<-writeErr
		<-readErr
		return nil
	}
}

// writeLoop sends queued frames in FIFO order, pacing backlog drains so a
// reconnect does not flood the server, and pings on the keepalive
// interval when the queue is idle.
func (t *Transport) writeLoop(ctx context.Context, conn Conn) error {
	var keepalive <-chan time.Time
	if t.keepalive > 0 {
		ticker := time.NewTicker(t.keepalive)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	for {
		data, ok := t.queue.dequeue()
		if ok {
			t.metrics.QueueDepth.Add(ctx, -1)
			if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
				return fmt.Errorf("transport: write: %w", err)
			}
			t.metrics.RecordFrameSent(ctx, len(data))
			if t.queue.length() > 0 && t.drainPace > 0 {
				select {
				case <-time.After(t.drainPace):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}

		select {
		case <-t.queue.signal:
		case <-keepalive:
			if err := conn.Write(ctx, websocket.MessageText, wire.EncodePing()); err != nil {
				return fmt.Errorf("transport: ping: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop decodes inbound payloads and forwards them to the handler.
// Undecodable payloads are logged and dropped; they never terminate the
// connection.
func (t *Transport) readLoop(ctx context.Context, conn Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("transport: read: %w", err)
		}

		msg, err := wire.Decode(data, time.Now())
		if errors.Is(err, wire.ErrPong) {
			continue
		}
		if err != nil {
			t.metrics.DecodeErrors.Add(ctx, 1)
			t.log.Warn("dropping undecodable message", "error", err, "bytes", len(data))
			continue
		}

		t.metrics.RecordInbound(ctx, string(msg.Kind))
		if t.handler != nil {
			t.handler(msg)
		}
	}
}

// backoffDelay returns the delay before redial attempt number failures
// (1-based): base doubling per failure, capped at max.
func backoffDelay(base, max time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
