// Package session binds an audio source, the bounded chunk buffer and the
// WebSocket transport into one recording state machine. Callers drive it
// through explicit actions (connect, start, stop, mode switch) and observe
// it through buffered channels; no callback ever runs on a network
// goroutine's stack.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/buffer"
	"github.com/voxwire/voxwire/internal/history"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/transport"
	"github.com/voxwire/voxwire/internal/wire"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/types"
)

const (
	defaultFlushInterval = 10 * time.Millisecond
	eventBacklog         = 64
)

// ErrNotConnected rejects recording actions while the transport is not
// connected. No state changes when it is returned.
var ErrNotConnected = errors.New("session: not connected")

// Transport is the connection surface the controller drives. Satisfied by
// *transport.Transport.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, data []byte) error
	Disconnect()
	State() types.ConnectionState
	States() <-chan types.ConnectionState
}

// TransportFactory builds a fresh transport per Connect; the transport
// lifecycle is one-shot, the controller's is not.
type TransportFactory func(url string, handler transport.MessageHandler) Transport

// Option configures a Controller.
type Option func(*Controller)

// WithMode sets the initial recording mode. Default is push-to-talk.
func WithMode(mode types.RecordingMode) Option {
	return func(c *Controller) { c.mode = mode }
}

// WithBuffer bounds the capture-side chunk buffer.
func WithBuffer(maxChunks int, maxAge time.Duration) Option {
	return func(c *Controller) { c.buf = buffer.New(maxChunks, maxAge) }
}

// WithTransportOptions passes options through to each transport the
// controller creates.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Controller) { c.trOpts = opts }
}

// WithTransportFactory replaces transport construction. Used by tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(c *Controller) { c.factory = f }
}

// WithHistory records full sentences and audio file references to the
// given store as they arrive.
func WithHistory(store *history.Store) Option {
	return func(c *Controller) { c.hist = store }
}

// WithFlushInterval sets how often buffered chunks are moved to the
// transport while connected.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Controller) { c.flushEvery = d }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the top-level recording session. Construct with New,
// start with Connect, observe via ConnectionStates, RecordingStates and
// Messages.
type Controller struct {
	url        string
	source     audio.Source
	factory    TransportFactory
	trOpts     []transport.Option
	buf        *buffer.ChunkBuffer
	hist       *history.Store
	log        *slog.Logger
	metrics    *observe.Metrics
	flushEvery time.Duration

	mu        sync.Mutex
	mode      types.RecordingMode
	recState  types.RecordingState
	recording bool
	armed     bool
	started   bool
	tr        Transport

	msgs       chan types.TranscriptionMessage
	recStates  chan types.RecordingUpdate
	connStates chan types.ConnectionState
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a Controller streaming the given source to serverURL.
func New(serverURL string, source audio.Source, opts ...Option) *Controller {
	c := &Controller{
		url:        serverURL,
		source:     source,
		log:        slog.Default(),
		metrics:    observe.DefaultMetrics(),
		mode:       types.ModePushToTalk,
		recState:   types.RecIdle,
		flushEvery: defaultFlushInterval,
		msgs:       make(chan types.TranscriptionMessage, eventBacklog),
		recStates:  make(chan types.RecordingUpdate, eventBacklog),
		connStates: make(chan types.ConnectionState, eventBacklog),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.buf == nil {
		c.buf = buffer.New(buffer.DefaultMaxChunks, buffer.DefaultMaxAge)
	}
	if c.factory == nil {
		c.factory = func(url string, handler transport.MessageHandler) Transport {
			opts := append([]transport.Option{
				transport.WithLogger(c.log),
				transport.WithMetrics(c.metrics),
			}, c.trOpts...)
			return transport.New(url, handler, opts...)
		}
	}
	return c
}

// Connect starts audio capture and the transport's connection loop.
// Calling Connect on a running or stopped controller is an error.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("session: already connected")
	}
	select {
	case <-c.done:
		c.mu.Unlock()
		return fmt.Errorf("session: controller stopped")
	default:
	}
	tr := c.factory(c.url, c.handleMessage)
	c.tr = tr
	c.started = true
	c.mu.Unlock()

	if err := tr.Connect(ctx); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	if err := c.source.Start(ctx); err != nil {
		tr.Disconnect()
		return fmt.Errorf("session: start capture: %w", err)
	}

	c.wg.Add(3)
	go c.captureLoop(ctx)
	go c.flushLoop(ctx)
	go c.connLoop()
	return nil
}

// Disconnect stops capture and the transport and ends the session. It is
// idempotent and blocks until all session goroutines have exited.
func (c *Controller) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		tr := c.tr
		c.recording = false
		c.armed = false
		c.mu.Unlock()

		if err := c.source.Close(); err != nil {
			c.log.Warn("closing audio source", "error", err)
		}
		if tr != nil {
			tr.Disconnect()
		}
		if c.hist != nil {
			if err := c.hist.Close(); err != nil {
				c.log.Warn("closing history store", "error", err)
			}
		}
	})
	c.wg.Wait()
}

// SetRecordingMode switches the active mode. A switch while Recording
// stops the recording, clears buffered audio and passes through Idle
// before the new mode's start condition can apply; it also disarms
// voice-activity listening, so a racing server event cannot restart the
// old mode.
func (c *Controller) SetRecordingMode(mode types.RecordingMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("session: unknown recording mode %q", mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == c.mode {
		return nil
	}
	if c.recording {
		c.recording = false
		c.buf.Clear()
		c.setRecStateLocked(types.RecIdle, "")
	}
	c.armed = false
	c.mode = mode
	c.log.Info("recording mode changed", "mode", mode)
	return nil
}

// StartRecording begins audio flow in push-to-talk and continuous modes,
// and arms listening in voice-activity mode. It fails synchronously when
// the transport is not connected, without changing state.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tr == nil || c.tr.State() != types.ConnConnected {
		return ErrNotConnected
	}
	if c.mode == types.ModeVoiceActivity {
		c.armed = true
		c.log.Info("voice activity listening armed")
		return nil
	}
	if !c.recording {
		c.recording = true
		c.setRecStateLocked(types.RecRecording, "")
	}
	return nil
}

// StopRecording ends audio flow. In push-to-talk and continuous modes a
// live recording flushes residual buffered audio and moves to Processing
// until the final sentence arrives. In voice-activity mode it disarms
// listening and cuts any server-driven recording straight to Idle.
func (c *Controller) StopRecording() {
	c.mu.Lock()
	if c.mode == types.ModeVoiceActivity {
		c.armed = false
		if c.recording {
			c.recording = false
			c.setRecStateLocked(types.RecIdle, "")
		}
		c.mu.Unlock()
		return
	}
	wasRecording := c.recording
	c.recording = false
	if wasRecording {
		c.setRecStateLocked(types.RecProcessing, "")
	}
	c.mu.Unlock()

	if wasRecording {
		c.flush(context.Background())
	}
}

// SendAudio queues raw PCM bytes for delivery outside the capture path.
// The data must already be in the wire format (16 kHz mono 16-bit).
func (c *Controller) SendAudio(ctx context.Context, data []byte) error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return ErrNotConnected
	}

	chunk := types.AudioChunk{
		Data:          data,
		Timestamp:     time.Now(),
		SampleRate:    wire.SampleRate,
		Channels:      wire.Channels,
		BitsPerSample: wire.BitsPerSample,
	}
	frame, err := wire.EncodeAudioFrame(chunk)
	if err != nil {
		return fmt.Errorf("session: send audio: %w", err)
	}
	return tr.Send(ctx, frame)
}

// Mode returns the active recording mode.
func (c *Controller) Mode() types.RecordingMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// RecordingState returns the current recording state.
func (c *Controller) RecordingState() types.RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recState
}

// ConnectionState returns the transport's current state, or Disconnected
// before Connect.
func (c *Controller) ConnectionState() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return types.ConnDisconnected
	}
	return c.tr.State()
}

// ConnectionStates delivers transport state transitions. Oldest
// notifications are dropped when the consumer falls behind.
func (c *Controller) ConnectionStates() <-chan types.ConnectionState {
	return c.connStates
}

// RecordingStates delivers recording state transitions with the same
// drop-oldest policy.
func (c *Controller) RecordingStates() <-chan types.RecordingUpdate {
	return c.recStates
}

// Messages delivers every decoded server message with the same
// drop-oldest policy.
func (c *Controller) Messages() <-chan types.TranscriptionMessage {
	return c.msgs
}

// captureLoop feeds recorded chunks into the bounded buffer. Capture may
// keep running while not recording; those chunks are discarded here. When
// the source fails, the recording state becomes Error.
func (c *Controller) captureLoop(ctx context.Context) {
	defer c.wg.Done()

	for chunk := range c.source.Chunks() {
		// Push under the same lock as the recording check: StopRecording and
		// SetRecordingMode clear the buffer under c.mu, and a chunk admitted
		// against a stale flag would land after that clear.
		c.mu.Lock()
		if !c.recording {
			c.mu.Unlock()
			continue
		}
		dropped := c.buf.Push(chunk)
		c.mu.Unlock()

		c.metrics.ChunksCaptured.Add(ctx, 1)
		if dropped > 0 {
			c.metrics.RecordDrop(ctx, "buffer", dropped)
		}
	}

	if err := c.source.Err(); err != nil && !c.stopping() {
		c.log.Error("audio capture failed", "error", err)
		c.failRecording(fmt.Sprintf("audio capture failed: %v", err))
	}
}

// flushLoop periodically moves buffered chunks to the transport while it
// is connected. While disconnected, chunks age out of the buffer instead
// of piling onto the outbound queue.
func (c *Controller) flushLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flush(ctx)
		case <-c.done:
			return
		}
	}
}

func (c *Controller) flush(ctx context.Context) {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil || tr.State() != types.ConnConnected {
		return
	}

	for _, chunk := range c.buf.DrainAll() {
		frame, err := wire.EncodeAudioFrame(chunk)
		if err != nil {
			c.metrics.RecordDrop(ctx, "encode", 1)
			c.log.Warn("dropping unencodable chunk", "error", err)
			continue
		}
		if err := tr.Send(ctx, frame); err != nil {
			return
		}
	}
}

// connLoop forwards transport state transitions to observers and turns
// an exhausted retry budget into a recording error.
func (c *Controller) connLoop() {
	defer c.wg.Done()

	c.mu.Lock()
	states := c.tr.States()
	c.mu.Unlock()

	for {
		select {
		case state := <-states:
			publish(c.connStates, state)
			if state == types.ConnFailed {
				c.failRecording("connection retries exhausted")
			}
		case <-c.done:
			return
		}
	}
}

// handleMessage routes one decoded server message: voice-activity events
// drive the recording state when armed, sentences settle Processing back
// to Idle, and everything is forwarded to the Messages stream.
func (c *Controller) handleMessage(msg types.TranscriptionMessage) {
	c.mu.Lock()
	switch msg.Kind {
	case types.KindRecordingStart:
		if c.mode == types.ModeVoiceActivity && c.armed && !c.recording {
			c.recording = true
			c.setRecStateLocked(types.RecRecording, "")
		}
	case types.KindRecordingStop:
		if c.mode == types.ModeVoiceActivity && c.armed && c.recording {
			c.recording = false
			c.setRecStateLocked(types.RecProcessing, "")
		}
	case types.KindFullSentence:
		if c.recState == types.RecProcessing {
			c.setRecStateLocked(types.RecIdle, "")
		}
	}
	c.mu.Unlock()

	c.record(msg)
	publish(c.msgs, msg)
}

// record appends durable events to the history store, when configured.
func (c *Controller) record(msg types.TranscriptionMessage) {
	if c.hist == nil {
		return
	}
	var err error
	switch msg.Kind {
	case types.KindFullSentence:
		err = c.hist.AppendSentence(msg.Text, msg.Timestamp)
	case types.KindAudioFile:
		err = c.hist.AppendAudioFile(msg.AudioFile, msg.Timestamp)
	}
	if err != nil {
		c.log.Warn("writing history", "kind", msg.Kind, "error", err)
	}
}

// failRecording moves the recording state to Error and stops audio flow.
func (c *Controller) failRecording(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = false
	c.armed = false
	c.setRecStateLocked(types.RecError, message)
}

func (c *Controller) setRecStateLocked(state types.RecordingState, message string) {
	if c.recState == state {
		return
	}
	c.recState = state
	publish(c.recStates, types.RecordingUpdate{State: state, Message: message})
}

func (c *Controller) stopping() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// publish delivers v without blocking, evicting the oldest queued value
// when the channel is full.
func publish[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
