package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/transport"
	"github.com/voxwire/voxwire/internal/wire"
	"github.com/voxwire/voxwire/pkg/audio/mock"
	"github.com/voxwire/voxwire/pkg/types"
)

// fakeTransport satisfies Transport with a settable state. Sent frames
// are recorded; the captured message handler lets tests inject server
// messages.
type fakeTransport struct {
	mu      sync.Mutex
	state   types.ConnectionState
	states  chan types.ConnectionState
	sent    [][]byte
	handler transport.MessageHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:  types.ConnDisconnected,
		states: make(chan types.ConnectionState, 16),
	}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.setState(types.ConnConnected)
	return nil
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Disconnect() { f.setState(types.ConnDisconnected) }

func (f *fakeTransport) State() types.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) States() <-chan types.ConnectionState { return f.states }

func (f *fakeTransport) setState(s types.ConnectionState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	f.states <- s
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) waitFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got := f.sentFrames(); len(got) >= n {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %d", n, len(f.sentFrames()))
		case <-time.After(time.Millisecond):
		}
	}
}

func newTestController(t *testing.T, src *mock.Source, opts ...Option) (*Controller, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	base := []Option{
		WithTransportFactory(func(_ string, handler transport.MessageHandler) Transport {
			ft.handler = handler
			return ft
		}),
		WithFlushInterval(time.Millisecond),
		WithLogger(slog.New(slog.DiscardHandler)),
	}
	c := New("ws://stt.test/ws", src, append(base, opts...)...)
	t.Cleanup(c.Disconnect)
	return c, ft
}

func connect(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func waitRecState(t *testing.T, c *Controller, want types.RecordingState) types.RecordingUpdate {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case update := <-c.RecordingStates():
			if update.State == want {
				return update
			}
		case <-deadline:
			t.Fatalf("timed out waiting for recording state %v, current %v", want, c.RecordingState())
		}
	}
}

func pcmChunk(label byte) types.AudioChunk {
	data := make([]byte, wire.ChunkSamples*2)
	data[0] = label
	return types.AudioChunk{
		Data:          data,
		Timestamp:     time.Now(),
		SampleRate:    wire.SampleRate,
		Channels:      wire.Channels,
		BitsPerSample: wire.BitsPerSample,
	}
}

func TestStartRecordingWhileDisconnected(t *testing.T) {
	c, _ := newTestController(t, mock.NewSource())

	err := c.StartRecording()
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("StartRecording = %v, want ErrNotConnected", err)
	}
	if got := c.RecordingState(); got != types.RecIdle {
		t.Errorf("recording state = %v, want Idle (no state change on rejection)", got)
	}
}

func TestPushToTalkFlow(t *testing.T) {
	src := mock.NewSource()
	c, ft := newTestController(t, src)
	connect(t, c)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	waitRecState(t, c, types.RecRecording)

	src.Emit(pcmChunk(1))
	src.Emit(pcmChunk(2))
	frames := ft.waitFrames(t, 2)
	if frames[0][0] != 1 || frames[1][0] != 2 {
		t.Errorf("frames arrived out of order: %v, %v", frames[0][0], frames[1][0])
	}

	c.StopRecording()
	waitRecState(t, c, types.RecProcessing)

	ft.handler(types.TranscriptionMessage{Kind: types.KindFullSentence, Text: "hello world", Timestamp: time.Now()})
	waitRecState(t, c, types.RecIdle)
}

func TestChunksIgnoredWhileIdle(t *testing.T) {
	src := mock.NewSource()
	c, ft := newTestController(t, src)
	connect(t, c)

	src.Emit(pcmChunk(1))
	time.Sleep(20 * time.Millisecond)
	if got := len(ft.sentFrames()); got != 0 {
		t.Errorf("%d frames sent while idle, want 0", got)
	}
}

func TestModeSwitchWhileRecordingPassesThroughIdle(t *testing.T) {
	src := mock.NewSource()
	c, _ := newTestController(t, src)
	connect(t, c)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	waitRecState(t, c, types.RecRecording)

	if err := c.SetRecordingMode(types.ModeContinuous); err != nil {
		t.Fatalf("SetRecordingMode: %v", err)
	}
	waitRecState(t, c, types.RecIdle)
	if got := c.Mode(); got != types.ModeContinuous {
		t.Errorf("mode = %v, want %v", got, types.ModeContinuous)
	}
	if got := c.RecordingState(); got != types.RecIdle {
		t.Errorf("recording state = %v, want Idle", got)
	}
}

func TestModeSwitchDiscardsBufferedAudio(t *testing.T) {
	src := mock.NewSource()
	c, ft := newTestController(t, src)
	connect(t, c)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	waitRecState(t, c, types.RecRecording)

	// While the transport is down the flush loop leaves chunks in the
	// buffer, so a chunk captured here is still pending at the switch.
	ft.setState(types.ConnReconnecting)
	src.Emit(pcmChunk(9))
	time.Sleep(20 * time.Millisecond)

	if err := c.SetRecordingMode(types.ModeContinuous); err != nil {
		t.Fatalf("SetRecordingMode: %v", err)
	}
	waitRecState(t, c, types.RecIdle)

	ft.setState(types.ConnConnected)
	time.Sleep(20 * time.Millisecond)
	if got := len(ft.sentFrames()); got != 0 {
		t.Errorf("%d stale frames flushed after mode switch, want 0", got)
	}
}

func TestSetRecordingModeRejectsUnknown(t *testing.T) {
	c, _ := newTestController(t, mock.NewSource())
	if err := c.SetRecordingMode(types.RecordingMode("telepathy")); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestVoiceActivityFlow(t *testing.T) {
	src := mock.NewSource()
	c, ft := newTestController(t, src, WithMode(types.ModeVoiceActivity))
	connect(t, c)

	// server events before arming must not start a recording
	ft.handler(types.TranscriptionMessage{Kind: types.KindRecordingStart})
	if got := c.RecordingState(); got != types.RecIdle {
		t.Fatalf("unarmed recording_start changed state to %v", got)
	}

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording (arm): %v", err)
	}
	if got := c.RecordingState(); got != types.RecIdle {
		t.Fatalf("arming alone changed state to %v", got)
	}

	ft.handler(types.TranscriptionMessage{Kind: types.KindRecordingStart})
	waitRecState(t, c, types.RecRecording)

	ft.handler(types.TranscriptionMessage{Kind: types.KindRecordingStop})
	waitRecState(t, c, types.RecProcessing)

	ft.handler(types.TranscriptionMessage{Kind: types.KindFullSentence, Text: "done"})
	waitRecState(t, c, types.RecIdle)
}

func TestVoiceActivityDisarmCutsRecording(t *testing.T) {
	src := mock.NewSource()
	c, ft := newTestController(t, src, WithMode(types.ModeVoiceActivity))
	connect(t, c)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording (arm): %v", err)
	}
	ft.handler(types.TranscriptionMessage{Kind: types.KindRecordingStart})
	waitRecState(t, c, types.RecRecording)

	c.StopRecording()
	waitRecState(t, c, types.RecIdle)

	// disarmed: a late server event must not restart the recording
	ft.handler(types.TranscriptionMessage{Kind: types.KindRecordingStart})
	if got := c.RecordingState(); got != types.RecIdle {
		t.Errorf("recording state after disarmed event = %v, want Idle", got)
	}
}

func TestRetryExhaustionSurfacesAsError(t *testing.T) {
	src := mock.NewSource()
	c, ft := newTestController(t, src)
	connect(t, c)

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	waitRecState(t, c, types.RecRecording)

	ft.setState(types.ConnFailed)
	update := waitRecState(t, c, types.RecError)
	if update.Message == "" {
		t.Error("error update carries no message")
	}
}

func TestCaptureFailureSurfacesAsError(t *testing.T) {
	src := mock.NewSource()
	src.FailWith = errors.New("device unplugged")
	c, _ := newTestController(t, src)
	connect(t, c)

	src.Close()
	update := waitRecState(t, c, types.RecError)
	if update.Message == "" {
		t.Error("error update carries no message")
	}
}

func TestMessagesForwarded(t *testing.T) {
	src := mock.NewSource()
	c, ft := newTestController(t, src)
	connect(t, c)

	ft.handler(types.TranscriptionMessage{Kind: types.KindPartial, Text: "hel"})
	ft.handler(types.TranscriptionMessage{Kind: types.KindInfo, Text: "server ready"})

	for _, want := range []types.MessageKind{types.KindPartial, types.KindInfo} {
		select {
		case msg := <-c.Messages():
			if msg.Kind != want {
				t.Errorf("message kind = %v, want %v", msg.Kind, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for forwarded message")
		}
	}
}

func TestSendAudio(t *testing.T) {
	src := mock.NewSource()
	c, ft := newTestController(t, src)
	connect(t, c)

	pcm := make([]byte, wire.ChunkSamples*2)
	pcm[0] = 7
	if err := c.SendAudio(context.Background(), pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	frames := ft.waitFrames(t, 1)
	if frames[0][0] != 7 {
		t.Errorf("sent frame = %v, want injected audio", frames[0][0])
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	src := mock.NewSource()
	c, _ := newTestController(t, src)
	connect(t, c)

	c.Disconnect()
	c.Disconnect()

	if got := src.CallCountClose; got < 1 {
		t.Errorf("source Close called %d times, want at least 1", got)
	}
	if err := c.Connect(context.Background()); err == nil {
		t.Error("Connect after Disconnect succeeded, want error")
	}
}
