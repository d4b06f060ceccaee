// Package types defines the shared types used across all voxwire packages.
//
// These types form the lingua franca between the audio source, the bounded
// buffer, the transport, and the session controller. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// AudioChunk is one fixed-size unit of raw audio samples captured from a live
// input device. Chunks are immutable values: once produced by a source they
// are handed off capture → buffer → transport without aliasing, and no stage
// mutates Data after the handoff.
type AudioChunk struct {
	// Data holds raw PCM samples. Byte length must be consistent with the
	// declared format: len(Data) == Samples × Channels × BitsPerSample/8.
	Data []byte

	// Timestamp marks when this chunk was captured.
	Timestamp time.Time

	// SampleRate in Hz (16000 for the transcription wire format).
	SampleRate int

	// Channels: 1 for mono (the wire format), 2 for stereo.
	Channels int

	// BitsPerSample of each sample (16 for the wire format).
	BitsPerSample int
}

// Samples returns the number of samples per channel contained in the chunk.
func (c AudioChunk) Samples() int {
	bytesPerFrame := c.Channels * c.BitsPerSample / 8
	if bytesPerFrame == 0 {
		return 0
	}
	return len(c.Data) / bytesPerFrame
}

// Duration derives the playback duration of the chunk from its format.
// It is always computed, never stored, so it cannot drift from Data.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Samples()) * time.Second / time.Duration(c.SampleRate)
}

// Age returns how long ago the chunk was captured, as of now.
func (c AudioChunk) Age(now time.Time) time.Duration {
	return now.Sub(c.Timestamp)
}

// MessageKind classifies inbound transcription events from the server.
type MessageKind string

const (
	// KindPartial is a low-latency partial transcription of in-progress speech.
	KindPartial MessageKind = "partial"

	// KindRealtime is a stabilised realtime transcription update.
	KindRealtime MessageKind = "realtime"

	// KindFullSentence is a final, authoritative sentence transcription.
	KindFullSentence MessageKind = "fullSentence"

	// KindRecordingStart signals that server-side voice activity detection
	// observed the start of speech.
	KindRecordingStart MessageKind = "recordingStart"

	// KindRecordingStop signals that server-side voice activity detection
	// observed the end of speech.
	KindRecordingStop MessageKind = "recordingStop"

	// KindAudioFile references a server-side recording of the utterance.
	KindAudioFile MessageKind = "audioFile"

	// KindError carries a server-reported error description.
	KindError MessageKind = "error"

	// KindInfo carries informational server messages.
	KindInfo MessageKind = "info"
)

// IsValid reports whether k is a recognised message kind.
func (k MessageKind) IsValid() bool {
	switch k {
	case KindPartial, KindRealtime, KindFullSentence, KindRecordingStart,
		KindRecordingStop, KindAudioFile, KindError, KindInfo:
		return true
	}
	return false
}

// TranscriptionMessage is a single inbound event decoded from the wire.
// Messages are ephemeral: delivered to the caller once and not retained by
// the core.
type TranscriptionMessage struct {
	// Kind classifies the event.
	Kind MessageKind

	// Text is the transcription text, when the kind carries one.
	Text string

	// AudioFile is a server-side path or URI referencing recorded audio,
	// set only for KindAudioFile (and occasionally on full sentences).
	AudioFile string

	// Timestamp is the server-reported event time, or the local receipt
	// time when the server did not include one.
	Timestamp time.Time
}

// ConnectionState enumerates the transport connection lifecycle.
// Exactly one state is live per transport; all changes happen inside the
// transport's state machine.
type ConnectionState int

const (
	// ConnDisconnected is the initial state, and the terminal state after a
	// caller-initiated disconnect.
	ConnDisconnected ConnectionState = iota

	// ConnConnecting means a dial attempt is in flight.
	ConnConnecting

	// ConnConnected means the connection is established and frames flow.
	ConnConnected

	// ConnReconnecting means the connection dropped and a backoff wait is in
	// progress before the next dial attempt.
	ConnReconnecting

	// ConnFailed is the terminal state after the retry budget is exhausted.
	ConnFailed
)

// String returns the human-readable name of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the connection lifecycle.
func (s ConnectionState) Terminal() bool {
	return s == ConnDisconnected || s == ConnFailed
}

// RecordingState enumerates the session controller's recording lifecycle.
type RecordingState int

const (
	// RecIdle means no audio is being forwarded.
	RecIdle RecordingState = iota

	// RecRecording means captured chunks are being forwarded to the transport.
	RecRecording

	// RecProcessing means recording has stopped and residual buffered audio
	// is being flushed while the server finishes transcribing.
	RecProcessing

	// RecError is the terminal error state; the accompanying message
	// describes the cause.
	RecError
)

// String returns the human-readable name of the recording state.
func (s RecordingState) String() string {
	switch s {
	case RecIdle:
		return "idle"
	case RecRecording:
		return "recording"
	case RecProcessing:
		return "processing"
	case RecError:
		return "error"
	default:
		return "unknown"
	}
}

// RecordingUpdate is one observable recording-state change. Message is
// non-empty only when State is RecError.
type RecordingUpdate struct {
	State   RecordingState
	Message string
}

// RecordingMode selects how recording-state transitions are triggered.
type RecordingMode string

const (
	// ModePushToTalk starts recording on an explicit press and stops on
	// release.
	ModePushToTalk RecordingMode = "push_to_talk"

	// ModeContinuous toggles recording on and off with a single action.
	ModeContinuous RecordingMode = "continuous"

	// ModeVoiceActivity arms the session; server-reported voice boundaries
	// start and stop the audio flow.
	ModeVoiceActivity RecordingMode = "vad"
)

// IsValid reports whether m is a recognised recording mode.
func (m RecordingMode) IsValid() bool {
	switch m {
	case ModePushToTalk, ModeContinuous, ModeVoiceActivity:
		return true
	}
	return false
}
