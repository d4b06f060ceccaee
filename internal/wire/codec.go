// Package wire implements the message codec for the transcription service
// protocol.
//
// Outbound audio travels as opaque binary frames of raw 16 kHz mono 16-bit
// signed PCM — no envelope beyond the transport's native binary framing.
// Inbound messages are UTF-8 JSON objects with a required "type" field and
// optional "text", "audio_file", and "timestamp" fields. A malformed or
// unrecognised message is a decode error for that message only; the caller
// drops it and keeps the connection open.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/voxwire/voxwire/pkg/types"
)

// Wire format constants. The server expects exactly this capture format.
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16

	// ChunkSamples is the recommended fixed chunk size: 1024 samples,
	// i.e. 2048 bytes per frame.
	ChunkSamples = 1024
)

// pingFrame is the app-level keepalive the server answers with a pong.
var pingFrame = []byte(`{"type":"ping"}`)

// ErrPong is returned by Decode for keepalive acknowledgements. Pongs are
// consumed by the transport and never surfaced to the caller.
var ErrPong = fmt.Errorf("wire: pong")

// inboundEnvelope mirrors the server's JSON message shape. Unknown fields
// are ignored by encoding/json by default, which is exactly the contract.
type inboundEnvelope struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	AudioFile string `json:"audio_file"`
	Timestamp int64  `json:"timestamp"` // epoch millis; 0 when absent
}

// kindByWireType maps the server's "type" values onto message kinds. The
// server has historically emitted both camelCase and snake_case for full
// sentences, so both spellings are accepted.
var kindByWireType = map[string]types.MessageKind{
	"partial":         types.KindPartial,
	"realtime":        types.KindRealtime,
	"fullSentence":    types.KindFullSentence,
	"full_sentence":   types.KindFullSentence,
	"recording_start": types.KindRecordingStart,
	"recording_stop":  types.KindRecordingStop,
	"audio_file":      types.KindAudioFile,
	"error":           types.KindError,
	"info":            types.KindInfo,
}

// Decode parses one inbound JSON message. receivedAt is used as the event
// timestamp when the server did not include one.
//
// Decode returns [ErrPong] for keepalive acknowledgements and a descriptive
// error for malformed payloads or unrecognised types; in both cases the
// message carries no caller-visible event.
func Decode(data []byte, receivedAt time.Time) (types.TranscriptionMessage, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return types.TranscriptionMessage{}, fmt.Errorf("wire: decode message: %w", err)
	}
	if env.Type == "" {
		return types.TranscriptionMessage{}, fmt.Errorf("wire: message has no type field")
	}
	if env.Type == "pong" {
		return types.TranscriptionMessage{}, ErrPong
	}

	kind, ok := kindByWireType[env.Type]
	if !ok {
		return types.TranscriptionMessage{}, fmt.Errorf("wire: unrecognised message type %q", env.Type)
	}

	ts := receivedAt
	if env.Timestamp > 0 {
		ts = time.UnixMilli(env.Timestamp)
	}

	return types.TranscriptionMessage{
		Kind:      kind,
		Text:      env.Text,
		AudioFile: env.AudioFile,
		Timestamp: ts,
	}, nil
}

// EncodeAudioFrame validates that chunk matches the wire format and returns
// its raw PCM bytes as the outbound frame payload. The data is passed
// through unmodified; the chunk owns it and no copy is made.
func EncodeAudioFrame(chunk types.AudioChunk) ([]byte, error) {
	if chunk.SampleRate != SampleRate {
		return nil, fmt.Errorf("wire: sample rate %d, wire format requires %d", chunk.SampleRate, SampleRate)
	}
	if chunk.Channels != Channels {
		return nil, fmt.Errorf("wire: %d channels, wire format requires mono", chunk.Channels)
	}
	if chunk.BitsPerSample != BitsPerSample {
		return nil, fmt.Errorf("wire: %d bits per sample, wire format requires %d", chunk.BitsPerSample, BitsPerSample)
	}
	if len(chunk.Data) == 0 {
		return nil, fmt.Errorf("wire: empty audio frame")
	}
	if len(chunk.Data)%2 != 0 {
		return nil, fmt.Errorf("wire: frame length %d is not sample-aligned", len(chunk.Data))
	}
	return chunk.Data, nil
}

// EncodePing returns the app-level keepalive frame.
func EncodePing() []byte {
	return pingFrame
}
