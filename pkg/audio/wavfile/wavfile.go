// Package wavfile provides an [audio.Source] that replays a 16-bit PCM WAV
// file at capture cadence, as if the audio were arriving from a live input
// device. It is the file-streaming counterpart to a microphone source and is
// mainly useful for demos and end-to-end testing against a real server.
package wavfile

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/types"
)

// header is the canonical 44-byte PCM WAV header.
type header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16 // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// Source replays a WAV file as a live chunk stream.
type Source struct {
	path         string
	chunkSamples int
	realtime     bool

	mu      sync.Mutex
	started bool
	closed  bool
	err     error

	ch     chan types.AudioChunk
	cancel context.CancelFunc
	done   chan struct{}
}

var _ audio.Source = (*Source)(nil)

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithChunkSamples sets the number of samples per emitted chunk.
// Default: 1024, matching the transcription wire format.
func WithChunkSamples(n int) Option {
	return func(s *Source) {
		s.chunkSamples = n
	}
}

// WithoutPacing disables real-time pacing so the whole file is emitted as
// fast as the consumer accepts it. Intended for tests.
func WithoutPacing() Option {
	return func(s *Source) {
		s.realtime = false
	}
}

// New creates a source that will replay the WAV file at path once Start is
// called. The file is validated lazily on Start.
func New(path string, opts ...Option) *Source {
	s := &Source{
		path:         path,
		chunkSamples: 1024,
		realtime:     true,
		ch:           make(chan types.AudioChunk, 16),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start parses the file header and begins emitting chunks in a background
// goroutine. The Chunks channel is closed when the file is exhausted, the
// context is cancelled, or Close is called.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("wavfile: source already started")
	}
	if s.closed {
		return errors.New("wavfile: source is closed")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("wavfile: read %q: %w", s.path, err)
	}
	hdr, pcm, err := parse(data)
	if err != nil {
		return fmt.Errorf("wavfile: parse %q: %w", s.path, err)
	}

	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.replay(ctx, hdr, pcm)
	return nil
}

// Chunks returns the delivery channel.
func (s *Source) Chunks() <-chan types.AudioChunk {
	return s.ch
}

// Err returns the error that terminated replay, or nil after a clean stop.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops replay. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-s.done
	} else {
		close(s.ch)
		close(s.done)
	}
	return nil
}

// replay slices the PCM payload into chunks and emits them, sleeping one
// chunk duration between sends when pacing is enabled.
func (s *Source) replay(ctx context.Context, hdr header, pcm []byte) {
	defer close(s.done)
	defer close(s.ch)

	bytesPerChunk := s.chunkSamples * int(hdr.NumChannels) * int(hdr.BitsPerSample) / 8
	interval := time.Duration(s.chunkSamples) * time.Second / time.Duration(hdr.SampleRate)

	for off := 0; off < len(pcm); off += bytesPerChunk {
		end := off + bytesPerChunk
		if end > len(pcm) {
			end = len(pcm)
		}

		chunk := types.AudioChunk{
			Data:          pcm[off:end],
			Timestamp:     time.Now(),
			SampleRate:    int(hdr.SampleRate),
			Channels:      int(hdr.NumChannels),
			BitsPerSample: int(hdr.BitsPerSample),
		}

		select {
		case s.ch <- chunk:
		case <-ctx.Done():
			return
		}

		if s.realtime {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
		}
	}
}

// parse validates the WAV header and returns it with the PCM payload.
func parse(data []byte) (header, []byte, error) {
	if len(data) < 44 {
		return header{}, nil, fmt.Errorf("file too short: %d bytes", len(data))
	}

	var hdr header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return header{}, nil, fmt.Errorf("read header: %w", err)
	}

	if string(hdr.ChunkID[:]) != "RIFF" || string(hdr.Format[:]) != "WAVE" {
		return header{}, nil, errors.New("not a RIFF/WAVE file")
	}
	if hdr.AudioFormat != 1 {
		return header{}, nil, fmt.Errorf("unsupported audio format %d (only PCM)", hdr.AudioFormat)
	}
	if hdr.BitsPerSample != 16 {
		return header{}, nil, fmt.Errorf("unsupported bit depth %d (only 16-bit)", hdr.BitsPerSample)
	}
	if hdr.SampleRate == 0 {
		return header{}, nil, errors.New("header declares zero sample rate")
	}
	if hdr.NumChannels == 0 {
		return header{}, nil, errors.New("header declares zero channels")
	}

	pcm := data[44:]
	if int(hdr.Subchunk2Size) < len(pcm) {
		pcm = pcm[:hdr.Subchunk2Size]
	}
	return hdr, pcm, nil
}

// Encode builds a complete 16-bit PCM WAV file from raw sample bytes.
// Useful for writing received audio and for constructing test fixtures.
func Encode(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("wavfile: cannot encode empty audio")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wavfile: sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("wavfile: channel count must be positive, got %d", channels)
	}

	bits := uint16(16)
	hdr := header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * uint32(bits) / 8,
		BlockAlign:    uint16(channels) * bits / 8,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("wavfile: write header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
