// Package buffer implements the bounded audio chunk buffer that decouples the
// capture producer from the network transport.
//
// The buffer enforces both a maximum entry count and a maximum entry age.
// Eviction is always oldest-first, so under sustained disconnection the
// buffer degrades by discarding the stalest unsent audio while retaining a
// bounded recent window. This lossy policy is deliberate: capture must never
// block or grow memory without bound while the network recovers.
//
// All methods are safe for concurrent use.
package buffer

import (
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/types"
)

// Default bounds, matching the transcription client's capture cadence:
// 100 chunks of 64 ms each is ~6.4 s of audio, capped at 5 s by age.
const (
	DefaultMaxChunks = 100
	DefaultMaxAge    = 5 * time.Second
)

// ChunkBuffer is a FIFO queue of audio chunks bounded by count and age.
type ChunkBuffer struct {
	mu        sync.Mutex
	chunks    []types.AudioChunk
	maxChunks int
	maxAge    time.Duration

	dropped uint64

	// now is the clock source; overridable in tests.
	now func() time.Time
}

// New creates a buffer retaining at most maxChunks entries, each no older
// than maxAge at admission time of the next chunk. Non-positive arguments
// select the defaults.
func New(maxChunks int, maxAge time.Duration) *ChunkBuffer {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &ChunkBuffer{
		chunks:    make([]types.AudioChunk, 0, maxChunks),
		maxChunks: maxChunks,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// Push admits chunk, evicting from the head first any chunks older than the
// retention window and then, if the buffer is still full, exactly one more
// oldest entry. It returns the number of chunks evicted to make room.
// Push never blocks and is O(1) amortised.
func (b *ChunkBuffer) Push(chunk types.AudioChunk) (evicted int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted = b.evictExpired()
	if len(b.chunks) >= b.maxChunks {
		b.dropHead(1)
		evicted++
	}
	b.chunks = append(b.chunks, chunk)
	return evicted
}

// DrainAll removes and returns all buffered chunks in original order,
// leaving the buffer empty.
func (b *ChunkBuffer) DrainAll() []types.AudioChunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 {
		return nil
	}
	out := make([]types.AudioChunk, len(b.chunks))
	copy(out, b.chunks)
	b.chunks = b.chunks[:0]
	return out
}

// Clear discards all buffered chunks without returning them. Discarded
// chunks do not count as drops; clearing is a caller decision.
func (b *ChunkBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = b.chunks[:0]
}

// PeekOldest returns the oldest buffered chunk without removing it.
// The second return value is false when the buffer is empty.
func (b *ChunkBuffer) PeekOldest() (types.AudioChunk, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 {
		return types.AudioChunk{}, false
	}
	return b.chunks[0], true
}

// Len returns the number of buffered chunks.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Dropped returns the total number of chunks evicted since creation.
func (b *ChunkBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// evictExpired removes entries older than maxAge and returns how many it
// removed. Must hold b.mu.
func (b *ChunkBuffer) evictExpired() int {
	cutoff := b.now().Add(-b.maxAge)
	n := 0
	for n < len(b.chunks) && b.chunks[n].Timestamp.Before(cutoff) {
		n++
	}
	if n > 0 {
		b.dropHead(n)
	}
	return n
}

// dropHead evicts the n oldest entries, copying survivors to the front so
// evicted chunk data does not stay pinned. Must hold b.mu.
func (b *ChunkBuffer) dropHead(n int) {
	b.dropped += uint64(n)
	remaining := copy(b.chunks, b.chunks[n:])
	for i := remaining; i < len(b.chunks); i++ {
		b.chunks[i] = types.AudioChunk{}
	}
	b.chunks = b.chunks[:remaining]
}
