// Package audio defines the chunk-production contract between a live audio
// capture implementation and the voxwire session controller.
//
// The single abstraction is [Source]: something that, once started, emits a
// real-time sequence of fixed-size [types.AudioChunk] values at capture
// cadence. Device-level capture (microphone APIs, permissions, host
// lifecycle) is deliberately outside this module; platform adapters implement
// [Source] and the rest of the system only sees its channel.
//
// This package lives under pkg/ because external code (platform capture
// adapters) is expected to implement [Source].
package audio

import (
	"context"

	"github.com/voxwire/voxwire/pkg/types"
)

// Source produces a live sequence of audio chunks.
//
// Implementations must be safe for concurrent use and must never block chunk
// production on downstream consumers: if the consumer falls behind, the
// source may drop chunks, but it must keep capturing.
type Source interface {
	// Start begins capture. The source emits chunks until ctx is cancelled,
	// Close is called, or the device fails. Start returns immediately after
	// capture begins; it is an error to call Start twice.
	Start(ctx context.Context) error

	// Chunks returns the channel on which captured chunks are delivered, in
	// capture order. The channel is closed when capture ends for any reason.
	Chunks() <-chan types.AudioChunk

	// Err returns the capture-device error that terminated the source, or
	// nil after a clean stop. Valid once the Chunks channel is closed.
	Err() error

	// Close stops capture and releases the device. Safe to call more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}
