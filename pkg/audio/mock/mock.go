// Package mock provides an in-memory implementation of [audio.Source] for
// use in unit tests.
//
// The mock is safe for concurrent use. It records method calls so that tests
// can assert on call counts, and exposes exported fields the test can set to
// control behaviour.
//
// Typical usage:
//
//	src := mock.NewSource(
//	    types.AudioChunk{Data: []byte{1, 2}},
//	    types.AudioChunk{Data: []byte{3, 4}},
//	)
//	_ = src.Start(ctx)
//	for chunk := range src.Chunks() { ... }
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/types"
)

// Source is a scripted [audio.Source]. Chunks queued via [NewSource] or
// [Source.Emit] are delivered on the Chunks channel after Start is called.
type Source struct {
	// StartError is returned by Start when non-nil.
	StartError error

	// FailWith, when non-nil, is reported by Err after the channel closes,
	// simulating a capture-device failure. Set it before calling Close.
	FailWith error

	mu sync.Mutex

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	ch      chan types.AudioChunk
	started bool
	closed  bool
	err     error
}

var _ audio.Source = (*Source)(nil)

// NewSource creates a mock source pre-loaded with the given chunks.
func NewSource(chunks ...types.AudioChunk) *Source {
	s := &Source{ch: make(chan types.AudioChunk, 256)}
	for _, c := range chunks {
		s.ch <- c
	}
	return s
}

// Start marks the source started. It returns StartError when set.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	if s.started {
		return errors.New("mock: source already started")
	}
	s.started = true
	return nil
}

// Emit queues a chunk for delivery. Panics if the source has been closed —
// a real device cannot produce after release, and neither should a test.
func (s *Source) Emit(chunk types.AudioChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		panic("mock: Emit after Close")
	}
	s.ch <- chunk
}

// Chunks returns the delivery channel.
func (s *Source) Chunks() <-chan types.AudioChunk {
	return s.ch
}

// Err returns the simulated capture failure, if any.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the delivery channel. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	s.err = s.FailWith
	close(s.ch)
	return nil
}
