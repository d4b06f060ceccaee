package transport

import (
	"sync"
	"time"
)

// Default outbound queue bounds.
const (
	DefaultQueueSize = 1000
	DefaultQueueAge  = 5 * time.Second
)

// frame is one queued outbound payload with its admission time.
type frame struct {
	data     []byte
	enqueued time.Time
}

// frameQueue is the bounded FIFO of outbound payloads. It applies the same
// eviction policy as the audio chunk buffer: expired entries are dropped from
// the head on admission, then one more oldest entry if the queue is still at
// capacity. A signal channel wakes the writer without holding the lock.
//
// All methods are safe for concurrent use.
type frameQueue struct {
	mu      sync.Mutex
	frames  []frame
	maxSize int
	maxAge  time.Duration
	dropped uint64

	// signal carries one token per "data may be available" event.
	signal chan struct{}

	// now is the clock source; overridable in tests.
	now func() time.Time
}

func newFrameQueue(maxSize int, maxAge time.Duration) *frameQueue {
	if maxSize <= 0 {
		maxSize = DefaultQueueSize
	}
	if maxAge <= 0 {
		maxAge = DefaultQueueAge
	}
	return &frameQueue{
		frames:  make([]frame, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
		signal:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

// enqueue admits data and returns how many older frames were evicted to make
// room. It never blocks.
func (q *frameQueue) enqueue(data []byte) (evicted int) {
	q.mu.Lock()

	cutoff := q.now().Add(-q.maxAge)
	for evicted < len(q.frames) && q.frames[evicted].enqueued.Before(cutoff) {
		evicted++
	}
	if len(q.frames)-evicted >= q.maxSize {
		evicted++
	}
	if evicted > 0 {
		q.dropHead(evicted)
	}
	q.frames = append(q.frames, frame{data: data, enqueued: q.now()})
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return evicted
}

// dequeue removes and returns the oldest frame. ok is false when empty.
func (q *frameQueue) dequeue() (data []byte, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil, false
	}
	data = q.frames[0].data
	q.dropHeadKeepCount(1)
	return data, true
}

// length returns the number of queued frames.
func (q *frameQueue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// clear discards all queued frames. Used on caller-initiated disconnect;
// discarded frames do not count as drops.
func (q *frameQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = q.frames[:0]
}

// totalDropped returns the number of frames evicted since creation.
func (q *frameQueue) totalDropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// dropHead evicts the n oldest frames, counting them as dropped.
// Must hold q.mu.
func (q *frameQueue) dropHead(n int) {
	q.dropped += uint64(n)
	q.dropHeadKeepCount(n)
}

// dropHeadKeepCount removes the n oldest frames without counting drops,
// copying survivors forward so evicted payloads do not stay pinned.
// Must hold q.mu.
func (q *frameQueue) dropHeadKeepCount(n int) {
	remaining := copy(q.frames, q.frames[n:])
	for i := remaining; i < len(q.frames); i++ {
		q.frames[i] = frame{}
	}
	q.frames = q.frames[:remaining]
}
