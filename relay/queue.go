package relay

import "sync"

// Frame is one WebSocket message with its transport type preserved, so
// opaque binary payloads survive queueing unchanged.
type Frame struct {
	Type int
	Data []byte
}

// OutboundQueue holds frames awaiting the upstream connection. It is
// bounded: when full, the oldest entry is evicted to admit the newest.
// Recency wins for live audio, so loss is taken at the stale end.
type OutboundQueue struct {
	frames  []Frame
	start   int
	count   int
	dropped int
	mu      sync.Mutex
}

// NewOutboundQueue creates a queue bounded at capacity frames.
func NewOutboundQueue(capacity int) *OutboundQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &OutboundQueue{frames: make([]Frame, capacity)}
}

// Push appends a frame, evicting the oldest entry if the queue is full.
func (q *OutboundQueue) Push(frame Frame) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == len(q.frames) {
		q.start = (q.start + 1) % len(q.frames)
		q.count--
		q.dropped++
	}
	q.frames[(q.start+q.count)%len(q.frames)] = frame
	q.count++
}

// Drain returns all queued frames in original relative order and empties the
// queue.
func (q *OutboundQueue) Drain() []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	out := make([]Frame, q.count)
	for i := 0; i < q.count; i++ {
		idx := (q.start + i) % len(q.frames)
		out[i] = q.frames[idx]
		q.frames[idx] = Frame{}
	}
	q.start = 0
	q.count = 0
	return out
}

// Len returns the current number of queued frames.
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns how many frames were evicted since creation.
func (q *OutboundQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
