package stream

import (
	"sync"
	"time"
)

const (
	// defaultTypingDelay is the pause between delivered fragments. Tunable;
	// 15-20ms feels realtime, 30-50ms reads comfortably, 80-100ms is slow.
	defaultTypingDelay = 40 * time.Millisecond

	// catchUpThreshold is the pending-fragment depth past which the
	// inter-fragment delay is skipped so display never lags the network
	// unboundedly.
	catchUpThreshold = 10

	// maxBacklog bounds queue memory under a pathologically fast producer.
	// Past it, new fragments are coalesced into the tail fragment, which
	// preserves byte order and exactly-once delivery of content.
	maxBacklog = 1024
)

// typingQueue decouples network arrival of content fragments from their
// display. A single drain worker delivers fragments FIFO, one at a time,
// pausing between them. Enqueueing while a worker runs never spawns a second
// worker; the running worker observes the new depth.
type typingQueue struct {
	mu       sync.Mutex
	items    []string
	draining bool
	closed   bool

	delay   time.Duration
	deliver func(string)
	stop    chan struct{}
}

func newTypingQueue(delay time.Duration, deliver func(string)) *typingQueue {
	if delay <= 0 {
		delay = defaultTypingDelay
	}
	return &typingQueue{
		delay:   delay,
		deliver: deliver,
		stop:    make(chan struct{}),
	}
}

// Enqueue appends a fragment and ensures a drain worker is running.
func (q *typingQueue) Enqueue(fragment string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.items) >= maxBacklog {
		q.items[len(q.items)-1] += fragment
	} else {
		q.items = append(q.items, fragment)
	}
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()
	go q.drain()
}

func (q *typingQueue) drain() {
	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		fragment := q.items[0]
		q.items = q.items[1:]
		pending := len(q.items)
		q.mu.Unlock()

		q.deliver(fragment)

		// Skip the pause when far behind the network.
		if pending < catchUpThreshold {
			select {
			case <-q.stop:
				q.mu.Lock()
				q.draining = false
				q.mu.Unlock()
				return
			case <-time.After(q.delay):
			}
		}
	}
}

// Reset discards pending fragments. The backend restarted its own stream
// framing; whatever is queued belongs to the abandoned attempt.
func (q *typingQueue) Reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Idle reports whether nothing is pending and no worker is mid-delivery.
func (q *typingQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && !q.draining
}

// Close stops the drain worker and drops pending fragments. Safe to call
// more than once.
func (q *typingQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	close(q.stop)
}
