package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	items []string
}

func (r *recorder) deliver(s string) {
	r.mu.Lock()
	r.items = append(r.items, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

func waitIdle(t *testing.T, q *typingQueue) {
	t.Helper()
	require.Eventually(t, q.Idle, 5*time.Second, time.Millisecond)
}

func TestQueueDeliversFIFOExactlyOnce(t *testing.T) {
	rec := &recorder{}
	q := newTypingQueue(time.Millisecond, rec.deliver)
	defer q.Close()

	var want []string
	for i := 0; i < 50; i++ {
		fragment := fmt.Sprintf("fragment-%02d", i)
		want = append(want, fragment)
		q.Enqueue(fragment)
	}
	waitIdle(t, q)
	assert.Equal(t, want, rec.snapshot())
}

func TestQueueEnqueueWhileDraining(t *testing.T) {
	rec := &recorder{}
	q := newTypingQueue(5*time.Millisecond, rec.deliver)
	defer q.Close()

	q.Enqueue("a")
	time.Sleep(2 * time.Millisecond) // worker now mid-delay
	q.Enqueue("b")
	q.Enqueue("c")

	waitIdle(t, q)
	assert.Equal(t, []string{"a", "b", "c"}, rec.snapshot())
}

func TestQueueCatchUpSkipsDelay(t *testing.T) {
	rec := &recorder{}
	delay := 30 * time.Millisecond
	q := newTypingQueue(delay, rec.deliver)
	defer q.Close()

	const n = 40
	for i := 0; i < n; i++ {
		q.Enqueue("x")
	}
	start := time.Now()
	waitIdle(t, q)
	elapsed := time.Since(start)

	// With the backlog far past the catch-up threshold, most fragments skip
	// the delay entirely; paying it for all of them would take >1s.
	assert.Less(t, elapsed, time.Duration(n)*delay/2)
	assert.Len(t, rec.snapshot(), n)
}

func TestQueueResetDropsPending(t *testing.T) {
	rec := &recorder{}
	q := newTypingQueue(20*time.Millisecond, rec.deliver)
	defer q.Close()

	q.Enqueue("kept")
	time.Sleep(5 * time.Millisecond) // "kept" delivered, worker in delay
	q.Enqueue("dropped-1")
	q.Enqueue("dropped-2")
	q.Reset()
	waitIdle(t, q)

	assert.Equal(t, []string{"kept"}, rec.snapshot())
}

func TestQueueCloseStopsDelivery(t *testing.T) {
	rec := &recorder{}
	q := newTypingQueue(30*time.Millisecond, rec.deliver)

	for i := 0; i < 5; i++ {
		q.Enqueue(fmt.Sprintf("%d", i))
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()
	waitIdle(t, q)

	delivered := len(rec.snapshot())
	assert.Less(t, delivered, 5)

	// enqueue after close is a no-op
	q.Enqueue("late")
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, rec.snapshot(), delivered)
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	q := newTypingQueue(time.Millisecond, func(string) {})
	q.Close()
	q.Close()
}

func TestQueueBoundedBacklogPreservesContent(t *testing.T) {
	rec := &recorder{}
	q := newTypingQueue(time.Millisecond, rec.deliver)
	defer q.Close()

	// Push far past the bound before the worker can drain; the total bytes
	// delivered must still equal the total bytes enqueued, in order.
	var want string
	for i := 0; i < maxBacklog+200; i++ {
		fragment := fmt.Sprintf("%d,", i)
		want += fragment
		q.Enqueue(fragment)
	}
	waitIdle(t, q)

	var got string
	for _, s := range rec.snapshot() {
		got += s
	}
	assert.Equal(t, want, got)
}
