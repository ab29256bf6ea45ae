package store

import "sync"

// UpdateKind says which slice of store state changed.
type UpdateKind string

const (
	UpdateSessions  UpdateKind = "sessions"
	UpdateMessages  UpdateKind = "messages"
	UpdateStreaming UpdateKind = "streaming"
	UpdateToolCalls UpdateKind = "tool_calls"
)

// Update is a store change notification delivered to subscribers.
type Update struct {
	Kind      UpdateKind
	SessionID string
}

// Subscription is the receiving end of a store subscription.
type Subscription struct {
	C      <-chan Update
	cancel func()
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.cancel()
}

type subscriber struct {
	ch     chan Update
	closed bool
}

// send delivers non-blockingly; a subscriber that cannot keep up loses
// intermediate updates, never the store's ability to make progress.
func (s *subscriber) send(u Update) bool {
	if s.closed {
		return false
	}
	select {
	case s.ch <- u:
	default:
	}
	return true
}

type subscribers struct {
	mu   sync.Mutex
	subs []*subscriber
}

func newSubscribers() *subscribers {
	return &subscribers{}
}

func (ss *subscribers) publish(u Update) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	alive := ss.subs[:0]
	for _, sub := range ss.subs {
		if sub.send(u) {
			alive = append(alive, sub)
		}
	}
	ss.subs = alive
}

// Subscribe returns a subscription whose channel receives store updates.
// bufSize controls the channel buffer; updates are dropped, not blocked on,
// when the buffer is full.
func (s *Store) Subscribe(bufSize int) *Subscription {
	sub := &subscriber{ch: make(chan Update, bufSize)}
	ss := s.subs
	ss.mu.Lock()
	ss.subs = append(ss.subs, sub)
	ss.mu.Unlock()
	return &Subscription{
		C: sub.ch,
		cancel: func() {
			ss.mu.Lock()
			defer ss.mu.Unlock()
			if sub.closed {
				return
			}
			sub.closed = true
			kept := ss.subs[:0]
			for _, existing := range ss.subs {
				if existing != sub {
					kept = append(kept, existing)
				}
			}
			ss.subs = kept
			close(sub.ch)
		},
	}
}
