package broadcast

import (
	"strings"
	"sync"
)

// Global topic names. Per-session topics come from SessionTopic.
const (
	TopicPresence     = "presence"
	TopicFriendStatus = "friend-status"
)

// SessionTopic returns the broadcast topic for one session.
func SessionTopic(sessionID string) string {
	return "session/" + strings.TrimSpace(sessionID)
}

// Router fans a published message out to every subscriber attached to the
// topic at the moment of publish. There is no buffering beyond each
// subscriber's channel and no replay: a subscriber attached after a publish
// never sees it, and a subscriber whose channel is full is skipped.
type Router struct {
	mu     sync.RWMutex
	topics map[string]map[int]*Subscription
	nextID int
	closed bool
}

// Subscription is one attachment to a topic. Messages arrive on C until
// Cancel is called, after which C is closed.
type Subscription struct {
	router *Router
	topic  string
	id     int
	ch     chan any
	once   sync.Once
}

// C returns the receive channel for this subscription.
func (s *Subscription) C() <-chan any { return s.ch }

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() string { return s.topic }

// Cancel detaches the subscription and closes its channel. Safe to call
// more than once. The close happens under the router's write lock so it
// can never interleave with a publisher's send.
func (s *Subscription) Cancel() {
	s.router.mu.Lock()
	defer s.router.mu.Unlock()
	s.once.Do(func() {
		if subs, ok := s.router.topics[s.topic]; ok {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.router.topics, s.topic)
			}
		}
		close(s.ch)
	})
}

func NewRouter() *Router {
	return &Router{topics: make(map[string]map[int]*Subscription)}
}

// Subscribe attaches to a topic. buffer bounds how many undelivered
// messages the subscriber may lag behind before publishes are dropped
// for it; values below 1 get a default of 16.
func (r *Router) Subscribe(topic string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 16
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		sub := &Subscription{router: r, topic: topic, ch: make(chan any)}
		sub.once.Do(func() {})
		close(sub.ch)
		return sub
	}
	r.nextID++
	sub := &Subscription{router: r, topic: topic, id: r.nextID, ch: make(chan any, buffer)}
	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[int]*Subscription)
		r.topics[topic] = subs
	}
	subs[sub.id] = sub
	return sub
}

// Publish delivers msg to every current subscriber of topic and returns how
// many subscribers received it. Delivery is at-most-once: a subscriber with
// a full channel is skipped rather than blocked on. Sends stay under the
// read lock, excluding the close in Cancel and Close; the non-blocking send
// keeps the hold time bounded.
func (r *Router) Publish(topic string, msg any) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	delivered := 0
	for _, s := range r.topics[topic] {
		select {
		case s.ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// SubscriberCount reports how many subscriptions are attached to topic.
func (r *Router) SubscriberCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Close cancels every subscription; later Subscribe calls return an
// already-closed subscription and Publish becomes a no-op.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, subs := range r.topics {
		for _, s := range subs {
			s.once.Do(func() { close(s.ch) })
		}
	}
	r.topics = make(map[string]map[int]*Subscription)
}
