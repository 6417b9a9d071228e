package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event types published to subscribers.
const (
	EventRequestStart = "requestStart"
	EventRequestEnd   = "requestEnd"
	EventRequestError = "requestError"
	EventStreamChunk  = "streamChunk"
	EventClear        = "clear"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind loses events rather than blocking the proxy.
const subscriberBuffer = 100

// Event is one store notification. Record is a snapshot on start, end, and
// error events; chunk events carry only ChunkInfo to keep the feed light.
type Event struct {
	Type      string     `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
	Record    *Record    `json:"record,omitempty"`
	Chunk     *ChunkInfo `json:"chunk,omitempty"`
}

// ChunkInfo summarizes one appended stream chunk.
type ChunkInfo struct {
	Index int `json:"index"`
	Size  int `json:"size"`
}

// Subscription is a live event feed.
type Subscription struct {
	ID string
	C  <-chan Event
}

type subscriber struct {
	ch      chan Event
	dropped int64
}

// Subscribe registers a new event feed. The caller must Unsubscribe when
// done or the channel leaks.
func (s *Store) Subscribe() *Subscription {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := uuid.New().String()
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	s.subscribers[id] = sub

	logrus.WithField("subscriber", id).Debug("store subscriber registered")
	return &Subscription{ID: id, C: sub.ch}
}

// Unsubscribe removes a feed and closes its channel.
func (s *Store) Unsubscribe(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sub, ok := s.subscribers[id]
	if !ok {
		return
	}
	delete(s.subscribers, id)
	close(sub.ch)

	if sub.dropped > 0 {
		logrus.WithFields(logrus.Fields{
			"subscriber": id,
			"dropped":    sub.dropped,
		}).Debug("store subscriber removed after dropping events")
	}
}

// SubscriberCount returns the number of live feeds.
func (s *Store) SubscriberCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.subscribers)
}

// DroppedEvents returns the total events dropped across all subscribers.
func (s *Store) DroppedEvents() int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.dropped
}

// publishLocked delivers an event to every subscriber without ever blocking.
// Callers hold the store lock.
func (s *Store) publishLocked(ev Event) {
	for _, sub := range s.subscribers {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			s.dropped++
		}
	}
}
