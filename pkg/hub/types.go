package hub

import (
	"sync"
	"time"
)

// Event names emitted by the hub itself.
const (
	EventServerStatus = "serverStatus"
	EventHeartbeat    = "heartbeat"
	EventShutdown     = "server.shutdown"
)

// EventMessage is the wire frame for every published event.
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	EventID   string      `json:"eventId,omitempty"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ServerStatus is sent to a subscriber right after it attaches. Seq is the
// sequence number of the last event published before the attach.
type ServerStatus struct {
	Connected bool      `json:"connected"`
	Time      time.Time `json:"time"`
	Seq       int64     `json:"seq"`
}

// Heartbeat keeps idle transports alive.
type Heartbeat struct {
	Time time.Time `json:"time"`
}

// SubscriberInfo describes an attached subscriber.
type SubscriberInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connectedAt"`
	Queued      int       `json:"queued"`
}

// Subscriber is one attached transport.
type Subscriber struct {
	id          string
	conn        Conn
	queue       chan []byte
	connectedAt time.Time

	done      chan struct{}
	draining  chan struct{}
	stopOnce  sync.Once
	drainOnce sync.Once
}

// ID returns the subscriber id.
func (s *Subscriber) ID() string {
	return s.id
}

// Done is closed once the subscriber has been detached.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *Subscriber) drain() {
	s.drainOnce.Do(func() {
		close(s.draining)
	})
}
