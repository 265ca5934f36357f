package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultQueueSize         = 256
	DefaultWriteTimeout      = 10 * time.Second
)

var (
	ErrClosed        = errors.New("hub closed")
	ErrNotAttached   = errors.New("subscriber not attached")
	ErrAlreadyExists = errors.New("subscriber already attached")
	ErrQueueFull     = errors.New("subscriber queue full")
)

// Conn is the write side of a subscriber transport. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Observer receives fan-out measurements.
type Observer interface {
	SubscribersChanged(n int)
	EventPublished(event string)
	SubscriberEvicted()
}

type nopObserver struct{}

func (nopObserver) SubscribersChanged(int) {}
func (nopObserver) EventPublished(string) {}
func (nopObserver) SubscriberEvicted() {}

// Config holds hub settings.
type Config struct {
	HeartbeatInterval time.Duration
	QueueSize         int
	WriteTimeout      time.Duration
	Observer          Observer
	Logger            zerolog.Logger
}

// Hub fans events out to attached subscribers. Each subscriber has a
// bounded queue drained by its own writer goroutine, so a slow subscriber
// never stalls Publish. A subscriber whose queue overflows is detached.
type Hub struct {
	heartbeat    time.Duration
	queueSize    int
	writeTimeout time.Duration
	observer     Observer
	logger       zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*Subscriber
	seq    int64
	closed bool
	wg     sync.WaitGroup
}

// New creates a hub.
func New(cfg Config) *Hub {
	h := &Hub{
		heartbeat:    cfg.HeartbeatInterval,
		queueSize:    cfg.QueueSize,
		writeTimeout: cfg.WriteTimeout,
		observer:     cfg.Observer,
		logger:       cfg.Logger.With().Str("component", "hub").Logger(),
		subs:         make(map[string]*Subscriber),
	}
	if h.heartbeat <= 0 {
		h.heartbeat = DefaultHeartbeatInterval
	}
	if h.queueSize <= 0 {
		h.queueSize = DefaultQueueSize
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = DefaultWriteTimeout
	}
	if h.observer == nil {
		h.observer = nopObserver{}
	}
	return h
}

// Attach registers conn under id and starts its writer. The subscriber's
// first message is a serverStatus event; after that it only receives events
// published after Attach returned.
func (h *Hub) Attach(id string, conn Conn) (*Subscriber, error) {
	if id == "" {
		return nil, fmt.Errorf("subscriber id cannot be empty")
	}
	if conn == nil {
		return nil, fmt.Errorf("subscriber connection cannot be nil")
	}

	sub := &Subscriber{
		id:          id,
		conn:        conn,
		queue:       make(chan []byte, h.queueSize),
		done:        make(chan struct{}),
		draining:    make(chan struct{}),
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := h.subs[id]; exists {
		h.mu.Unlock()
		return nil, ErrAlreadyExists
	}

	status, err := h.encode(EventServerStatus, ServerStatus{
		Connected: true,
		Time:      time.Now().UTC(),
		Seq:       h.seq,
	}, 0)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	sub.queue <- status
	h.subs[id] = sub
	count := len(h.subs)
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		h.writeLoop(sub)
	}()

	h.observer.SubscribersChanged(count)
	h.logger.Debug().Str("subscriber", id).Int("subscribers", count).Msg("Subscriber attached")
	return sub, nil
}

// Detach removes id and closes its transport. Unknown ids are ignored.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.stop()
	h.observer.SubscribersChanged(count)
	h.logger.Debug().Str("subscriber", id).Int("subscribers", count).Msg("Subscriber detached")
}

// Publish delivers an event to every attached subscriber. Events are
// sequenced and enqueued under one lock, so every subscriber observes the
// same order.
func (h *Hub) Publish(event string, data interface{}) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	h.seq++
	payload, err := h.encode(event, data, h.seq)
	if err != nil {
		h.mu.Unlock()
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	var evicted []*Subscriber
	for id, sub := range h.subs {
		select {
		case sub.queue <- payload:
		default:
			delete(h.subs, id)
			evicted = append(evicted, sub)
		}
	}
	count := len(h.subs)
	seq := h.seq
	h.mu.Unlock()

	h.observer.EventPublished(event)
	for _, sub := range evicted {
		sub.stop()
		h.observer.SubscriberEvicted()
		h.logger.Warn().
			Str("subscriber", sub.id).
			Str("event", event).
			Int64("seq", seq).
			Msg("Subscriber queue overflowed, detaching")
	}
	if len(evicted) > 0 {
		h.observer.SubscribersChanged(count)
	}

	h.logger.Debug().
		Str("event", event).
		Int64("seq", seq).
		Int("delivered", count).
		Int("evicted", len(evicted)).
		Msg("Event published")
}

// Send enqueues v as a JSON frame for one subscriber only.
func (h *Hub) Send(id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return ErrNotAttached
	}
	select {
	case sub.queue <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Count returns the number of attached subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscribers returns a snapshot of attached subscribers.
func (h *Hub) Subscribers() []SubscriberInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]SubscriberInfo, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, SubscriberInfo{
			ID:          sub.id,
			ConnectedAt: sub.connectedAt,
			Queued:      len(sub.queue),
		})
	}
	return out
}

// Close flushes queued frames, closes every subscriber and rejects further
// attaches.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for id, sub := range h.subs {
		subs = append(subs, sub)
		delete(h.subs, id)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.drain()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.observer.SubscribersChanged(0)
		return nil
	case <-ctx.Done():
		for _, sub := range subs {
			sub.stop()
		}
		return fmt.Errorf("timed out flushing subscribers: %w", ctx.Err())
	}
}

func (h *Hub) encode(event string, data interface{}, seq int64) ([]byte, error) {
	return json.Marshal(EventMessage{
		Type:      "event",
		Event:     event,
		EventID:   uuid.NewString(),
		Seq:       seq,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *Hub) writeLoop(sub *Subscriber) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	defer sub.stop()
	defer sub.conn.Close()

	for {
		select {
		case <-sub.done:
			return

		case <-sub.draining:
			for {
				select {
				case data := <-sub.queue:
					if err := h.write(sub, data); err != nil {
						return
					}
				default:
					return
				}
			}

		case data := <-sub.queue:
			if err := h.write(sub, data); err != nil {
				h.logger.Debug().Err(err).Str("subscriber", sub.id).Msg("Write failed, detaching")
				h.Detach(sub.id)
				return
			}

		case <-ticker.C:
			beat, err := h.encode(EventHeartbeat, Heartbeat{Time: time.Now().UTC()}, 0)
			if err != nil {
				continue
			}
			if err := h.write(sub, beat); err != nil {
				h.logger.Debug().Err(err).Str("subscriber", sub.id).Msg("Heartbeat failed, detaching")
				h.Detach(sub.id)
				return
			}
		}
	}
}

func (h *Hub) write(sub *Subscriber, data []byte) error {
	if err := sub.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return sub.conn.WriteMessage(websocket.TextMessage, data)
}
