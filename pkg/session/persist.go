package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const persistTimeout = 5 * time.Second

type persistOp struct {
	save   *Session
	delete string
	done   chan struct{}
}

// persister applies store writes on its own goroutine, in the order actors
// queued them, so a slow disk never stalls a session's mailbox.
type persister struct {
	store Store
	log   zerolog.Logger

	mu     sync.Mutex
	queue  []persistOp
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPersister(store Store, log zerolog.Logger) *persister {
	p := &persister{
		store: store,
		log:   log,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.mu.Unlock()
			<-p.wake
			p.mu.Lock()
		}
		batch := p.queue
		p.queue = nil
		closed := p.closed
		p.mu.Unlock()

		for _, op := range batch {
			p.apply(op)
		}
		if closed && len(batch) == 0 {
			return
		}
	}
}

func (p *persister) apply(op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	switch {
	case op.save != nil:
		if err := p.store.Save(ctx, *op.save); err != nil {
			p.log.Warn().Err(err).Str("session_id", op.save.ID).Msg("Failed to persist session")
		}
	case op.delete != "":
		if err := p.store.Delete(ctx, op.delete); err != nil {
			p.log.Warn().Err(err).Str("session_id", op.delete).Msg("Failed to delete session record")
		}
	}
	if op.done != nil {
		close(op.done)
	}
}

func (p *persister) enqueue(op persistOp) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, op)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *persister) save(s Session) {
	p.enqueue(persistOp{save: &s})
}

// remove queues deletion of id and returns a channel closed once applied.
func (p *persister) remove(id string) <-chan struct{} {
	done := make(chan struct{})
	if !p.enqueue(persistOp{delete: id, done: done}) {
		close(done)
	}
	return done
}

// flush waits until every write queued before the call has been applied.
func (p *persister) flush(ctx context.Context) error {
	done := make(chan struct{})
	if !p.enqueue(persistOp{done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains the queue and stops the writer.
func (p *persister) close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
