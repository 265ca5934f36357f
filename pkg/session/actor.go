package session

import (
	"context"
	"errors"
	"sync"
)

var errActorStopped = errors.New("session actor stopped")

// actor runs closures for one session id strictly one at a time.
type actor struct {
	mailbox  chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newActor(size int) *actor {
	if size <= 0 {
		size = 64
	}
	return &actor{
		mailbox: make(chan func(), size),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (a *actor) run() {
	defer close(a.done)
	for {
		select {
		case <-a.quit:
			return
		default:
		}

		select {
		case <-a.quit:
			return
		case fn := <-a.mailbox:
			fn()
		}
	}
}

// post enqueues fn. It must not be called from the actor goroutine while the
// mailbox may be full.
func (a *actor) post(fn func()) bool {
	select {
	case <-a.quit:
		return false
	default:
	}

	select {
	case <-a.quit:
		return false
	case a.mailbox <- fn:
		return true
	}
}

// call runs fn on the actor and waits for it to finish.
func (a *actor) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !a.post(func() {
		fn()
		close(finished)
	}) {
		return errActorStopped
	}

	select {
	case <-finished:
		return nil
	case <-a.done:
		select {
		case <-finished:
			return nil
		default:
			return errActorStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop ends the loop after the current closure. Pending closures are dropped.
func (a *actor) stop() {
	a.stopOnce.Do(func() {
		close(a.quit)
	})
}
