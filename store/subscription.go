package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Skryldev/users/models"
)

// Subscription is one observer of the record list.
//
// C holds at most one pending snapshot. When a newer snapshot arrives before
// the consumer read the pending one, the pending one is replaced, so a slow
// consumer skips intermediate states but always ends on the latest.
type Subscription struct {
	// ID correlates log lines of one observer.
	ID string
	// C yields full snapshots ordered by id. It is closed on detach.
	C <-chan []models.User

	ch    chan []models.User
	store *Store
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newSubscription(s *Store) *Subscription {
	ch := make(chan []models.User, 1)
	return &Subscription{
		ID:    uuid.NewString(),
		C:     ch,
		ch:    ch,
		store: s,
		done:  make(chan struct{}),
	}
}

// Done is closed once the subscription has been detached.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Close detaches the subscription and closes C. Safe to call multiple times.
func (sub *Subscription) Close() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	close(sub.ch)
	close(sub.done)
	sub.mu.Unlock()

	sub.store.detach(sub)
}

// deliver replaces any pending snapshot with snap. Deliveries are
// serialized by the store, so this never blocks.
func (sub *Subscription) deliver(snap []models.User) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	for {
		select {
		case sub.ch <- snap:
			return
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
	}
}
