package viewmodel

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Skryldev/users/models"
	"github.com/Skryldev/users/store"
)

// LiveUsers is an observable record list backed by the store.
//
// The upstream store subscription starts with the first Observer. When the
// last Observer detaches it is kept for the stop timeout, so a consumer that
// briefly goes away and comes back (a redraw, a reconnect) does not pay for a
// new subscription. The last value survives the upstream being released.
type LiveUsers struct {
	src         Source
	stopTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	value     []models.User
	loaded    bool
	observers map[*Observer]struct{}
	upstream  *store.Subscription
	cancelUp  context.CancelFunc
	stopTimer *time.Timer
	// gen invalidates stop timers armed before the latest attach.
	gen    uint64
	closed bool
}

func newLiveUsers(src Source, stopTimeout time.Duration, logger *slog.Logger) *LiveUsers {
	return &LiveUsers{
		src:         src,
		stopTimeout: stopTimeout,
		logger:      logger,
		value:       []models.User{},
		observers:   make(map[*Observer]struct{}),
	}
}

// Value returns the latest record list. It is empty, never nil, until the
// first snapshot arrives.
func (l *LiveUsers) Value() []models.User {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.value)
}

// Active reports whether the upstream store subscription is held.
func (l *LiveUsers) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.upstream != nil
}

// Observe attaches an observer. Once a first snapshot has arrived, the
// current value is waiting on the observer's channel when Observe returns;
// before that, the first snapshot is the first value. Every later snapshot
// follows, latest-wins. The observer detaches on Close or when ctx is done.
func (l *LiveUsers) Observe(ctx context.Context) (*Observer, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}

	l.gen++
	if l.stopTimer != nil {
		l.stopTimer.Stop()
		l.stopTimer = nil
	}

	if l.upstream == nil {
		upCtx, cancel := context.WithCancel(context.Background())
		sub, err := l.src.ObserveAll(upCtx)
		if err != nil {
			cancel()
			l.mu.Unlock()
			return nil, err
		}
		l.upstream, l.cancelUp = sub, cancel
		go l.pump(sub)
		l.logger.Debug("users/viewmodel: upstream started", "subscription", sub.ID)
	}

	o := newObserver(l)
	l.observers[o] = struct{}{}
	if l.loaded {
		o.deliver(slices.Clone(l.value))
	}
	l.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			o.Close()
		case <-o.done:
		}
	}()
	return o, nil
}

// pump copies upstream snapshots into the value and fans them out until sub
// is released.
func (l *LiveUsers) pump(sub *store.Subscription) {
	for snap := range sub.C {
		l.mu.Lock()
		if l.upstream != sub {
			l.mu.Unlock()
			return
		}
		l.value, l.loaded = snap, true
		for o := range l.observers {
			o.deliver(slices.Clone(snap))
		}
		l.mu.Unlock()
	}
}

// release is called by a detaching observer.
func (l *LiveUsers) release(o *Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.observers, o)
	if len(l.observers) > 0 || l.upstream == nil || l.closed {
		return
	}

	l.gen++
	gen := l.gen
	l.stopTimer = time.AfterFunc(l.stopTimeout, func() { l.stopIfIdle(gen) })
}

func (l *LiveUsers) stopIfIdle(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || len(l.observers) > 0 {
		return
	}
	l.stopUpstreamLocked()
}

func (l *LiveUsers) stopUpstreamLocked() {
	if l.stopTimer != nil {
		l.stopTimer.Stop()
		l.stopTimer = nil
	}
	if l.upstream == nil {
		return
	}
	sub := l.upstream
	l.upstream = nil
	l.cancelUp()
	l.cancelUp = nil
	sub.Close()
	l.logger.Debug("users/viewmodel: upstream released", "subscription", sub.ID)
}

// close releases the upstream and detaches every observer.
func (l *LiveUsers) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.stopUpstreamLocked()
	observers := make([]*Observer, 0, len(l.observers))
	for o := range l.observers {
		observers = append(observers, o)
	}
	l.mu.Unlock()

	for _, o := range observers {
		o.Close()
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Observer
// ─────────────────────────────────────────────────────────────────────────────

// Observer receives record lists from a LiveUsers. C holds at most one
// pending list; a newer one replaces it.
type Observer struct {
	C <-chan []models.User

	ch   chan []models.User
	live *LiveUsers
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newObserver(l *LiveUsers) *Observer {
	ch := make(chan []models.User, 1)
	return &Observer{C: ch, ch: ch, live: l, done: make(chan struct{})}
}

// Done is closed once the observer has detached.
func (o *Observer) Done() <-chan struct{} { return o.done }

// Close detaches the observer and closes C. Safe to call multiple times.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.ch)
	close(o.done)
	o.mu.Unlock()

	o.live.release(o)
}

func (o *Observer) deliver(v []models.User) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	for {
		select {
		case o.ch <- v:
			return
		default:
		}
		select {
		case <-o.ch:
		default:
		}
	}
}
