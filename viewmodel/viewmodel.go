// Package viewmodel adapts the record store for a front end: a live record
// list with an idle grace period, and fire-and-forget writes on a bounded
// worker pool.
package viewmodel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Skryldev/users/models"
	"github.com/Skryldev/users/store"
)

// DefaultStopTimeout is how long the upstream subscription outlives its last
// observer.
const DefaultStopTimeout = 5 * time.Second

// DefaultWorkers bounds concurrent writes.
const DefaultWorkers = 4

// ErrClosed is returned after Close.
var ErrClosed = errors.New("users/viewmodel: closed")

// AddResult is the outcome of one AddUser call. On success User is the
// stored record with its assigned id.
type AddResult struct {
	User models.User
	Err  error
}

// Source is the part of *store.Store the adapter uses.
type Source interface {
	ObserveAll(ctx context.Context) (*store.Subscription, error)
	Insert(ctx context.Context, u models.User) (models.User, error)
}

// Options configures a UsersViewModel. The zero value uses the defaults.
type Options struct {
	// StopTimeout defaults to DefaultStopTimeout.
	StopTimeout time.Duration
	// Workers defaults to DefaultWorkers.
	Workers int
	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
}

// UsersViewModel exposes the current record list and accepts new records.
type UsersViewModel struct {
	src    Source
	live   *LiveUsers
	logger *slog.Logger

	// ctx is the worker context; it outlives any caller.
	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	lastErr error
}

// New returns an adapter over src.
func New(src Source, opts Options) *UsersViewModel {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UsersViewModel{
		src:    src,
		live:   newLiveUsers(src, opts.StopTimeout, opts.Logger),
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		sem:    make(chan struct{}, opts.Workers),
	}
}

// CurrentUsers returns the live record list.
func (vm *UsersViewModel) CurrentUsers() *LiveUsers { return vm.live }

// AddUser queues u for insertion and returns at once. The returned channel
// receives the outcome exactly once and may be ignored. A failure is also
// logged and kept as LastError; it never panics.
func (vm *UsersViewModel) AddUser(u models.User) <-chan AddResult {
	done := make(chan AddResult, 1)

	vm.mu.RLock()
	if vm.closed {
		vm.mu.RUnlock()
		done <- AddResult{Err: ErrClosed}
		return done
	}
	vm.wg.Add(1)
	vm.mu.RUnlock()

	go func() {
		defer vm.wg.Done()
		vm.sem <- struct{}{}
		defer func() { <-vm.sem }()

		stored, err := vm.src.Insert(vm.ctx, u)
		if err != nil {
			vm.logger.Error("users/viewmodel: add user failed", "name", u.Name, "error", err)
			vm.mu.Lock()
			vm.lastErr = err
			vm.mu.Unlock()
		} else {
			vm.logger.Debug("users/viewmodel: user added", "id", stored.ID)
		}
		done <- AddResult{User: stored, Err: err}
	}()
	return done
}

// LastError returns the most recent write failure, or nil.
func (vm *UsersViewModel) LastError() error {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.lastErr
}

// Close stops accepting writes, waits for queued writes to finish, then
// releases the live list and its observers. Safe to call multiple times.
func (vm *UsersViewModel) Close() error {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return nil
	}
	vm.closed = true
	vm.mu.Unlock()

	vm.wg.Wait()
	vm.cancel()
	vm.live.close()
	return nil
}
