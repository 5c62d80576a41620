// Package store is the record store of the users register: an append-only
// table of users with a live, full-snapshot observation stream.
//
// Every committed Insert re-reads the whole table and pushes the snapshot to
// every active Subscription. Consumers always receive complete lists, never
// deltas.
//
// Writes made through another Store, in this process or another one, are
// picked up by polling the table's watermark while observers are attached
// (Options.PollInterval).
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Skryldev/users/db"
	"github.com/Skryldev/users/models"
	"github.com/Skryldev/users/repo"
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("users/store: store is closed")

// ─────────────────────────────────────────────────────────────────────────────
// Recorder — metrics sink
// ─────────────────────────────────────────────────────────────────────────────

// Recorder receives store events. metrics.Collector satisfies it.
type Recorder interface {
	InsertDone(d time.Duration, err error)
	SubscriptionOpened()
	SubscriptionClosed()
	SnapshotsDelivered(subscribers int)
}

type nopRecorder struct{}

func (nopRecorder) InsertDone(time.Duration, error) {}
func (nopRecorder) SubscriptionOpened()              {}
func (nopRecorder) SubscriptionClosed()              {}
func (nopRecorder) SnapshotsDelivered(int)           {}

// ─────────────────────────────────────────────────────────────────────────────
// Store
// ─────────────────────────────────────────────────────────────────────────────

// Options configures a Store. The zero value is usable.
type Options struct {
	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
	// Recorder defaults to a no-op.
	Recorder Recorder
	// PollInterval is how often the table is checked for writes made
	// outside this Store. Zero disables polling.
	PollInterval time.Duration
}

// Store owns the observer registry over a migrated database.
// It is safe for concurrent use.
type Store struct {
	db     *db.DB
	ownsDB bool
	logger *slog.Logger
	rec    Recorder

	// notifyMu serializes "read snapshot, deliver snapshot" so a stale
	// snapshot is never delivered after a fresher one. It also guards mark.
	notifyMu sync.Mutex
	// mark is the watermark of the last snapshot handed to observers.
	mark repo.Watermark

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	stopPoll chan struct{}
	pollWG   sync.WaitGroup
}

// New returns a Store over an already migrated database. Close does not
// close database.
func New(database *db.DB, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	s := &Store{
		db:       database,
		logger:   opts.Logger,
		rec:      opts.Recorder,
		subs:     make(map[string]*Subscription),
		stopPoll: make(chan struct{}),
	}
	if opts.PollInterval > 0 {
		s.pollWG.Add(1)
		go s.pollLoop(opts.PollInterval)
	}
	return s
}

// Open opens the database described by cfg, brings its schema to
// db.SchemaVersion and returns a Store that owns it.
func Open(ctx context.Context, cfg db.Config, opts Options) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = opts.Logger
	}
	database, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		_ = database.Close()
		return nil, err
	}
	s := New(database, opts)
	s.ownsDB = true
	return s, nil
}

// DB returns the underlying database.
func (s *Store) DB() *db.DB { return s.db }

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// Snapshot reads all records once, ordered by id.
func (s *Store) Snapshot(ctx context.Context) ([]models.User, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	users, err := repo.NewUserRepo(s.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("users/store: snapshot: %w", err)
	}
	return users, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	n, err := repo.NewUserRepo(s.db).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("users/store: count: %w", err)
	}
	return n, nil
}

// ObserveAll registers an observer of the full record list. The current
// snapshot is waiting on the subscription's channel when ObserveAll returns,
// and each later committed Insert delivers a fresh one.
//
// The subscription ends when ctx is done, when Close is called on it, or
// when the store is closed; its channel is then closed.
func (s *Store) ObserveAll(ctx context.Context) (*Subscription, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(s)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.subs[sub.ID] = sub
	s.mu.Unlock()
	s.mark = repo.WatermarkOf(snap)

	s.rec.SubscriptionOpened()
	sub.deliver(snap)
	s.logger.Debug("users/store: observer attached", "subscription", sub.ID, "records", len(snap))

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Insert atomically stores u and returns the stored record. The store
// assigns the id; u.ID is ignored. After commit every active observer
// receives the new snapshot.
//
// Failures of the storage medium satisfy db.IsStorageFailure.
func (s *Store) Insert(ctx context.Context, u models.User) (models.User, error) {
	if s.isClosed() {
		return models.User{}, ErrClosed
	}

	start := time.Now()
	var stored models.User
	err := s.db.ExecTx(ctx, func(tx *db.Tx) error {
		var err error
		stored, err = repo.NewUserRepo(tx).Insert(ctx, u)
		return err
	})
	s.rec.InsertDone(time.Since(start), err)
	if err != nil {
		return models.User{}, fmt.Errorf("users/store: insert: %w", err)
	}

	// The write is durable; a caller cancelling now must not starve observers.
	s.notify(context.WithoutCancel(ctx))
	return stored, nil
}

// notify re-reads the table and pushes the snapshot to every observer.
// A failed re-read is logged and skipped.
func (s *Store) notify(ctx context.Context) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	subs := s.activeSubscriptions()
	if len(subs) == 0 {
		return
	}
	s.broadcastLocked(ctx, subs)
}

// broadcastLocked delivers a fresh snapshot to subs. notifyMu must be held.
func (s *Store) broadcastLocked(ctx context.Context, subs []*Subscription) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("users/store: snapshot for observers failed", "error", err)
		return
	}
	for _, sub := range subs {
		sub.deliver(slices.Clone(snap))
	}
	s.mark = repo.WatermarkOf(snap)
	s.rec.SnapshotsDelivered(len(subs))
}

// ─────────────────────────────────────────────────────────────────────────────
// Polling — writes from other connections
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) pollLoop(interval time.Duration) {
	defer s.pollWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopPoll:
			return
		case <-ticker.C:
			s.poll(context.Background())
		}
	}
}

// poll delivers a fresh snapshot when the table's watermark moved since the
// last delivery. Inserts made through s have already moved mark, so they
// are not delivered twice.
func (s *Store) poll(ctx context.Context) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	subs := s.activeSubscriptions()
	if len(subs) == 0 || s.isClosed() {
		return
	}

	w, err := repo.NewUserRepo(s.db).Watermark(ctx)
	if err != nil {
		s.logger.Warn("users/store: poll failed", "error", err)
		return
	}
	if w == s.mark {
		return
	}
	s.logger.Debug("users/store: outside write detected", "records", w.Count, "max_id", w.MaxID)
	s.broadcastLocked(ctx, subs)
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Close detaches every observer and, when the store was created by Open,
// closes the database. Safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	close(s.stopPoll)
	s.pollWG.Wait()

	for _, sub := range subs {
		sub.Close()
	}
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) activeSubscriptions() []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (s *Store) detach(sub *Subscription) {
	s.mu.Lock()
	_, ok := s.subs[sub.ID]
	delete(s.subs, sub.ID)
	s.mu.Unlock()
	if ok {
		s.rec.SubscriptionClosed()
		s.logger.Debug("users/store: observer detached", "subscription", sub.ID)
	}
}
