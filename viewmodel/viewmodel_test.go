package viewmodel_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/users/db"
	"github.com/Skryldev/users/entry"
	"github.com/Skryldev/users/models"
	"github.com/Skryldev/users/store"
	"github.com/Skryldev/users/viewmodel"
)

// countingSource wraps a real store and counts upstream subscriptions.
// Inserts can be gated to observe queueing.
type countingSource struct {
	*store.Store
	observes atomic.Int32

	gate     chan struct{}
	running  atomic.Int32
	maxSeen  atomic.Int32
	failWith error
}

func (s *countingSource) ObserveAll(ctx context.Context) (*store.Subscription, error) {
	s.observes.Add(1)
	return s.Store.ObserveAll(ctx)
}

func (s *countingSource) Insert(ctx context.Context, u models.User) (models.User, error) {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.failWith != nil {
		return models.User{}, s.failWith
	}
	return s.Store.Insert(ctx, u)
}

func newSource(t *testing.T) *countingSource {
	t.Helper()
	st, err := store.Open(context.Background(), db.Config{DriverName: "sqlite3", DSN: ":memory:"}, store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return &countingSource{Store: st}
}

func newVM(t *testing.T, src viewmodel.Source, opts viewmodel.Options) *viewmodel.UsersViewModel {
	t.Helper()
	vm := viewmodel.New(src, opts)
	t.Cleanup(func() { _ = vm.Close() })
	return vm
}

var alice = models.User{Name: "Alice", JobTitle: "Pilot", Age: 33, Gender: models.Female}

func recv(t *testing.T, o *viewmodel.Observer) []models.User {
	t.Helper()
	select {
	case v, ok := <-o.C:
		require.True(t, ok, "observer closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
		return nil
	}
}

func recvLen(t *testing.T, o *viewmodel.Observer, n int) []models.User {
	t.Helper()
	for {
		if v := recv(t, o); len(v) == n {
			return v
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// CurrentUsers
// ─────────────────────────────────────────────────────────────────────────────

func TestCurrentUsers_InitialValueIsEmpty(t *testing.T) {
	src := newSource(t)
	vm := newVM(t, src, viewmodel.Options{})

	v := vm.CurrentUsers().Value()
	assert.NotNil(t, v)
	assert.Empty(t, v)
	assert.False(t, vm.CurrentUsers().Active())
	assert.EqualValues(t, 0, src.observes.Load(), "no upstream before the first observer")
}

func TestCurrentUsers_ObserverSeesWrites(t *testing.T) {
	src := newSource(t)
	vm := newVM(t, src, viewmodel.Options{})

	o, err := vm.CurrentUsers().Observe(context.Background())
	require.NoError(t, err)
	defer o.Close()
	assert.Empty(t, recv(t, o))

	require.NoError(t, (<-vm.AddUser(alice)).Err)
	got := recvLen(t, o, 1)
	assert.Equal(t, "Alice", got[0].Name)
	assert.NotZero(t, got[0].ID)

	assert.Len(t, vm.CurrentUsers().Value(), 1)
}

func TestCurrentUsers_GracePeriodKeepsUpstream(t *testing.T) {
	src := newSource(t)
	vm := newVM(t, src, viewmodel.Options{StopTimeout: 200 * time.Millisecond})
	live := vm.CurrentUsers()

	o, err := live.Observe(context.Background())
	require.NoError(t, err)
	recv(t, o)
	o.Close()

	// Re-attach within the grace period reuses the upstream.
	assert.True(t, live.Active())
	o, err = live.Observe(context.Background())
	require.NoError(t, err)
	recv(t, o)
	assert.EqualValues(t, 1, src.observes.Load())
	o.Close()

	assert.Eventually(t, func() bool { return !live.Active() }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, src.observes.Load())
}

func TestCurrentUsers_ResubscribeAfterRelease(t *testing.T) {
	src := newSource(t)
	vm := newVM(t, src, viewmodel.Options{StopTimeout: 20 * time.Millisecond})
	live := vm.CurrentUsers()
	ctx := context.Background()

	o, err := live.Observe(ctx)
	require.NoError(t, err)
	recv(t, o)
	require.NoError(t, (<-vm.AddUser(alice)).Err)
	recvLen(t, o, 1)
	o.Close()
	require.Eventually(t, func() bool { return !live.Active() }, 2*time.Second, 5*time.Millisecond)

	// Written while nobody observes; the retained value is stale.
	_, err = src.Store.Insert(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, live.Value(), 1, "last value retained across release")

	o, err = live.Observe(ctx)
	require.NoError(t, err)
	defer o.Close()
	recvLen(t, o, 2)
	assert.EqualValues(t, 2, src.observes.Load())
}

func TestCurrentUsers_ContextCancelDetaches(t *testing.T) {
	src := newSource(t)
	vm := newVM(t, src, viewmodel.Options{StopTimeout: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	o, err := vm.CurrentUsers().Observe(ctx)
	require.NoError(t, err)
	recv(t, o)
	cancel()

	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("observer not detached")
	}
	assert.Eventually(t, func() bool { return !vm.CurrentUsers().Active() }, 2*time.Second, 5*time.Millisecond)
}

func TestCurrentUsers_ObserversConverge(t *testing.T) {
	src := newSource(t)
	vm := newVM(t, src, viewmodel.Options{})
	live := vm.CurrentUsers()

	a, err := live.Observe(context.Background())
	require.NoError(t, err)
	defer a.Close()
	b, err := live.Observe(context.Background())
	require.NoError(t, err)
	defer b.Close()

	const n = 12
	results := make([]<-chan viewmodel.AddResult, n)
	for i := range results {
		results[i] = vm.AddUser(alice)
	}
	for _, r := range results {
		require.NoError(t, (<-r).Err)
	}
	assert.Equal(t, recvLen(t, a, n), recvLen(t, b, n))
}

// ─────────────────────────────────────────────────────────────────────────────
// AddUser
// ─────────────────────────────────────────────────────────────────────────────

func TestAddUser_ReturnsImmediately(t *testing.T) {
	src := newSource(t)
	src.gate = make(chan struct{})
	vm := newVM(t, src, viewmodel.Options{})

	done := vm.AddUser(alice)
	select {
	case <-done:
		t.Fatal("write completed while its source was blocked")
	default:
	}
	close(src.gate)
	assert.NoError(t, (<-done).Err)
}

func TestAddUser_FailureIsReportedNotPanicked(t *testing.T) {
	src := newSource(t)
	src.failWith = &db.DBError{Sentinel: db.ErrStorageFull}
	vm := newVM(t, src, viewmodel.Options{})

	assert.NoError(t, vm.LastError())
	res := <-vm.AddUser(alice)
	assert.True(t, db.IsStorageFailure(res.Err))
	assert.Zero(t, res.User)
	assert.ErrorIs(t, vm.LastError(), db.ErrStorageFull)
}

func TestAddUser_FireAndForget(t *testing.T) {
	src := newSource(t)
	vm := newVM(t, src, viewmodel.Options{})

	vm.AddUser(alice)
	require.NoError(t, vm.Close())

	n, err := src.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "Close drains queued writes")
}

func TestAddUser_BoundedWorkers(t *testing.T) {
	src := newSource(t)
	src.gate = make(chan struct{})
	vm := newVM(t, src, viewmodel.Options{Workers: 2})

	results := make([]<-chan viewmodel.AddResult, 6)
	for i := range results {
		results[i] = vm.AddUser(alice)
	}
	require.Eventually(t, func() bool { return src.running.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(src.gate)
	for _, r := range results {
		require.NoError(t, (<-r).Err)
	}
	assert.EqualValues(t, 2, src.maxSeen.Load())
}

func TestAddUser_FromEntryFormAppearsInLiveView(t *testing.T) {
	src := newSource(t)
	vm := newVM(t, src, viewmodel.Options{})

	o, err := vm.CurrentUsers().Observe(context.Background())
	require.NoError(t, err)
	defer o.Close()
	assert.Empty(t, recv(t, o))

	form := entry.NewForm()
	form.SetName("John Doe")
	form.SetJobTitle("Engineer")
	form.SetAge("30")
	done, err := form.Submit(vm)
	require.NoError(t, err)
	res := <-done
	require.NoError(t, res.Err)
	assert.True(t, form.Closed())

	got := recvLen(t, o, 1)[0]
	assert.NotZero(t, got.ID)
	assert.Equal(t, got, res.User, "outcome carries the stored record")
	got.ID = 0
	assert.Equal(t, models.User{Name: "John Doe", JobTitle: "Engineer", Age: 30, Gender: models.Male}, got)
}

func TestAddUser_BlockedFormWritesNothing(t *testing.T) {
	src := newSource(t)
	vm := newVM(t, src, viewmodel.Options{})

	form := entry.NewForm()
	form.SetJobTitle("Engineer")
	form.SetAge("30")
	_, err := form.Submit(vm)
	require.Error(t, err)
	assert.Equal(t, entry.MsgInvalidName, form.NameErr)
	assert.False(t, form.Closed())

	require.NoError(t, vm.Close())
	n, err := src.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClose_RejectsWritesAndDetachesObservers(t *testing.T) {
	src := newSource(t)
	vm := viewmodel.New(src, viewmodel.Options{})

	o, err := vm.CurrentUsers().Observe(context.Background())
	require.NoError(t, err)
	recv(t, o)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, vm.Close())
	}()
	wg.Wait()
	require.NoError(t, vm.Close())

	<-o.Done()
	assert.False(t, vm.CurrentUsers().Active())
	assert.ErrorIs(t, (<-vm.AddUser(alice)).Err, viewmodel.ErrClosed)
	_, err = vm.CurrentUsers().Observe(context.Background())
	assert.ErrorIs(t, err, viewmodel.ErrClosed)
}
