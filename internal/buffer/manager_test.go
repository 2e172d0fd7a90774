package buffer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/model"
)

// fakeSource serves FastList from pending and FetchNext from next, in order.
type fakeSource struct {
	mu      sync.Mutex
	pending []model.Contact
	next    []model.Contact
	// listAll makes FastList ignore the requested limit.
	listAll bool

	listCalls  atomic.Int32
	fetchCalls atomic.Int32
	claimed    atomic.Int32

	// When set, FastList signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeSource) FastList(ctx context.Context, campaignID string, n int) []model.Contact {
	f.listCalls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listAll || n > len(f.pending) {
		n = len(f.pending)
	}
	out := append([]model.Contact(nil), f.pending[:n]...)
	f.pending = f.pending[n:]
	return out
}

func (f *fakeSource) ClaimBatch(ctx context.Context, campaignID string, n int) {
	f.claimed.Add(int32(n))
}

func (f *fakeSource) FetchNext(ctx context.Context, campaignID string) (model.Contact, bool) {
	f.fetchCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.next) == 0 {
		return model.Contact{}, false
	}
	c := f.next[0]
	f.next = f.next[1:]
	return c, true
}

func contacts(prefix string, from, n int) []model.Contact {
	out := make([]model.Contact, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s%d", prefix, from+i)
		out[i] = model.Contact{ID: id, Name: id, Number: fmt.Sprintf("55%06d", from+i)}
	}
	return out
}

func defaultOpts() Options {
	return OptionsFrom(model.Config{}.WithDefaults().Buffer)
}

func newManager(src Source) *Manager {
	return NewManager(src, defaultOpts(), logging.Discard())
}

func assertNoDuplicates(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, c := range append(append([]model.Contact(nil), m.list...), m.memory...) {
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
	}
}

func TestSeed_FullList(t *testing.T) {
	src := &fakeSource{pending: contacts("c", 0, 150)}
	m := newManager(src)

	res, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)
	assert.Equal(t, SeedResult{FromList: 100, Active: 50, Memory: 50}, res)
	assert.Equal(t, int32(0), src.fetchCalls.Load())
	assert.Equal(t, int32(0), src.claimed.Load())

	snap := m.Snapshot()
	assert.Equal(t, -1, snap.CurrentIndex)
	assert.Equal(t, 50, snap.ActiveRemaining)
	assert.Equal(t, 100, m.Remaining())
}

func TestSeed_PartialSourceFillsWithFetches(t *testing.T) {
	src := &fakeSource{pending: contacts("l", 0, 30), next: contacts("f", 0, 80)}
	m := newManager(src)

	res, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)
	assert.Equal(t, 30, res.FromList)
	assert.Equal(t, 70, res.FromFetch)
	assert.Equal(t, 50, res.Active)
	assert.Equal(t, 50, res.Memory)
	assert.Equal(t, int32(70), src.claimed.Load())
	assert.Equal(t, int32(70), src.fetchCalls.Load())
	assert.Equal(t, 100, m.Admitted())
	assertNoDuplicates(t, m)

	first, ok := m.Next()
	require.True(t, ok)
	assert.Equal(t, "l0", first.ID)
}

func TestSeed_EmptyCampaign(t *testing.T) {
	m := newManager(&fakeSource{})

	_, err := m.Seed(context.Background(), "camp")
	require.ErrorIs(t, err, ErrNoContacts)
	assert.Equal(t, 0, m.Remaining())
	_, ok := m.Next()
	assert.False(t, ok)
}

func TestSeed_DropsDuplicatesAcrossMethods(t *testing.T) {
	dupes := append(contacts("c", 0, 10), contacts("c", 0, 10)...)
	src := &fakeSource{pending: dupes, next: contacts("c", 5, 20)}
	m := newManager(src)

	res, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)
	assert.Equal(t, 10, res.FromList)
	assert.Equal(t, 15, res.FromFetch)
	assert.Equal(t, 25, res.Active)
	assertNoDuplicates(t, m)
}

func TestNextAndCurrent(t *testing.T) {
	m := newManager(&fakeSource{pending: contacts("c", 0, 2)})
	_, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)

	_, ok := m.Current()
	assert.False(t, ok)

	c, ok := m.Next()
	require.True(t, ok)
	assert.Equal(t, "c0", c.ID)
	cur, _ := m.Current()
	assert.Equal(t, "c0", cur.ID)

	c, _ = m.Next()
	assert.Equal(t, "c1", c.ID)
	_, ok = m.Next()
	assert.False(t, ok)
	cur, _ = m.Current()
	assert.Equal(t, "c1", cur.ID, "index does not move past the end")
}

func TestReplenish_WatermarkBreach(t *testing.T) {
	src := &fakeSource{pending: contacts("s", 0, 64)}
	m := newManager(src)
	_, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)
	// active 50, memory 14; dial 5 contacts so 45 remain, then give memory 19.
	for i := 0; i < 5; i++ {
		_, ok := m.Next()
		require.True(t, ok)
	}
	m.mu.Lock()
	m.memory = append(m.memory, contacts("extra", 0, 5)...)
	for _, c := range m.memory {
		m.known[c.ID] = struct{}{}
	}
	require.Len(t, m.memory, 19)
	m.mu.Unlock()
	require.Equal(t, 45, m.ActiveRemaining())

	src.mu.Lock()
	src.pending = contacts("r", 0, 100)
	src.mu.Unlock()

	res := m.Replenish(context.Background())
	assert.Equal(t, 5, res.Moved)
	assert.Equal(t, 36, res.Fetched, "memory 14 after the move, refilled to 50")

	snap := m.Snapshot()
	assert.Equal(t, 50, snap.ActiveRemaining)
	assert.Equal(t, 50, snap.MemoryCount)
	assertNoDuplicates(t, m)
}

func TestMoveUp_CappedPerCall(t *testing.T) {
	m := newManager(&fakeSource{pending: contacts("c", 0, 100)})
	_, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		m.Next()
	}
	// 10 remaining, so 40 missing; MoveCap limits to 20.
	assert.Equal(t, 20, m.MoveUp())
	assert.Equal(t, 20, m.MoveUp())
	assert.Equal(t, 0, m.MoveUp())
	assert.Equal(t, 50, m.ActiveRemaining())
	assert.Equal(t, 10, m.Snapshot().MemoryCount)
}

func TestRefill_AboveWatermarkIsNoop(t *testing.T) {
	src := &fakeSource{pending: contacts("c", 0, 100)}
	m := newManager(src)
	_, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)
	calls := src.listCalls.Load()

	assert.Equal(t, 0, m.Refill(context.Background()))
	assert.Equal(t, calls, src.listCalls.Load())
}

func TestRefill_BoundedTopUp(t *testing.T) {
	src := &fakeSource{pending: contacts("c", 0, 50), listAll: true}
	m := newManager(src)
	_, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)
	require.Equal(t, 0, m.Snapshot().MemoryCount)

	src.mu.Lock()
	src.pending = contacts("more", 0, 500)
	src.mu.Unlock()

	assert.Equal(t, 50, m.Refill(context.Background()))
	assert.Equal(t, 50, m.Snapshot().MemoryCount)
	assert.Equal(t, 100, m.Admitted())
}

func TestRefill_SkipsAlreadyDialed(t *testing.T) {
	src := &fakeSource{pending: contacts("c", 0, 3)}
	m := newManager(src)
	_, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)
	m.Next()

	// The source hands back the dialed contact and one already queued.
	src.mu.Lock()
	src.pending = append(contacts("c", 0, 2), contacts("n", 0, 1)...)
	src.mu.Unlock()

	assert.Equal(t, 1, m.Refill(context.Background()))
	assertNoDuplicates(t, m)
}

func TestRefill_ConcurrentCallsShareOneFetch(t *testing.T) {
	src := &fakeSource{pending: contacts("c", 0, 10)}
	m := newManager(src)
	_, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)

	src.mu.Lock()
	src.pending = contacts("r", 0, 100)
	src.mu.Unlock()
	src.entered = make(chan struct{}, 1)
	src.release = make(chan struct{})
	before := src.listCalls.Load()

	var wg sync.WaitGroup
	results := make([]int, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = m.Refill(context.Background())
	}()
	<-src.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = m.Refill(context.Background())
	}()
	// Give the second caller time to join the in-flight refill.
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, before+1, src.listCalls.Load())
	assert.Equal(t, []int{50, 50}, results)
	assert.Equal(t, 50, m.Snapshot().MemoryCount)
}

func TestRefill_StaleAfterReset(t *testing.T) {
	src := &fakeSource{pending: contacts("c", 0, 10)}
	m := newManager(src)
	_, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)

	src.mu.Lock()
	src.pending = contacts("r", 0, 100)
	src.mu.Unlock()
	src.entered = make(chan struct{}, 1)
	src.release = make(chan struct{})

	done := make(chan int)
	go func() { done <- m.Refill(context.Background()) }()
	<-src.entered
	m.Reset()
	close(src.release)

	assert.Equal(t, 0, <-done)
	snap := m.Snapshot()
	assert.Equal(t, 0, snap.MemoryCount)
	assert.Equal(t, 0, snap.ActiveCount)
	assert.Equal(t, -1, snap.CurrentIndex)
}

func TestReset_AllowsReseed(t *testing.T) {
	src := &fakeSource{pending: contacts("c", 0, 5)}
	m := newManager(src)
	_, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)
	m.Next()
	m.Reset()

	src.mu.Lock()
	src.pending = contacts("c", 0, 5)
	src.mu.Unlock()
	res, err := m.Seed(context.Background(), "camp")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Active, "ids from a previous run may be dialed again after a reset")
}
