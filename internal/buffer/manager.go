// Package buffer keeps the committed dial order (active queue) topped up from
// a reserve (memory buffer) that is itself refilled from the contact source.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/metrics"
	"github.com/callcenter/dialer/internal/model"
)

var ErrNoContacts = errors.New("no contacts available")

// Source is the contact source as seen by the buffer. Implementations
// degrade failures to empty results.
type Source interface {
	FetchNext(ctx context.Context, campaignID string) (model.Contact, bool)
	ClaimBatch(ctx context.Context, campaignID string, n int)
	FastList(ctx context.Context, campaignID string, n int) []model.Contact
}

type Options struct {
	ActiveTarget     int
	MemoryTarget     int
	LowWatermark     int
	MoveCap          int
	SeedSize         int
	FetchConcurrency int
}

func OptionsFrom(cfg model.BufferConfig) Options {
	return Options{
		ActiveTarget:     cfg.ActiveTarget,
		MemoryTarget:     cfg.MemoryTarget,
		LowWatermark:     cfg.LowWatermark,
		MoveCap:          cfg.MoveCap,
		SeedSize:         cfg.SeedSize,
		FetchConcurrency: cfg.FetchConcurrency,
	}
}

type SeedResult struct {
	FromList  int `json:"from_list"`
	FromFetch int `json:"from_fetch"`
	Active    int `json:"active"`
	Memory    int `json:"memory"`
}

type ReplenishResult struct {
	Moved   int
	Fetched int
}

type Snapshot struct {
	CampaignID      string
	Generation      uint64
	Admitted        int
	CurrentIndex    int
	ActiveCount     int
	ActiveRemaining int
	MemoryCount     int
}

// Manager owns the two tiers. The list keeps dialed contacts so that
// currentIndex stays meaningful; ids in either tier are never admitted twice.
type Manager struct {
	src  Source
	opts Options
	log  *logging.Logger

	mu         sync.Mutex
	campaignID string
	generation uint64
	list       []model.Contact
	index      int
	memory     []model.Contact
	known      map[string]struct{}
	admitted   int

	refills singleflight.Group
}

func NewManager(src Source, opts Options, log *logging.Logger) *Manager {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 1
	}
	if opts.SeedSize <= 0 {
		opts.SeedSize = opts.ActiveTarget + opts.MemoryTarget
	}
	return &Manager{
		src:   src,
		opts:  opts,
		log:   log.For("buffer"),
		index: -1,
		known: make(map[string]struct{}),
	}
}

// Seed resets both tiers and loads the first batch for campaignID.
func (m *Manager) Seed(ctx context.Context, campaignID string) (SeedResult, error) {
	m.mu.Lock()
	m.resetLocked()
	m.campaignID = campaignID
	gen := m.generation
	m.mu.Unlock()

	fromList, fromFetch := m.collect(ctx, campaignID, m.opts.SeedSize, nil)
	total := len(fromList) + len(fromFetch)
	if total == 0 {
		return SeedResult{}, fmt.Errorf("seed campaign %s: %w", campaignID, ErrNoContacts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return SeedResult{}, fmt.Errorf("seed campaign %s: %w", campaignID, context.Canceled)
	}
	for _, c := range append(fromList, fromFetch...) {
		if len(m.list) < m.opts.ActiveTarget {
			m.list = append(m.list, c)
		} else if len(m.memory) < m.opts.MemoryTarget {
			m.memory = append(m.memory, c)
		} else {
			break
		}
		m.known[c.ID] = struct{}{}
		m.admitted++
	}
	m.publishLocked()

	res := SeedResult{
		FromList:  len(fromList),
		FromFetch: len(fromFetch),
		Active:    len(m.list),
		Memory:    len(m.memory),
	}
	m.log.Info("seeded campaign=%s list=%d fetch=%d active=%d memory=%d",
		campaignID, res.FromList, res.FromFetch, res.Active, res.Memory)
	return res, nil
}

// Next advances the committed index and returns the contact to dial.
func (m *Manager) Next() (model.Contact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index+1 >= len(m.list) {
		return model.Contact{}, false
	}
	m.index++
	m.publishLocked()
	return m.list[m.index], true
}

// Current returns the contact at the committed index.
func (m *Manager) Current() (model.Contact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index < 0 || m.index >= len(m.list) {
		return model.Contact{}, false
	}
	return m.list[m.index], true
}

func (m *Manager) ActiveRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRemainingLocked()
}

// Remaining counts contacts not yet dialed across both tiers.
func (m *Manager) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRemainingLocked() + len(m.memory)
}

// Admitted counts the contacts taken into either tier since the last seed.
func (m *Manager) Admitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admitted
}

// MoveUp moves contacts from the memory front to the list tail when the
// active remainder is below target, at most MoveCap per call.
func (m *Manager) MoveUp() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveUpLocked()
}

// Refill tops the memory buffer back up to MemoryTarget when it is below the
// low watermark. Concurrent calls share one fetch. Contacts that arrive after
// a Reset or reseed are dropped.
func (m *Manager) Refill(ctx context.Context) int {
	m.mu.Lock()
	if m.campaignID == "" || len(m.memory) >= m.opts.LowWatermark {
		m.mu.Unlock()
		return 0
	}
	key := fmt.Sprintf("%s/%d", m.campaignID, m.generation)
	m.mu.Unlock()

	v, _, _ := m.refills.Do(key, func() (any, error) {
		return m.refill(ctx), nil
	})
	return v.(int)
}

// Replenish runs one move-up step followed by a refill when needed.
func (m *Manager) Replenish(ctx context.Context) ReplenishResult {
	res := ReplenishResult{Moved: m.MoveUp()}
	res.Fetched = m.Refill(ctx)
	if res.Moved > 0 || res.Fetched > 0 {
		m.log.Debug("replenish moved=%d fetched=%d", res.Moved, res.Fetched)
	}
	return res
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		CampaignID:      m.campaignID,
		Generation:      m.generation,
		Admitted:        m.admitted,
		CurrentIndex:    m.index,
		ActiveCount:     len(m.list),
		ActiveRemaining: m.activeRemainingLocked(),
		MemoryCount:     len(m.memory),
	}
}

// Reset empties both tiers and invalidates in-flight fetches.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.campaignID = ""
	m.publishLocked()
}

func (m *Manager) refill(ctx context.Context) int {
	start := time.Now()
	defer func() { metrics.ReplenishDurationSeconds.Observe(time.Since(start).Seconds()) }()

	m.mu.Lock()
	gen := m.generation
	campaignID := m.campaignID
	need := m.opts.MemoryTarget - len(m.memory)
	exclude := make(map[string]struct{}, len(m.known))
	for id := range m.known {
		exclude[id] = struct{}{}
	}
	m.mu.Unlock()

	if need <= 0 {
		return 0
	}
	fromList, fromFetch := m.collect(ctx, campaignID, need, exclude)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		m.log.Debug("dropping %d stale contacts for campaign=%s", len(fromList)+len(fromFetch), campaignID)
		return 0
	}
	added := 0
	for _, c := range append(fromList, fromFetch...) {
		// Measured now, not when the fetch started.
		if len(m.memory) >= m.opts.MemoryTarget {
			break
		}
		if _, dup := m.known[c.ID]; dup {
			continue
		}
		m.memory = append(m.memory, c)
		m.known[c.ID] = struct{}{}
		m.admitted++
		added++
	}
	m.publishLocked()
	return added
}

// collect gathers up to want unique contacts not in exclude: one list call,
// then a claim plus parallel single fetches for the shortfall.
func (m *Manager) collect(ctx context.Context, campaignID string, want int, exclude map[string]struct{}) (fromList, fromFetch []model.Contact) {
	seen := make(map[string]struct{})
	admit := func(c model.Contact) bool {
		if _, ok := exclude[c.ID]; ok {
			return false
		}
		if _, ok := seen[c.ID]; ok {
			return false
		}
		seen[c.ID] = struct{}{}
		return true
	}

	for _, c := range m.src.FastList(ctx, campaignID, want) {
		if len(fromList) >= want {
			break
		}
		if admit(c) {
			fromList = append(fromList, c)
		}
	}
	metrics.ContactsFetched.WithLabelValues("fast_list").Add(float64(len(fromList)))

	short := want - len(fromList)
	if short <= 0 || ctx.Err() != nil {
		return fromList, nil
	}

	m.src.ClaimBatch(ctx, campaignID, short)

	results := make([]model.Contact, short)
	found := make([]bool, short)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.FetchConcurrency)
	for i := 0; i < short; i++ {
		i := i // per-iteration copy for the goroutine (Go < 1.22 loop semantics)
		g.Go(func() error {
			results[i], found[i] = m.src.FetchNext(gctx, campaignID)
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range results {
		if found[i] && admit(c) {
			fromFetch = append(fromFetch, c)
		}
	}
	metrics.ContactsFetched.WithLabelValues("fetch_next").Add(float64(len(fromFetch)))
	return fromList, fromFetch
}

func (m *Manager) moveUpLocked() int {
	remaining := m.activeRemainingLocked()
	if remaining >= m.opts.ActiveTarget || len(m.memory) == 0 {
		return 0
	}
	n := min(m.opts.ActiveTarget-remaining, m.opts.MoveCap, len(m.memory))
	m.list = append(m.list, m.memory[:n]...)
	m.memory = append([]model.Contact(nil), m.memory[n:]...)
	metrics.ContactsMovedUp.Add(float64(n))
	m.publishLocked()
	return n
}

func (m *Manager) activeRemainingLocked() int {
	return len(m.list) - (m.index + 1)
}

func (m *Manager) resetLocked() {
	m.generation++
	m.list = nil
	m.memory = nil
	m.index = -1
	m.admitted = 0
	m.known = make(map[string]struct{})
}

func (m *Manager) publishLocked() {
	metrics.SetBufferSizes(m.activeRemainingLocked(), len(m.memory))
}
