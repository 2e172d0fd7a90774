// Package engine runs an agent's auto-dialing session: it seeds the contact
// buffer, dials one contact at a time, records every attempt and holds the
// loop until the agent rates the last call when classification is mandatory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/callcenter/dialer/internal/buffer"
	"github.com/callcenter/dialer/internal/calllog"
	"github.com/callcenter/dialer/internal/events"
	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/metrics"
	"github.com/callcenter/dialer/internal/model"
	"github.com/callcenter/dialer/internal/telephony"
)

var (
	ErrNoContacts              = buffer.ErrNoContacts
	ErrAlreadyRunning          = errors.New("campaign already running")
	ErrNotRunning              = errors.New("no campaign running")
	ErrRatingRequired          = errors.New("rating must be between 1 and 5")
	ErrNoPendingClassification = errors.New("no call awaiting classification")
	ErrNoActiveCall            = errors.New("no active call")
	ErrCampaignRequired        = errors.New("campaign id required")
	ErrCallInProgress          = errors.New("previous call still in progress")
	ErrProviderNotReady        = errors.New("telephony provider not ready")
)

const (
	SchemaVersion  = 1
	StatusFileType = "state_engine"
)

// RatingStore persists agent ratings.
type RatingStore interface {
	Name() string
	SaveClassification(ctx context.Context, c model.Classification) error
}

// DialCounter bumps the campaign's dialed counter.
type DialCounter interface {
	IncrementDialed(ctx context.Context, campaignID string) error
}

type Deps struct {
	Source   buffer.Source
	Provider telephony.Provider
	Writer   *calllog.Writer
	Ratings  []RatingStore
	Counter  DialCounter
	Bus      *events.Bus
	Log      *logging.Logger
}

// Engine owns all dialing state. Every field below mu is guarded by it;
// network calls are made with mu released and their results are applied
// only if the run generation has not changed.
type Engine struct {
	cfg       model.Config
	buf       *buffer.Manager
	provider  telephony.Provider
	finalizer *calllog.Finalizer
	ratings   []RatingStore
	counter   DialCounter
	bus       *events.Bus
	log       *logging.Logger
	now       func() time.Time

	mu         sync.Mutex
	running    bool
	starting   bool
	paused     bool
	awaiting   bool
	waiting    bool
	mandatory  bool
	campaignID string
	generation uint64
	runCtx     context.Context
	cancelRun  context.CancelFunc
	stats      model.Stats

	callState   model.CallState
	call        *model.CallContext
	callGen     uint64
	session     telephony.Session
	muted       bool
	callSeconds int
	stopTicker  context.CancelFunc
	current     *model.Contact
	pending     *model.PendingClassification
	pendingAt   time.Time

	wg sync.WaitGroup
}

func New(cfg model.Config, deps Deps) *Engine {
	cfg = cfg.WithDefaults()
	log := deps.Log
	if log == nil {
		log = logging.Discard()
	}
	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus(0)
	}
	return &Engine{
		cfg:      cfg,
		buf:      buffer.NewManager(deps.Source, buffer.OptionsFrom(cfg.Buffer), log),
		provider: deps.Provider,
		finalizer: &calllog.Finalizer{
			Agent:  cfg.Agent,
			Source: model.CallSourceAutodialer,
			Writer: deps.Writer,
			Log:    log.For("calllog"),
		},
		ratings:   deps.Ratings,
		counter:   deps.Counter,
		bus:       bus,
		log:       log.For("engine"),
		now:       time.Now,
		mandatory: cfg.Agent.MandatoryClassification,
		callState: model.CallStateIdle,
	}
}

// StartCampaign seeds the buffer for campaignID and starts dialing. An empty
// id falls back to the agent's default campaign. When the source has no
// contacts the engine stays stopped and ErrNoContacts is returned.
func (e *Engine) StartCampaign(ctx context.Context, campaignID string) (buffer.SeedResult, error) {
	if campaignID == "" {
		campaignID = e.cfg.Agent.DefaultCampaign
	}
	if campaignID == "" {
		return buffer.SeedResult{}, ErrCampaignRequired
	}

	e.mu.Lock()
	switch {
	case e.running || e.starting:
		e.mu.Unlock()
		return buffer.SeedResult{}, ErrAlreadyRunning
	case e.call != nil:
		e.mu.Unlock()
		return buffer.SeedResult{}, ErrCallInProgress
	}
	if r, ok := e.provider.(telephony.Readiness); ok && !r.Ready() {
		e.mu.Unlock()
		return buffer.SeedResult{}, ErrProviderNotReady
	}
	e.starting = true
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	res, err := e.buf.Seed(ctx, campaignID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.starting = false
	if err != nil {
		e.log.Warn("start campaign=%s: %v", campaignID, err)
		return buffer.SeedResult{}, fmt.Errorf("start campaign: %w", err)
	}
	if gen != e.generation {
		e.buf.Reset()
		return buffer.SeedResult{}, fmt.Errorf("start campaign: %w", context.Canceled)
	}

	prev := e.phaseLocked()
	e.running = true
	e.paused = false
	e.awaiting = false
	e.waiting = false
	e.pending = nil
	e.campaignID = campaignID
	e.stats = model.Stats{}
	e.runCtx, e.cancelRun = context.WithCancel(context.Background())

	e.log.Info("campaign=%s started active=%d memory=%d", campaignID, res.Active, res.Memory)
	e.publishPhaseLocked(prev)
	e.publishStatsLocked()

	e.wg.Add(1)
	go e.replenishLoop(e.runCtx, gen)

	e.dialNextLocked()
	return res, nil
}

// Pause stops dialing new contacts. A call in progress is not affected.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrNotRunning
	}
	prev := e.phaseLocked()
	e.paused = true
	e.publishPhaseLocked(prev)
	return nil
}

// Resume continues dialing after Pause. While a rating is pending it does
// nothing: only SubmitClassification releases that hold.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrNotRunning
	}
	if e.awaiting {
		e.log.Debug("resume ignored: awaiting classification")
		return nil
	}
	if !e.paused {
		return nil
	}
	prev := e.phaseLocked()
	e.paused = false
	e.publishPhaseLocked(prev)
	e.replenishAsyncLocked()
	e.dialNextLocked()
	return nil
}

// Stop ends the run: buffers are cleared and scheduled work is cancelled.
// A call in progress is left up; use Hangup to end it.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running && !e.starting {
		return ErrNotRunning
	}
	e.log.Info("stopped")
	e.endRunLocked(false)
	return nil
}

// finishRunLocked ends a run whose contacts are used up and whose source has
// nothing more to hand out. The final stats stay readable until the next start.
func (e *Engine) finishRunLocked() {
	e.log.Info("campaign=%s finished completed=%d successful=%d failed=%d",
		e.campaignID, e.stats.Completed, e.stats.Successful, e.stats.Failed)
	e.bus.Publish(events.EventNotice, events.Notice{Level: "info", Message: "campaign finished: no contacts left"})
	e.endRunLocked(true)
}

// endRunLocked clears the run and cancels its scheduled work. A call in
// progress is not touched.
func (e *Engine) endRunLocked(keepStats bool) {
	prev := e.phaseLocked()
	e.generation++
	e.running = false
	e.paused = false
	e.awaiting = false
	e.waiting = false
	e.pending = nil
	e.campaignID = ""
	if !keepStats {
		e.stats = model.Stats{}
	}
	if e.cancelRun != nil {
		e.cancelRun()
		e.cancelRun = nil
	}
	e.buf.Reset()
	metrics.ResetRunGauges()
	if e.call == nil {
		e.setCurrentLocked(nil)
	}

	e.publishPhaseLocked(prev)
	e.publishStatsLocked()
}

// Close stops the run if any and waits for background work to finish.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	e.mu.Lock()
	if e.stopTicker != nil {
		e.stopTicker()
		e.stopTicker = nil
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetMandatoryClassification changes whether finished calls hold the loop
// for a rating. A hold already in place is not released.
func (e *Engine) SetMandatoryClassification(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mandatory != v {
		e.log.Info("mandatory classification=%t", v)
	}
	e.mandatory = v
}

// OnStatsChanged registers fn for stats updates and returns its unsubscribe function.
func (e *Engine) OnStatsChanged(fn func(model.Stats)) func() {
	return e.bus.Subscribe(events.EventStatsChanged, func(ev events.Event) {
		if s, ok := ev.Data.(model.Stats); ok {
			fn(s)
		}
	})
}

// OnCurrentContactChanged registers fn for the contact being dialed; fn
// receives nil when there is none.
func (e *Engine) OnCurrentContactChanged(fn func(*model.Contact)) func() {
	return e.bus.Subscribe(events.EventCurrentContactChanged, func(ev events.Event) {
		c, _ := ev.Data.(*model.Contact)
		fn(c)
	})
}

func (e *Engine) Bus() *events.Bus { return e.bus }

func (e *Engine) Status() model.EngineStatus {
	snap := e.buf.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()
	st := model.EngineStatus{
		SchemaVersion: SchemaVersion,
		FileType:      StatusFileType,
		Phase:         e.phaseLocked(),
		CampaignID:    e.campaignID,
		Stats:         e.stats,
		CurrentIndex:  snap.CurrentIndex,
		ActiveCount:   snap.ActiveRemaining,
		MemoryCount:   snap.MemoryCount,
		CallState:     e.callState,
		CallSeconds:   e.callSeconds,
		Muted:         e.muted,
		UpdatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if e.running {
		st.Stats.Total = snap.Admitted
		st.Stats.Remaining = snap.ActiveRemaining + snap.MemoryCount
	}
	if e.current != nil {
		c := *e.current
		st.CurrentContact = &c
	}
	if e.pending != nil {
		p := *e.pending
		st.Pending = &p
	}
	return st
}

// phaseLocked derives the public phase from the run, gate and pause flags.
func (e *Engine) phaseLocked() model.Phase {
	switch {
	case !e.running:
		return model.PhaseStopped
	case e.awaiting:
		return model.PhaseAwaitingClassification
	case e.paused:
		return model.PhasePaused
	default:
		return model.PhaseRunning
	}
}

func (e *Engine) publishPhaseLocked(prev model.Phase) {
	next := e.phaseLocked()
	if next == prev {
		return
	}
	if err := model.ValidatePhaseTransition(prev, next); err != nil {
		e.log.Warn("%v", err)
	}
	e.bus.Publish(events.EventPhaseChanged, events.PhaseChange{From: string(prev), To: string(next)})
}

func (e *Engine) publishStatsLocked() {
	if e.running {
		e.stats.Total = e.buf.Admitted()
		e.stats.Remaining = e.buf.Remaining()
	}
	e.bus.Publish(events.EventStatsChanged, e.stats)
}

func (e *Engine) setCurrentLocked(c *model.Contact) {
	if c == nil && e.current == nil {
		return
	}
	if c != nil {
		cp := *c
		c = &cp
	}
	e.current = c
	e.bus.Publish(events.EventCurrentContactChanged, c)
}

// replenishLoop runs the periodic buffer maintenance for one run.
func (e *Engine) replenishLoop(ctx context.Context, gen uint64) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Buffer.ReplenishInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.replenish(ctx, gen)
		}
	}
}

// replenish tops up the buffer and then dials if the loop is idle, which
// also restarts a run whose buffer had drained. When both tiers are empty
// and the source returned nothing, the campaign is finished.
func (e *Engine) replenish(ctx context.Context, gen uint64) {
	e.mu.Lock()
	if gen != e.generation || !e.running || e.paused || e.awaiting {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	res := e.buf.Replenish(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation || !e.running {
		return
	}
	if res.Fetched > 0 && e.buf.ActiveRemaining() == 0 {
		// The list ran out before the fetch landed in memory.
		res.Moved += e.buf.MoveUp()
	}
	if res.Fetched > 0 || res.Moved > 0 {
		e.publishStatsLocked()
	}
	e.dialNextLocked()
	if e.exhaustedLocked(res) {
		e.finishRunLocked()
	}
}

func (e *Engine) exhaustedLocked(res buffer.ReplenishResult) bool {
	if !e.running || e.paused || e.awaiting || e.waiting || e.call != nil {
		return false
	}
	return res.Fetched == 0 && e.buf.Remaining() == 0
}

func (e *Engine) replenishAsyncLocked() {
	if !e.running || e.runCtx == nil {
		return
	}
	ctx, gen := e.runCtx, e.generation
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.replenish(ctx, gen)
	}()
}
