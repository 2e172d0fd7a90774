package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/callcenter/dialer/internal/events"
	"github.com/callcenter/dialer/internal/metrics"
	"github.com/callcenter/dialer/internal/model"
)

// engageGateLocked holds the loop until the agent rates the call that just ended.
func (e *Engine) engageGateLocked(cc *model.CallContext, duration time.Duration) {
	prev := e.phaseLocked()
	e.awaiting = true
	e.pending = &model.PendingClassification{
		Number:      cc.Number,
		DurationSec: int(duration.Seconds()),
		CampaignID:  cc.CampaignID,
		StartedAt:   cc.StartedAt.UTC().Format(time.RFC3339),
	}
	e.pendingAt = cc.StartedAt
	metrics.AwaitingClassification.Set(1)

	e.log.Info("awaiting classification number=%s duration=%ds", e.pending.Number, e.pending.DurationSec)
	e.publishPhaseLocked(prev)
	e.bus.Publish(events.EventClassificationRequired, *e.pending)
}

// SubmitClassification rates the call the engine is holding for. The rating
// is persisted best effort; the hold is released even when every store
// fails. Dialing continues only if the run is still active and the agent has
// not paused it.
func (e *Engine) SubmitClassification(ctx context.Context, rating int, reason string) error {
	e.mu.Lock()
	if !e.awaiting || e.pending == nil {
		e.mu.Unlock()
		return ErrNoPendingClassification
	}
	if !model.ValidRating(rating) {
		e.mu.Unlock()
		return ErrRatingRequired
	}
	cl := model.Classification{
		Number:        e.pending.Number,
		DurationSec:   e.pending.DurationSec,
		Rating:        rating,
		Reason:        reason,
		AgentID:       e.cfg.Agent.ID,
		CampaignID:    e.pending.CampaignID,
		CallStartedAt: e.pendingAt,
		SubmittedAt:   e.now(),
	}
	prev := e.phaseLocked()
	e.awaiting = false
	e.pending = nil
	// Nothing dials until the rating has been handed to the stores.
	e.waiting = true
	gen := e.generation
	metrics.AwaitingClassification.Set(0)
	metrics.Classifications.WithLabelValues(strconv.Itoa(rating)).Inc()
	e.publishPhaseLocked(prev)
	e.mu.Unlock()

	e.persistRating(ctx, cl)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return nil
	}
	e.waiting = false
	if !e.running || e.paused || e.awaiting {
		return nil
	}
	e.log.Info("classification rating=%d accepted, continuing", rating)
	e.replenishAsyncLocked()
	e.scheduleDialLocked(e.cfg.Dialer.InterCallDelay())
	return nil
}

func (e *Engine) persistRating(ctx context.Context, cl model.Classification) {
	for _, s := range e.ratings {
		if err := s.SaveClassification(ctx, cl); err != nil {
			metrics.PersistenceErrors.WithLabelValues(s.Name()).Inc()
			e.log.Error("persist classification number=%s sink=%s: %v", cl.Number, s.Name(), err)
		}
	}
}
