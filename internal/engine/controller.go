package engine

import (
	"context"
	"time"

	"github.com/callcenter/dialer/internal/calllog"
	"github.com/callcenter/dialer/internal/events"
	"github.com/callcenter/dialer/internal/failure"
	"github.com/callcenter/dialer/internal/metrics"
	"github.com/callcenter/dialer/internal/model"
	"github.com/callcenter/dialer/internal/telephony"
)

// dialNextLocked pops the next committed contact and places the call, unless
// the loop is held, waiting on a delay, or a call is already open.
func (e *Engine) dialNextLocked() {
	if !e.running || e.paused || e.awaiting || e.waiting || e.call != nil {
		return
	}
	contact, ok := e.buf.Next()
	if !ok {
		e.log.Debug("campaign=%s: no contact ready, waiting for replenish", e.campaignID)
		return
	}
	e.setCurrentLocked(&contact)
	e.publishStatsLocked()

	cc := &model.CallContext{
		AttemptID:  model.MustGenerateID(model.IDTypeAttempt),
		SessionID:  model.MustGenerateID(model.IDTypeSession),
		StartedAt:  e.now(),
		Number:     contact.Number,
		CampaignID: e.campaignID,
		ContactID:  contact.ID,
	}
	e.call = cc
	e.callGen = e.generation
	e.callSeconds = 0
	e.muted = false
	e.setCallStateLocked(model.CallStateDialing)
	e.log.Info("dialing attempt=%s contact=%s number=%s", cc.AttemptID, cc.ContactID, cc.Number)

	if cc.Number == "" {
		e.placementFailedLocked(cc, telephony.ErrInvalidRequest)
		return
	}
	e.bumpDialCounter(cc.CampaignID)

	req := telephony.CallRequest{SessionID: cc.SessionID, Number: cc.Number, Media: e.cfg.Dialer.Media}
	ctx := e.runCtx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.place(ctx, cc, req)
	}()
}

func (e *Engine) place(ctx context.Context, cc *model.CallContext, req telephony.CallRequest) {
	sess, err := e.provider.PlaceCall(ctx, req, e.handleEvent)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.call != cc || cc.Resolved {
		// Resolved before PlaceCall returned, or superseded.
		return
	}
	if err != nil {
		e.placementFailedLocked(cc, err)
		return
	}
	metrics.CallsPlaced.Inc()
	e.session = sess
}

// placementFailedLocked records a synthetic failed attempt and schedules the
// next contact after the retry delay. It never engages the rating hold.
func (e *Engine) placementFailedLocked(cc *model.CallContext, err error) {
	metrics.PlacementErrors.Inc()
	e.log.Warn("placement failed attempt=%s number=%s: %v", cc.AttemptID, cc.Number, err)

	cls := failure.Placement(err)
	cc.Rang = false
	e.resolveLocked(cc, calllog.Outcome{Failure: cls, EndedAt: e.now()}, model.CallStateFailed)

	if !e.cfg.Dialer.AutoMode {
		e.bus.Publish(events.EventNotice, events.Notice{Level: "warn", Message: cls.Phrase})
	}
	if e.running && e.callGen == e.generation {
		e.replenishAsyncLocked()
		e.scheduleDialLocked(e.cfg.Dialer.PlacementRetryDelay())
	}
}

// handleEvent is the provider callback for every placed session.
func (e *Engine) handleEvent(ev telephony.SessionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cc := e.call
	if cc == nil || ev.SessionID != cc.SessionID || cc.Resolved {
		e.log.Debug("ignoring %s for session=%s", ev.Kind, ev.SessionID)
		return
	}

	switch ev.Kind {
	case telephony.EventProgress:
		cc.Rang = true
		if e.callState == model.CallStateDialing {
			e.setCallStateLocked(model.CallStateRinging)
		}

	case telephony.EventConfirmed:
		if cc.Confirmed {
			return
		}
		cc.Confirmed = true
		cc.ConnectedAt = e.now()
		e.setCallStateLocked(model.CallStateConnected)
		e.startCounterLocked(cc)

	case telephony.EventEnded:
		e.finishLocked(cc, calllog.Outcome{Ended: true, EndedAt: e.now()}, model.CallStateEnding)

	case telephony.EventFailed:
		// A failure after answer, or one whose cause is a normal hangup, is an ordinary end.
		if cc.Confirmed || failure.IsNormalTermination(ev.Cause) {
			e.finishLocked(cc, calllog.Outcome{Ended: true, EndedAt: e.now()}, model.CallStateEnding)
			return
		}
		cls := failure.Classify(failure.Event{Cause: ev.Cause, StatusCode: ev.StatusCode, ReasonPhrase: ev.ReasonPhrase})
		e.log.Info("call failed attempt=%s code=%s status=%d cause=%q", cc.AttemptID, cls.Code, ev.StatusCode, ev.Cause)
		e.finishLocked(cc, calllog.Outcome{Failure: cls, EndedAt: e.now()}, model.CallStateFailed)

	default:
		e.log.Debug("unknown event kind %q", ev.Kind)
	}
}

// finishLocked handles the first terminal event of a provider session: the
// attempt is recorded, then the loop either holds for a rating or moves on.
func (e *Engine) finishLocked(cc *model.CallContext, out calllog.Outcome, terminal model.CallState) {
	duration := cc.Duration(out.EndedAt)
	e.resolveLocked(cc, out, terminal)

	if !e.running || e.callGen != e.generation {
		return
	}
	e.replenishAsyncLocked()
	if e.mandatory {
		e.engageGateLocked(cc, duration)
		return
	}
	e.scheduleDialLocked(e.cfg.Dialer.InterCallDelay())
}

// resolveLocked closes the attempt exactly once: log entry, stats and call
// state. Later terminal events for the same attempt are ignored upstream.
func (e *Engine) resolveLocked(cc *model.CallContext, out calllog.Outcome, terminal model.CallState) {
	cc.Resolved = true
	e.stopCounterLocked()
	e.setCallStateLocked(terminal)

	if entry, ok := e.finalizer.Finalize(cc, out); ok {
		e.bus.Publish(events.EventCallLogged, entry)
	}

	if e.running && e.callGen == e.generation {
		e.stats.Completed++
		if calllog.Disposition(cc, out) == model.DispositionAnswered {
			e.stats.Successful++
		} else {
			e.stats.Failed++
		}
		e.publishStatsLocked()
	}

	e.call = nil
	e.session = nil
	e.muted = false
	e.setCallStateLocked(model.CallStateIdle)
	if !e.running {
		e.setCurrentLocked(nil)
	}
}

// scheduleDialLocked dials the next contact after delay. While the delay is
// pending no other path dials.
func (e *Engine) scheduleDialLocked(delay time.Duration) {
	if delay <= 0 {
		e.dialNextLocked()
		return
	}
	e.waiting = true
	gen := e.generation
	time.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if gen != e.generation {
			return
		}
		e.waiting = false
		e.dialNextLocked()
	})
}

func (e *Engine) setCallStateLocked(to model.CallState) {
	from := e.callState
	if from == to {
		return
	}
	if err := model.ValidateCallTransition(from, to); err != nil {
		e.log.Warn("%v", err)
	}
	e.callState = to
	change := events.CallStateChange{From: string(from), To: string(to)}
	if e.call != nil {
		change.SessionID = e.call.SessionID
		change.Number = e.call.Number
	}
	e.bus.Publish(events.EventCallStateChanged, change)
}

// startCounterLocked publishes the talk time once per second until the call resolves.
func (e *Engine) startCounterLocked(cc *model.CallContext) {
	e.stopCounterLocked()
	ctx, cancel := context.WithCancel(context.Background())
	e.stopTicker = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			e.mu.Lock()
			if e.call != cc || cc.Resolved {
				e.mu.Unlock()
				return
			}
			e.callSeconds = int(cc.Duration(e.now()).Seconds())
			e.bus.Publish(events.EventCallTick, e.callSeconds)
			e.mu.Unlock()
		}
	}()
}

func (e *Engine) stopCounterLocked() {
	if e.stopTicker != nil {
		e.stopTicker()
		e.stopTicker = nil
	}
}

// bumpDialCounter fires the campaign dialed increment without waiting.
func (e *Engine) bumpDialCounter(campaignID string) {
	if e.counter == nil || campaignID == "" {
		return
	}
	timeout := time.Duration(e.cfg.Dialer.DialCounterTimeoutSec) * time.Second
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := e.counter.IncrementDialed(ctx, campaignID); err != nil {
			metrics.PersistenceErrors.WithLabelValues("dial_counter").Inc()
			e.log.Warn("dial counter campaign=%s: %v", campaignID, err)
		}
	}()
}

// Hangup terminates the open call. The outcome arrives as a provider event.
func (e *Engine) Hangup() error {
	sess, err := e.openSession()
	if err != nil {
		return err
	}
	return sess.Terminate()
}

func (e *Engine) Mute() error   { return e.setMuted(true) }
func (e *Engine) Unmute() error { return e.setMuted(false) }

func (e *Engine) setMuted(v bool) error {
	sess, err := e.openSession()
	if err != nil {
		return err
	}
	if v {
		err = sess.Mute()
	} else {
		err = sess.Unmute()
	}
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.session == sess {
		e.muted = v
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) openSession() (telephony.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.call == nil || e.session == nil {
		return nil, ErrNoActiveCall
	}
	return e.session, nil
}
