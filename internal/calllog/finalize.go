// Package calllog turns a finished call attempt into exactly one call log
// entry and delivers entries to the configured sinks in completion order.
package calllog

import (
	"time"

	"github.com/callcenter/dialer/internal/failure"
	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/metrics"
	"github.com/callcenter/dialer/internal/model"
)

// Outcome is how an attempt terminated. Failure is only meaningful when
// Ended is false.
type Outcome struct {
	Ended   bool
	Failure failure.Classification
	EndedAt time.Time
}

// Disposition maps an outcome onto answered / no_answer / failed.
func Disposition(cc *model.CallContext, out Outcome) model.Disposition {
	if out.Ended {
		switch {
		case cc.Confirmed:
			return model.DispositionAnswered
		case cc.Rang:
			return model.DispositionNoAnswer
		default:
			return model.DispositionFailed
		}
	}
	if failure.IsNoAnswer(out.Failure.Code) {
		return model.DispositionNoAnswer
	}
	return model.DispositionFailed
}

// Finalizer builds the log entry for an attempt once.
type Finalizer struct {
	Agent  model.AgentConfig
	Source model.CallSource
	Writer *Writer
	Log    *logging.Logger
}

// Finalize records the attempt unless it was already recorded. The guard on
// cc is set even when the entry is skipped for lacking a number. The caller
// must hold whatever lock protects cc.
func (f *Finalizer) Finalize(cc *model.CallContext, out Outcome) (model.CallLogEntry, bool) {
	if cc == nil || cc.LogSaved {
		return model.CallLogEntry{}, false
	}
	cc.LogSaved = true

	if cc.Number == "" {
		f.Log.Warn("skip call log attempt=%s: no number", cc.AttemptID)
		return model.CallLogEntry{}, false
	}

	endedAt := out.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	source := f.Source
	if source == "" {
		source = model.CallSourceAutodialer
	}

	disp := Disposition(cc, out)
	entry := model.CallLogEntry{
		AttemptID:   cc.AttemptID,
		Number:      cc.Number,
		Direction:   model.DirectionOutbound,
		StartedAt:   cc.StartedAt,
		EndedAt:     endedAt,
		DurationSec: int(cc.Duration(endedAt).Seconds()),
		Disposition: disp,
		AgentID:     f.Agent.ID,
		Extension:   f.Agent.Extension,
		CampaignID:  cc.CampaignID,
		ContactID:   cc.ContactID,
		Source:      source,
	}
	if !out.Ended {
		entry.FailureCause = string(out.Failure.Code)
		entry.FailureStatusCode = out.Failure.StatusCode
		metrics.CallFailures.WithLabelValues(string(out.Failure.Code)).Inc()
	}
	metrics.CallDispositions.WithLabelValues(string(disp)).Inc()
	if disp == model.DispositionAnswered {
		metrics.CallDurationSeconds.Observe(float64(entry.DurationSec))
	}

	if f.Writer != nil {
		f.Writer.Enqueue(entry)
	}
	f.Log.Info("call logged attempt=%s number=%s disposition=%s cause=%s duration=%ds",
		entry.AttemptID, entry.Number, entry.Disposition, entry.FailureCause, entry.DurationSec)
	return entry, true
}
