package model

import "time"

type Disposition string

const (
	DispositionAnswered Disposition = "answered"
	DispositionNoAnswer Disposition = "no_answer"
	DispositionFailed   Disposition = "failed"
)

type CallSource string

const (
	CallSourceAutodialer CallSource = "autodialer"
	CallSourceManual     CallSource = "manual"
)

const DirectionOutbound = "outbound"

// CallContext is the bookkeeping of a single dial attempt.
// It is owned by the engine and mutated only under the engine lock.
type CallContext struct {
	AttemptID   string
	SessionID   string
	StartedAt   time.Time
	ConnectedAt time.Time
	Number      string
	CampaignID  string
	ContactID   string
	Rang        bool
	Confirmed   bool
	LogSaved    bool
	// Resolved is set by the first terminal event; later terminal events are ignored.
	Resolved bool
}

// Duration returns the talk time when the call was answered, otherwise zero.
func (cc *CallContext) Duration(endedAt time.Time) time.Duration {
	if !cc.Confirmed || cc.ConnectedAt.IsZero() || endedAt.Before(cc.ConnectedAt) {
		return 0
	}
	return endedAt.Sub(cc.ConnectedAt)
}

type CallLogEntry struct {
	AttemptID         string      `json:"attempt_id"`
	Number            string      `json:"number"`
	Direction         string      `json:"direction"`
	StartedAt         time.Time   `json:"started_at"`
	EndedAt           time.Time   `json:"ended_at"`
	DurationSec       int         `json:"duration_sec"`
	Disposition       Disposition `json:"disposition"`
	FailureCause      string      `json:"failure_cause,omitempty"`
	FailureStatusCode int         `json:"failure_status_code,omitempty"`
	AgentID           string      `json:"agent_id"`
	Extension         string      `json:"extension"`
	CampaignID        string      `json:"campaign_id,omitempty"`
	ContactID         string      `json:"contact_id,omitempty"`
	Source            CallSource  `json:"source"`
}

type Classification struct {
	Number        string    `json:"number"`
	DurationSec   int       `json:"duration_sec"`
	Rating        int       `json:"rating"`
	Reason        string    `json:"reason,omitempty"`
	AgentID       string    `json:"agent_id"`
	CampaignID    string    `json:"campaign_id,omitempty"`
	CallStartedAt time.Time `json:"call_started_at"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

const (
	MinRating = 1
	MaxRating = 5
)

func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}
