// Package telephony abstracts the session provider that places and controls
// outbound calls.
package telephony

import (
	"context"
	"errors"

	"github.com/callcenter/dialer/internal/model"
)

var (
	ErrNotReady       = errors.New("softphone not connected")
	ErrSessionClosed  = errors.New("session closed")
	ErrInvalidRequest = errors.New("invalid call request")
)

type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventConfirmed EventKind = "confirmed"
	EventEnded     EventKind = "ended"
	EventFailed    EventKind = "failed"
)

func (k EventKind) Terminal() bool {
	return k == EventEnded || k == EventFailed
}

// SessionEvent is a provider notification about one session. Cause,
// StatusCode and ReasonPhrase are set on ended and failed.
type SessionEvent struct {
	Kind         EventKind `json:"kind"`
	SessionID    string    `json:"session_id"`
	Cause        string    `json:"cause,omitempty"`
	StatusCode   int       `json:"status_code,omitempty"`
	ReasonPhrase string    `json:"reason_phrase,omitempty"`
}

// EventHandler receives session events. It may be called from any goroutine
// and may be called before PlaceCall returns.
type EventHandler func(SessionEvent)

// CallRequest is what the engine asks the provider to dial. SessionID is
// chosen by the caller so events can be matched before PlaceCall returns.
type CallRequest struct {
	SessionID string             `json:"session_id"`
	Number    string             `json:"number"`
	Media     model.MediaOptions `json:"media"`
}

type Session interface {
	ID() string
	Terminate() error
	Mute() error
	Unmute() error
}

type Provider interface {
	PlaceCall(ctx context.Context, req CallRequest, h EventHandler) (Session, error)
}

// Readiness is implemented by providers that can tell whether a call placed
// now could reach a phone.
type Readiness interface {
	Ready() bool
}

func (r CallRequest) validate() error {
	if r.SessionID == "" || r.Number == "" {
		return ErrInvalidRequest
	}
	return nil
}
