package model

import "fmt"

type Phase string

const (
	PhaseStopped                Phase = "stopped"
	PhaseRunning                Phase = "running"
	PhasePaused                 Phase = "paused"
	PhaseAwaitingClassification Phase = "awaiting_classification"
)

type CallState string

const (
	CallStateIdle      CallState = "idle"
	CallStateDialing   CallState = "dialing"
	CallStateRinging   CallState = "ringing"
	CallStateConnected CallState = "connected"
	CallStateEnding    CallState = "ending"
	CallStateFailed    CallState = "failed"
)

var terminalCallStates = map[CallState]bool{
	CallStateEnding: true,
	CallStateFailed: true,
}

// Call state transitions: idle → dialing → ringing → connected → ending → idle,
// dialing|ringing → failed → idle. A provider may confirm without a progress
// notification and may end a call that was never answered.
var validCallTransitions = map[CallState]map[CallState]bool{
	CallStateIdle: {
		CallStateDialing: true,
	},
	CallStateDialing: {
		CallStateRinging:   true,
		CallStateConnected: true,
		CallStateEnding:    true,
		CallStateFailed:    true,
	},
	CallStateRinging: {
		CallStateConnected: true,
		CallStateEnding:    true,
		CallStateFailed:    true,
	},
	CallStateConnected: {
		CallStateEnding: true,
	},
	CallStateEnding: {
		CallStateIdle: true,
	},
	CallStateFailed: {
		CallStateIdle: true,
	},
}

// Engine phase transitions. stopped is reachable from every phase.
var validPhaseTransitions = map[Phase]map[Phase]bool{
	PhaseStopped: {
		PhaseRunning: true,
	},
	PhaseRunning: {
		PhasePaused:                 true,
		PhaseAwaitingClassification: true,
		PhaseStopped:                true,
	},
	PhasePaused: {
		PhaseRunning:                true,
		PhaseAwaitingClassification: true,
		PhaseStopped:                true,
	},
	PhaseAwaitingClassification: {
		PhaseRunning: true,
		PhasePaused:  true,
		PhaseStopped: true,
	},
}

func IsTerminalCallState(s CallState) bool {
	return terminalCallStates[s]
}

func ValidateCallTransition(from, to CallState) error {
	allowed, ok := validCallTransitions[from]
	if !ok {
		return fmt.Errorf("unknown call state %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid call transition: %q → %q", from, to)
	}
	return nil
}

func ValidatePhaseTransition(from, to Phase) error {
	allowed, ok := validPhaseTransitions[from]
	if !ok {
		return fmt.Errorf("unknown phase %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid phase transition: %q → %q", from, to)
	}
	return nil
}
