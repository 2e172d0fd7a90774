package telephony

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/callcenter/dialer/internal/logging"
)

// Step is one scripted provider notification, delivered After the previous one.
type Step struct {
	After        time.Duration
	Kind         EventKind
	Cause        string
	StatusCode   int
	ReasonPhrase string
}

// DemoScript picks a canned outcome from the number's last digit so a dry
// run exercises answered, busy and unanswered calls.
func DemoScript(number string) []Step {
	switch {
	case strings.HasSuffix(number, "0"):
		return []Step{
			{After: 300 * time.Millisecond, Kind: EventProgress},
			{After: time.Second, Kind: EventFailed, Cause: "Busy", StatusCode: 486, ReasonPhrase: "Busy Here"},
		}
	case strings.HasSuffix(number, "9"):
		return []Step{
			{After: 300 * time.Millisecond, Kind: EventProgress},
			{After: 4 * time.Second, Kind: EventFailed, Cause: "No Answer", StatusCode: 408, ReasonPhrase: "Request Timeout"},
		}
	default:
		return []Step{
			{After: 300 * time.Millisecond, Kind: EventProgress},
			{After: 2 * time.Second, Kind: EventConfirmed},
			{After: 8 * time.Second, Kind: EventEnded, Cause: "Terminated"},
		}
	}
}

// Simulator is an in-process Provider. Sessions follow a script, or stay
// silent until Emit is called when the script is empty.
type Simulator struct {
	log *logging.Logger

	mu       sync.Mutex
	script   func(number string) []Step
	failNext []error
	placed   []CallRequest
	sessions map[string]*simSession
}

func NewSimulator(log *logging.Logger, script func(number string) []Step) *Simulator {
	if script == nil {
		script = func(string) []Step { return nil }
	}
	return &Simulator{
		log:      log.For("simulator"),
		script:   script,
		sessions: make(map[string]*simSession),
	}
}

// FailNext makes the next PlaceCall return err.
func (s *Simulator) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, err)
}

func (s *Simulator) PlaceCall(ctx context.Context, req CallRequest, h EventHandler) (Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.placed = append(s.placed, req)
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		s.mu.Unlock()
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sess := &simSession{id: req.SessionID, sim: s, handler: h, cancel: cancel}
	s.sessions[req.SessionID] = sess
	steps := s.script(req.Number)
	s.mu.Unlock()

	s.log.Debug("place session=%s number=%s steps=%d", req.SessionID, req.Number, len(steps))
	if len(steps) > 0 {
		go sess.run(runCtx, steps)
	}
	return sess, nil
}

// Emit delivers ev to the session's handler. It returns false when the
// session is unknown or already terminated.
func (s *Simulator) Emit(sessionID string, ev SessionEvent) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	ev.SessionID = sessionID
	return sess.deliver(ev)
}

// Placed returns every request seen so far, failed placements included.
func (s *Simulator) Placed() []CallRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallRequest(nil), s.placed...)
}

// Muted reports the mute state of a session.
func (s *Simulator) Muted(sessionID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.muted
}

// Open reports whether the session has not terminated yet.
func (s *Simulator) Open(sessionID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return !sess.closed
}

type simSession struct {
	id      string
	sim     *Simulator
	handler EventHandler
	cancel  context.CancelFunc

	mu     sync.Mutex
	muted  bool
	closed bool
}

func (ss *simSession) ID() string { return ss.id }

// Terminate ends the call as a hangup by the agent would.
func (ss *simSession) Terminate() error {
	ss.mu.Lock()
	closed := ss.closed
	ss.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	ss.cancel()
	go ss.deliver(SessionEvent{Kind: EventEnded, SessionID: ss.id, Cause: "Terminated"})
	return nil
}

func (ss *simSession) Mute() error   { return ss.setMuted(true) }
func (ss *simSession) Unmute() error { return ss.setMuted(false) }

func (ss *simSession) setMuted(v bool) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return ErrSessionClosed
	}
	ss.muted = v
	return nil
}

func (ss *simSession) run(ctx context.Context, steps []Step) {
	for _, st := range steps {
		t := time.NewTimer(st.After)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		ss.deliver(SessionEvent{
			Kind:         st.Kind,
			SessionID:    ss.id,
			Cause:        st.Cause,
			StatusCode:   st.StatusCode,
			ReasonPhrase: st.ReasonPhrase,
		})
	}
}

func (ss *simSession) deliver(ev SessionEvent) bool {
	ss.mu.Lock()
	if ss.closed {
		ss.mu.Unlock()
		return false
	}
	if ev.Kind.Terminal() {
		ss.closed = true
		ss.cancel()
	}
	ss.mu.Unlock()
	ss.handler(ev)
	return true
}
