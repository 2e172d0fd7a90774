package telephony

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callcenter/dialer/internal/logging"
)

const writeWait = 5 * time.Second

// Frame is the JSON message exchanged with the browser softphone.
// Down: place_call, terminate, mute, unmute. Up: progress, confirmed,
// ended, failed, and ready once the softphone is registered.
type Frame struct {
	Type         string      `json:"type"`
	SessionID    string      `json:"session_id,omitempty"`
	Number       string      `json:"number,omitempty"`
	Media        *mediaFrame `json:"media,omitempty"`
	Cause        string      `json:"cause,omitempty"`
	StatusCode   int         `json:"status_code,omitempty"`
	ReasonPhrase string      `json:"reason_phrase,omitempty"`
}

type mediaFrame struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// Bridge is a Provider backed by a softphone connected over a websocket.
// Only the most recent connection is used; when it drops, every open session
// fails with a connection error.
type Bridge struct {
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	sessions map[string]EventHandler

	writeMu sync.Mutex
}

func NewBridge(log *logging.Logger) *Bridge {
	return &Bridge{
		log: log.For("softphone"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]EventHandler),
	}
}

func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Ready reports whether a softphone is connected.
func (b *Bridge) Ready() bool { return b.Connected() }

// ServeHTTP upgrades the softphone connection and reads its frames until it closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade: %v", err)
		return
	}

	b.mu.Lock()
	prev := b.conn
	b.conn = conn
	b.mu.Unlock()
	if prev != nil {
		b.log.Info("softphone replaced by %s", r.RemoteAddr)
		prev.Close()
	} else {
		b.log.Info("softphone connected from %s", r.RemoteAddr)
	}

	defer b.disconnect(conn)
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Warn("softphone read: %v", err)
			}
			return
		}
		b.dispatch(f)
	}
}

func (b *Bridge) PlaceCall(ctx context.Context, req CallRequest, h EventHandler) (Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.conn == nil {
		b.mu.Unlock()
		return nil, ErrNotReady
	}
	b.sessions[req.SessionID] = h
	b.mu.Unlock()

	err := b.send(Frame{
		Type:      "place_call",
		SessionID: req.SessionID,
		Number:    req.Number,
		Media:     &mediaFrame{Audio: req.Media.Audio, Video: req.Media.Video},
	})
	if err != nil {
		b.mu.Lock()
		delete(b.sessions, req.SessionID)
		b.mu.Unlock()
		return nil, fmt.Errorf("place call: %w", err)
	}
	return &bridgeSession{id: req.SessionID, bridge: b}, nil
}

func (b *Bridge) dispatch(f Frame) {
	kind := EventKind(f.Type)
	switch kind {
	case EventProgress, EventConfirmed, EventEnded, EventFailed:
	case "ready":
		b.log.Info("softphone ready")
		return
	default:
		b.log.Debug("ignoring frame type=%q", f.Type)
		return
	}

	b.mu.Lock()
	h, ok := b.sessions[f.SessionID]
	if ok && kind.Terminal() {
		delete(b.sessions, f.SessionID)
	}
	b.mu.Unlock()
	if !ok {
		b.log.Debug("event %s for unknown session %s", f.Type, f.SessionID)
		return
	}
	h(SessionEvent{
		Kind:         kind,
		SessionID:    f.SessionID,
		Cause:        f.Cause,
		StatusCode:   f.StatusCode,
		ReasonPhrase: f.ReasonPhrase,
	})
}

func (b *Bridge) disconnect(conn *websocket.Conn) {
	conn.Close()

	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	lost := b.sessions
	b.sessions = make(map[string]EventHandler)
	b.mu.Unlock()

	b.log.Warn("softphone disconnected, %d open session(s) lost", len(lost))
	for id, h := range lost {
		h(SessionEvent{Kind: EventFailed, SessionID: id, Cause: "Connection Error"})
	}
}

func (b *Bridge) send(f Frame) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotReady
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

type bridgeSession struct {
	id     string
	bridge *Bridge
}

func (s *bridgeSession) ID() string { return s.id }

func (s *bridgeSession) Terminate() error { return s.control("terminate") }
func (s *bridgeSession) Mute() error      { return s.control("mute") }
func (s *bridgeSession) Unmute() error    { return s.control("unmute") }

func (s *bridgeSession) control(op string) error {
	s.bridge.mu.Lock()
	_, open := s.bridge.sessions[s.id]
	s.bridge.mu.Unlock()
	if !open {
		return ErrSessionClosed
	}
	return s.bridge.send(Frame{Type: op, SessionID: s.id})
}
