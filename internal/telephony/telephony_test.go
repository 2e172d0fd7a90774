package telephony

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (r *recorder) handle(ev SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func connectSoftphone(t *testing.T, b *Bridge) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	eventually(t, b.Connected)
	return conn
}

func TestBridge_NotReadyWithoutSoftphone(t *testing.T) {
	b := NewBridge(logging.Discard())
	_, err := b.PlaceCall(context.Background(), CallRequest{SessionID: "ses-1", Number: "123"}, func(SessionEvent) {})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestBridge_InvalidRequest(t *testing.T) {
	b := NewBridge(logging.Discard())
	_, err := b.PlaceCall(context.Background(), CallRequest{SessionID: "ses-1"}, func(SessionEvent) {})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBridge_CallRoundTrip(t *testing.T) {
	b := NewBridge(logging.Discard())
	phone := connectSoftphone(t, b)

	rec := &recorder{}
	sess, err := b.PlaceCall(context.Background(), CallRequest{
		SessionID: "ses-1",
		Number:    "5511999990000",
		Media:     model.MediaOptions{Audio: true},
	}, rec.handle)
	require.NoError(t, err)
	assert.Equal(t, "ses-1", sess.ID())

	var f Frame
	require.NoError(t, phone.ReadJSON(&f))
	assert.Equal(t, "place_call", f.Type)
	assert.Equal(t, "5511999990000", f.Number)
	require.NotNil(t, f.Media)
	assert.True(t, f.Media.Audio)

	require.NoError(t, sess.Mute())
	var m Frame
	require.NoError(t, phone.ReadJSON(&m))
	assert.Equal(t, Frame{Type: "mute", SessionID: "ses-1"}, m)

	require.NoError(t, phone.WriteJSON(Frame{Type: "progress", SessionID: "ses-1"}))
	require.NoError(t, phone.WriteJSON(Frame{Type: "confirmed", SessionID: "ses-1"}))
	require.NoError(t, phone.WriteJSON(Frame{Type: "progress", SessionID: "other"}))
	require.NoError(t, phone.WriteJSON(Frame{Type: "ended", SessionID: "ses-1", Cause: "Terminated"}))

	eventually(t, func() bool { return len(rec.kinds()) == 3 })
	assert.Equal(t, []EventKind{EventProgress, EventConfirmed, EventEnded}, rec.kinds())

	assert.ErrorIs(t, sess.Terminate(), ErrSessionClosed)
}

func TestBridge_DisconnectFailsOpenSessions(t *testing.T) {
	b := NewBridge(logging.Discard())
	phone := connectSoftphone(t, b)

	rec := &recorder{}
	_, err := b.PlaceCall(context.Background(), CallRequest{SessionID: "ses-2", Number: "1"}, rec.handle)
	require.NoError(t, err)

	phone.Close()
	eventually(t, func() bool { return len(rec.kinds()) == 1 })
	rec.mu.Lock()
	ev := rec.events[0]
	rec.mu.Unlock()
	assert.Equal(t, EventFailed, ev.Kind)
	assert.Equal(t, "Connection Error", ev.Cause)
	eventually(t, func() bool { return !b.Connected() })
}

func TestSimulator_Script(t *testing.T) {
	sim := NewSimulator(logging.Discard(), func(string) []Step {
		return []Step{
			{After: time.Millisecond, Kind: EventProgress},
			{After: time.Millisecond, Kind: EventFailed, Cause: "Busy", StatusCode: 486},
			{After: time.Millisecond, Kind: EventConfirmed},
		}
	})

	rec := &recorder{}
	_, err := sim.PlaceCall(context.Background(), CallRequest{SessionID: "ses-1", Number: "10"}, rec.handle)
	require.NoError(t, err)

	eventually(t, func() bool { return len(rec.kinds()) == 2 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []EventKind{EventProgress, EventFailed}, rec.kinds(), "nothing after a terminal event")
	assert.False(t, sim.Open("ses-1"))
}

func TestSimulator_ManualEmitAndControls(t *testing.T) {
	sim := NewSimulator(logging.Discard(), nil)
	rec := &recorder{}
	sess, err := sim.PlaceCall(context.Background(), CallRequest{SessionID: "ses-1", Number: "1"}, rec.handle)
	require.NoError(t, err)

	assert.True(t, sim.Emit("ses-1", SessionEvent{Kind: EventConfirmed}))
	assert.False(t, sim.Emit("nope", SessionEvent{Kind: EventConfirmed}))

	require.NoError(t, sess.Mute())
	assert.True(t, sim.Muted("ses-1"))
	require.NoError(t, sess.Unmute())
	assert.False(t, sim.Muted("ses-1"))

	require.NoError(t, sess.Terminate())
	eventually(t, func() bool { return len(rec.kinds()) == 2 })
	assert.Equal(t, []EventKind{EventConfirmed, EventEnded}, rec.kinds())
	assert.ErrorIs(t, sess.Mute(), ErrSessionClosed)
	assert.False(t, sim.Emit("ses-1", SessionEvent{Kind: EventEnded}))
}

func TestSimulator_FailNext(t *testing.T) {
	sim := NewSimulator(logging.Discard(), nil)
	boom := errors.New("no route")
	sim.FailNext(boom)

	_, err := sim.PlaceCall(context.Background(), CallRequest{SessionID: "ses-1", Number: "1"}, func(SessionEvent) {})
	assert.ErrorIs(t, err, boom)
	_, err = sim.PlaceCall(context.Background(), CallRequest{SessionID: "ses-2", Number: "2"}, func(SessionEvent) {})
	assert.NoError(t, err)
	assert.Len(t, sim.Placed(), 2)
}

func TestDemoScript(t *testing.T) {
	assert.Equal(t, EventFailed, DemoScript("5511990")[1].Kind)
	assert.Equal(t, 486, DemoScript("5511990")[1].StatusCode)
	assert.Equal(t, 408, DemoScript("5511999")[1].StatusCode)
	last := DemoScript("5511991")
	assert.Equal(t, EventEnded, last[len(last)-1].Kind)
}
