package daemon

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callcenter/dialer/internal/events"
	"github.com/callcenter/dialer/internal/metrics"
)

const (
	streamWriteWait  = 5 * time.Second
	streamBufferSize = 64
)

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/events", d.serveEvents)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if d.bridge != nil {
		mux.Handle("/softphone", d.bridge)
	}
	return mux
}

// serveEvents streams every engine event to a console client as JSON text
// frames, starting with the current status. A slow client loses events
// rather than holding up the bus.
func (d *Daemon) serveEvents(w http.ResponseWriter, r *http.Request) {
	log := d.log.For("http")
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("events upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	out := make(chan events.Event, streamBufferSize)
	unsubscribe := d.bus.SubscribeAll(func(ev events.Event) {
		select {
		case out <- ev:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev events.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(ev)
	}

	log.Debug("events client connected remote=%s", r.RemoteAddr)
	initial := events.Event{Type: events.EventStatus, Timestamp: time.Now().UTC(), Data: d.engine.Status()}
	if err := send(initial); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			log.Debug("events client gone remote=%s", r.RemoteAddr)
			return
		case <-d.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(streamWriteWait))
			return
		case ev := <-out:
			if err := send(ev); err != nil {
				log.Debug("events write: %v", err)
				return
			}
		}
	}
}
