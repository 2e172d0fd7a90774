package daemon

import (
	"context"

	"github.com/callcenter/dialer/internal/events"
	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/model"
	yamlutil "github.com/callcenter/dialer/internal/yaml"
)

// snapshotter mirrors the engine status into state/engine.yaml so that
// `dialer status` can report the last known state while the daemon is down.
// Bursts of events collapse into a single write.
type snapshotter struct {
	path   string
	status func() model.EngineStatus
	log    *logging.Logger
	kick   chan struct{}
}

func newSnapshotter(path string, status func() model.EngineStatus, log *logging.Logger) *snapshotter {
	return &snapshotter{
		path:   path,
		status: status,
		log:    log.For("snapshot"),
		kick:   make(chan struct{}, 1),
	}
}

func (s *snapshotter) notify(ev events.Event) {
	if ev.Type == events.EventCallTick {
		return
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *snapshotter) run(ctx context.Context) {
	s.write()
	for {
		select {
		case <-ctx.Done():
			s.write()
			return
		case <-s.kick:
			s.write()
		}
	}
}

func (s *snapshotter) write() {
	if err := yamlutil.AtomicWrite(s.path, s.status()); err != nil {
		s.log.Warn("write %s: %v", s.path, err)
	}
}
