package daemon

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/model"
)

// watchLoop reloads config.yaml when it changes on disk.
func (d *Daemon) watchLoop() {
	defer d.wg.Done()
	log := d.log.For("config")

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != d.paths.Config {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				log.Debug("fsnotify event=%s file=%s", event.Op, event.Name)
				d.reloadConfig()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			log.Error("fsnotify error=%v", err)
		}
	}
}

func (d *Daemon) reloadConfig() {
	cfg, err := LoadConfig(d.paths.Home)
	if err != nil {
		// half-written files are common mid-save; the next write event retries
		d.log.For("config").Warn("reload skipped: %v", err)
		return
	}
	d.applyConfig(cfg)
}

// applyConfig hot-applies the settings that can change under a running
// engine: the classification gate and the log level. Other changes take
// effect on the next daemon start.
func (d *Daemon) applyConfig(next model.Config) {
	log := d.log.For("config")

	d.cfgMu.Lock()
	prev := d.config
	d.config.Agent.MandatoryClassification = next.Agent.MandatoryClassification
	d.config.Logging.Level = next.Logging.Level
	d.cfgMu.Unlock()

	if prev.Logging.Level != next.Logging.Level {
		d.log.SetLevel(logging.ParseLevel(next.Logging.Level))
		log.Info("log level=%s", next.Logging.Level)
	}
	if prev.Agent.MandatoryClassification != next.Agent.MandatoryClassification && d.engine != nil {
		d.engine.SetMandatoryClassification(next.Agent.MandatoryClassification)
	}

	prev.Agent.MandatoryClassification = next.Agent.MandatoryClassification
	prev.Logging.Level = next.Logging.Level
	if !sameRestartSettings(prev, next) {
		log.Warn("config changed; settings other than agent.mandatory_classification and logging.level apply after restart")
	}
}

func sameRestartSettings(a, b model.Config) bool {
	return a.Agent == b.Agent &&
		a.Source == b.Source &&
		a.Backend == b.Backend &&
		a.Auth == b.Auth &&
		a.Buffer == b.Buffer &&
		a.Dialer == b.Dialer &&
		a.Telephony == b.Telephony &&
		a.Store == b.Store &&
		a.HTTP == b.HTTP &&
		a.Daemon == b.Daemon
}
