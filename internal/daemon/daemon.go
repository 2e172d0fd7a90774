// Package daemon runs the dialer engine as a long-lived process: it owns the
// single-instance lock, the control socket, the HTTP surface and the config
// watcher, and wires the engine to its source, provider and sinks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/callcenter/dialer/internal/auth"
	"github.com/callcenter/dialer/internal/backend"
	"github.com/callcenter/dialer/internal/buffer"
	"github.com/callcenter/dialer/internal/calllog"
	"github.com/callcenter/dialer/internal/contact"
	"github.com/callcenter/dialer/internal/engine"
	"github.com/callcenter/dialer/internal/events"
	"github.com/callcenter/dialer/internal/lock"
	"github.com/callcenter/dialer/internal/logging"
	"github.com/callcenter/dialer/internal/model"
	"github.com/callcenter/dialer/internal/store"
	"github.com/callcenter/dialer/internal/telephony"
	"github.com/callcenter/dialer/internal/uds"
	yamlutil "github.com/callcenter/dialer/internal/yaml"
)

// Daemon is the dialer daemon process.
type Daemon struct {
	paths   Paths
	log     *logging.Logger
	logFile io.Closer

	cfgMu  sync.Mutex
	config model.Config

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	httpSrv  *http.Server
	httpAddr string

	bus       *events.Bus
	journal   *events.Journal
	store     *store.DB
	writer    *calllog.Writer
	bridge    *telephony.Bridge
	provider  telephony.Provider
	source    buffer.Source
	engine    *engine.Engine
	snapshots *snapshotter
	detach    []func()

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a daemon logging to <home>/logs/dialer.log.
func New(home string, cfg model.Config) (*Daemon, error) {
	paths := PathsFor(home, cfg)
	if err := os.MkdirAll(filepath.Dir(paths.Log), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(paths.Log, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	return newDaemon(home, cfg, logFile, logFile), nil
}

func newDaemon(home string, cfg model.Config, w io.Writer, closer io.Closer) *Daemon {
	cfg = cfg.WithDefaults()
	paths := PathsFor(home, cfg)
	log := logging.New(w, logging.ParseLevel(cfg.Logging.Level))
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		paths:    paths,
		log:      log,
		logFile:  closer,
		config:   cfg,
		fileLock: lock.NewFileLock(paths.Lock),
		server:   uds.NewServer(paths.Socket, log),
		bus:      events.NewBus(256),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetProvider replaces the provider chosen by telephony.mode. Must be called before Start.
func (d *Daemon) SetProvider(p telephony.Provider) {
	d.provider = p
}

// SetSource replaces the HTTP contact gateway. Must be called before Start.
func (d *Daemon) SetSource(s buffer.Source) {
	d.source = s
}

func (d *Daemon) Engine() *engine.Engine { return d.engine }

// HTTPAddr is the address the HTTP surface is bound to, valid after Start.
func (d *Daemon) HTTPAddr() string { return d.httpAddr }

// Run starts the daemon and blocks until a signal or a shutdown command.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// Start brings every component up without blocking.
func (d *Daemon) Start() error {
	for _, dir := range []string{filepath.Dir(d.paths.Lock), filepath.Dir(d.paths.Snapshot), filepath.Dir(d.paths.Journal)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log.For("daemon").Info("daemon starting pid=%d home=%s", os.Getpid(), d.paths.Home)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"components", d.initComponents},
		{"control socket", d.server.Start},
		{"http", d.startHTTP},
		{"config watcher", d.startWatcher},
	}
	d.registerHandlers()
	for _, s := range steps {
		if err := s.fn(); err != nil {
			d.Shutdown()
			return fmt.Errorf("start %s: %w", s.name, err)
		}
	}

	d.log.For("daemon").Info("daemon ready http=%s telephony=%s", d.httpAddr, d.cfg().Telephony.Mode)
	return nil
}

func (d *Daemon) initComponents() error {
	cfg := d.cfg()
	log := d.log.For("daemon")

	if _, err := os.Stat(d.paths.Snapshot); err == nil {
		if err := yamlutil.ValidateSchemaHeader(d.paths.Snapshot, yamlutil.FileTypeStateEngine); err != nil {
			log.Warn("engine snapshot unusable: %v", err)
			if err := yamlutil.RecoverCorruptedFile(d.paths.Home, d.paths.Snapshot, yamlutil.FileTypeStateEngine, d.log); err != nil {
				return err
			}
		}
	}

	db, err := store.Open(d.paths.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	d.store = db

	journal, err := events.OpenJournal(d.paths.Journal, 0)
	if err != nil {
		return fmt.Errorf("open event journal: %w", err)
	}
	d.journal = journal
	d.detach = append(d.detach, journal.Attach(d.bus, func(err error) {
		log.Warn("event journal: %v", err)
	}))

	cred := auth.FromConfig(cfg.Auth, cfg.Agent)
	sinks := []calllog.Sink{}
	ratings := []engine.RatingStore{}
	var counter engine.DialCounter
	if cfg.Backend.BaseURL != "" {
		be := backend.NewClient(cfg.Backend, cfg.Agent.ID, cred)
		sinks = append(sinks, be)
		ratings = append(ratings, be)
		counter = be
	} else {
		log.Warn("backend.base_url not set; call logs and ratings are kept locally only")
	}
	sinks = append(sinks, db)
	ratings = append(ratings, db)
	d.writer = calllog.NewWriter(d.log, time.Duration(cfg.Backend.TimeoutSec)*time.Second, sinks...)

	if d.source == nil {
		d.source = contact.NewGateway(cfg.Source, cfg.Agent.ID, cred, d.log)
	}
	if d.provider == nil {
		switch cfg.Telephony.Mode {
		case "simulate":
			d.provider = telephony.NewSimulator(d.log, telephony.DemoScript)
		default:
			d.bridge = telephony.NewBridge(d.log)
			d.provider = d.bridge
		}
	}

	d.engine = engine.New(cfg, engine.Deps{
		Source:   d.source,
		Provider: d.provider,
		Writer:   d.writer,
		Ratings:  ratings,
		Counter:  counter,
		Bus:      d.bus,
		Log:      d.log,
	})

	d.snapshots = newSnapshotter(d.paths.Snapshot, d.engine.Status, d.log)
	d.detach = append(d.detach, d.bus.SubscribeAll(d.snapshots.notify))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.snapshots.run(d.ctx)
	}()
	return nil
}

func (d *Daemon) startHTTP() error {
	ln, err := net.Listen("tcp", d.cfg().HTTP.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg().HTTP.ListenAddr, err)
	}
	d.httpAddr = ln.Addr().String()
	d.httpSrv = &http.Server{
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.For("http").Error("serve: %v", err)
		}
	}()
	return nil
}

func (d *Daemon) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// editors replace the file on save, so watch the directory
	if err := watcher.Add(d.paths.Home); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", d.paths.Home, err)
	}
	d.watcher = watcher

	d.wg.Add(1)
	go d.watchLoop()
	return nil
}

// waitSignals blocks until a signal arrives or the daemon is shut down over the socket.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log.For("daemon").Info("received signal=%s, initiating graceful shutdown", sig)
		go func() {
			<-sigCh
			d.log.For("daemon").Warn("received second signal, forcing exit")
			os.Exit(1)
		}()
	case <-d.ctx.Done():
	}
	// Once.Do blocks until a shutdown already in progress has finished cleanup.
	d.Shutdown()
}

// Shutdown stops every component; safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		log := d.log.For("daemon")
		log.Info("shutdown started")

		timeout := time.Duration(d.cfg().Daemon.ShutdownTimeoutSec) * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		_ = d.server.Stop()
		if d.httpSrv != nil {
			if err := d.httpSrv.Shutdown(ctx); err != nil {
				log.Warn("http shutdown: %v", err)
			}
		}

		if d.engine != nil {
			if err := d.engine.Close(ctx); err != nil {
				log.Warn("engine close: %v", err)
			}
		}
		if d.writer != nil {
			if err := d.writer.Close(ctx); err != nil {
				log.Warn("call log writer: %v", err)
			}
		}

		d.cancel()
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			log.Info("all goroutines drained")
		case <-ctx.Done():
			log.Warn("shutdown timeout after %s, some operations may be incomplete", timeout)
		}

		d.cleanup()
	})
}

// cleanup releases what Start acquired.
func (d *Daemon) cleanup() {
	d.cancel()
	for _, fn := range d.detach {
		fn()
	}
	d.detach = nil
	d.bus.Close()
	if d.journal != nil {
		_ = d.journal.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	_ = os.Remove(d.paths.Socket)
	_ = d.fileLock.Unlock()
	d.log.For("daemon").Info("daemon stopped")
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}

func (d *Daemon) cfg() model.Config {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	return d.config
}
