package daemon

import (
	"context"
	"errors"
	"os"

	"github.com/callcenter/dialer/internal/buffer"
	"github.com/callcenter/dialer/internal/engine"
	"github.com/callcenter/dialer/internal/model"
	"github.com/callcenter/dialer/internal/uds"
)

// StartResult is the payload of a successful start command.
type StartResult struct {
	Seed   buffer.SeedResult  `json:"seed"`
	Status model.EngineStatus `json:"status"`
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CmdPing, func(ctx context.Context, req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{"status": "ok", "pid": os.Getpid()})
	})

	d.server.Handle(uds.CmdStart, d.handleStart)
	d.server.Handle(uds.CmdClassify, d.handleClassify)
	d.server.Handle(uds.CmdStatus, func(ctx context.Context, req *uds.Request) *uds.Response {
		return uds.SuccessResponse(d.engine.Status())
	})

	d.server.Handle(uds.CmdPause, d.control("pause", func() error { return d.engine.Pause() }))
	d.server.Handle(uds.CmdResume, d.control("resume", func() error { return d.engine.Resume() }))
	d.server.Handle(uds.CmdStop, d.control("stop", func() error { return d.engine.Stop() }))
	d.server.Handle(uds.CmdHangup, d.control("hangup", func() error { return d.engine.Hangup() }))
	d.server.Handle(uds.CmdMute, d.control("mute", func() error { return d.engine.Mute() }))
	d.server.Handle(uds.CmdUnmute, d.control("unmute", func() error { return d.engine.Unmute() }))

	d.server.Handle(uds.CmdShutdown, func(ctx context.Context, req *uds.Request) *uds.Response {
		d.log.For("daemon").Info("shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleStart(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.StartParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	seed, err := d.engine.StartCampaign(ctx, p.CampaignID)
	if err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(StartResult{Seed: seed, Status: d.engine.Status()})
}

func (d *Daemon) handleClassify(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.ClassifyParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if err := d.engine.SubmitClassification(ctx, p.Rating, p.Reason); err != nil {
		return errorResponse(err)
	}
	return uds.SuccessResponse(d.engine.Status())
}

// control wraps an engine operation that takes no parameters and answers with
// the resulting status.
func (d *Daemon) control(name string, op func() error) uds.HandlerFunc {
	return func(ctx context.Context, req *uds.Request) *uds.Response {
		if err := op(); err != nil {
			d.log.For("daemon").Debug("%s: %v", name, err)
			return errorResponse(err)
		}
		return uds.SuccessResponse(d.engine.Status())
	}
}

// errorResponse maps engine sentinels onto control protocol codes.
func errorResponse(err error) *uds.Response {
	code := uds.ErrCodeInternal
	switch {
	case errors.Is(err, engine.ErrNoContacts):
		code = uds.ErrCodeNotFound
	case errors.Is(err, engine.ErrRatingRequired),
		errors.Is(err, engine.ErrCampaignRequired):
		code = uds.ErrCodeValidation
	case errors.Is(err, engine.ErrAlreadyRunning),
		errors.Is(err, engine.ErrNotRunning),
		errors.Is(err, engine.ErrNoPendingClassification),
		errors.Is(err, engine.ErrNoActiveCall),
		errors.Is(err, engine.ErrCallInProgress):
		code = uds.ErrCodeConflict
	case errors.Is(err, engine.ErrProviderNotReady):
		code = uds.ErrCodeUnavailable
	}
	return uds.ErrorResponse(code, err.Error())
}
