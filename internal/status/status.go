// Package status reports the daemon and engine state for `dialer status`.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/callcenter/dialer/internal/lock"
	"github.com/callcenter/dialer/internal/model"
	"github.com/callcenter/dialer/internal/uds"
	dialeryaml "github.com/callcenter/dialer/internal/yaml"
)

const (
	FromDaemon   = "daemon"
	FromSnapshot = "snapshot"
)

type Report struct {
	Daemon DaemonStatus        `json:"daemon"`
	Engine *model.EngineStatus `json:"engine,omitempty"`
	// From tells whether Engine is live or the last snapshot the daemon wrote.
	From string `json:"from,omitempty"`
}

type DaemonStatus struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

// Run collects the report for home and prints it to w.
func Run(home string, jsonOutput bool, w io.Writer) error {
	report := Collect(home)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	Print(w, report)
	return nil
}

// Collect asks the daemon for the live status and falls back to state/engine.yaml.
func Collect(home string) Report {
	var r Report
	client := uds.NewClient(filepath.Join(home, uds.DefaultSocketName))

	var st model.EngineStatus
	if err := client.Call(uds.CmdStatus, nil, &st); err == nil {
		r.Daemon.Running = true
		if pid, err := lock.ReadPID(filepath.Join(home, "locks", "daemon.lock")); err == nil {
			r.Daemon.PID = pid
		}
		r.Engine = &st
		r.From = FromDaemon
		return r
	}

	path := filepath.Join(home, "state", "engine.yaml")
	if err := dialeryaml.ValidateSchemaHeader(path, dialeryaml.FileTypeStateEngine); err != nil {
		return r
	}
	if err := dialeryaml.Load(path, &st); err != nil {
		return r
	}
	r.Engine = &st
	r.From = FromSnapshot
	return r
}

func Print(w io.Writer, r Report) {
	if r.Daemon.Running {
		fmt.Fprintf(w, "Daemon: running (pid %d)\n", r.Daemon.PID)
	} else {
		fmt.Fprintln(w, "Daemon: stopped")
	}
	if r.Engine == nil {
		fmt.Fprintln(w, "\nEngine: no state recorded")
		return
	}

	e := r.Engine
	if r.From == FromSnapshot {
		fmt.Fprintf(w, "\nLast known engine state (%s):\n", orDash(e.UpdatedAt))
	} else {
		fmt.Fprintln(w, "\nEngine:")
	}
	fmt.Fprintf(w, "  phase      %s\n", e.Phase)
	fmt.Fprintf(w, "  campaign   %s\n", orDash(e.CampaignID))
	fmt.Fprintf(w, "  stats      total=%d completed=%d successful=%d failed=%d remaining=%d\n",
		e.Stats.Total, e.Stats.Completed, e.Stats.Successful, e.Stats.Failed, e.Stats.Remaining)
	fmt.Fprintf(w, "  buffer     index=%d active=%d memory=%d\n", e.CurrentIndex, e.ActiveCount, e.MemoryCount)

	call := string(e.CallState)
	if e.CallState == model.CallStateConnected {
		call += " " + clock(e.CallSeconds)
	}
	if e.Muted {
		call += " (muted)"
	}
	fmt.Fprintf(w, "  call       %s\n", call)

	if c := e.CurrentContact; c != nil {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		fmt.Fprintf(w, "  contact    %s <%s>\n", name, orDash(c.Number))
	}
	if p := e.Pending; p != nil {
		fmt.Fprintf(w, "\nAwaiting classification: %s (%s). Run: dialer classify <1-5>\n", p.Number, clock(p.DurationSec))
	}
}

func clock(sec int) string {
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
