package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/callcenter/dialer/internal/daemon"
	"github.com/callcenter/dialer/internal/model"
	"github.com/callcenter/dialer/internal/setup"
	"github.com/callcenter/dialer/internal/status"
	"github.com/callcenter/dialer/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "start":
		runStart(os.Args[2:])
	case "pause":
		runControl(uds.CmdPause, os.Args[2:])
	case "resume":
		runControl(uds.CmdResume, os.Args[2:])
	case "stop":
		runControl(uds.CmdStop, os.Args[2:])
	case "hangup":
		runControl(uds.CmdHangup, os.Args[2:])
	case "mute":
		runControl(uds.CmdMute, os.Args[2:])
	case "unmute":
		runControl(uds.CmdUnmute, os.Args[2:])
	case "classify":
		runClassify(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "shutdown":
		runShutdown(os.Args[2:])
	case "version":
		fmt.Printf("dialer %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runDaemon(_ []string) {
	home := requireHome()

	cfg, err := daemon.LoadConfig(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(home, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runSetup(args []string) {
	const usage = "usage: dialer setup <dir> --agent <id> [--extension <ext>] [--campaign <id>] [--simulate]"
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	dir := args[0]
	var opts setup.Options
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--agent":
			opts.AgentID = flagValue(rest, &i, usage)
		case "--extension":
			opts.Extension = flagValue(rest, &i, usage)
		case "--campaign":
			opts.Campaign = flagValue(rest, &i, usage)
		case "--simulate":
			opts.Simulate = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", rest[i], usage)
			os.Exit(1)
		}
	}

	base, err := setup.Run(dir, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", base)
	fmt.Println("Next: start the daemon with 'dialer daemon', then run 'dialer start'.")
}

func runStart(args []string) {
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "usage: dialer start [campaign_id]")
		os.Exit(1)
	}
	var params uds.StartParams
	if len(args) == 1 {
		params.CampaignID = args[0]
	}

	var res daemon.StartResult
	call(requireHome(), uds.CmdStart, params, &res)

	fmt.Printf("Campaign %s started: %d contacts (%d from list, %d fetched)\n",
		res.Status.CampaignID, res.Status.Stats.Total, res.Seed.FromList, res.Seed.FromFetch)
	fmt.Printf("Buffer: %d active, %d in memory\n", res.Seed.Active, res.Seed.Memory)
}

func runControl(cmd string, args []string) {
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "usage: dialer %s\n", cmd)
		os.Exit(1)
	}
	var st model.EngineStatus
	call(requireHome(), cmd, nil, &st)
	printPhase(st)
}

func runClassify(args []string) {
	const usage = "usage: dialer classify <1-5> [--reason <text>]"
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	rating, err := strconv.Atoi(args[0])
	if err != nil || rating < 1 || rating > 5 {
		fmt.Fprintf(os.Stderr, "rating must be a number from 1 to 5, got %q\n", args[0])
		os.Exit(1)
	}

	params := uds.ClassifyParams{Rating: rating}
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--reason":
			params.Reason = flagValue(rest, &i, usage)
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", rest[i], usage)
			os.Exit(1)
		}
	}

	var st model.EngineStatus
	call(requireHome(), uds.CmdClassify, params, &st)
	fmt.Printf("Rated %d/5.\n", rating)
	printPhase(st)
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: dialer status [--json]\n", a)
			os.Exit(1)
		}
	}

	if err := status.Run(requireHome(), jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runHistory(args []string) {
	const usage = "usage: dialer history [--limit N] [--json]"
	limit := 20
	jsonOutput := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--json":
			jsonOutput = true
		case "--limit":
			n, err := strconv.Atoi(flagValue(args, &i, usage))
			if err != nil || n <= 0 {
				fmt.Fprintf(os.Stderr, "--limit must be a positive number\n%s\n", usage)
				os.Exit(1)
			}
			limit = n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n%s\n", args[i], usage)
			os.Exit(1)
		}
	}

	home := requireHome()
	cfg, err := daemon.LoadConfig(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	paths := daemon.PathsFor(home, cfg)
	if err := status.RunHistory(context.Background(), paths.Store, limit, jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(1)
	}
}

func runShutdown(_ []string) {
	call(requireHome(), uds.CmdShutdown, nil, nil)
	fmt.Println("Daemon shutting down.")
}

// call sends one command to the daemon and exits on failure.
func call(home, cmd string, params, out any) {
	client := uds.NewClient(filepath.Join(home, uds.DefaultSocketName))
	if err := client.Call(cmd, params, out); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printPhase(st model.EngineStatus) {
	fmt.Printf("Phase: %s (completed %d/%d, remaining %d)\n",
		st.Phase, st.Stats.Completed, st.Stats.Total, st.Stats.Remaining)
	if p := st.Pending; p != nil {
		fmt.Printf("Awaiting classification for %s. Run: dialer classify <1-5>\n", p.Number)
	}
}

func flagValue(args []string, i *int, usage string) string {
	if *i+1 >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n%s\n", args[*i], usage)
		os.Exit(1)
	}
	*i++
	return args[*i]
}

func requireHome() string {
	home := findHome()
	if home == "" {
		fmt.Fprintln(os.Stderr, "error: .dialer/ directory not found. Run 'dialer setup <dir> --agent <id>' first.")
		os.Exit(1)
	}
	return home
}

// findHome searches for .dialer/ in the current directory and ancestors.
func findHome() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, daemon.DefaultHomeDir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `dialer %s: auto dialer engine

Usage: dialer <command> [options]

Setup:
  setup <dir> --agent <id> [flags]  Initialize .dialer/ directory
  daemon                            Run the dialer daemon

Campaign (CLI -> Daemon):
  start [campaign_id]   Seed the buffer and start dialing
  pause                 Stop placing new calls
  resume                Continue after pause
  stop                  End the campaign (active call stays up)
  classify <1-5> [--reason <text>]
                        Rate the last answered call

Active call:
  hangup                End the active call
  mute | unmute         Toggle the microphone

Reporting:
  status [--json]               Show engine state
  history [--limit N] [--json]  Show recent calls and ratings

Utilities:
  shutdown    Stop the daemon
  version     Show version
  help        Show this help

`, version)
}
