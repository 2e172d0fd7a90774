// Package setup scaffolds the .dialer home directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/callcenter/dialer/internal/model"
	atomicyaml "github.com/callcenter/dialer/internal/yaml"
	"github.com/callcenter/dialer/templates"
)

const HomeDir = ".dialer"

// Options fill the agent-specific fields of the generated config.
type Options struct {
	AgentID   string
	Extension string
	Campaign  string
	Simulate  bool
}

// Run creates <dir>/.dialer with a generated config.yaml and an empty engine snapshot.
func Run(dir string, opts Options) (string, error) {
	if opts.AgentID == "" {
		return "", fmt.Errorf("agent id is required")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve dir: %w", err)
	}

	base := filepath.Join(absDir, HomeDir)
	if _, err := os.Stat(base); err == nil {
		return "", fmt.Errorf("%s already exists", base)
	}

	for _, d := range []string{"locks", "logs", "state", "quarantine"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(opts)
	if err != nil {
		return "", fmt.Errorf("generate config: %w", err)
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return "", fmt.Errorf("write config.yaml: %w", err)
	}

	if err := atomicyaml.GenerateSkeleton(filepath.Join(base, "state", "engine.yaml"), atomicyaml.FileTypeStateEngine); err != nil {
		return "", fmt.Errorf("write engine.yaml: %w", err)
	}
	return base, nil
}

func generateConfig(opts Options) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	cfg.Agent.ID = opts.AgentID
	cfg.Agent.Extension = opts.Extension
	cfg.Agent.DefaultCampaign = opts.Campaign
	if opts.Simulate {
		cfg.Telephony.Mode = "simulate"
	}
	return &cfg, nil
}
