package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/callcenter/dialer/internal/model"
	"github.com/callcenter/dialer/internal/uds"
	yamlutil "github.com/callcenter/dialer/internal/yaml"
)

const (
	ConfigFileName = "config.yaml"
	DefaultHomeDir = ".dialer"
)

// Paths are the files the daemon owns inside the dialer home.
type Paths struct {
	Home     string
	Config   string
	Socket   string
	Lock     string
	Log      string
	Journal  string
	Snapshot string
	Store    string
}

func PathsFor(home string, cfg model.Config) Paths {
	p := Paths{
		Home:     home,
		Config:   filepath.Join(home, ConfigFileName),
		Socket:   filepath.Join(home, uds.DefaultSocketName),
		Lock:     filepath.Join(home, "locks", "daemon.lock"),
		Log:      filepath.Join(home, "logs", "dialer.log"),
		Journal:  filepath.Join(home, "logs", "events.jsonl"),
		Snapshot: filepath.Join(home, "state", "engine.yaml"),
		Store:    cfg.Store.SQLitePath,
	}
	if p.Store == "" {
		p.Store = filepath.Join(home, "state", "dialer.db")
	} else if !filepath.IsAbs(p.Store) {
		p.Store = filepath.Join(home, p.Store)
	}
	return p
}

// LoadConfig reads <home>/config.yaml, checks its schema header and applies defaults.
func LoadConfig(home string) (model.Config, error) {
	path := filepath.Join(home, ConfigFileName)
	content, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(content)
}

func ParseConfig(content []byte) (model.Config, error) {
	if err := yamlutil.ValidateSchemaHeaderFromBytes(content, yamlutil.FileTypeConfig); err != nil {
		return model.Config{}, fmt.Errorf("config header: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(content, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg.WithDefaults(), nil
}

func validateConfig(cfg model.Config) error {
	if cfg.Agent.ID == "" {
		return fmt.Errorf("config: agent.id is required")
	}
	switch cfg.Telephony.Mode {
	case "", "bridge", "simulate":
	default:
		return fmt.Errorf("config: telephony.mode must be bridge or simulate, got %q", cfg.Telephony.Mode)
	}
	return nil
}
