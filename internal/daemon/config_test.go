package daemon

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callcenter/dialer/internal/model"
)

func TestParseConfig(t *testing.T) {
	raw := `
schema_version: 1
file_type: config
agent:
  id: agent-7
  extension: "2001"
  mandatory_classification: true
source:
  base_url: http://contacts.local
buffer:
  active_target: 30
telephony:
  mode: simulate
`
	cfg, err := ParseConfig([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "agent-7", cfg.Agent.ID)
	assert.True(t, cfg.Agent.MandatoryClassification)
	assert.Equal(t, 30, cfg.Buffer.ActiveTarget)
	assert.Equal(t, 50, cfg.Buffer.MemoryTarget)
	assert.Equal(t, "simulate", cfg.Telephony.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParseConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"no header", "agent:\n  id: a\n", "config header"},
		{"wrong type", "schema_version: 1\nfile_type: state_engine\nagent:\n  id: a\n", "file_type mismatch"},
		{"no agent", "schema_version: 1\nfile_type: config\n", "agent.id is required"},
		{"bad mode", "schema_version: 1\nfile_type: config\nagent:\n  id: a\ntelephony:\n  mode: sip\n", "telephony.mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestPathsFor(t *testing.T) {
	p := PathsFor("/srv/dialer", model.Config{})
	assert.Equal(t, "/srv/dialer/config.yaml", p.Config)
	assert.Equal(t, "/srv/dialer/dialer.sock", p.Socket)
	assert.Equal(t, "/srv/dialer/state/dialer.db", p.Store)

	p = PathsFor("/srv/dialer", model.Config{Store: model.StoreConfig{SQLitePath: "data/calls.db"}})
	assert.Equal(t, filepath.Join("/srv/dialer", "data", "calls.db"), p.Store)

	p = PathsFor("/srv/dialer", model.Config{Store: model.StoreConfig{SQLitePath: "/var/lib/calls.db"}})
	assert.Equal(t, "/var/lib/calls.db", p.Store)
}
