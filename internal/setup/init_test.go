package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callcenter/dialer/internal/model"
	atomicyaml "github.com/callcenter/dialer/internal/yaml"
)

func TestRun_CreatesHome(t *testing.T) {
	dir := t.TempDir()

	base, err := Run(dir, Options{AgentID: "agent-3", Extension: "1003", Campaign: "camp-1"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, HomeDir), base)

	for _, d := range []string{"locks", "logs", "state", "quarantine"} {
		info, err := os.Stat(filepath.Join(base, d))
		require.NoError(t, err, d)
		assert.True(t, info.IsDir(), d)
	}

	assert.NoError(t, atomicyaml.ValidateSchemaHeader(filepath.Join(base, "config.yaml"), atomicyaml.FileTypeConfig))
	assert.NoError(t, atomicyaml.ValidateSchemaHeader(filepath.Join(base, "state", "engine.yaml"), atomicyaml.FileTypeStateEngine))

	var cfg model.Config
	require.NoError(t, atomicyaml.Load(filepath.Join(base, "config.yaml"), &cfg))
	assert.Equal(t, "agent-3", cfg.Agent.ID)
	assert.Equal(t, "1003", cfg.Agent.Extension)
	assert.Equal(t, "camp-1", cfg.Agent.DefaultCampaign)
	assert.Equal(t, "bridge", cfg.Telephony.Mode)
	assert.Equal(t, 50, cfg.Buffer.ActiveTarget)
	assert.True(t, cfg.Dialer.Media.Audio)
}

func TestRun_Simulate(t *testing.T) {
	base, err := Run(t.TempDir(), Options{AgentID: "agent-3", Simulate: true})
	require.NoError(t, err)

	var cfg model.Config
	require.NoError(t, atomicyaml.Load(filepath.Join(base, "config.yaml"), &cfg))
	assert.Equal(t, "simulate", cfg.Telephony.Mode)
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(t.TempDir(), Options{})
	assert.ErrorContains(t, err, "agent id is required")

	dir := t.TempDir()
	_, err = Run(dir, Options{AgentID: "a"})
	require.NoError(t, err)
	_, err = Run(dir, Options{AgentID: "a"})
	assert.ErrorContains(t, err, "already exists")
}
