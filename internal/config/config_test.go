package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7780", cfg.Server.Addr)
	assert.Equal(t, "data/launcher.db", cfg.Database.Path)
	assert.Equal(t, "data/kingdoms", cfg.Data.Dir)
	assert.Equal(t, "https://kingdoms-mc.fr/api", cfg.Remote.APIBase)
	assert.Equal(t, "kingdoms-mc.fr", cfg.Remote.Host)
	assert.Equal(t, "KingdomsV4", cfg.Instance.Name)
	assert.Equal(t, "forge", cfg.Instance.LoaderType)
	assert.Empty(t, cfg.Control.Password)
	assert.Equal(t, 720, cfg.Control.TokenTTLMinutes)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LAUNCHER_SERVER_ADDR", "0.0.0.0:9000")
	t.Setenv("LAUNCHER_REMOTE_APIBASE", "https://staging.kingdoms-mc.fr/api")
	t.Setenv("LAUNCHER_CONTROL_TOKENTTLMINUTES", "60")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "https://staging.kingdoms-mc.fr/api", cfg.Remote.APIBase)
	assert.Equal(t, 60, cfg.Control.TokenTTLMinutes)
}
