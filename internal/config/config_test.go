package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "https://auth.nuvemfiscal.com.br/oauth/token", cfg.NuvemFiscal.AuthURL)
	assert.Equal(t, "https://api.nuvemfiscal.com.br", cfg.NuvemFiscal.APIURL)
	assert.Contains(t, cfg.NuvemFiscal.Scopes, "distribuicao-nfe")
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, 2, cfg.Sync.PagePauseSecs)
	assert.Equal(t, 5, cfg.Sync.ProcessingDelaySecs)
	assert.True(t, cfg.Sync.TolerateBatchFailure)
	assert.Empty(t, cfg.NuvemFiscal.ClientID)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FISCALFLOW_STORE_DRIVER", "sqlite")
	t.Setenv("FISCALFLOW_SYNC_PAGE_SIZE", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Sync.PageSize)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}
