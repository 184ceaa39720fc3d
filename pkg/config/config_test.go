package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "homologacao", cfg.NFSE.Environment)
	assert.Equal(t, 30*time.Second, cfg.NFSE.CallTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.NFSE.RetryBaseDelay())
	assert.Equal(t, 2*time.Minute, cfg.NFSE.LockTTL())
	assert.Equal(t, 3, cfg.NFSE.RetryAttempts)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("NFSE_ENVIRONMENT", "producao")
	t.Setenv("NFSE_CERT_SECRET", "0123456789abcdef0123")
	t.Setenv("NFSE_RETRY_ATTEMPTS", "5")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("DB_PASSWORD", "p@ss:word")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "producao", cfg.NFSE.Environment)
	assert.Equal(t, 5, cfg.NFSE.RetryAttempts)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Contains(t, cfg.DB.DSN(), "p%40ss%3Aword")
	assert.Equal(t, "0123456789abcdef0123", cfg.NFSE.CertSecret)
}

func TestLoad_ProducaoExigeSecretoDeCertificados(t *testing.T) {
	t.Setenv("NFSE_ENVIRONMENT", "producao")
	_, err := Load()
	assert.ErrorContains(t, err, "NFSE_CERT_SECRET")

	t.Setenv("NFSE_CERT_SECRET", "curto")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("NFSE_ENVIRONMENT", "staging")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_PoolAndLogSettings(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("DB_PREFER_IPV4", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.DB.MaxConns)
	assert.True(t, cfg.DB.PreferIPv4)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}
