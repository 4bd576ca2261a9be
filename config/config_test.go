package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shift-booker/config"
)

const legacyINI = `[Credentials]
username = doc@example.com
password = s3cret

[Settings]
scan_interval_seconds = 0.35
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadLegacyINI(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "config.ini", legacyINI))
	require.NoError(t, err)

	legacy := cfg.Legacy()
	require.Equal(t, "doc@example.com", legacy.Username)
	require.Equal(t, "s3cret", legacy.Secret)

	p := cfg.Poll()
	require.Equal(t, 350*time.Millisecond, p.ScanInterval)
	require.Equal(t, 500*time.Millisecond, p.CooldownMargin)
	require.Equal(t, 10*time.Second, p.GracePeriod)

	s := cfg.Scraper()
	require.Equal(t, "https://wardyati.com", s.BaseURL)
	require.Equal(t, 15*time.Second, s.LoginTimeout)
	require.Equal(t, uint(3), s.Attempts)
	require.Equal(t, "data", cfg.Storage.DataDir)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("SHIFTS_STORAGE_BUCKET", "shift-booker-prod")
	t.Setenv("SHIFTS_SETTINGS_GRACE_PERIOD_SECONDS", "0")

	path := writeFile(t, "config.yaml", `
site:
  base_url: http://localhost:9999
  fetch_attempts: 5
server:
  addr: 127.0.0.1:9090
  trust_proxy: true
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9999", cfg.Site.BaseURL)
	require.Equal(t, uint(5), cfg.Scraper().Attempts)
	require.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	require.True(t, cfg.Server.TrustProxy)
	require.Equal(t, "shift-booker-prod", cfg.Storage.Bucket)
	require.Zero(t, cfg.Poll().GracePeriod)
	require.Equal(t, path, cfg.File)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := config.Load(writeFile(t, "config.ini", "[Settings]\nscan_interval_seconds = 0\n"))
	require.ErrorContains(t, err, "invalid config")

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.ini"))
	require.Error(t, err)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Empty(t, cfg.File)
	require.Equal(t, 200*time.Millisecond, cfg.Poll().ScanInterval)
}
